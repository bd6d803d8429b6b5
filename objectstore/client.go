// Package objectstore is the typed RPC client of §4.2: a thin wrapper
// around a Transport capability that knows the wire shapes of §6 but
// nothing about encryption or the tri-index cache. It is deliberately
// the only package that talks to the server.
package objectstore

import (
	"context"
	"fmt"

	"github.com/jacobsa/cryptofs/cfcrypto"
	"github.com/jacobsa/cryptofs/cferrors"
)

// Transport is the seam between this package and however bytes actually
// reach the server. The HTTP transport in http.go is the production
// implementation; tests supply an in-memory fake (see
// faketransport_test.go). Do never decrypts or re-hashes; it is the
// caller's (Client's) job to treat whatever comes back as untrusted.
type Transport interface {
	// Do issues one RPC. body, if non-nil, is marshaled to JSON as the
	// request body; dest, if non-nil, is populated by unmarshaling the
	// JSON response body. A non-2xx response or network failure must be
	// returned as a *cferrors.TransportError.
	Do(ctx context.Context, method, path string, body, dest interface{}) error
}

// Client is the typed RPC wrapper of §4.2. It owns no cache state; the
// cache and propagation layers decide when to call it.
type Client struct {
	transport Transport
}

// New wraps transport in a Client.
func New(transport Transport) *Client {
	return &Client{transport: transport}
}

// Kind strings used on the wire (§6): "directory" or "file".
const (
	wireKindDirectory = "directory"
	wireKindFile      = "file"
)

// nodeWire is the JSON shape returned by GET /node/{hash} (§6).
type nodeWire struct {
	Hash         string `json:"hash"`
	Metadata     string `json:"metadata"` // base64 ciphertext envelope
	MetadataHash string `json:"metadata_hash"`
	DataHash     string `json:"data_hash"`
	ParentHash   string `json:"parent_hash"`
	IsDir        bool   `json:"is_dir"`
}

// FetchedNode is what GetNode returns: the still-encrypted envelope plus
// the hash the server claims it under. Callers (the handler, through
// verify) are responsible for decrypting and re-hashing before trusting
// any of it.
type FetchedNode struct {
	Hash           cfcrypto.Digest
	EncMetadata    []byte
	ParentHash     cfcrypto.Digest
	HasParent      bool
	IsDir          bool
	HasDataPointer bool
}

// GetNode fetches and returns the encrypted envelope for hash, per the
// GET /node/{hash} endpoint of §6. It does not fetch payload bytes for
// regular files; call GetPayload separately.
func (c *Client) GetNode(ctx context.Context, hash cfcrypto.Digest) (*FetchedNode, error) {
	var w nodeWire
	path := fmt.Sprintf("/node/%s", hash.String())
	if err := c.transport.Do(ctx, "GET", path, nil, &w); err != nil {
		return nil, err
	}

	encMeta, err := decodeBase64(w.Metadata)
	if err != nil {
		return nil, &cferrors.DecryptCorrupt{Cause: err}
	}

	fn := &FetchedNode{
		Hash:        hash,
		EncMetadata: encMeta,
		IsDir:       w.IsDir,
	}
	if w.ParentHash != "" {
		ph, err := cfcrypto.ParseDigest(w.ParentHash)
		if err != nil {
			return nil, &cferrors.DecryptCorrupt{Cause: err}
		}
		fn.ParentHash = ph
		fn.HasParent = true
	}
	fn.HasDataPointer = w.DataHash != ""

	return fn, nil
}

// payloadWire is the JSON shape of a payload fetch. §4.2 allows the
// payload to be delivered in the same envelope as metadata or via a
// separate endpoint; this client always uses the latter so that readdir
// (which only needs metadata and child hashes) never pays for file
// bytes it doesn't want.
type payloadWire struct {
	Data string `json:"data"` // base64 ciphertext envelope
}

// GetPayload fetches the encrypted payload envelope for a regular file's
// hash.
func (c *Client) GetPayload(ctx context.Context, hash cfcrypto.Digest) ([]byte, error) {
	var w payloadWire
	path := fmt.Sprintf("/node/%s/data", hash.String())
	if err := c.transport.Do(ctx, "GET", path, nil, &w); err != nil {
		return nil, err
	}
	return decodeBase64(w.Data)
}

// PutPayload uploads the encrypted payload envelope for a regular file,
// keyed by the node's own content hash (already known to the caller
// before this call, since the hash is derived from the payload rather
// than assigned by the server). It is the write-side counterpart of
// GetPayload, using the same PUT /node/{hash}/data endpoint.
func (c *Client) PutPayload(ctx context.Context, hash cfcrypto.Digest, encPayload []byte) error {
	req := payloadWire{Data: encodeBase64(encPayload)}
	return c.transport.Do(ctx, "PUT", fmt.Sprintf("/node/%s/data", hash.String()), req, nil)
}

// ListChildren returns the ordered list of child node hashes of the
// directory identified by hash, per GET /node/{hash}/children.
func (c *Client) ListChildren(ctx context.Context, hash cfcrypto.Digest) ([]cfcrypto.Digest, error) {
	var hexes []string
	path := fmt.Sprintf("/node/%s/children", hash.String())
	if err := c.transport.Do(ctx, "GET", path, nil, &hexes); err != nil {
		return nil, err
	}

	out := make([]cfcrypto.Digest, 0, len(hexes))
	for _, h := range hexes {
		d, err := cfcrypto.ParseDigest(h)
		if err != nil {
			return nil, &cferrors.DecryptCorrupt{Cause: err}
		}
		out = append(out, d)
	}
	return out, nil
}

// insertRequest is the JSON body of POST /insert (§6), extended with an
// explicit Hash field: per the Open Question of §9, the client (not the
// server) is the one that computes node_hash, and a directory's hash
// depends on its children's hashes, which never otherwise appear on the
// wire for a PutNode call. Without this field a dumb server would have
// no way to file the stored bytes under the key the client's own cache
// already committed to. This mirrors original_source's own pattern of
// computing a file's hash client-side before addressing a write to it
// (see encrypt_and_hash_file, used before every write_data/set_xattr
// call there).
type insertRequest struct {
	Hash          string `json:"hash"`
	ParentHash    string `json:"parent_hash"`
	Type          string `json:"type"`
	Metadata      string `json:"metadata"`
	ContentHash   string `json:"content_hash,omitempty"`
	ContentLength int    `json:"content_length,omitempty"`
}

// PutNode creates a new node under parentHash, addressed explicitly by
// hash (already computed by the caller via cfcrypto.NodeHash), per §4.2
// and §6. isDir selects the wire "type" field; payloadHash/payloadLength,
// when non-zero, point at a payload previously or concurrently stored
// for a regular file.
func (c *Client) PutNode(ctx context.Context, hash, parentHash cfcrypto.Digest, isDir bool, encMetadata []byte, payloadHash cfcrypto.Digest, payloadLength int) error {
	kind := wireKindFile
	if isDir {
		kind = wireKindDirectory
	}

	req := insertRequest{
		Hash:          hash.String(),
		ParentHash:    parentHash.String(),
		Type:          kind,
		Metadata:      encodeBase64(encMetadata),
		ContentLength: payloadLength,
	}
	if !payloadHash.IsZero() {
		req.ContentHash = payloadHash.String()
	}

	return c.transport.Do(ctx, "POST", "/insert", req, nil)
}

// rootRequest is the JSON body of POST /root (§6), carrying the same
// client-computed Hash field as insertRequest and for the same reason.
type rootRequest struct {
	Hash     string `json:"hash"`
	Username string `json:"username"`
	Metadata string `json:"metadata"`
}

// PutRoot creates the root node (no parent), addressed explicitly by
// hash, per §4.2 and §6.
func (c *Client) PutRoot(ctx context.Context, hash cfcrypto.Digest, user string, encMetadata []byte) error {
	req := rootRequest{
		Hash:     hash.String(),
		Username: user,
		Metadata: encodeBase64(encMetadata),
	}

	return c.transport.Do(ctx, "POST", "/root", req, nil)
}

// Delete removes the object stored under hash, per DELETE /node/{hash}.
// On mutation it is called once the node's replacement has been put
// under its new hash (§4.2, §4.5), so the old object is not left
// dangling on the server.
func (c *Client) Delete(ctx context.Context, hash cfcrypto.Digest) error {
	return c.transport.Do(ctx, "DELETE", fmt.Sprintf("/node/%s", hash.String()), nil, nil)
}
