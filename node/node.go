// Package node is the in-memory representation of a filesystem node:
// its metadata block, its optional payload, and the machinery to derive
// its content hash and canonical wire encoding, per §4.3.
package node

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jacobsa/cryptofs/cfcrypto"
)

// InodeID is the client-local, monotonically-assigned identifier for a
// node. It is never persisted across remounts (§3): a fresh mount
// rediscovers the tree, and therefore its inode numbers, by descent from
// the root hash.
type InodeID uint64

// RootInodeID is always 1 (§3, invariant 4).
const RootInodeID InodeID = 1

// Kind distinguishes directories from regular files. It is the one part
// of a node's metadata the server sees in plaintext (§3), because the
// server needs to know which endpoint shape to enforce (children vs.
// payload).
type Kind int

const (
	// KindRegular is a regular file.
	KindRegular Kind = iota
	// KindDirectory is a directory.
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindRegular:
		return "file"
	default:
		return "unknown"
	}
}

// BlockSize is the fixed block size used to compute Metadata.Blocks from
// Metadata.Size, matching traditional st_blocks semantics. §3's metadata
// block names a "block count" field without specifying how it is
// derived; this is the value original_source/ uses.
const BlockSize = 512

// Metadata is the plaintext attribute block that gets encrypted before
// it is ever written to the wire. Field names deliberately mirror
// fuseops.InodeAttributes (Size, Mode, Atime, Mtime, Ctime, Crtime, Uid,
// Gid) so translating to and from the kernel-bridge type in the handler
// package is a straight field copy.
type Metadata struct {
	Kind Kind

	Size   uint64
	Blocks uint64

	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
	Crtime time.Time

	Mode os.FileMode
	Uid  uint32
	Gid  uint32

	// Rdev and Flags are carried for forward compatibility with device
	// nodes and per-node flags even though this filesystem never creates
	// device nodes (see SPEC_FULL.md §5); they always round-trip whatever
	// was last written to them, defaulting to zero.
	Rdev  uint32
	Flags uint32

	// Name is the node's filename, and ParentInode/Inode tie it into the
	// tree (§3, invariant 5: Metadata.ParentInode must equal the inode of
	// the directory that lists this node as a child).
	Name        string
	ParentInode InodeID
	Inode       InodeID
}

// wireMetadata is the JSON shape of Metadata. A plain struct with a fixed
// field set already serializes deterministically under encoding/json (Go
// does not randomize struct field order), which is what §4.3 requires of
// the canonical encoding: two clients holding the same Metadata value
// produce byte-identical plaintext, and therefore byte-identical
// ciphertext under the same nonce.
type wireMetadata struct {
	Kind   string    `json:"kind"`
	Size   uint64    `json:"size"`
	Blocks uint64    `json:"blocks"`
	Atime  time.Time `json:"atime"`
	Mtime  time.Time `json:"mtime"`
	Ctime  time.Time `json:"ctime"`
	Crtime time.Time `json:"crtime"`
	Mode   uint32    `json:"mode"`
	Uid    uint32    `json:"uid"`
	Gid    uint32    `json:"gid"`
	Rdev   uint32    `json:"rdev"`
	Flags  uint32    `json:"flags"`

	Name        string  `json:"name"`
	ParentInode InodeID `json:"parent_inode"`
	Inode       InodeID `json:"inode"`
}

func (m Metadata) toWire() wireMetadata {
	return wireMetadata{
		Kind:        m.Kind.String(),
		Size:        m.Size,
		Blocks:      m.Blocks,
		Atime:       m.Atime,
		Mtime:       m.Mtime,
		Ctime:       m.Ctime,
		Crtime:      m.Crtime,
		Mode:        uint32(m.Mode),
		Uid:         m.Uid,
		Gid:         m.Gid,
		Rdev:        m.Rdev,
		Flags:       m.Flags,
		Name:        m.Name,
		ParentInode: m.ParentInode,
		Inode:       m.Inode,
	}
}

func (w wireMetadata) toMetadata() (Metadata, error) {
	var kind Kind
	switch w.Kind {
	case "directory":
		kind = KindDirectory
	case "file":
		kind = KindRegular
	default:
		return Metadata{}, fmt.Errorf("node: unknown kind %q", w.Kind)
	}

	return Metadata{
		Kind:        kind,
		Size:        w.Size,
		Blocks:      w.Blocks,
		Atime:       w.Atime,
		Mtime:       w.Mtime,
		Ctime:       w.Ctime,
		Crtime:      w.Crtime,
		Mode:        os.FileMode(w.Mode),
		Uid:         w.Uid,
		Gid:         w.Gid,
		Rdev:        w.Rdev,
		Flags:       w.Flags,
		Name:        w.Name,
		ParentInode: w.ParentInode,
		Inode:       w.Inode,
	}, nil
}

// MarshalCanonical produces the canonical plaintext byte encoding of m,
// suitable for encryption. See the wireMetadata doc comment for why plain
// encoding/json already satisfies the canonical-encoding requirement.
func (m Metadata) MarshalCanonical() ([]byte, error) {
	b, err := json.Marshal(m.toWire())
	if err != nil {
		return nil, fmt.Errorf("node: marshaling metadata: %v", err)
	}
	return b, nil
}

// UnmarshalMetadata parses the canonical plaintext encoding back into a
// Metadata. A malformed payload here (one that decrypted without a
// cipher-level error but doesn't parse) is the DecryptCorrupt case of §7;
// callers are expected to wrap the error accordingly.
func UnmarshalMetadata(b []byte) (Metadata, error) {
	var w wireMetadata
	if err := json.Unmarshal(b, &w); err != nil {
		return Metadata{}, fmt.Errorf("node: unmarshaling metadata: %v", err)
	}
	return w.toMetadata()
}

// Node holds two parts of the triple described in §3: attributes plus
// filename and parent inode (Metadata), and an optional payload. The
// hash derived from both is not stored on Node; callers (the cache, the
// propagation engine) compute it with cfcrypto.NodeHash and keep it
// alongside, so they control exactly when a node's identity changes.
//
// Node's only mutators are whole-node replacements (WithMetadata,
// WithPayload): in-place edits of a cached node are not supported here
// because every mutation must go through re-encryption, re-hashing, and
// propagation (§4.3), which is the propagate package's job, not this
// one's.
type Node struct {
	Metadata Metadata
	Payload  []byte
}

// New constructs a Node with no payload (suitable for an empty directory
// or a freshly created, empty regular file).
func New(meta Metadata) *Node {
	return &Node{Metadata: meta}
}

// WithMetadata returns a copy of n with its metadata replaced, leaving
// the payload untouched.
func (n *Node) WithMetadata(meta Metadata) *Node {
	return &Node{Metadata: meta, Payload: n.Payload}
}

// WithPayload returns a copy of n with its payload replaced. Callers are
// responsible for updating Metadata.Size/Blocks to match.
func (n *Node) WithPayload(payload []byte) *Node {
	return &Node{Metadata: n.Metadata, Payload: payload}
}

// EncryptedMetadata encrypts n's canonical metadata encoding under key
// with a freshly drawn nonce, returning the on-wire envelope (nonce ‖
// ciphertext, §6).
func (n *Node) EncryptedMetadata(key cfcrypto.Key) ([]byte, error) {
	plaintext, err := n.Metadata.MarshalCanonical()
	if err != nil {
		return nil, err
	}
	nonce, err := cfcrypto.NewNonce()
	if err != nil {
		return nil, err
	}
	ciphertext, err := cfcrypto.Seal(key, nonce, plaintext)
	if err != nil {
		return nil, err
	}
	return cfcrypto.EncodeEnvelope(nonce, ciphertext), nil
}

// EncryptedPayload encrypts n's payload under key with a freshly drawn
// nonce. It only applies to regular files; a directory's hash payload
// is computed by DirectoryHashPayload instead. For a regular file with
// an empty payload this returns nil, matching the meta-only hashing
// branch of §4.1.
func (n *Node) EncryptedPayload(key cfcrypto.Key) ([]byte, error) {
	if len(n.Payload) == 0 {
		return nil, nil
	}
	nonce, err := cfcrypto.NewNonce()
	if err != nil {
		return nil, err
	}
	ciphertext, err := cfcrypto.Seal(key, nonce, n.Payload)
	if err != nil {
		return nil, err
	}
	return cfcrypto.EncodeEnvelope(nonce, ciphertext), nil
}

// DirectoryHashPayload returns the bytes a directory's node hash is
// composed over: the canonical concatenation of its children's node
// hashes (§3, invariant 2: `H_dir(enc_meta(D), [node_hash(Cᵢ)])`). Unlike
// a regular file's payload, this is never separately encrypted — the
// server already learns a directory's child hashes in plaintext via
// list_children (§4.2), so wrapping them in another layer of encryption
// would buy no confidentiality and would make the hash nondeterministic
// across re-encryptions under a fresh nonce. A directory with no
// children gets a nil payload, so its hash falls back to the meta-only
// branch just like an empty regular file.
func DirectoryHashPayload(children []cfcrypto.Digest) []byte {
	if len(children) == 0 {
		return nil
	}
	return cfcrypto.DirectoryPayload(children)
}
