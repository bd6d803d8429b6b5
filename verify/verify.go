// Package verify implements the integrity verification described in
// §4.6: every node and payload fetched from the object store is
// re-hashed from its ciphertext and compared against the hash it was
// requested under before any of it is trusted or decrypted further.
package verify

import (
	"context"

	"github.com/jacobsa/cryptofs/cache"
	"github.com/jacobsa/cryptofs/cferrors"
	"github.com/jacobsa/cryptofs/cfcrypto"
	"github.com/jacobsa/cryptofs/cflog"
	"github.com/jacobsa/cryptofs/node"
	"github.com/jacobsa/cryptofs/objectstore"
)

// Store is the subset of *objectstore.Client the verifier needs.
type Store interface {
	GetNode(ctx context.Context, hash cfcrypto.Digest) (*objectstore.FetchedNode, error)
	GetPayload(ctx context.Context, hash cfcrypto.Digest) ([]byte, error)
	ListChildren(ctx context.Context, hash cfcrypto.Digest) ([]cfcrypto.Digest, error)
}

var _ Store = (*objectstore.Client)(nil)

// Verifier fetches nodes through a Store, re-derives their content hash
// from the raw bytes the server returned, and refuses to hand anything
// back to a caller that does not match the hash it was fetched under.
// On mismatch it evicts the corresponding cache entry (§7: "poison
// cache on mismatch") so a later retry does not silently reuse the
// tainted copy.
type Verifier struct {
	rpc   Store
	cache *cache.Cache
	key   cfcrypto.Key
}

// New constructs a Verifier.
func New(rpc Store, c *cache.Cache, key cfcrypto.Key) *Verifier {
	return &Verifier{rpc: rpc, cache: c, key: key}
}

// FetchResult is a verified, decrypted node ready to be installed into
// the cache.
type FetchResult struct {
	Metadata   node.Metadata
	Payload    []byte
	ParentHash cfcrypto.Digest
	HasParent  bool

	// ChildHashes is populated only when Metadata.Kind is KindDirectory,
	// already verified as part of computing the node hash; callers must
	// not re-list and re-verify them a second time.
	ChildHashes []cfcrypto.Digest
}

// VerifyNode fetches the node identified by hash, re-derives its hash
// from the returned ciphertext, and decrypts it only once the
// comparison succeeds. A directory's children are fetched and included
// in the hash re-derivation (via their own hashes, not their content)
// so that readdir results are authenticated without requiring a full
// recursive fetch.
//
// ino, if non-zero, identifies the cache slot this fetch is refreshing;
// on a mismatch it is evicted. A zero ino (InodeID 0 is never assigned,
// per §3) means this is a first-time discovery with nothing cached yet.
func (v *Verifier) VerifyNode(ctx context.Context, hash cfcrypto.Digest, ino node.InodeID) (*FetchResult, error) {
	fn, err := v.rpc.GetNode(ctx, hash)
	if err != nil {
		return nil, err
	}

	var encPayload []byte
	var children []cfcrypto.Digest
	var hashPayload []byte

	if fn.IsDir {
		children, err = v.rpc.ListChildren(ctx, hash)
		if err != nil {
			return nil, err
		}
		// A directory's hash is composed over its children's own hashes
		// directly (§3, invariant 2), not over an encrypted blob of them:
		// the server already discloses child hashes in plaintext via
		// list_children, so there is nothing further to decrypt here.
		hashPayload = node.DirectoryHashPayload(children)
	} else if fn.HasDataPointer {
		encPayload, err = v.rpc.GetPayload(ctx, hash)
		if err != nil {
			return nil, err
		}
		hashPayload = encPayload
	}

	computed := cfcrypto.NodeHash(fn.EncMetadata, hashPayload)
	if computed != hash {
		cflog.Printf("integrity violation: requested %s, computed %s, evicting inode %d", hash, computed, ino)
		if ino != 0 {
			v.cache.Evict(ino)
		}
		return nil, &cferrors.IntegrityViolation{Hash: hash.String()}
	}

	nonce, ciphertext, err := cfcrypto.DecodeEnvelope(fn.EncMetadata)
	if err != nil {
		return nil, &cferrors.DecryptCorrupt{Cause: err}
	}
	plaintext, err := cfcrypto.Open(v.key, nonce, ciphertext)
	if err != nil {
		return nil, &cferrors.DecryptCorrupt{Cause: err}
	}
	meta, err := node.UnmarshalMetadata(plaintext)
	if err != nil {
		return nil, &cferrors.DecryptCorrupt{Cause: err}
	}

	var payload []byte
	if len(encPayload) > 0 && !fn.IsDir {
		pnonce, pciphertext, err := cfcrypto.DecodeEnvelope(encPayload)
		if err != nil {
			return nil, &cferrors.DecryptCorrupt{Cause: err}
		}
		payload, err = cfcrypto.Open(v.key, pnonce, pciphertext)
		if err != nil {
			return nil, &cferrors.DecryptCorrupt{Cause: err}
		}
	}

	return &FetchResult{
		Metadata:    meta,
		Payload:     payload,
		ParentHash:  fn.ParentHash,
		HasParent:   fn.HasParent,
		ChildHashes: children,
	}, nil
}
