// Package propagate implements the hash-propagation engine of §4.5: a
// mutation to any node's content requires re-deriving that node's hash,
// then its parent's, and so on to the root, so that the root hash
// always reflects the current content of every node beneath it.
//
// The engine is single-writer per mount (§5: "hash propagation is
// serialized per mount; only one propagation walk runs at a time"),
// mirroring memfs's single InvariantMutex guarding the whole inode
// table in the jacobsa-fuse sample filesystems; the handler package is
// expected to hold that same lock for the duration of a call into
// Engine.Propagate.
package propagate

import (
	"context"

	"github.com/jacobsa/cryptofs/cache"
	"github.com/jacobsa/cryptofs/cferrors"
	"github.com/jacobsa/cryptofs/cfcrypto"
	"github.com/jacobsa/cryptofs/node"
	"github.com/jacobsa/cryptofs/objectstore"
)

// Store is the subset of *objectstore.Client the engine needs. It is a
// narrow interface so tests can substitute a fake without touching the
// wire protocol.
type Store interface {
	PutNode(ctx context.Context, hash, parentHash cfcrypto.Digest, isDir bool, encMetadata []byte, payloadHash cfcrypto.Digest, payloadLength int) error
	PutRoot(ctx context.Context, hash cfcrypto.Digest, user string, encMetadata []byte) error
	PutPayload(ctx context.Context, hash cfcrypto.Digest, encPayload []byte) error
	Delete(ctx context.Context, hash cfcrypto.Digest) error
}

var _ Store = (*objectstore.Client)(nil)

// Engine walks the parent chain from a mutated node up to the root,
// re-encrypting and re-hashing each ancestor along the way, and keeps
// the tri-index cache in lockstep.
type Engine struct {
	store *cache.Cache
	rpc   Store
	key   cfcrypto.Key
	user  string

	// root is the hash of the most recently committed root node. It is
	// only ever read or written while the caller holds whatever lock
	// serializes propagation (§5); Engine itself does not lock.
	root cfcrypto.Digest
}

// New constructs an Engine. root is the hash of the tree's current root
// node, as already known to the cache.
func New(store *cache.Cache, rpc Store, key cfcrypto.Key, user string, root cfcrypto.Digest) *Engine {
	return &Engine{store: store, rpc: rpc, key: key, user: user, root: root}
}

// RootHash returns the hash most recently committed to the server.
func (e *Engine) RootHash() cfcrypto.Digest {
	return e.root
}

// Propagate is called after a node's content (metadata or payload) has
// already changed in memory and been installed into the cache under
// ino at its new (not yet committed) state. It re-encrypts and
// re-uploads that node, then walks up Metadata.ParentInode repeatedly,
// re-deriving each ancestor's directory payload from its children's
// current hashes, until it reaches the root, which it commits with
// PutRoot.
//
// A cycle in the parent chain (an inode reached a second time, or a
// non-root node that is its own parent) or a parent missing from the
// cache is reported as *cferrors.StructuralCorruption per §7's
// structural-corruption case. A transport failure partway up
// the chain is reported as *cferrors.PartialPropagation: the nodes
// below the failure point have already been committed under their new
// hashes, but the root does not yet reflect them, so a fresh mount is
// required to reconcile (see the Open Question discussion in
// DESIGN.md).
func (e *Engine) Propagate(ctx context.Context, ino node.InodeID) (cfcrypto.Digest, error) {
	n, _, ok := e.store.Lookup(ino)
	if !ok {
		return cfcrypto.Digest{}, &cferrors.StructuralCorruption{Inode: uint64(ino), Reason: "node not in cache at propagation start"}
	}

	visited := make(map[node.InodeID]bool)
	cur := ino
	curNode := n

	for {
		if visited[cur] {
			return cfcrypto.Digest{}, &cferrors.StructuralCorruption{Inode: uint64(cur), Reason: "cycle detected in parent chain"}
		}
		visited[cur] = true

		newHash, err := e.commit(ctx, cur, curNode)
		if err != nil {
			if sc, ok := err.(*cferrors.StructuralCorruption); ok {
				return cfcrypto.Digest{}, sc
			}
			return cfcrypto.Digest{}, &cferrors.PartialPropagation{Inode: uint64(cur), Cause: err}
		}

		if cur == node.RootInodeID {
			e.root = newHash
			return newHash, nil
		}

		parentIno := curNode.Metadata.ParentInode
		if parentIno == cur {
			return cfcrypto.Digest{}, &cferrors.StructuralCorruption{Inode: uint64(cur), Reason: "node is its own parent"}
		}

		parentNode, _, ok := e.store.Lookup(parentIno)
		if !ok {
			return cfcrypto.Digest{}, &cferrors.StructuralCorruption{Inode: uint64(parentIno), Reason: "parent not in cache"}
		}

		cur = parentIno
		curNode = parentNode
	}
}

// commit re-encrypts and re-hashes the node currently cached under ino,
// uploads it, deletes whatever hash it was previously committed under,
// and installs the result back into the cache, returning its new hash.
// For a directory, the payload is derived from the current hashes of
// whatever children are cached under it; a freshly renamed or newly
// created child must already be installed in the cache before its
// parent is committed.
func (e *Engine) commit(ctx context.Context, ino node.InodeID, n *node.Node) (cfcrypto.Digest, error) {
	// oldHash is whatever this inode was committed under before this
	// mutation; zero for a brand new inode that has never been put. It is
	// read before the put below so that a newly created node (whose
	// cache entry was installed under the zero hash) is never mistaken
	// for one that needs its "old" object deleted.
	_, oldHash, _ := e.store.Lookup(ino)

	encMeta, err := n.EncryptedMetadata(e.key)
	if err != nil {
		return cfcrypto.Digest{}, err
	}

	// hashPayload is what the node hash is composed over (invariant 2/3 of
	// §3); uploadPayload is what actually gets written to the store as
	// content bytes. For a directory these differ: its hash is derived
	// from its children's own hashes (already known to the server via
	// each child's parent-hash pointer), but nothing is uploaded for the
	// directory itself beyond its encrypted metadata.
	var hashPayload, uploadPayload []byte
	if n.Metadata.Kind == node.KindDirectory {
		hashPayload = node.DirectoryHashPayload(e.childHashes(ino))
	} else {
		uploadPayload, err = n.EncryptedPayload(e.key)
		hashPayload = uploadPayload
	}
	if err != nil {
		return cfcrypto.Digest{}, err
	}

	hash := cfcrypto.NodeHash(encMeta, hashPayload)

	var payloadHash cfcrypto.Digest
	var payloadLen int
	if len(uploadPayload) > 0 {
		payloadHash = cfcrypto.Hash(uploadPayload)
		payloadLen = len(uploadPayload)
	}

	if ino == node.RootInodeID {
		if err := e.rpc.PutRoot(ctx, hash, e.user, encMeta); err != nil {
			return cfcrypto.Digest{}, err
		}
	} else {
		_, parentHash, ok := e.store.Lookup(n.Metadata.ParentInode)
		if !ok {
			return cfcrypto.Digest{}, &cferrors.StructuralCorruption{Inode: uint64(n.Metadata.ParentInode), Reason: "parent not in cache during commit"}
		}
		if err := e.rpc.PutNode(ctx, hash, parentHash, n.Metadata.Kind == node.KindDirectory, encMeta, payloadHash, payloadLen); err != nil {
			return cfcrypto.Digest{}, err
		}
	}

	// The node's hash is already fixed at this point (it is derived from
	// uploadPayload, not assigned by the server), so the payload can be
	// PUT under it directly; GetPayload later fetches the same key.
	if len(uploadPayload) > 0 {
		if err := e.rpc.PutPayload(ctx, hash, uploadPayload); err != nil {
			return cfcrypto.Digest{}, err
		}
	}

	// §4.5 step 4: once the new envelope is safely put, delete the old
	// one. Skipped for a brand new node (oldHash is zero) and in the
	// practically-impossible case that re-encryption under a fresh nonce
	// happened to reproduce the same hash.
	if !oldHash.IsZero() && oldHash != hash {
		if err := e.rpc.Delete(ctx, oldHash); err != nil {
			return cfcrypto.Digest{}, err
		}
	}

	if err := e.store.Replace(ino, hash, n); err != nil {
		if err := e.store.Install(ino, hash, n); err != nil {
			return cfcrypto.Digest{}, err
		}
	}

	return hash, nil
}

// childHashes returns the current hashes of every node in the cache
// whose ParentInode is ino, in no particular order; DirectoryPayload
// sorts them canonically.
func (e *Engine) childHashes(ino node.InodeID) []cfcrypto.Digest {
	return e.store.HashesOfChildren(ino)
}
