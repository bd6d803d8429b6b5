// Package cache implements the tri-index in-memory cache of §4.4: every
// node the mount currently knows about is reachable by inode number, by
// content hash, and by (parent inode, name) pair, and all three indexes
// are kept consistent under a single lock.
//
// The structure mirrors memfs's inode table (the jacobsa-fuse sample
// filesystem), generalized from "a slice indexed by inode number" to
// three maps because this filesystem's inode numbers are assigned
// lazily as the tree is discovered by descent from the root hash, not
// known up front.
package cache

import (
	"fmt"
	"sync"

	"github.com/jacobsa/cryptofs/cfcrypto"
	"github.com/jacobsa/cryptofs/node"
)

// NameKey identifies a child by its parent directory's inode and its
// filename, the third leg of the tri-index (§4.4).
type NameKey struct {
	Parent node.InodeID
	Name   string
}

// entry is what the cache actually stores per inode: the node itself
// plus the hash it was last known to have, since a node's Hash is not a
// field of node.Node (see node.go) but is derived and cached alongside
// it.
type entry struct {
	n    *node.Node
	hash cfcrypto.Digest
}

// Cache is the tri-index. The zero value is not usable; construct one
// with New.
//
// Cache is guarded by a single RWMutex rather than per-map locks,
// because every mutation (Install, Replace, Evict) touches more than
// one index at once and partial updates would let a reader observe an
// inconsistent view — exactly the concern that motivates
// jacobsa/syncutil.InvariantMutex elsewhere in this module. Here a plain
// sync.RWMutex is used; the invariant checker (CheckInvariants) is not
// run by this lock but is called explicitly by tests and as the
// invariant callback of the handler's own InvariantMutex.
type Cache struct {
	mu sync.RWMutex

	byInode map[node.InodeID]*entry
	byHash  map[cfcrypto.Digest]node.InodeID
	byName  map[NameKey]node.InodeID
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		byInode: make(map[node.InodeID]*entry),
		byHash:  make(map[cfcrypto.Digest]node.InodeID),
		byName:  make(map[NameKey]node.InodeID),
	}
}

// Install adds a freshly-discovered node to all three indexes. It is an
// error to Install an inode that is already present; use Replace to
// update one that already has an entry.
func (c *Cache) Install(ino node.InodeID, hash cfcrypto.Digest, n *node.Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byInode[ino]; ok {
		return fmt.Errorf("cache: inode %d already installed", ino)
	}

	c.byInode[ino] = &entry{n: n, hash: hash}
	c.byHash[hash] = ino
	c.byName[NameKey{Parent: n.Metadata.ParentInode, Name: n.Metadata.Name}] = ino
	return nil
}

// Replace atomically swaps the node and hash stored under an
// already-installed inode, per §4.4's "mutation replaces, never edits
// in place" rule. The old hash's byHash entry is removed; if the name
// or parent changed (a rename), the old byName entry is removed too.
func (c *Cache) Replace(ino node.InodeID, newHash cfcrypto.Digest, n *node.Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.byInode[ino]
	if !ok {
		return fmt.Errorf("cache: inode %d not installed", ino)
	}

	delete(c.byHash, old.hash)
	oldKey := NameKey{Parent: old.n.Metadata.ParentInode, Name: old.n.Metadata.Name}
	newKey := NameKey{Parent: n.Metadata.ParentInode, Name: n.Metadata.Name}
	if oldKey != newKey {
		delete(c.byName, oldKey)
	}

	c.byInode[ino] = &entry{n: n, hash: newHash}
	c.byHash[newHash] = ino
	c.byName[newKey] = ino
	return nil
}

// Evict removes ino and all of its index entries, per the "poison cache
// on mismatch" rule of §7: an integrity violation must not leave a
// lookup path that still resolves to the bad entry.
func (c *Cache) Evict(ino node.InodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(ino)
}

func (c *Cache) evictLocked(ino node.InodeID) {
	e, ok := c.byInode[ino]
	if !ok {
		return
	}
	delete(c.byInode, ino)
	delete(c.byHash, e.hash)
	delete(c.byName, NameKey{Parent: e.n.Metadata.ParentInode, Name: e.n.Metadata.Name})
}

// Lookup returns the node and hash currently cached under ino.
func (c *Cache) Lookup(ino node.InodeID) (*node.Node, cfcrypto.Digest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.byInode[ino]
	if !ok {
		return nil, cfcrypto.Digest{}, false
	}
	return e.n, e.hash, true
}

// LookupHash returns the inode currently associated with hash, if any.
func (c *Cache) LookupHash(hash cfcrypto.Digest) (node.InodeID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ino, ok := c.byHash[hash]
	return ino, ok
}

// LookupName resolves a (parent, name) pair to an inode, the cache-side
// half of every Lookup/Create/Rename FUSE op.
func (c *Cache) LookupName(parent node.InodeID, name string) (node.InodeID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ino, ok := c.byName[NameKey{Parent: parent, Name: name}]
	return ino, ok
}

// HashesOfChildren returns the current hashes of every node cached with
// parent as its Metadata.ParentInode, in unspecified order; callers
// that need a canonical order (the propagation engine, via
// cfcrypto.DirectoryPayload) sort independently.
func (c *Cache) HashesOfChildren(parent node.InodeID) []cfcrypto.Digest {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []cfcrypto.Digest
	for _, e := range c.byInode {
		if e.n.Metadata.ParentInode == parent && e.n.Metadata.Inode != parent {
			out = append(out, e.hash)
		}
	}
	return out
}

// CheckInvariants verifies that all three indexes agree with each other
// — every installed inode is reachable by exactly the hash and name key
// its stored node implies, and no index has a dangling entry. Tests call
// it directly (cache consistency property 4 of §8), and the cryptofs
// handler installs it as its InvariantMutex callback.
func (c *Cache) CheckInvariants() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.byHash) != len(c.byInode) {
		return fmt.Errorf("cache: byHash has %d entries, byInode has %d", len(c.byHash), len(c.byInode))
	}
	if len(c.byName) != len(c.byInode) {
		return fmt.Errorf("cache: byName has %d entries, byInode has %d", len(c.byName), len(c.byInode))
	}

	for ino, e := range c.byInode {
		if got, ok := c.byHash[e.hash]; !ok || got != ino {
			return fmt.Errorf("cache: byHash[%s] = %d, want %d", e.hash.String(), got, ino)
		}
		key := NameKey{Parent: e.n.Metadata.ParentInode, Name: e.n.Metadata.Name}
		if got, ok := c.byName[key]; !ok || got != ino {
			return fmt.Errorf("cache: byName[%+v] = %d, want %d", key, got, ino)
		}
	}
	return nil
}
