// Package cryptofs implements the filesystem handler of §4.7: it
// translates fuseops callbacks into tri-index cache lookups, object
// store RPCs, and hash-propagation walks. It implements
// fuseutil.FileSystem directly, in the op-dispatch idiom of the
// jacobsa-fuse sample filesystems (each method takes only its
// *fuseops.XxxOp and responds via op.Respond; there is no separate
// request/response pair or context parameter, since commonOp already
// carries one, retrievable via op.Context() where a call needs it).
package cryptofs

import (
	"context"
	"os"
	"time"

	"github.com/jacobsa/cryptofs/cache"
	"github.com/jacobsa/cryptofs/cfcrypto"
	"github.com/jacobsa/cryptofs/cferrors"
	"github.com/jacobsa/cryptofs/node"
	"github.com/jacobsa/cryptofs/objectstore"
	"github.com/jacobsa/cryptofs/propagate"
	"github.com/jacobsa/cryptofs/verify"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
)

// attrTTL is the metadata cache lifetime named in §4.7's getattr row: a
// cached attribute block is trusted for this long before being
// refreshed from the store.
const attrTTL = 1 * time.Second

// blockSize matches node.BlockSize; setattr/write recompute Blocks at
// this granularity whenever Size changes (§5 of SPEC_FULL.md).
const blockSize = node.BlockSize

// dirSnapshot is what OpenDir captures and ReadDir serves from: the
// fixed-order entry list for one directory handle, rendered once at
// open time. memfs's inode.entries plays the same role; this version
// is rebuilt fresh on every OpenDir rather than mutated in place,
// because a remote directory's children are refreshed from the server
// on every open (§4.6's readdir refresh protocol), not read off a
// locally-owned slice.
type dirSnapshot struct {
	inode   node.InodeID
	entries []fuseutil.Dirent
}

// Handler is the single owned aggregate named in §9's redesign note:
// the tri-index cache, the inode counter, and the current root hash
// are fields here, not process-wide singletons, and every method that
// touches them holds mu for its entire body per §5's single-writer
// discipline.
type Handler struct {
	fuseutil.NotImplementedFileSystem

	key  cfcrypto.Key
	user string

	clock timeutil.Clock

	rpc      *objectstore.Client
	tri      *cache.Cache
	verifier *verify.Verifier
	engine   *propagate.Engine

	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	nextInode node.InodeID
	// GUARDED_BY(mu)
	nextHandle fuseops.HandleID
	// GUARDED_BY(mu)
	dirHandles map[fuseops.HandleID]*dirSnapshot

	// attrFreshUntil implements the 1s getattr TTL of §4.7: an inode
	// absent from this map, or whose deadline has passed, must be
	// refreshed from the store before its attributes are returned.
	// GUARDED_BY(mu)
	attrFreshUntil map[node.InodeID]time.Time
}

// New constructs a Handler. existingRoot is the root hash to resume
// from (e.g. a previously recorded anchor); pass the zero Digest for a
// fresh mount, in which case Init populates it by creating a new,
// empty root directory.
func New(rpc *objectstore.Client, key cfcrypto.Key, user string, clock timeutil.Clock, existingRoot cfcrypto.Digest) *Handler {
	tri := cache.New()

	h := &Handler{
		key:            key,
		user:           user,
		clock:          clock,
		rpc:            rpc,
		tri:            tri,
		verifier:       verify.New(rpc, tri, key),
		engine:         propagate.New(tri, rpc, key, user, existingRoot),
		nextInode:      node.RootInodeID + 1,
		nextHandle:     1,
		dirHandles:     make(map[fuseops.HandleID]*dirSnapshot),
		attrFreshUntil: make(map[node.InodeID]time.Time),
	}
	h.mu = syncutil.NewInvariantMutex(h.checkInvariants)

	if !existingRoot.IsZero() {
		h.bootstrapKnownRoot(existingRoot)
	}

	return h
}

// RootHash returns the hash most recently committed to the server for
// the tree's root node. Callers that need to resume a mount later
// (passing the same value back to New as existingRoot) must read this
// after unmount, since no hash is ever persisted by the handler itself.
func (h *Handler) RootHash() cfcrypto.Digest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.RootHash()
}

func (h *Handler) checkInvariants() {
	if err := h.tri.CheckInvariants(); err != nil {
		panic(err)
	}
}

// bootstrapKnownRoot seeds the cache with a placeholder root entry so
// that LookupName/Lookup against inode 1 succeed before the first
// LookUpInode/GetInodeAttributes call triggers a real fetch. The entry
// carries the real root hash but only placeholder metadata, which
// refreshDir replaces with the verified stored metadata on first
// access; what matters here is that inode 1 is reserved, matching
// invariant 4 of §3.
func (h *Handler) bootstrapKnownRoot(hash cfcrypto.Digest) {
	meta := node.Metadata{
		Kind:  node.KindDirectory,
		Mode:  os.ModeDir | 0755,
		Name:  "/",
		Inode: node.RootInodeID,
	}
	h.tri.Install(node.RootInodeID, hash, node.New(meta))
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

// allocateInode mints a fresh, never-before-used inode number.
// EXCLUSIVE_LOCKS_REQUIRED(h.mu)
func (h *Handler) allocateInode() node.InodeID {
	ino := h.nextInode
	h.nextInode++
	return ino
}

func toAttributes(meta node.Metadata) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:   meta.Size,
		Nlink:  1,
		Mode:   meta.Mode,
		Atime:  meta.Atime,
		Mtime:  meta.Mtime,
		Ctime:  meta.Ctime,
		Crtime: meta.Crtime,
		Uid:    meta.Uid,
		Gid:    meta.Gid,
	}
}

func (h *Handler) attrExpiration() time.Time {
	return h.clock.Now().Add(attrTTL)
}

func (h *Handler) childEntry(ino node.InodeID, n *node.Node) fuseops.ChildInodeEntry {
	return fuseops.ChildInodeEntry{
		Child:                fuseops.InodeID(ino),
		Attributes:           toAttributes(n.Metadata),
		AttributesExpiration: h.attrExpiration(),
	}
}

// installDiscovered fetches, verifies, and decrypts the node under
// hash, assigns it the given local inode number (overwriting whatever
// Inode/ParentInode values its metadata carried from the mount that
// created it — inode numbers are never persisted across mounts, per
// §3), and installs it into the cache. Returns the constructed node.
func (h *Handler) installDiscovered(ctx context.Context, ino, parent node.InodeID, hash cfcrypto.Digest) (*node.Node, error) {
	res, err := h.verifier.VerifyNode(ctx, hash, 0)
	if err != nil {
		return nil, err
	}

	meta := res.Metadata
	meta.Inode = ino
	meta.ParentInode = parent

	n := node.New(meta)
	if len(res.Payload) > 0 {
		n = n.WithPayload(res.Payload)
	}

	if err := h.tri.Install(ino, hash, n); err != nil {
		return nil, err
	}
	h.markFresh(ino)
	return n, nil
}

// markFresh records that ino's attributes were just confirmed against
// the store, so GetInodeAttributes can skip a refresh until the TTL
// named in §4.7 elapses.
func (h *Handler) markFresh(ino node.InodeID) {
	h.attrFreshUntil[ino] = h.clock.Now().Add(attrTTL)
}

// refreshDir re-lists dirIno's children from the store, verifying each
// against its claimed hash, and installs any child not already present
// in the cache. This is the readdir refresh protocol of §4.6: entering
// readdir always re-derives the authoritative child set rather than
// trusting whatever was cached from a previous listing.
func (h *Handler) refreshDir(ctx context.Context, dirIno node.InodeID) ([]cfcrypto.Digest, error) {
	dirNode, dirHash, ok := h.tri.Lookup(dirIno)
	if !ok {
		return nil, cferrors.ErrNotFound
	}

	res, err := h.verifier.VerifyNode(ctx, dirHash, dirIno)
	if err != nil {
		return nil, err
	}

	// Replace the cached metadata (for a resumed mount's root, the
	// placeholder from bootstrapKnownRoot) with the verified copy, keeping
	// the locally assigned inode numbers.
	meta := res.Metadata
	meta.Inode = dirNode.Metadata.Inode
	meta.ParentInode = dirNode.Metadata.ParentInode
	if err := h.tri.Replace(dirIno, dirHash, dirNode.WithMetadata(meta)); err != nil {
		return nil, err
	}
	h.markFresh(dirIno)

	for _, childHash := range res.ChildHashes {
		if _, ok := h.tri.LookupHash(childHash); ok {
			continue
		}
		childIno := h.allocateInode()
		if _, err := h.installDiscovered(ctx, childIno, dirIno, childHash); err != nil {
			return nil, err
		}
	}

	return res.ChildHashes, nil
}

// lookupChild resolves (parent, name) to an inode, refreshing the
// parent directory's children from the store on a cache miss before
// giving up with ENOENT.
func (h *Handler) lookupChild(ctx context.Context, parent node.InodeID, name string) (node.InodeID, *node.Node, error) {
	if ino, ok := h.tri.LookupName(parent, name); ok {
		n, _, ok := h.tri.Lookup(ino)
		if ok {
			return ino, n, nil
		}
	}

	if _, err := h.refreshDir(ctx, parent); err != nil {
		return 0, nil, err
	}

	ino, ok := h.tri.LookupName(parent, name)
	if !ok {
		return 0, nil, cferrors.ErrNotFound
	}
	n, _, ok := h.tri.Lookup(ino)
	if !ok {
		return 0, nil, cferrors.ErrNotFound
	}
	return ino, n, nil
}

// mutate re-encrypts, re-hashes, uploads, and installs n under ino
// (replacing whatever was cached there, or installing fresh for a
// brand new inode), then propagates the change to the root. It is the
// single path every create/mkdir/write/setattr callback funnels
// through, matching the Dirty state of §4.7's per-inode state machine:
// the node is not considered committed until both the store put and
// the propagation walk succeed.
func (h *Handler) mutate(ctx context.Context, ino node.InodeID, n *node.Node, fresh bool) (cfcrypto.Digest, error) {
	if fresh {
		if err := h.tri.Install(ino, cfcrypto.Digest{}, n); err != nil {
			return cfcrypto.Digest{}, err
		}
	} else {
		// Keep the node's currently committed hash as the placeholder
		// rather than zeroing it: propagate.Engine.commit needs it, after
		// the replacement node is put under its new hash, to delete the
		// old object from the store (§4.5 step 4).
		_, oldHash, ok := h.tri.Lookup(ino)
		if !ok {
			return cfcrypto.Digest{}, cferrors.ErrNotFound
		}
		if err := h.tri.Replace(ino, oldHash, n); err != nil {
			return cfcrypto.Digest{}, err
		}
	}

	hash, err := h.engine.Propagate(ctx, ino)
	if err != nil {
		return cfcrypto.Digest{}, err
	}
	h.markFresh(ino)
	return hash, nil
}

////////////////////////////////////////////////////////////////////////
// FileSystem methods
////////////////////////////////////////////////////////////////////////

func (h *Handler) Init(op *fuseops.InitOp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	defer func() { op.Respond(cferrors.ToErrno(err)) }()

	if !h.engine.RootHash().IsZero() {
		return
	}

	now := h.clock.Now()
	meta := node.Metadata{
		Kind:        node.KindDirectory,
		Mode:        os.ModeDir | 0755,
		Atime:       now,
		Mtime:       now,
		Ctime:       now,
		Crtime:      now,
		Name:        "/",
		ParentInode: node.RootInodeID,
		Inode:       node.RootInodeID,
	}
	root := node.New(meta)

	encMeta, e := root.EncryptedMetadata(h.key)
	if e != nil {
		err = e
		return
	}
	hash := cfcrypto.NodeHash(encMeta, nil)

	if e := h.rpc.PutRoot(op.Context(), hash, h.user, encMeta); e != nil {
		err = e
		return
	}

	if e := h.tri.Install(node.RootInodeID, hash, root); e != nil {
		err = e
		return
	}
	h.engine = propagate.New(h.tri, h.rpc, h.key, h.user, hash)
}

func (h *Handler) LookUpInode(op *fuseops.LookUpInodeOp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	defer func() { op.Respond(cferrors.ToErrno(err)) }()

	ino, n, e := h.lookupChild(op.Context(), node.InodeID(op.Parent), op.Name)
	if e != nil {
		err = e
		return
	}
	op.Entry = h.childEntry(ino, n)
}

func (h *Handler) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	defer func() { op.Respond(cferrors.ToErrno(err)) }()

	ino := node.InodeID(op.Inode)
	n, hash, ok := h.tri.Lookup(ino)
	if !ok {
		err = cferrors.ErrNotFound
		return
	}

	// Refresh from the store only if this node's attributes are stale
	// beyond the TTL (§4.7); within the TTL the cached copy is returned
	// as-is. A directory's own hash is re-verified as a side effect of
	// refreshDir; a regular file is re-verified directly.
	if until, fresh := h.attrFreshUntil[ino]; !fresh || h.clock.Now().After(until) {
		if n.Metadata.Kind == node.KindDirectory {
			if _, e := h.refreshDir(op.Context(), ino); e != nil {
				err = e
				return
			}
			n, _, ok = h.tri.Lookup(ino)
			if !ok {
				err = cferrors.ErrNotFound
				return
			}
		} else {
			res, e := h.verifier.VerifyNode(op.Context(), hash, ino)
			if e != nil {
				err = e
				return
			}
			refreshed := res.Metadata
			refreshed.Inode = n.Metadata.Inode
			refreshed.ParentInode = n.Metadata.ParentInode
			n = node.New(refreshed).WithPayload(res.Payload)
			h.tri.Replace(ino, hash, n)
			h.markFresh(ino)
		}
	}

	op.Attributes = toAttributes(n.Metadata)
	op.AttributesExpiration = h.attrExpiration()
}

func (h *Handler) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	defer func() { op.Respond(cferrors.ToErrno(err)) }()

	ino := node.InodeID(op.Inode)
	n, _, ok := h.tri.Lookup(ino)
	if !ok {
		err = cferrors.ErrNotFound
		return
	}

	meta := n.Metadata
	payload := n.Payload
	changed := false

	if op.Mode != nil && *op.Mode != meta.Mode {
		meta.Mode = *op.Mode
		changed = true
	}
	if op.Atime != nil && !op.Atime.Equal(meta.Atime) {
		meta.Atime = *op.Atime
		changed = true
	}
	if op.Mtime != nil && !op.Mtime.Equal(meta.Mtime) {
		meta.Mtime = *op.Mtime
		changed = true
	}
	if op.Size != nil && *op.Size != meta.Size {
		payload = resized(payload, int(*op.Size))
		meta.Size = *op.Size
		meta.Blocks = blockCount(*op.Size)
		changed = true
	}

	// Applying attributes that already hold is a no-op: re-deriving the
	// node (and therefore root) hash for a setattr that changes nothing
	// would make the root hash churn on every redundant chmod/utimes
	// call, contradicting the idempotence property of §8.
	if !changed {
		op.Attributes = toAttributes(meta)
		op.AttributesExpiration = h.attrExpiration()
		return
	}
	meta.Ctime = h.clock.Now()

	updated := node.New(meta).WithPayload(payload)
	if _, e := h.mutate(op.Context(), ino, updated, false); e != nil {
		err = e
		return
	}

	op.Attributes = toAttributes(meta)
	op.AttributesExpiration = h.attrExpiration()
}

func (h *Handler) ForgetInode(op *fuseops.ForgetInodeOp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// The kernel promises not to reference this inode again. Nothing
	// here needs to talk to the server: evicting it from the cache only
	// means a later lookup rediscovers it fresh, which is always safe.
	h.tri.Evict(node.InodeID(op.ID))
	op.Respond(nil)
}

func (h *Handler) MkDir(op *fuseops.MkDirOp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	defer func() { op.Respond(cferrors.ToErrno(err)) }()

	parent := node.InodeID(op.Parent)
	if _, _, ok := h.tri.Lookup(parent); !ok {
		err = cferrors.ErrNotFound
		return
	}
	if _, ok := h.tri.LookupName(parent, op.Name); ok {
		err = cferrors.ErrExist
		return
	}

	now := h.clock.Now()
	ino := h.allocateInode()
	meta := node.Metadata{
		Kind:        node.KindDirectory,
		Mode:        op.Mode,
		Atime:       now,
		Mtime:       now,
		Ctime:       now,
		Crtime:      now,
		Name:        op.Name,
		ParentInode: parent,
		Inode:       ino,
	}
	n := node.New(meta)

	if _, e := h.mutate(op.Context(), ino, n, true); e != nil {
		err = e
		return
	}

	op.Entry = h.childEntry(ino, n)
}

func (h *Handler) CreateFile(op *fuseops.CreateFileOp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	defer func() { op.Respond(cferrors.ToErrno(err)) }()

	parent := node.InodeID(op.Parent)
	if _, _, ok := h.tri.Lookup(parent); !ok {
		err = cferrors.ErrNotFound
		return
	}
	if _, ok := h.tri.LookupName(parent, op.Name); ok {
		err = cferrors.ErrExist
		return
	}

	now := h.clock.Now()
	ino := h.allocateInode()
	meta := node.Metadata{
		Kind:        node.KindRegular,
		Mode:        op.Mode,
		Atime:       now,
		Mtime:       now,
		Ctime:       now,
		Crtime:      now,
		Name:        op.Name,
		ParentInode: parent,
		Inode:       ino,
	}
	n := node.New(meta)

	if _, e := h.mutate(op.Context(), ino, n, true); e != nil {
		err = e
		return
	}

	op.Entry = h.childEntry(ino, n)
}

func (h *Handler) OpenDir(op *fuseops.OpenDirOp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	defer func() { op.Respond(cferrors.ToErrno(err)) }()

	ino := node.InodeID(op.Inode)
	n, _, ok := h.tri.Lookup(ino)
	if !ok {
		err = cferrors.ErrNotFound
		return
	}
	if n.Metadata.Kind != node.KindDirectory {
		err = cferrors.ErrNotADirectory
		return
	}

	childHashes, e := h.refreshDir(op.Context(), ino)
	if e != nil {
		err = e
		return
	}

	// Positions follow §4.7's readdir row: "." and ".." at 0, 1, children
	// starting at 2. Each Dirent's Offset is the position of the entry
	// after it, which is where the kernel resumes the next ReadDir.
	entries := make([]fuseutil.Dirent, 0, len(childHashes)+2)
	entries = append(entries,
		fuseutil.Dirent{Offset: 1, Inode: fuseops.InodeID(ino), Name: ".", Type: fuseutil.DT_Directory},
		fuseutil.Dirent{Offset: 2, Inode: fuseops.InodeID(n.Metadata.ParentInode), Name: "..", Type: fuseutil.DT_Directory},
	)

	for _, childHash := range childHashes {
		childIno, ok := h.tri.LookupHash(childHash)
		if !ok {
			continue
		}
		child, _, ok := h.tri.Lookup(childIno)
		if !ok {
			continue
		}
		dt := fuseutil.DT_File
		if child.Metadata.Kind == node.KindDirectory {
			dt = fuseutil.DT_Directory
		}
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(len(entries) + 1),
			Inode:  fuseops.InodeID(childIno),
			Name:   child.Metadata.Name,
			Type:   dt,
		})
	}

	handle := h.nextHandle
	h.nextHandle++
	h.dirHandles[handle] = &dirSnapshot{inode: ino, entries: entries}
	op.Handle = handle
}

func (h *Handler) ReadDir(op *fuseops.ReadDirOp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	defer func() { op.Respond(cferrors.ToErrno(err)) }()

	snap, ok := h.dirHandles[op.Handle]
	if !ok {
		err = cferrors.ErrNotFound
		return
	}

	if int(op.Offset) > len(snap.entries) {
		err = cferrors.ErrInvalidOffset
		return
	}

	for _, e := range snap.entries[op.Offset:] {
		op.Data = fuseutil.AppendDirent(op.Data, e)
		if len(op.Data) > op.Size {
			op.Data = op.Data[:op.Size]
			break
		}
	}
}

func (h *Handler) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.dirHandles, op.Handle)
	op.Respond(nil)
}

func (h *Handler) OpenFile(op *fuseops.OpenFileOp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	defer func() { op.Respond(cferrors.ToErrno(err)) }()

	n, _, ok := h.tri.Lookup(node.InodeID(op.Inode))
	if !ok {
		err = cferrors.ErrNotFound
		return
	}
	if n.Metadata.Kind != node.KindRegular {
		err = cferrors.ErrIsDirectory
		return
	}

	// Every open shares handle 0 ("0 suffices — all opens share it")
	// since the handler tracks no per-handle state for regular files,
	// unlike directories.
	op.Handle = 0
}

func (h *Handler) ReadFile(op *fuseops.ReadFileOp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	defer func() { op.Respond(cferrors.ToErrno(err)) }()

	ino := node.InodeID(op.Inode)
	n, hash, ok := h.tri.Lookup(ino)
	if !ok {
		err = cferrors.ErrNotFound
		return
	}

	payload := n.Payload
	if payload == nil && n.Metadata.Size > 0 {
		res, e := h.verifier.VerifyNode(op.Context(), hash, ino)
		if e != nil {
			err = e
			return
		}
		payload = res.Payload
		n = n.WithPayload(payload)
		h.tri.Replace(ino, hash, n)
	}

	if op.Offset < 0 || int64(len(payload)) <= op.Offset {
		op.Data = nil
		return
	}

	end := op.Offset + int64(op.Size)
	if end > int64(len(payload)) {
		end = int64(len(payload))
	}
	op.Data = payload[op.Offset:end]
}

func (h *Handler) WriteFile(op *fuseops.WriteFileOp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	defer func() { op.Respond(cferrors.ToErrno(err)) }()

	ino := node.InodeID(op.Inode)
	n, _, ok := h.tri.Lookup(ino)
	if !ok {
		err = cferrors.ErrNotFound
		return
	}

	if op.Offset > int64(len(n.Payload)) {
		err = cferrors.ErrInvalidOffset
		return
	}

	newLen := int(op.Offset) + len(op.Data)
	if newLen < len(n.Payload) {
		newLen = len(n.Payload)
	}
	payload := make([]byte, newLen)
	copy(payload, n.Payload)
	copy(payload[op.Offset:], op.Data)

	meta := n.Metadata
	meta.Size = uint64(len(payload))
	meta.Blocks = blockCount(meta.Size)
	meta.Mtime = h.clock.Now()
	meta.Ctime = meta.Mtime

	updated := node.New(meta).WithPayload(payload)
	if _, e := h.mutate(op.Context(), ino, updated, false); e != nil {
		err = e
		return
	}
}

func (h *Handler) SyncFile(op *fuseops.SyncFileOp) {
	// Every mutation already commits synchronously (§4.7's Dirty state
	// is left only after the store put and propagation both succeed),
	// so there is nothing further to flush here.
	op.Respond(nil)
}

func (h *Handler) FlushFile(op *fuseops.FlushFileOp) {
	op.Respond(nil)
}

func (h *Handler) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) {
	op.Respond(nil)
}

////////////////////////////////////////////////////////////////////////
// Size/block arithmetic
////////////////////////////////////////////////////////////////////////

func blockCount(size uint64) uint64 {
	return (size + blockSize - 1) / blockSize
}

func resized(payload []byte, size int) []byte {
	if size == len(payload) {
		return payload
	}
	out := make([]byte, size)
	copy(out, payload)
	return out
}
