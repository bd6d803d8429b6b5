package verify_test

import (
	"context"
	"testing"
	"time"

	"github.com/jacobsa/cryptofs/cache"
	"github.com/jacobsa/cryptofs/cferrors"
	"github.com/jacobsa/cryptofs/cfcrypto"
	"github.com/jacobsa/cryptofs/node"
	"github.com/jacobsa/cryptofs/objectstore"
	"github.com/jacobsa/cryptofs/verify"
	. "github.com/jacobsa/ogletest"
)

func TestVerify(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Fake store
////////////////////////////////////////////////////////////////////////

type fakeStore struct {
	nodes    map[cfcrypto.Digest]*objectstore.FetchedNode
	payloads map[cfcrypto.Digest][]byte
	children map[cfcrypto.Digest][]cfcrypto.Digest
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nodes:    map[cfcrypto.Digest]*objectstore.FetchedNode{},
		payloads: map[cfcrypto.Digest][]byte{},
		children: map[cfcrypto.Digest][]cfcrypto.Digest{},
	}
}

func (f *fakeStore) GetNode(ctx context.Context, hash cfcrypto.Digest) (*objectstore.FetchedNode, error) {
	n, ok := f.nodes[hash]
	if !ok {
		return nil, cferrors.ErrNotFound
	}
	return n, nil
}

func (f *fakeStore) GetPayload(ctx context.Context, hash cfcrypto.Digest) ([]byte, error) {
	return f.payloads[hash], nil
}

func (f *fakeStore) ListChildren(ctx context.Context, hash cfcrypto.Digest) ([]cfcrypto.Digest, error) {
	return f.children[hash], nil
}

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type VerifyTest struct {
	ctx   context.Context
	store *fakeStore
	c     *cache.Cache
	key   cfcrypto.Key
	v     *verify.Verifier
}

func init() { RegisterTestSuite(&VerifyTest{}) }

func (t *VerifyTest) SetUp(ti *TestInfo) {
	t.ctx = context.Background()
	t.store = newFakeStore()
	t.c = cache.New()
	for i := range t.key {
		t.key[i] = byte(i)
	}
	t.v = verify.New(t.store, t.c, t.key)
}

// seedFile installs a regular file node into the fake store under a
// correctly derived hash, returning that hash.
func (t *VerifyTest) seedFile(name string, payload []byte) cfcrypto.Digest {
	meta := node.Metadata{
		Kind:  node.KindRegular,
		Name:  name,
		Size:  uint64(len(payload)),
		Mtime: time.Now(),
	}
	n := node.New(meta).WithPayload(payload)

	encMeta, err := n.EncryptedMetadata(t.key)
	AssertEq(nil, err)
	encPayload, err := n.EncryptedPayload(t.key)
	AssertEq(nil, err)

	hash := cfcrypto.NodeHash(encMeta, encPayload)
	t.store.nodes[hash] = &objectstore.FetchedNode{
		Hash:           hash,
		EncMetadata:    encMeta,
		IsDir:          false,
		HasDataPointer: len(encPayload) > 0,
	}
	if len(encPayload) > 0 {
		t.store.payloads[hash] = encPayload
	}
	return hash
}

// seedDir installs a directory node whose hash is derived from
// children, per the corrected invariant 2 semantics.
func (t *VerifyTest) seedDir(name string, children []cfcrypto.Digest) cfcrypto.Digest {
	meta := node.Metadata{
		Kind: node.KindDirectory,
		Name: name,
	}
	n := node.New(meta)
	encMeta, err := n.EncryptedMetadata(t.key)
	AssertEq(nil, err)

	hashPayload := node.DirectoryHashPayload(children)
	hash := cfcrypto.NodeHash(encMeta, hashPayload)

	t.store.nodes[hash] = &objectstore.FetchedNode{
		Hash:        hash,
		EncMetadata: encMeta,
		IsDir:       true,
	}
	t.store.children[hash] = children
	return hash
}

////////////////////////////////////////////////////////////////////////
// Test functions
////////////////////////////////////////////////////////////////////////

// An untampered regular file verifies and decrypts; the tamper
// detection cases of property 3 follow.
func (t *VerifyTest) VerifiesAndDecryptsARegularFile() {
	hash := t.seedFile("a.txt", []byte("hello"))

	res, err := t.v.VerifyNode(t.ctx, hash, 0)
	AssertEq(nil, err)
	ExpectEq("a.txt", res.Metadata.Name)
	ExpectEq("hello", string(res.Payload))
}

func (t *VerifyTest) DetectsTamperedMetadata() {
	hash := t.seedFile("a.txt", []byte("hello"))
	fn := t.store.nodes[hash]
	fn.EncMetadata[0] ^= 0xFF // corrupt the ciphertext

	_, err := t.v.VerifyNode(t.ctx, hash, 0)
	AssertNe(nil, err)
	_, ok := err.(*cferrors.IntegrityViolation)
	ExpectTrue(ok)
}

func (t *VerifyTest) DetectsTamperedPayload() {
	hash := t.seedFile("a.txt", []byte("hello"))
	t.store.payloads[hash][len(t.store.payloads[hash])-1] ^= 0xFF

	_, err := t.v.VerifyNode(t.ctx, hash, 0)
	AssertNe(nil, err)
	_, ok := err.(*cferrors.IntegrityViolation)
	ExpectTrue(ok)
}

func (t *VerifyTest) MismatchEvictsCachedInode() {
	meta := node.Metadata{Kind: node.KindRegular, Name: "a.txt", Inode: 2, ParentInode: node.RootInodeID}
	n := node.New(meta)
	AssertEq(nil, t.c.Install(2, cfcrypto.Hash([]byte("stale")), n))

	hash := t.seedFile("a.txt", []byte("hello"))
	fn := t.store.nodes[hash]
	fn.EncMetadata[0] ^= 0xFF

	_, err := t.v.VerifyNode(t.ctx, hash, 2)
	AssertNe(nil, err)

	_, _, ok := t.c.Lookup(2)
	ExpectFalse(ok)
}

func (t *VerifyTest) VerifiesDirectoryAgainstPlaintextChildList() {
	c1 := t.seedFile("x", []byte("1"))
	c2 := t.seedFile("y", []byte("2"))
	dirHash := t.seedDir("d", []cfcrypto.Digest{c1, c2})

	res, err := t.v.VerifyNode(t.ctx, dirHash, 0)
	AssertEq(nil, err)
	ExpectEq("d", res.Metadata.Name)
	AssertEq(2, len(res.ChildHashes))
}

func (t *VerifyTest) EmptyDirectoryHashesMetaOnly() {
	dirHash := t.seedDir("empty", nil)

	res, err := t.v.VerifyNode(t.ctx, dirHash, 0)
	AssertEq(nil, err)
	ExpectEq(0, len(res.ChildHashes))
}

func (t *VerifyTest) DetectsForgedChildList() {
	c1 := t.seedFile("x", []byte("1"))
	c2 := t.seedFile("y", []byte("2"))
	dirHash := t.seedDir("d", []cfcrypto.Digest{c1, c2})

	// The server now claims a different, smaller child set than the one
	// the hash was computed over.
	t.store.children[dirHash] = []cfcrypto.Digest{c1}

	_, err := t.v.VerifyNode(t.ctx, dirHash, 0)
	AssertNe(nil, err)
	_, ok := err.(*cferrors.IntegrityViolation)
	ExpectTrue(ok)
}
