package cache_test

import (
	"testing"

	"github.com/jacobsa/cryptofs/cache"
	"github.com/jacobsa/cryptofs/cfcrypto"
	"github.com/jacobsa/cryptofs/node"
	. "github.com/jacobsa/ogletest"
)

func TestCache(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type TriCacheTest struct {
	c *cache.Cache
}

func init() { RegisterTestSuite(&TriCacheTest{}) }

func (t *TriCacheTest) SetUp(ti *TestInfo) {
	t.c = cache.New()
}

func makeNode(parent, inode node.InodeID, name string) *node.Node {
	return node.New(node.Metadata{
		Kind:        node.KindRegular,
		Name:        name,
		ParentInode: parent,
		Inode:       inode,
	})
}

////////////////////////////////////////////////////////////////////////
// Test functions
////////////////////////////////////////////////////////////////////////

// Property 4: tri-index consistency.
func (t *TriCacheTest) InstallPopulatesAllThreeIndexes() {
	n := makeNode(node.RootInodeID, 2, "a.txt")
	h := cfcrypto.Hash([]byte("a"))

	AssertEq(nil, t.c.Install(2, h, n))

	got, gotHash, ok := t.c.Lookup(2)
	AssertTrue(ok)
	ExpectEq(n, got)
	ExpectEq(h, gotHash)

	ino, ok := t.c.LookupHash(h)
	AssertTrue(ok)
	ExpectEq(node.InodeID(2), ino)

	ino, ok = t.c.LookupName(node.RootInodeID, "a.txt")
	AssertTrue(ok)
	ExpectEq(node.InodeID(2), ino)

	AssertEq(nil, t.c.CheckInvariants())
}

func (t *TriCacheTest) InstallRejectsDuplicateInode() {
	n := makeNode(node.RootInodeID, 2, "a.txt")
	h := cfcrypto.Hash([]byte("a"))
	AssertEq(nil, t.c.Install(2, h, n))

	err := t.c.Install(2, h, n)
	ExpectNe(nil, err)
}

func (t *TriCacheTest) ReplaceSwapsHashAndNameAtomically() {
	n := makeNode(node.RootInodeID, 2, "a.txt")
	h1 := cfcrypto.Hash([]byte("v1"))
	AssertEq(nil, t.c.Install(2, h1, n))

	renamed := makeNode(node.RootInodeID, 2, "b.txt")
	h2 := cfcrypto.Hash([]byte("v2"))
	AssertEq(nil, t.c.Replace(2, h2, renamed))

	_, ok := t.c.LookupHash(h1)
	ExpectFalse(ok)
	_, ok = t.c.LookupName(node.RootInodeID, "a.txt")
	ExpectFalse(ok)

	ino, ok := t.c.LookupHash(h2)
	AssertTrue(ok)
	ExpectEq(node.InodeID(2), ino)

	ino, ok = t.c.LookupName(node.RootInodeID, "b.txt")
	AssertTrue(ok)
	ExpectEq(node.InodeID(2), ino)

	AssertEq(nil, t.c.CheckInvariants())
}

func (t *TriCacheTest) ReplaceRejectsUnknownInode() {
	n := makeNode(node.RootInodeID, 2, "a.txt")
	err := t.c.Replace(2, cfcrypto.Hash([]byte("x")), n)
	ExpectNe(nil, err)
}

func (t *TriCacheTest) EvictRemovesFromAllIndexes() {
	n := makeNode(node.RootInodeID, 2, "a.txt")
	h := cfcrypto.Hash([]byte("a"))
	AssertEq(nil, t.c.Install(2, h, n))

	t.c.Evict(2)

	_, _, ok := t.c.Lookup(2)
	ExpectFalse(ok)
	_, ok = t.c.LookupHash(h)
	ExpectFalse(ok)
	_, ok = t.c.LookupName(node.RootInodeID, "a.txt")
	ExpectFalse(ok)

	AssertEq(nil, t.c.CheckInvariants())
}

func (t *TriCacheTest) EvictOfUnknownInodeIsANoOp() {
	t.c.Evict(999)
	AssertEq(nil, t.c.CheckInvariants())
}

func (t *TriCacheTest) InvariantsHoldAcrossMultipleSiblings() {
	for i := 0; i < 5; i++ {
		ino := node.InodeID(2 + i)
		n := makeNode(node.RootInodeID, ino, string(rune('a'+i)))
		h := cfcrypto.Hash([]byte{byte(i)})
		AssertEq(nil, t.c.Install(ino, h, n))
	}
	AssertEq(nil, t.c.CheckInvariants())
}
