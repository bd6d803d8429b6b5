// Command cryptofs mounts a content-addressed, encrypted object store as
// a FUSE filesystem, in the same calling convention as jacobsa-fuse's
// samples/mount_memfs: parse flags, build the filesystem, call
// fuse.Mount, wait for unmount.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/jacobsa/cryptofs/cfconfig"
	"github.com/jacobsa/cryptofs/cfcrypto"
	"github.com/jacobsa/cryptofs/cryptofs"
	"github.com/jacobsa/cryptofs/objectstore"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
)

func main() {
	opts := cfconfig.DefineFlags()
	flag.Parse()

	if err := opts.Validate(); err != nil {
		log.Fatal(err)
	}
	if len(flag.Args()) < 1 {
		log.Fatal("usage: cryptofs [flags] MOUNT-POINT")
	}
	mountPoint := flag.Arg(0)

	key, err := cfconfig.ReadKey(opts.KeyFile)
	if err != nil {
		log.Fatal(err)
	}

	var existingRoot cfcrypto.Digest
	if opts.ExistingRoot != "" {
		existingRoot, err = cfcrypto.ParseDigest(opts.ExistingRoot)
		if err != nil {
			log.Fatalf("parsing -cryptofs.root: %v", err)
		}
	}

	transport, err := objectstore.NewHTTPTransport(objectstore.HTTPOptions{
		Address:      opts.Address,
		SustainedQPS: opts.SustainedQPS,
		BurstQPS:     opts.BurstQPS,
		UserAgent:    "cryptofs",
	})
	if err != nil {
		log.Fatalf("NewHTTPTransport: %v", err)
	}
	rpc := objectstore.New(objectstore.Retrying{Transport: transport})

	handler := cryptofs.New(rpc, key, opts.Username, timeutil.RealClock(), existingRoot)
	server := fuseutil.NewFileSystemServer(handler)

	cfg := &fuse.MountConfig{
		// Disable writeback caching so pid/uid/gid are always available
		// in the op context, matching jacobsa-fuse's own mount samples.
		DisableWritebackCaching: true,
	}

	mfs, err := fuse.Mount(mountPoint, server, cfg)
	if err != nil {
		log.Fatalf("Mount: %v", err)
	}

	log.Printf("cryptofs mounted at %s for user %q", mountPoint, opts.Username)

	if err := mfs.Join(context.Background()); err != nil {
		log.Fatalf("Join: %v", err)
	}
}
