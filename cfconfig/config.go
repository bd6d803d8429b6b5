// Package cfconfig is the flag-driven configuration layer for cryptofs,
// in the same shape as google-slothfs's gitiles.DefineFlags: a package
// level Options struct populated by flag.*Var calls registered from a
// DefineFlags function, so main only needs to call flag.Parse once.
package cfconfig

import (
	"flag"
	"fmt"
	"os"
)

// Options holds everything cmd/cryptofs needs to bring up a mount:
// where the object store lives, which user to operate as, how hard to
// drive it, and where to find the encryption key.
type Options struct {
	// Address is the base URL of the object store server (§6).
	Address string

	// Username identifies the tree to mount; the server's root
	// endpoint is scoped per-user (§4.2's PutRoot).
	Username string

	// KeyFile is the path to a 32-byte raw key file. cryptofs never
	// derives keys from passwords; operators are expected to manage
	// key material themselves (§4.1's Non-goals).
	KeyFile string

	// SustainedQPS and BurstQPS bound the object-store HTTP client,
	// the same pair of fields as gitiles.Options.
	SustainedQPS float64
	BurstQPS     int

	// ExistingRoot, if non-empty, is the hex-encoded root hash to
	// resume a previously created tree from; empty means start fresh.
	ExistingRoot string
}

var defaultOptions Options

// DefineFlags registers the standard cryptofs command line flags and
// returns the Options they populate, mirroring
// gitiles.DefineFlags's signature and calling convention exactly.
func DefineFlags() *Options {
	flag.StringVar(&defaultOptions.Address, "cryptofs.server", "", "Set the URL of the object store server.")
	flag.StringVar(&defaultOptions.Username, "cryptofs.user", "", "Set the username whose tree to mount.")
	flag.StringVar(&defaultOptions.KeyFile, "cryptofs.keyfile", "", "Set the path to the 32-byte encryption key file.")
	flag.Float64Var(&defaultOptions.SustainedQPS, "cryptofs.qps", 50, "Set the maximum sustained QPS to the object store.")
	flag.IntVar(&defaultOptions.BurstQPS, "cryptofs.burst_qps", 0, "Set the maximum burst QPS to the object store (0 picks a default from -cryptofs.qps).")
	flag.StringVar(&defaultOptions.ExistingRoot, "cryptofs.root", "", "Set the hex-encoded root hash to resume from (empty starts a fresh tree).")
	return &defaultOptions
}

// Validate checks that the options required to mount are all present,
// returning a descriptive error naming the first one missing.
func (o *Options) Validate() error {
	if o.Address == "" {
		return fmt.Errorf("cfconfig: must set -cryptofs.server")
	}
	if o.Username == "" {
		return fmt.Errorf("cfconfig: must set -cryptofs.user")
	}
	if o.KeyFile == "" {
		return fmt.Errorf("cfconfig: must set -cryptofs.keyfile")
	}
	return nil
}

// ReadKey loads the 32-byte key stored in the file at path.
func ReadKey(path string) ([32]byte, error) {
	var key [32]byte

	b, err := os.ReadFile(path)
	if err != nil {
		return key, fmt.Errorf("cfconfig: reading key file: %v", err)
	}
	if len(b) != len(key) {
		return key, fmt.Errorf("cfconfig: key file %s must be exactly %d bytes, got %d", path, len(key), len(b))
	}

	copy(key[:], b)
	return key, nil
}
