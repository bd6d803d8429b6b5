// Package cferrors defines the error taxonomy shared by every cryptofs
// package: a closed set of crypto/integrity/structural error kinds, each
// carrying enough context to diagnose it, plus a single place (ToErrno)
// that maps any of them down to the POSIX errno the kernel bridge
// expects.
package cferrors

import (
	"fmt"
	"syscall"

	"github.com/jacobsa/fuse"
)

// TransportError is returned by an objectstore.Transport when an RPC
// fails outright (network error) or returns a non-2xx status. The client
// retries once locally before surfacing this to callers.
type TransportError struct {
	Status int
	URL    string
	Cause  error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cryptofs: transport error for %s (status %d): %v", e.URL, e.Status, e.Cause)
	}
	return fmt.Sprintf("cryptofs: transport error for %s: status %d", e.URL, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// DecryptCorrupt is returned when a metadata block decrypts without a
// cipher error but fails to deserialize into a well-formed node.
type DecryptCorrupt struct {
	Cause error
}

func (e *DecryptCorrupt) Error() string {
	return fmt.Sprintf("cryptofs: decrypted metadata did not deserialize: %v", e.Cause)
}

func (e *DecryptCorrupt) Unwrap() error { return e.Cause }

// IntegrityViolation is returned when a node fetched from the store does
// not hash to the value it was requested under, or when a child listing
// contains a hash that does not match what readdir refresh expects.
type IntegrityViolation struct {
	// Hash is the hex-encoded digest the caller expected.
	Hash string
}

func (e *IntegrityViolation) Error() string {
	return fmt.Sprintf("cryptofs: integrity violation: node does not hash to %s", e.Hash)
}

// StructuralCorruption is returned when the propagation engine detects a
// cycle in the parent chain (parent inode equal to the node's own inode
// for a non-root node) or a parent that cannot be resolved at all.
type StructuralCorruption struct {
	Inode  uint64
	Reason string
}

func (e *StructuralCorruption) Error() string {
	return fmt.Sprintf("cryptofs: structural corruption at inode %d: %s", e.Inode, e.Reason)
}

// PartialPropagation is returned when hash propagation is aborted partway
// up the tree after a transport failure. The cache and server are left
// with the root hash mismatched; a fresh mount is required to recover.
type PartialPropagation struct {
	Inode uint64
	Cause error
}

func (e *PartialPropagation) Error() string {
	return fmt.Sprintf("cryptofs: propagation aborted at inode %d: %v", e.Inode, e.Cause)
}

func (e *PartialPropagation) Unwrap() error { return e.Cause }

// ToErrno maps a cryptofs error, or a plain POSIX errno already produced
// by a lower layer, to the error value the fuse package expects a
// fuseutil.FileSystem method to respond with. Crypto- and integrity-class
// errors are always surfaced as EIO: the kernel has no richer vocabulary
// for "the server lied to us".
func ToErrno(err error) error {
	if err == nil {
		return nil
	}

	switch err.(type) {
	case *TransportError, *DecryptCorrupt, *IntegrityViolation, *StructuralCorruption, *PartialPropagation:
		return fuse.EIO
	}

	switch err {
	case ErrNotFound:
		return fuse.ENOENT
	case ErrNotADirectory:
		return syscall.ENOTDIR
	case ErrInvalidOffset:
		return syscall.EINVAL
	case ErrExist:
		return syscall.EEXIST
	case ErrIsDirectory:
		return syscall.EISDIR
	}

	return err
}

// Sentinel POSIX-level errors produced directly by the handler, distinct
// from the crypto/integrity taxonomy above (§7).
var (
	ErrNotFound      = fmt.Errorf("cryptofs: no such entry")
	ErrNotADirectory = fmt.Errorf("cryptofs: not a directory")
	ErrInvalidOffset = fmt.Errorf("cryptofs: offset beyond end of file")
	ErrExist         = fmt.Errorf("cryptofs: entry already exists")
	ErrIsDirectory   = fmt.Errorf("cryptofs: is a directory")
)
