package objectstore_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jacobsa/cryptofs/cferrors"
)

// fakeTransport is an in-memory stand-in for the real HTTP server,
// grounded on the style of fake transports used throughout the
// jacobsa-fuse sample filesystems (memfs_test's in-process state):
// a mutex-guarded map keyed by path, with canned errors injectable per
// path so tests can exercise the TransportError path deterministically.
type fakeTransport struct {
	mu sync.Mutex

	// nodes maps "/node/{hash}" to its raw JSON body.
	nodes map[string][]byte
	// children maps "/node/{hash}/children" to its raw JSON body.
	children map[string][]byte
	// payloads maps "/node/{hash}/data" to its raw JSON body.
	payloads map[string][]byte

	// failPaths, when set for a path, makes every Do against that path
	// fail with the given status instead of succeeding.
	failPaths map[string]int

	// inserted and roots record POST bodies for assertion in tests.
	inserted []json.RawMessage
	roots    []json.RawMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		nodes:     map[string][]byte{},
		children:  map[string][]byte{},
		payloads:  map[string][]byte{},
		failPaths: map[string]int{},
	}
}

func (f *fakeTransport) Do(ctx context.Context, method, path string, body, dest interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if status, ok := f.failPaths[path]; ok {
		return &cferrors.TransportError{Status: status, URL: path}
	}

	switch method {
	case "GET":
		var raw []byte
		var ok bool
		switch {
		case len(path) > len("/children") && path[len(path)-len("/children"):] == "/children":
			raw, ok = f.children[path]
		case len(path) > len("/data") && path[len(path)-len("/data"):] == "/data":
			raw, ok = f.payloads[path]
		default:
			raw, ok = f.nodes[path]
		}
		if !ok {
			return &cferrors.TransportError{Status: 404, URL: path}
		}
		if dest != nil {
			return json.Unmarshal(raw, dest)
		}
		return nil

	case "POST":
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		if path == "/root" {
			f.roots = append(f.roots, b)
		} else {
			f.inserted = append(f.inserted, b)
		}
		// PutNode/PutRoot never read a response body: the hash is the
		// caller's to assign, not the server's (see DESIGN.md), so there is
		// nothing to decode into dest here.
		return nil

	case "PUT":
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		f.payloads[path] = b
		return nil

	case "DELETE":
		delete(f.nodes, path)
		return nil
	}

	return fmt.Errorf("fakeTransport: unsupported method %q", method)
}

func (f *fakeTransport) putNode(path string, v interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := json.Marshal(v)
	f.nodes[path] = b
}

func (f *fakeTransport) putChildren(path string, hashes []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := json.Marshal(hashes)
	f.children[path] = b
}

func (f *fakeTransport) putPayload(path string, v interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := json.Marshal(v)
	f.payloads[path] = b
}
