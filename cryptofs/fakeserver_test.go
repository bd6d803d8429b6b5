package cryptofs_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jacobsa/cryptofs/cferrors"
)

// fakeServer is a minimal in-memory stand-in for the real object store
// server (§6): content-addressed, keyed by whatever hash the caller
// names in its request body. It is deliberately dumb — it never
// computes a hash itself, exactly the property that motivated adding
// an explicit "hash" field to the wire bodies of POST /insert and
// POST /root (see DESIGN.md).
type fakeServer struct {
	mu sync.Mutex

	nodes    map[string]nodeRecord
	children map[string][]string
	payloads map[string][]byte
}

type nodeRecord struct {
	Metadata   string
	ParentHash string
	HasParent  bool
	IsDir      bool
	DataHash   string
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		nodes:    map[string]nodeRecord{},
		children: map[string][]string{},
		payloads: map[string][]byte{},
	}
}

func (s *fakeServer) Do(ctx context.Context, method, path string, body, dest interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case method == "POST" && path == "/root":
		var req struct {
			Hash     string `json:"hash"`
			Username string `json:"username"`
			Metadata string `json:"metadata"`
		}
		if err := remarshal(body, &req); err != nil {
			return err
		}
		s.nodes[req.Hash] = nodeRecord{Metadata: req.Metadata, IsDir: true}
		return nil

	case method == "POST" && path == "/insert":
		var req struct {
			Hash          string `json:"hash"`
			ParentHash    string `json:"parent_hash"`
			Type          string `json:"type"`
			Metadata      string `json:"metadata"`
			ContentHash   string `json:"content_hash,omitempty"`
			ContentLength int    `json:"content_length,omitempty"`
		}
		if err := remarshal(body, &req); err != nil {
			return err
		}
		s.nodes[req.Hash] = nodeRecord{
			Metadata:   req.Metadata,
			ParentHash: req.ParentHash,
			HasParent:  true,
			IsDir:      req.Type == "directory",
			DataHash:   req.ContentHash,
		}
		s.children[req.ParentHash] = append(s.children[req.ParentHash], req.Hash)
		return nil

	case method == "GET" && isChildrenPath(path):
		hash := hashFromPath(path, "/children")
		hexes := s.children[hash]
		if hexes == nil {
			hexes = []string{}
		}
		return remarshalInto(hexes, dest)

	case method == "GET" && isDataPath(path):
		hash := hashFromPath(path, "/data")
		data, ok := s.payloads[hash]
		if !ok {
			return &cferrors.TransportError{Status: 404, URL: path}
		}
		resp := map[string]string{"data": base64.StdEncoding.EncodeToString(data)}
		return remarshalInto(resp, dest)

	case method == "PUT" && isDataPath(path):
		var req struct {
			Data string `json:"data"`
		}
		if err := remarshal(body, &req); err != nil {
			return err
		}
		raw, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			return err
		}
		s.payloads[hashFromPath(path, "/data")] = raw
		return nil

	case method == "GET":
		hash := hashFromPath(path, "")
		rec, ok := s.nodes[hash]
		if !ok {
			return &cferrors.TransportError{Status: 404, URL: path}
		}
		resp := map[string]interface{}{
			"hash":          hash,
			"metadata":      rec.Metadata,
			"metadata_hash": hash,
			"data_hash":     rec.DataHash,
			"parent_hash":   rec.ParentHash,
			"is_dir":        rec.IsDir,
		}
		if !rec.HasParent {
			delete(resp, "parent_hash")
		}
		return remarshalInto(resp, dest)

	case method == "DELETE":
		hash := hashFromPath(path, "")
		delete(s.nodes, hash)
		delete(s.children, hash)
		delete(s.payloads, hash)
		return nil
	}

	return fmt.Errorf("fakeServer: unsupported %s %s", method, path)
}

// tamperAllPayloads flips the last byte of every stored payload,
// simulating a compromised or buggy server mutating ciphertext at
// rest. The hash a payload is keyed under is left untouched, so a
// later fetch under that same hash returns corrupted bytes — exactly
// the case the content-hash comparison in the verify package exists
// to catch.
func (s *fakeServer) tamperAllPayloads() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, data := range s.payloads {
		if len(data) == 0 {
			continue
		}
		tampered := make([]byte, len(data))
		copy(tampered, data)
		tampered[len(tampered)-1] ^= 0xFF
		s.payloads[hash] = tampered
	}
}

func isChildrenPath(p string) bool {
	return len(p) > len("/children") && p[len(p)-len("/children"):] == "/children"
}

func isDataPath(p string) bool {
	return len(p) > len("/data") && p[len(p)-len("/data"):] == "/data"
}

// hashFromPath extracts the hash component of "/node/{hash}" or
// "/node/{hash}{suffix}".
func hashFromPath(p, suffix string) string {
	p = p[len("/node/"):]
	if suffix != "" {
		p = p[:len(p)-len(suffix)]
	}
	return p
}

func remarshal(body, dest interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}

func remarshalInto(v, dest interface{}) error {
	if dest == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}
