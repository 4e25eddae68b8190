package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"sync"
)

// MemoryNetwork is an in-process object network shared by any number of
// nodes. Content stays reachable while at least one node pins it.
type MemoryNetwork struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	pins  map[string]map[string]struct{} // cid -> node ids
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		blobs: make(map[string][]byte),
		pins:  make(map[string]map[string]struct{}),
	}
}

// Node returns the backend of one participant.
func (n *MemoryNetwork) Node(id string) *MemoryBackend {
	return &MemoryBackend{net: n, node: id}
}

// Len returns the number of stored objects.
func (n *MemoryNetwork) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.blobs)
}

type MemoryBackend struct {
	net  *MemoryNetwork
	node string
}

func (m *MemoryBackend) Add(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	cid, err := rawCID(sum[:])
	if err != nil {
		return "", err
	}

	n := m.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.blobs[cid]; !ok {
		n.blobs[cid] = data
	}
	n.pin(cid, m.node)
	return cid, nil
}

func (n *MemoryNetwork) pin(cid, node string) {
	nodes := n.pins[cid]
	if nodes == nil {
		nodes = make(map[string]struct{})
		n.pins[cid] = nodes
	}
	nodes[node] = struct{}{}
}

func (m *MemoryBackend) Cat(ctx context.Context, cid string) (io.ReadCloser, error) {
	m.net.mu.RLock()
	data, ok := m.net.blobs[cid]
	m.net.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryBackend) Pin(ctx context.Context, cid string) error {
	n := m.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.blobs[cid]; !ok {
		return ErrNotFound
	}
	n.pin(cid, m.node)
	return nil
}

func (m *MemoryBackend) Unpin(ctx context.Context, cid string) error {
	n := m.net
	n.mu.Lock()
	defer n.mu.Unlock()
	nodes := n.pins[cid]
	if _, ok := nodes[m.node]; !ok {
		return ErrNotPinned
	}
	delete(nodes, m.node)
	if len(nodes) == 0 {
		delete(n.pins, cid)
		delete(n.blobs, cid)
	}
	return nil
}

func (m *MemoryBackend) Pinned(ctx context.Context, cid string) (bool, error) {
	m.net.mu.RLock()
	defer m.net.mu.RUnlock()
	_, ok := m.net.pins[cid][m.node]
	return ok, nil
}
