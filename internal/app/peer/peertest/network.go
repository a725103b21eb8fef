package peertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Board/internal/core"
)

// Network pairs transports created by its factories: whoever applies a
// remote description that another transport produced is connected to it.
type Network struct {
	mu    sync.Mutex
	bySDP map[string]*Transport
}

func NewNetwork() *Network {
	return &Network{bySDP: make(map[string]*Transport)}
}

func (n *Network) register(sdp string, t *Transport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bySDP[sdp] = t
}

func (n *Network) lookup(sdp string) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bySDP[sdp]
}

// Factory returns a PeerTransportFactory whose transports are named after
// owner and joined to n.
func (n *Network) Factory(owner string) *Factory {
	return &Factory{network: n, owner: owner}
}

type Factory struct {
	network *Network
	owner   string

	mu        sync.Mutex
	created   []*Transport
	createErr error
}

var _ core.PeerTransportFactory = (*Factory)(nil)

func (f *Factory) NewPeerTransport(context.Context) (core.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	t := NewTransport(fmt.Sprintf("%s#%d", f.owner, len(f.created)+1))
	t.network = f.network
	f.created = append(f.created, t)
	return t, nil
}

// Fail makes every following NewPeerTransport return err.
func (f *Factory) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

// Created lists every transport handed out so far.
func (f *Factory) Created() []*Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Transport(nil), f.created...)
}
