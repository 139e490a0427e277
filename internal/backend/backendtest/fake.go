// Package backendtest provides an in-memory Backend for exercising the
// switcher, applier, and monitor without touching OS network state.
package backendtest

import (
	"context"
	"sync"

	"github.com/HerbHall/wifiwarden/internal/backend"
	"github.com/HerbHall/wifiwarden/internal/store"
)

// Compile-time interface guard.
var _ backend.Backend = (*Fake)(nil)

// Fake is a scriptable Backend. Zero value behaves as an idle, functional
// backend; set the Err fields to inject failures.
type Fake struct {
	mu sync.Mutex

	// Injected failures.
	StartAPErr     error
	StartClientErr error
	WiredErr       error

	// Scripted client association outcome after StartClient.
	AssociateOnStart bool

	// Observable state.
	APRunning     bool
	ClientRunning bool
	Client        backend.ClientState
	WiredMode     string   // "", "dhcp", "static"
	WiredAddrs    []string

	// Call log, e.g. "StartAccessPoint", "StopClient".
	Calls []string

	lastCreds *store.Credentials
}

// New returns an idle Fake.
func New() *Fake {
	return &Fake{}
}

// NewAssociating returns a Fake whose client mode associates immediately.
func NewAssociating() *Fake {
	return &Fake{AssociateOnStart: true}
}

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
}

// CallCount returns how many times the named method was invoked.
func (f *Fake) CallCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == call {
			n++
		}
	}
	return n
}

// LastCredentials returns the credentials passed to the most recent
// StartClient call, or nil.
func (f *Fake) LastCredentials() *store.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCreds
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) StartAccessPoint(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StartAccessPoint")
	if f.StartAPErr != nil {
		return f.StartAPErr
	}
	f.APRunning = true
	return nil
}

func (f *Fake) StopAccessPoint(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StopAccessPoint")
	f.APRunning = false
	return nil
}

func (f *Fake) AccessPointRunning(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.APRunning, nil
}

func (f *Fake) StartClient(ctx context.Context, creds store.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StartClient")
	if f.StartClientErr != nil {
		return f.StartClientErr
	}
	c := creds
	f.lastCreds = &c
	f.ClientRunning = true
	if f.AssociateOnStart {
		f.Client = backend.ClientState{Associated: true, SSID: creds.SSID}
	}
	return nil
}

func (f *Fake) StopClient(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StopClient")
	f.ClientRunning = false
	f.Client = backend.ClientState{}
	return nil
}

func (f *Fake) ClientState(ctx context.Context) (backend.ClientState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Client, nil
}

func (f *Fake) ConfigureWiredDHCP(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ConfigureWiredDHCP")
	if f.WiredErr != nil {
		return f.WiredErr
	}
	f.WiredMode = "dhcp"
	return nil
}

func (f *Fake) ConfigureWiredStatic(ctx context.Context, addrs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ConfigureWiredStatic")
	if f.WiredErr != nil {
		return f.WiredErr
	}
	f.WiredMode = "static"
	f.WiredAddrs = addrs
	return nil
}
