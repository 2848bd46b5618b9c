// Package bridge holds the one piece of shared mutable state in the
// repository: the slot containing the active tor service handle. Every
// lifecycle operation (initialize, hidden-service create/delete, status,
// shutdown) runs under the slot's lock for its full duration, so no two of
// them ever observe a half-changed handle. The data path only touches the
// slot to read the current SOCKS endpoint.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"torbridge/pkg/tor"
)

// Status classifies the service for pollers. The numeric values are part of
// the boundary contract.
type Status int

const (
	// StatusInProgress means a service exists but is still bootstrapping.
	StatusInProgress Status = 0

	// StatusReady means the service can route traffic.
	StatusReady Status = 1

	// StatusUnavailable means no service exists, or it cannot be queried.
	StatusUnavailable Status = 2
)

// String returns the status name for logs.
func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "in-progress"
	case StatusReady:
		return "ready"
	case StatusUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var (
	// ErrNoService is returned by operations that need an active service
	// when the slot is empty.
	ErrNoService = errors.New("no active tor service")

	// ErrAlreadyInitialized is returned by Initialize when the slot is
	// occupied; replacing a live service implicitly is never allowed.
	ErrAlreadyInitialized = errors.New("tor service already initialized")
)

// Starter launches the underlying service. The default is the tor.Process
// launcher; tests substitute fakes.
type Starter func(cfg tor.StartConfig, logger *slog.Logger) (tor.Service, error)

// HiddenServiceRecord is what a successful publish yields: the full onion
// address and the service's control-channel endpoint. The bridge retains no
// copy; deletion is keyed by the address and delegated downward.
type HiddenServiceRecord struct {
	OnionAddress string
	Control      string
}

// Bridge is the service state holder. The zero value is not usable; call
// New. A Bridge is constructed once by the hosting application and threaded
// through every entry point.
type Bridge struct {
	mu     sync.Mutex
	svc    tor.Service
	start  Starter
	logger *slog.Logger
}

// New constructs an empty bridge. A nil starter means launching real tor
// processes; a nil logger means slog.Default().
func New(start Starter, logger *slog.Logger) *Bridge {
	if start == nil {
		start = func(cfg tor.StartConfig, logger *slog.Logger) (tor.Service, error) {
			return tor.Start(cfg, logger)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{start: start, logger: logger}
}

// Initialize starts the underlying service and stores its handle, blocking
// until bootstrap completes or the configured timeout elapses. It fails with
// ErrAlreadyInitialized when a handle is already present.
func (b *Bridge) Initialize(cfg tor.StartConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.svc != nil {
		return ErrAlreadyInitialized
	}

	svc, err := b.start(cfg, b.logger)
	if err != nil {
		return fmt.Errorf("start tor service: %w", err)
	}
	b.svc = svc
	b.logger.Info("tor service initialized", "socks_port", svc.SocksPort(), "control", svc.ControlAddress())
	return nil
}

// Status projects the current slot contents into a tri-state answer. It
// never mutates the slot: repeated calls without intervening lifecycle
// operations always observe the same handle.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.svc == nil {
		return StatusUnavailable
	}
	phase, err := b.svc.Status()
	if err != nil {
		return StatusUnavailable
	}
	if phase.Done() {
		return StatusReady
	}
	return StatusInProgress
}

// CreateHiddenService publishes a hidden service through the active handle.
func (b *Bridge) CreateHiddenService(params tor.HiddenServiceParams) (HiddenServiceRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.svc == nil {
		return HiddenServiceRecord{}, ErrNoService
	}
	hs, err := b.svc.CreateHiddenService(params)
	if err != nil {
		return HiddenServiceRecord{}, fmt.Errorf("create hidden service: %w", err)
	}
	return HiddenServiceRecord{
		OnionAddress: hs.OnionID + ".onion",
		Control:      b.svc.ControlAddress(),
	}, nil
}

// DeleteHiddenService removes a published hidden service by address; both
// the bare onion identifier and the full ".onion" form are accepted.
func (b *Bridge) DeleteHiddenService(address string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.svc == nil {
		return ErrNoService
	}
	id, _ := strings.CutSuffix(address, ".onion")
	return b.svc.DeleteHiddenService(id)
}

// Shutdown removes the handle from the slot and tears it down. The slot is
// empty afterwards regardless of the underlying shutdown's outcome, so a
// later Initialize always starts from a clean state.
func (b *Bridge) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.svc == nil {
		return ErrNoService
	}
	svc := b.svc
	b.svc = nil
	b.logger.Info("tor service shutting down")
	return svc.Shutdown()
}

// SocksProxyAddr returns the active service's local SOCKS endpoint. This is
// the only slot access the HTTP data path performs.
func (b *Bridge) SocksProxyAddr() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.svc == nil {
		return "", ErrNoService
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(int(b.svc.SocksPort()))), nil
}

// EnsureStarted is the composite "ensure ready, then publish" operation: it
// initializes only when Status reports Unavailable (a bootstrapping service
// is optimistically left alone), then attempts the hidden-service publish
// regardless. The create call, not the status check, is the real gate; its
// failure surfaces as an ordinary create failure.
func (b *Bridge) EnsureStarted(cfg tor.StartConfig, params tor.HiddenServiceParams) (HiddenServiceRecord, error) {
	if b.Status() == StatusUnavailable {
		b.logger.Debug("service unavailable, initializing before publish")
		if err := b.Initialize(cfg); err != nil {
			return HiddenServiceRecord{}, err
		}
	} else {
		b.logger.Debug("service already present, skipping initialization")
	}
	return b.CreateHiddenService(params)
}
