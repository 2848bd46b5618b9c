// Package tor talks to a tor daemon: it launches the process, authenticates
// on the control port, tracks bootstrap progress, and publishes hidden
// services. The rest of the repository consumes it only through the Service
// interface, so tests can substitute a fake daemon.
package tor

import (
	"fmt"
	"time"
)

// BootstrapPhase is one sample of the daemon's bootstrap progress, as
// reported by "GETINFO status/bootstrap-phase".
type BootstrapPhase struct {
	// Progress is the bootstrap percentage, 0-100.
	Progress int

	// Summary is the daemon's human-readable description of the phase.
	Summary string
}

// Done reports whether bootstrap has completed and the daemon can route
// traffic.
func (p BootstrapPhase) Done() bool {
	return p.Progress >= 100
}

// HiddenServiceKeySize is the byte length of an expanded ed25519 secret key,
// the only long-term key format accepted for pinned hidden services.
const HiddenServiceKeySize = 64

// HiddenServiceParams describes one hidden service to publish: traffic to
// VirtualPort on the onion address is delivered to TargetPort locally.
type HiddenServiceParams struct {
	VirtualPort uint16
	TargetPort  uint16

	// Key pins the service to a long-term identity. It is passed by value;
	// HasKey distinguishes "all-zero key" from "no key supplied". Without a
	// key the daemon generates an ephemeral identity.
	Key    [HiddenServiceKeySize]byte
	HasKey bool
}

// HiddenService is the result of publishing: the bare onion identifier
// (without the ".onion" suffix) under which the service is reachable.
type HiddenService struct {
	OnionID string
}

// Service is the handle to a running tor daemon. At most one Service is
// active per bridge; the lifecycle layer enforces that.
type Service interface {
	// Status samples the current bootstrap phase.
	Status() (BootstrapPhase, error)

	// CreateHiddenService publishes a hidden service and returns its onion
	// identifier.
	CreateHiddenService(params HiddenServiceParams) (HiddenService, error)

	// DeleteHiddenService removes a previously published hidden service by
	// its onion identifier.
	DeleteHiddenService(onionID string) error

	// Shutdown stops the daemon and releases its resources.
	Shutdown() error

	// SocksPort is the local SOCKS5 listener port.
	SocksPort() uint16

	// ControlAddress is the control channel endpoint in "host:port" form.
	ControlAddress() string
}

// StartConfig carries everything needed to launch a daemon.
type StartConfig struct {
	// SocksPort is the local port the daemon listens on for SOCKS5.
	SocksPort uint16

	// DataDir is the daemon's writable state directory. Created if absent.
	DataDir string

	// BootstrapTimeout bounds the wait for the daemon to finish
	// bootstrapping. Zero means DefaultBootstrapTimeout.
	BootstrapTimeout time.Duration
}

// DefaultBootstrapTimeout is used when StartConfig leaves the bound unset.
const DefaultBootstrapTimeout = 45 * time.Second

func (c StartConfig) validate() error {
	if c.SocksPort == 0 {
		return fmt.Errorf("socks port is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	return nil
}

func (c StartConfig) bootstrapTimeout() time.Duration {
	if c.BootstrapTimeout > 0 {
		return c.BootstrapTimeout
	}
	return DefaultBootstrapTimeout
}
