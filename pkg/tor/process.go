package tor

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"torbridge/pkg/deadline"
)

// controlDialRetry is how often the launcher re-attempts the control port
// while the daemon is still coming up.
const controlDialRetry = 250 * time.Millisecond

// bootstrapPollInterval is how often bootstrap progress is sampled while
// waiting for the daemon to become routable.
const bootstrapPollInterval = 500 * time.Millisecond

// Process is a Service backed by a tor executable launched and owned by this
// bridge. The binary is "tor" on PATH, or whatever TOR_BINARY names.
type Process struct {
	cmd         *exec.Cmd
	control     *ControlConn
	socksPort   uint16
	controlAddr string
	logger      *slog.Logger
}

// Start launches a daemon and blocks until it has fully bootstrapped or the
// bootstrap timeout elapses. On timeout or any startup failure the process
// is killed before returning, so a failed Start leaves nothing behind.
func Start(cfg StartConfig, logger *slog.Logger) (*Process, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	// The control listener sits one port above the SOCKS listener.
	controlPort := cfg.SocksPort + 1
	controlAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(controlPort)))

	binary := os.Getenv("TOR_BINARY")
	if binary == "" {
		binary = "tor"
	}
	cmd := exec.Command(binary,
		"--SocksPort", strconv.Itoa(int(cfg.SocksPort)),
		"--ControlPort", strconv.Itoa(int(controlPort)),
		"--DataDirectory", cfg.DataDir,
		"--CookieAuthentication", "1",
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch tor: %w", err)
	}
	logger.Info("tor process launched",
		"pid", cmd.Process.Pid, "socks_port", cfg.SocksPort, "control", controlAddr)

	p := &Process{
		cmd:         cmd,
		socksPort:   cfg.SocksPort,
		controlAddr: controlAddr,
		logger:      logger,
	}

	clk := deadline.NewClock(cfg.bootstrapTimeout())
	if err := p.connectControl(clk); err != nil {
		p.kill()
		return nil, err
	}
	if err := p.awaitBootstrap(clk); err != nil {
		p.kill()
		return nil, err
	}
	logger.Info("tor bootstrap complete", "socks_port", cfg.SocksPort)
	return p, nil
}

// connectControl retries the control port until it answers and accepts
// authentication, or the clock runs out.
func (p *Process) connectControl(clk deadline.Clock) error {
	var lastErr error
	for !clk.Expired() {
		conn, err := DialControl(p.controlAddr, controlDialRetry)
		if err == nil {
			if err = conn.Authenticate(); err == nil {
				p.control = conn
				return nil
			}
			conn.Close()
		}
		lastErr = err
		time.Sleep(controlDialRetry)
	}
	return fmt.Errorf("control port not reachable before bootstrap timeout: %w", lastErr)
}

// awaitBootstrap polls the bootstrap phase until it reports done.
func (p *Process) awaitBootstrap(clk deadline.Clock) error {
	for !clk.Expired() {
		phase, err := p.control.BootstrapPhase()
		if err != nil {
			return err
		}
		if phase.Done() {
			return nil
		}
		p.logger.Debug("bootstrapping", "progress", phase.Progress, "summary", phase.Summary)
		time.Sleep(bootstrapPollInterval)
	}
	return fmt.Errorf("bootstrap did not complete within timeout")
}

// kill forcibly stops the daemon, used only on failed startup.
func (p *Process) kill() {
	if p.control != nil {
		p.control.Close()
	}
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
		p.cmd.Wait()
	}
}

// Status samples bootstrap progress over the control channel.
func (p *Process) Status() (BootstrapPhase, error) {
	return p.control.BootstrapPhase()
}

// CreateHiddenService publishes a hidden service via ADD_ONION.
func (p *Process) CreateHiddenService(params HiddenServiceParams) (HiddenService, error) {
	id, err := p.control.AddOnion(params)
	if err != nil {
		return HiddenService{}, err
	}
	p.logger.Info("hidden service created",
		"onion_id", id, "virtual_port", params.VirtualPort, "target_port", params.TargetPort)
	return HiddenService{OnionID: id}, nil
}

// DeleteHiddenService removes a hidden service via DEL_ONION.
func (p *Process) DeleteHiddenService(onionID string) error {
	if err := p.control.DelOnion(onionID); err != nil {
		return err
	}
	p.logger.Info("hidden service deleted", "onion_id", onionID)
	return nil
}

// Shutdown asks the daemon to exit and waits for the process to go away,
// killing it if the polite route fails.
func (p *Process) Shutdown() error {
	signalErr := p.control.Signal("SHUTDOWN")
	p.control.Close()

	if signalErr != nil {
		p.logger.Warn("shutdown signal failed, killing process", "err", signalErr)
		p.cmd.Process.Kill()
		p.cmd.Wait()
		return signalErr
	}

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		p.logger.Warn("tor did not exit after SHUTDOWN, killing process")
		p.cmd.Process.Kill()
		<-done
	}
	p.logger.Info("tor process stopped")
	return nil
}

// SocksPort returns the local SOCKS5 listener port.
func (p *Process) SocksPort() uint16 {
	return p.socksPort
}

// ControlAddress returns the control endpoint in "host:port" form.
func (p *Process) ControlAddress() string {
	return p.controlAddr
}
