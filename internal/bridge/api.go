package bridge

import (
	"encoding/json"
	"log/slog"
	"time"

	"torbridge/pkg/tor"
	"torbridge/pkg/torhttp"
)

// API is the boundary layer: every operation is synchronous, takes and
// returns flat data only, and always yields a fully populated result value.
// A caller polling in a loop can never observe garbage, and no failure
// escapes as a panic or a raw error. It mirrors the shape a C-compatible
// host binding would expose, with string ownership left to the garbage
// collector.
type API struct {
	bridge *Bridge
	client *torhttp.Client
	logger *slog.Logger
}

// NewAPI wraps a bridge and an HTTP client. Nil client means a default
// manual-transport client; nil logger means slog.Default().
func NewAPI(b *Bridge, client *torhttp.Client, logger *slog.Logger) *API {
	if client == nil {
		client = &torhttp.Client{Logger: logger}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &API{bridge: b, client: client, logger: logger}
}

// HiddenServiceResult reports a hidden-service publish. On failure the
// address and control fields are empty strings, never absent.
type HiddenServiceResult struct {
	Success      bool
	OnionAddress string
	Control      string
}

// StartResult reports the composite start-and-publish operation.
type StartResult struct {
	Success      bool
	OnionAddress string
	Control      string
	Error        string
}

// InitService starts the tor service. False means the service was already
// initialized or failed to start; details go to the log, the boundary only
// carries the flag.
func (a *API) InitService(socksPort uint16, dataDir string, timeoutMS uint64) bool {
	err := a.bridge.Initialize(tor.StartConfig{
		SocksPort:        socksPort,
		DataDir:          dataDir,
		BootstrapTimeout: time.Duration(timeoutMS) * time.Millisecond,
	})
	if err != nil {
		a.logger.Error("init service failed", "err", err)
		return false
	}
	return true
}

// CreateHiddenService publishes a hidden service mapping virtualPort on the
// onion address to targetPort locally. The key is a 64-byte expanded
// ed25519 secret passed by value; hasKey distinguishes "no key" from an
// all-zero key.
func (a *API) CreateHiddenService(virtualPort, targetPort uint16, key [tor.HiddenServiceKeySize]byte, hasKey bool) HiddenServiceResult {
	rec, err := a.bridge.CreateHiddenService(tor.HiddenServiceParams{
		VirtualPort: virtualPort,
		TargetPort:  targetPort,
		Key:         key,
		HasKey:      hasKey,
	})
	if err != nil {
		a.logger.Error("create hidden service failed", "err", err)
		return HiddenServiceResult{}
	}
	return HiddenServiceResult{
		Success:      true,
		OnionAddress: rec.OnionAddress,
		Control:      rec.Control,
	}
}

// StartIfNotRunning initializes the service only when the status reports
// Unavailable, then publishes a hidden service either way. A bootstrapping
// service is optimistically treated as usable: the publish itself, not the
// status check, decides whether it actually was.
func (a *API) StartIfNotRunning(dataDir string, key [tor.HiddenServiceKeySize]byte, hasKey bool, socksPort, targetPort uint16, timeoutMS uint64) StartResult {
	if status := a.bridge.Status(); status == StatusUnavailable {
		a.logger.Debug("tor service needs initialization", "status", status)
		if !a.InitService(socksPort, dataDir, timeoutMS) {
			return StartResult{Error: "failed to initialize tor service"}
		}
	} else {
		a.logger.Debug("tor service already initialized", "status", status)
	}

	res := a.CreateHiddenService(socksPort, targetPort, key, hasKey)
	if !res.Success {
		return StartResult{Error: "failed to create hidden service"}
	}
	return StartResult{
		Success:      true,
		OnionAddress: res.OnionAddress,
		Control:      res.Control,
	}
}

// ServiceStatus returns the numeric tri-state status: 0 in progress,
// 1 ready, 2 unavailable.
func (a *API) ServiceStatus() int {
	return int(a.bridge.Status())
}

// DeleteHiddenService removes a hidden service by onion address.
func (a *API) DeleteHiddenService(address string) bool {
	if err := a.bridge.DeleteHiddenService(address); err != nil {
		a.logger.Error("delete hidden service failed", "address", address, "err", err)
		return false
	}
	return true
}

// ShutdownService tears down the service. The slot is empty afterwards even
// when the underlying shutdown reports failure.
func (a *API) ShutdownService() bool {
	if err := a.bridge.Shutdown(); err != nil {
		a.logger.Error("shutdown failed", "err", err)
		return false
	}
	return true
}

// Get performs an HTTP GET through the proxy. headersJSON is an optional
// JSON object of header name/value pairs; empty means none.
func (a *API) Get(url, headersJSON string, timeoutMS uint64) torhttp.Response {
	return a.do(torhttp.MethodGet, url, headersJSON, "", timeoutMS)
}

// Post performs an HTTP POST with the given body.
func (a *API) Post(url, body, headersJSON string, timeoutMS uint64) torhttp.Response {
	return a.do(torhttp.MethodPost, url, headersJSON, body, timeoutMS)
}

// Put performs an HTTP PUT with the given body.
func (a *API) Put(url, body, headersJSON string, timeoutMS uint64) torhttp.Response {
	return a.do(torhttp.MethodPut, url, headersJSON, body, timeoutMS)
}

// Delete performs an HTTP DELETE.
func (a *API) Delete(url, headersJSON string, timeoutMS uint64) torhttp.Response {
	return a.do(torhttp.MethodDelete, url, headersJSON, "", timeoutMS)
}

// Head performs an HTTP HEAD.
func (a *API) Head(url, headersJSON string, timeoutMS uint64) torhttp.Response {
	return a.do(torhttp.MethodHead, url, headersJSON, "", timeoutMS)
}

// Options performs an HTTP OPTIONS.
func (a *API) Options(url, headersJSON string, timeoutMS uint64) torhttp.Response {
	return a.do(torhttp.MethodOptions, url, headersJSON, "", timeoutMS)
}

// do resolves the SOCKS endpoint from the state holder and issues one
// request. Every failure mode comes back as a Response with status zero.
func (a *API) do(method, url, headersJSON, body string, timeoutMS uint64) torhttp.Response {
	headers, err := parseHeaders(headersJSON)
	if err != nil {
		return torhttp.Response{Error: "invalid headers JSON"}
	}

	proxyAddr, err := a.bridge.SocksProxyAddr()
	if err != nil {
		return torhttp.Response{Error: "tor service not running"}
	}

	resp := a.client.Do(&torhttp.Request{
		URL:     url,
		Method:  method,
		Headers: headers,
		Body:    body,
		Timeout: time.Duration(timeoutMS) * time.Millisecond,
	}, proxyAddr)
	return *resp
}

// parseHeaders decodes the boundary's headers-as-JSON convention. An empty
// string means no headers, not an error.
func parseHeaders(headersJSON string) (map[string]string, error) {
	if headersJSON == "" {
		return nil, nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
		return nil, err
	}
	return headers, nil
}
