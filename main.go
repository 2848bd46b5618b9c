// Package main provides the entry point for the torbridge tool.
//
// Torbridge manages a local tor daemon and routes HTTP traffic through its
// SOCKS5 proxy. It handles the full service lifecycle (startup, bootstrap
// polling, hidden-service publishing, shutdown) and provides a small HTTP
// client that tunnels requests through the proxy.
//
// Usage:
//
//	torbridge start --socks-port 19050 --data-dir ~/.torbridge
//	torbridge request http://example.com --proxy 127.0.0.1:19050
//	torbridge status --control 127.0.0.1:19051
//	torbridge config generate --format yaml
//
// For more information, run:
//
//	torbridge --help
package main

import "torbridge/cmd"

// main is the application entry point that delegates execution to the CLI command handler.
func main() {
	cmd.Execute()
}
