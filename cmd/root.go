package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose   bool
	transport string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "torbridge",
	Short: "Route HTTP traffic and hidden services through a managed tor daemon",
	Long: `Torbridge manages the lifecycle of a local tor daemon and routes HTTP
requests through its SOCKS5 proxy.

It starts tor, waits out the bootstrap phase, publishes hidden services
(ephemeral or pinned to a long-term key), and exposes a small HTTP client
that tunnels every request through the proxy.

Two HTTP transports are available via the global --transport flag:
  manual   - hand-rolled HTTP/1.1 over a raw SOCKS5 tunnel (plain http only)
  proxied  - net/http with a SOCKS5 dialer (http and https)

Use 'torbridge [command] --help' for command-specific options and examples.`,
	Version: "v0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "manual", "HTTP transport: 'manual' or 'proxied'")

	// Disable built-in commands
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})
}

// GetTransport returns the global transport setting
func GetTransport() string {
	return transport
}

// newLogger builds the slog logger injected into the library packages.
// Verbose mode lowers the level to debug.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
