package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"torbridge/internal/bridge"
	"torbridge/pkg/config"
	"torbridge/pkg/tor"

	"github.com/spf13/cobra"
)

var startFlags struct {
	configPath  string
	socksPort   uint16
	dataDir     string
	timeoutMS   uint64
	virtualPort uint16
	targetPort  uint16
	keyFile     string
}

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tor service and optionally publish a hidden service",
	Long: `Start a tor daemon, wait for it to bootstrap, and keep it running until
interrupted.

When hidden-service flags (or a hiddenService config section) are present,
the service is published right after bootstrap. A key file pins the service
to a long-term identity; without one the daemon generates an ephemeral
address.

Example usage:
  # Start with explicit flags
  torbridge start --socks-port 19050 --data-dir ~/.torbridge

  # Start from a config file and publish a hidden service
  torbridge start --config bridge.json

  # Publish port 80 of the onion address to a local web server on 8080
  torbridge start --socks-port 19050 --data-dir ~/.torbridge \
      --hs-port 80 --hs-target 8080 --hs-key hs_ed25519_secret_key`,
	Run: runStart,
}

func runStart(cmd *cobra.Command, args []string) {
	if verbose {
		fmt.Println("[*] Running in verbose mode")
	}

	cfg := startConfig()
	logger := newLogger()

	b := bridge.New(nil, logger)
	api := bridge.NewAPI(b, nil, logger)

	fmt.Printf("[*] Starting tor service (socks port %d, data dir %s)\n", cfg.SocksPort, cfg.DataDir)
	if !api.InitService(cfg.SocksPort, cfg.DataDir, cfg.BootstrapTimeoutMS) {
		log.Fatal("Error: failed to start tor service")
	}
	fmt.Printf("✓ Tor bootstrapped, SOCKS5 proxy on 127.0.0.1:%d\n", cfg.SocksPort)

	var publishedAddr string
	if hs := cfg.HiddenService; hs != nil {
		key, hasKey := loadHiddenServiceKey(hs.KeyFile)
		res := api.CreateHiddenService(hs.VirtualPort, hs.TargetPort, key, hasKey)
		if !res.Success {
			api.ShutdownService()
			log.Fatal("Error: failed to create hidden service")
		}
		publishedAddr = res.OnionAddress
		fmt.Printf("✓ Hidden service published: %s (port %d → 127.0.0.1:%d)\n",
			res.OnionAddress, hs.VirtualPort, hs.TargetPort)
		fmt.Printf("[*] Control channel: %s\n", res.Control)
	}

	fmt.Println("[*] Press Ctrl+C to stop.")
	waitForShutdown()

	if publishedAddr != "" {
		api.DeleteHiddenService(publishedAddr)
	}
	if api.ShutdownService() {
		fmt.Println("✓ Tor service stopped.")
	} else {
		fmt.Println("✗ Tor service shutdown reported an error.")
	}
}

// startConfig merges the config file (when given) with command-line flags;
// flags win.
func startConfig() *config.Config {
	var cfg *config.Config
	if startFlags.configPath != "" {
		loaded, err := config.Load(startFlags.configPath)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}

	if startFlags.socksPort != 0 {
		cfg.SocksPort = startFlags.socksPort
	}
	if startFlags.dataDir != "" {
		cfg.DataDir = startFlags.dataDir
	}
	if startFlags.timeoutMS != 0 {
		cfg.BootstrapTimeoutMS = startFlags.timeoutMS
	}
	if startFlags.virtualPort != 0 || startFlags.targetPort != 0 {
		cfg.HiddenService = &config.HiddenServiceConfig{
			VirtualPort: startFlags.virtualPort,
			TargetPort:  startFlags.targetPort,
			KeyFile:     startFlags.keyFile,
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Error: %v", err)
	}
	return cfg
}

// loadHiddenServiceKey reads a 64-byte expanded ed25519 secret key from a
// file. An empty path means no key; the daemon will generate one.
func loadHiddenServiceKey(path string) ([tor.HiddenServiceKeySize]byte, bool) {
	var key [tor.HiddenServiceKeySize]byte
	if path == "" {
		return key, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Error reading key file: %v", err)
	}
	if len(data) != tor.HiddenServiceKeySize {
		log.Fatalf("Error: key file must contain exactly %d bytes, got %d", tor.HiddenServiceKeySize, len(data))
	}
	copy(key[:], data)
	return key, true
}

// waitForShutdown blocks until an interrupt or termination signal arrives.
func waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\n[*] Shutting down (interrupt signal received).")
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().StringVarP(&startFlags.configPath, "config", "c", "", "bridge configuration file (JSON or YAML)")
	startCmd.Flags().Uint16Var(&startFlags.socksPort, "socks-port", 0, "local SOCKS5 listener port")
	startCmd.Flags().StringVar(&startFlags.dataDir, "data-dir", "", "tor state directory")
	startCmd.Flags().Uint64VarP(&startFlags.timeoutMS, "timeout", "t", 0, "bootstrap timeout in milliseconds")

	startCmd.Flags().Uint16Var(&startFlags.virtualPort, "hs-port", 0, "hidden service virtual port (optional)")
	startCmd.Flags().Uint16Var(&startFlags.targetPort, "hs-target", 0, "local target port the hidden service forwards to")
	startCmd.Flags().StringVar(&startFlags.keyFile, "hs-key", "", "file with a 64-byte expanded ed25519 secret key (optional)")
}
