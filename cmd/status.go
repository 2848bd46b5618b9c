package cmd

import (
	"fmt"
	"log"
	"time"

	"torbridge/pkg/tor"

	"github.com/spf13/cobra"
)

var statusFlags struct {
	control string
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the bootstrap status of a running tor daemon",
	Long: `Connect to a tor daemon's control port and report its bootstrap phase.

The daemon must allow null or cookie authentication (daemons started by
'torbridge start' use cookie authentication).

Example usage:
  torbridge status --control 127.0.0.1:19051`,
	Run: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) {
	conn, err := tor.DialControl(statusFlags.control, 5*time.Second)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer conn.Close()

	if err := conn.Authenticate(); err != nil {
		log.Fatalf("Error authenticating: %v", err)
	}

	phase, err := conn.BootstrapPhase()
	if err != nil {
		log.Fatalf("Error querying bootstrap phase: %v", err)
	}

	if phase.Done() {
		fmt.Printf("✓ Ready (%d%%): %s\n", phase.Progress, phase.Summary)
	} else {
		fmt.Printf("→ Bootstrapping (%d%%): %s\n", phase.Progress, phase.Summary)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusFlags.control, "control", "127.0.0.1:9051", "tor control endpoint")
}
