package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"torbridge/pkg/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long: `Manage torbridge configurations including creating templates and validating
existing configuration files.`,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a sample configuration file",
	Long:  `Generate a sample configuration file with all supported settings filled in.`,
	Run:   generateConfig,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the syntax and content of a configuration file.`,
	Run:   validateConfig,
}

var generateFlags struct {
	output string
	format string
}

var validateFlags struct {
	configPath string
}

func generateConfig(cmd *cobra.Command, args []string) {
	sample := config.Sample()

	var data []byte
	var err error
	switch generateFlags.format {
	case "json":
		data, err = json.MarshalIndent(sample, "", "  ")
	case "yaml":
		data, err = yaml.Marshal(sample)
	default:
		fmt.Printf("✗ Unsupported format '%s', must be 'json' or 'yaml'\n", generateFlags.format)
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("✗ Error generating config: %v\n", err)
		os.Exit(1)
	}

	if generateFlags.output == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(generateFlags.output, data, 0o644); err != nil {
		fmt.Printf("✗ Error writing config file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Sample configuration written to %s\n", generateFlags.output)
}

func validateConfig(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(validateFlags.configPath)
	if err != nil {
		fmt.Printf("✗ Configuration invalid: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ Configuration is valid")
	fmt.Printf("  SOCKS port:        %d\n", cfg.SocksPort)
	fmt.Printf("  Data directory:    %s\n", cfg.DataDir)
	fmt.Printf("  Transport:         %s\n", cfg.Transport)
	fmt.Printf("  Bootstrap timeout: %d ms\n", cfg.BootstrapTimeoutMS)
	if hs := cfg.HiddenService; hs != nil {
		fmt.Printf("  Hidden service:    port %d → 127.0.0.1:%d\n", hs.VirtualPort, hs.TargetPort)
		if hs.KeyFile != "" {
			fmt.Printf("  Key file:          %s\n", hs.KeyFile)
		}
	}
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(generateCmd)
	configCmd.AddCommand(validateCmd)

	generateCmd.Flags().StringVarP(&generateFlags.output, "output", "o", "", "output file (default: stdout)")
	generateCmd.Flags().StringVarP(&generateFlags.format, "format", "f", "json", "output format: 'json' or 'yaml'")

	validateCmd.Flags().StringVarP(&validateFlags.configPath, "config", "c", "bridge.json", "configuration file to validate")
}
