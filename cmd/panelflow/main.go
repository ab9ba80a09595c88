package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "panelflow",
	Short: "Streaming panel document server",
	Long:  "panelflow serves declarative panel documents over persistent connections, streaming sections chunk by chunk and pausing at forms until someone answers.",
}

func main() {
	// .env is gitignored; it never overrides real environment variables.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default panelflow.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("panelflow %s (%s)\n", version, commit)
		},
	})
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "panelflow",
	})
	switch level {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}
