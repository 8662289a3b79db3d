package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "transfer_cavity_lock/docs"
)

var (
	configPath string
	logLevel   string
)

// NewRootCommand builds the tcl command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tcl",
		Short:         "Transfer cavity laser lock",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `tcl locks a laser to a reference laser through a scanning transfer cavity.

The serve command runs the lock loop against the configured hardware and exposes
it over HTTP and websocket. The fit command fits a single Lorentzian to a trace
stored as CSV.`,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default configs/config.yml)")
	cmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn, error (overrides config)")

	cmd.AddCommand(
		NewServeCommand(),
		NewFitCommand(),
	)
	return cmd
}

// @title                      Transfer Cavity Lock API
// @version                    1.0
// @description                Control and monitoring of a transfer cavity laser lock.
// @BasePath                   /
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
