package main

import (
	"github.com/spf13/cobra"
)

var (
	BUILD      = "development"
	debug      bool
	version    bool
	loggerMode string
)

var rootCmd = &cobra.Command{
	Use:          "vigil",
	Short:        "vigil image provisioning and audit tool",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debug, "x", "x", false, "logs at debug level")
	rootCmd.PersistentFlags().BoolVar(&version, "version", false, "print build version and exit")
	rootCmd.PersistentFlags().StringVar(&loggerMode, "logger-mode", "dev", "log format: dev or plain")

	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newRenderCmd())
	rootCmd.AddCommand(newAuditCmd())
}
