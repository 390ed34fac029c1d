// Package main provides fpctl, a command line client for the identification API.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"fpagent/internal/logger"
	"fpagent/internal/version"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	logger.Setup()
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fpctl",
		Short:         "Identify visitors and inspect the identification API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newGetCmd())
	root.AddCommand(newErrorsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("fpctl version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.Commit)
		},
	}
}
