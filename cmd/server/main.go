package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CeliaPro/ysm2-sub000/internal/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "docdiff",
	Short: "Chunk-level document versioning and comparison service",
	Long: `docdiff ingests versions of text documents into a deduplicated,
content-addressed chunk store and compares any two versions chunk by chunk.

Running without a subcommand starts the HTTP API.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Load configuration
		config.LoadConfig()

		// Setup logging
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		if config.AppConfig.LogLevel == "DEBUG" {
			log.Println("Service starting in DEBUG mode")
		}
	},
	RunE: runServe,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}
