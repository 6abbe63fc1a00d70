// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

// Package cmd implements CLI commands for loom-cli.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loganrossus/loom/cmd/loom-cli/client"
	"github.com/loganrossus/loom/cmd/loom-cli/output"
	"github.com/loganrossus/loom/pkg/version"
)

var (
	// Global flags
	serverURL  string
	clientID   string
	token      string
	timeout    int
	jsonOutput bool

	// Formatter for output
	formatter output.Formatter
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "loom-cli",
	Short: "CLI for interacting with a Loom fabric",
	Long: `loom-cli is a command-line tool for talking to a Loom coordination fabric.

It provides commands to:
  - View node and cluster status
  - List cluster members
  - List configured providers and their models
  - Chat with the AI pipeline, optionally streaming
  - Broadcast tasks through the cluster leader

Use --server to specify the fabric endpoint (default: ws://localhost:9600/fabric).
Authentication uses --client-id and --token, or the LOOM_CLIENT_ID and
LOOM_TOKEN environment variables.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		formatter = output.GetFormatter(jsonOutput)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", getEnvOrDefault("LOOM_SERVER", "ws://localhost:9600/fabric"), "fabric websocket endpoint")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", getEnvOrDefault("LOOM_CLIENT_ID", "loom-cli"), "client identifier for registration")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("LOOM_TOKEN"), "authentication token")
	rootCmd.PersistentFlags().IntVar(&timeout, "timeout", 10, "request timeout in seconds")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(broadcastCmd)
	rootCmd.AddCommand(completionCmd)

	// Version template
	rootCmd.SetVersionTemplate(fmt.Sprintf("loom-cli version %s\n", version.Version))
}

// connect dials and registers using the global flags.
func connect() (*client.Client, error) {
	return client.Connect(client.Config{
		ServerURL: serverURL,
		ClientID:  clientID,
		Token:     token,
		Timeout:   time.Duration(timeout) * time.Second,
	})
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
