// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var broadcastCmd = &cobra.Command{
	Use:   "broadcast <json-payload>",
	Short: "Broadcast a payload to all connected sessions via the leader",
	Long: `Submit a broadcast task to the cluster leader's task queue. The
payload must be a JSON object; it is delivered as a BROADCAST envelope
to every active session in the cluster.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload map[string]any
		if err := json.Unmarshal([]byte(args[0]), &payload); err != nil {
			return fmt.Errorf("payload must be a JSON object: %w", err)
		}

		c, err := connect()
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.Command("broadcast_task", map[string]any{"payload": payload})
		if err != nil {
			return fmt.Errorf("broadcast failed: %w", err)
		}

		if jsonOutput {
			return formatter.Print(result)
		}
		formatter.PrintMessage(fmt.Sprintf("Broadcast submitted (task %v)", result["taskId"]))
		return nil
	},
}
