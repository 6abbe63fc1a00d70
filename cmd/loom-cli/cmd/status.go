// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loganrossus/loom/cmd/loom-cli/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show node and cluster status",
	Long:  `Display session, gossip, task queue, and leadership status of the connected node.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer c.Close()

		stats, err := c.Command("get_stats", nil)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		if jsonOutput {
			return formatter.Print(stats)
		}

		fmt.Printf("Loom Node Status (session %s)\n", c.SessionID())

		pairs := []output.KVPair{
			{Key: "Sessions", Value: fmt.Sprintf("%v", stats["sessions"])},
		}
		if isLeader, ok := stats["isLeader"].(bool); ok {
			role := "follower"
			if isLeader {
				role = "leader"
			}
			pairs = append(pairs,
				output.KVPair{Key: "Role", Value: role},
				output.KVPair{Key: "Term", Value: fmt.Sprintf("%v", stats["term"])},
			)
		}
		if gossip, ok := stats["gossip"].(map[string]any); ok {
			pairs = append(pairs, output.KVPair{Key: "Cluster", Value: fmt.Sprintf(
				"%v alive, %v suspect, %v dead",
				coalesceAny(gossip["nodesAlive"], 0), coalesceAny(gossip["nodesSuspect"], 0), coalesceAny(gossip["nodesDead"], 0))})
		}
		if tasks, ok := stats["tasks"].(map[string]any); ok {
			pairs = append(pairs, output.KVPair{Key: "Tasks", Value: fmt.Sprintf(
				"%v pending, %v completed, %v failed",
				coalesceAny(tasks["pending"], 0), coalesceAny(tasks["completed"], 0), coalesceAny(tasks["failed"], 0))})
		}

		formatter.PrintKeyValue(pairs)
		return nil
	},
}

// coalesceAny returns v unless it is nil.
func coalesceAny(v any, fallback any) any {
	if v == nil {
		return fallback
	}
	return v
}
