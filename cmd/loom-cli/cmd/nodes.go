// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List cluster members",
	Long:  `Display the gossip membership roster as seen by the connected node.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.Query("get_nodes", nil)
		if err != nil {
			return fmt.Errorf("failed to list nodes: %w", err)
		}

		if jsonOutput {
			return formatter.Print(result)
		}

		nodes, _ := result["nodes"].([]any)
		rows := make([][]string, 0, len(nodes))
		for _, n := range nodes {
			node, ok := n.(map[string]any)
			if !ok {
				continue
			}
			leader := ""
			if isLeader, _ := node["isLeader"].(bool); isLeader {
				leader = "leader"
			}
			rows = append(rows, []string{
				fmt.Sprintf("%v", node["id"]),
				fmt.Sprintf("%v:%v", node["address"], node["port"]),
				fmt.Sprintf("%v", node["state"]),
				fmt.Sprintf("%v", node["incarnation"]),
				leader,
			})
		}

		formatter.PrintTable([]string{"NODE ID", "ADDRESS", "STATE", "INCARNATION", "ROLE"}, rows)
		return nil
	},
}
