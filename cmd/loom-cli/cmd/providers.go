// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured LLM providers",
	Long:  `Display the providers configured on the connected node, with priority and capabilities.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.Query("list_providers", nil)
		if err != nil {
			return fmt.Errorf("failed to list providers: %w", err)
		}

		if jsonOutput {
			return formatter.Print(result)
		}

		providers, _ := result["providers"].([]any)
		rows := make([][]string, 0, len(providers))
		for _, p := range providers {
			prov, ok := p.(map[string]any)
			if !ok {
				continue
			}
			status := "disabled"
			if enabled, _ := prov["enabled"].(bool); enabled {
				status = "enabled"
			}
			caps := make([]string, 0)
			if list, ok := prov["capabilities"].([]any); ok {
				for _, cap := range list {
					caps = append(caps, fmt.Sprintf("%v", cap))
				}
			}
			rows = append(rows, []string{
				fmt.Sprintf("%v", prov["id"]),
				status,
				fmt.Sprintf("%v", prov["priority"]),
				fmt.Sprintf("%v", prov["costTier"]),
				fmt.Sprintf("%v", prov["defaultModel"]),
				strings.Join(caps, ","),
			})
		}

		formatter.PrintTable([]string{"PROVIDER", "STATUS", "PRIORITY", "COST", "DEFAULT MODEL", "CAPABILITIES"}, rows)
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models by provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.Query("list_models", nil)
		if err != nil {
			return fmt.Errorf("failed to list models: %w", err)
		}

		if jsonOutput {
			return formatter.Print(result)
		}

		models, _ := result["models"].(map[string]any)
		var rows [][]string
		for provider, model := range models {
			rows = append(rows, []string{provider, fmt.Sprintf("%v", model)})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

		formatter.PrintTable([]string{"PROVIDER", "DEFAULT MODEL"}, rows)
		return nil
	},
}
