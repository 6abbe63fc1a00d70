// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loganrossus/loom/cmd/loom-cli/client"
	"github.com/loganrossus/loom/cmd/loom-cli/output"
)

var (
	chatStream   bool
	chatProvider string
	chatModel    string
	chatThinking bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Send a prompt through the AI pipeline",
	Long: `Send a prompt to the fabric's AI pipeline and print the response.

With --stream the response is printed chunk by chunk as the provider
produces it. Conversation context is kept server-side per client ID, so
consecutive invocations continue the same conversation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")

		c, err := connect()
		if err != nil {
			return err
		}
		defer c.Close()

		opts := map[string]any{}
		if chatProvider != "" {
			opts["provider"] = chatProvider
		}
		if chatModel != "" {
			opts["model"] = chatModel
		}
		if chatThinking {
			opts["thinking"] = true
		}

		if chatStream {
			return runStreamingChat(c, prompt, opts)
		}

		resp, err := c.Chat(prompt, opts)
		if err != nil {
			return fmt.Errorf("chat failed: %w", err)
		}

		if jsonOutput {
			return formatter.Print(resp)
		}

		if thinking, ok := resp["thinkingContent"].(string); ok && thinking != "" {
			fmt.Printf("[thinking]\n%s\n\n", thinking)
		}
		fmt.Println(resp["content"])

		pairs := []output.KVPair{
			{Key: "Provider", Value: fmt.Sprintf("%v", resp["provider"])},
			{Key: "Model", Value: fmt.Sprintf("%v", resp["model"])},
		}
		if usage, ok := resp["usage"].(map[string]any); ok {
			pairs = append(pairs, output.KVPair{Key: "Tokens", Value: fmt.Sprintf("%v", usage["totalTokens"])})
		}
		fmt.Println()
		formatter.PrintKeyValue(pairs)
		return nil
	},
}

// runStreamingChat prints chunks as they arrive.
func runStreamingChat(c *client.Client, prompt string, opts map[string]any) error {
	inThinking := false
	end, err := c.ChatStream(prompt, opts, func(payload map[string]any) {
		chunkType, _ := payload["type"].(string)
		switch chunkType {
		case "thinking":
			if !inThinking && !jsonOutput {
				fmt.Print("[thinking] ")
				inThinking = true
			}
			fmt.Print(payload["content"])
		case "content":
			if inThinking {
				fmt.Println()
				inThinking = false
			}
			fmt.Print(payload["content"])
		}
	})
	if err != nil {
		return fmt.Errorf("chat failed: %w", err)
	}
	fmt.Println()

	if jsonOutput {
		return formatter.Print(end)
	}
	fmt.Printf("\n  Provider:  %v\n  Model:     %v\n", end["provider"], end["model"])
	return nil
}

func init() {
	chatCmd.Flags().BoolVarP(&chatStream, "stream", "s", false, "stream the response chunk by chunk")
	chatCmd.Flags().StringVar(&chatProvider, "provider", "", "preferred provider")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "model override")
	chatCmd.Flags().BoolVar(&chatThinking, "thinking", false, "request extended thinking")
}
