// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for loom-cli.

To load completions:

Bash:
  $ source <(loom-cli completion bash)
  # To load completions for each session, execute once:
  # Linux:
  $ loom-cli completion bash > /etc/bash_completion.d/loom-cli
  # macOS:
  $ loom-cli completion bash > $(brew --prefix)/etc/bash_completion.d/loom-cli

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc
  # To load completions for each session, execute once:
  $ loom-cli completion zsh > "${fpath[1]}/_loom-cli"
  # You will need to start a new shell for this setup to take effect.

Fish:
  $ loom-cli completion fish | source
  # To load completions for each session, execute once:
  $ loom-cli completion fish > ~/.config/fish/completions/loom-cli.fish

PowerShell:
  PS> loom-cli completion powershell | Out-String | Invoke-Expression
  # To load completions for every new session, run:
  PS> loom-cli completion powershell > loom-cli.ps1
  # and source this file from your PowerShell profile.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}
