package main

import (
	"github.com/spf13/cobra"

	"github.com/storyforge/storyforge/version"
)

var (
	cfgFile string
	homeDir string
)

var rootCmd = &cobra.Command{
	Use:   "storyforge",
	Short: "Illustrated children's book generator",
	Long: `Storyforge generates complete illustrated children's books from a short
story idea: an age range, a cast of characters, and a prompt.

The pipeline includes:
  - LLM-written, schema-validated page-by-page narrative
  - Character and style reference images for visual consistency
  - Concurrent cover and page illustration rendering
  - A browsable library of finished books`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.storyforge/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "storyforge home directory (default: ~/.storyforge)",
	)

	rootCmd.AddCommand(versionCmd)
}
