package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/storyforge/storyforge/internal/book"
	"github.com/storyforge/storyforge/internal/bookstore"
	"github.com/storyforge/storyforge/internal/config"
	"github.com/storyforge/storyforge/internal/home"
)

var (
	generateAgeRange   string
	generateCharacters []string
	generatePrompt     string
	generatePages      int
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a single book from the command line",
	Long: `Run one full book generation without starting the server.

The finished manuscript is written to ~/.storyforge/exports/{id}.json.

Examples:
  storyforge generate --age-range 4-6 --character "Milo the fox" \
    --prompt "Milo learns to swim"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		req := book.GenerationRequest{
			AgeRange:        generateAgeRange,
			Characters:      generateCharacters,
			StoryPrompt:     generatePrompt,
			TargetPageCount: generatePages,
		}
		if err := req.Validate(); err != nil {
			return err
		}

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		cfgPath := cfgFile
		if cfgPath == "" && h.ConfigExists() {
			cfgPath = h.ConfigPath()
		}
		mgr, err := config.NewManager(cfgPath)
		if err != nil {
			return err
		}
		cfg := mgr.Get()

		databaseURL := config.ResolveEnvVars(cfg.Database.URL)
		if err := bookstore.Migrate(databaseURL, logger); err != nil {
			return err
		}
		store, err := bookstore.New(ctx, databaseURL, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		coordinator, err := buildPipeline(ctx, cfg, store, logger)
		if err != nil {
			return err
		}

		res, err := coordinator.Assemble(ctx, req)
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(res.Manuscript, "", "  ")
		if err != nil {
			return err
		}
		outPath := h.ExportPath(res.BookID)
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return err
		}

		fmt.Printf("Book %s complete: %s\n", res.BookID, res.Manuscript.Title)
		fmt.Printf("Manuscript written to %s\n", outPath)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateAgeRange, "age-range", "", "Target age range, e.g. 4-6")
	generateCmd.Flags().StringArrayVar(&generateCharacters, "character", nil, "Character name and description (repeatable)")
	generateCmd.Flags().StringVar(&generatePrompt, "prompt", "", "Story idea")
	generateCmd.Flags().IntVar(&generatePages, "pages", 0, "Target page count (0 lets the model decide)")

	rootCmd.AddCommand(generateCmd)
}
