package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/storyforge/storyforge/internal/assemble"
	"github.com/storyforge/storyforge/internal/bookstore"
	"github.com/storyforge/storyforge/internal/config"
	"github.com/storyforge/storyforge/internal/illustrate"
	"github.com/storyforge/storyforge/internal/imagestore"
	"github.com/storyforge/storyforge/internal/midjourney"
	"github.com/storyforge/storyforge/internal/narrative"
)

// buildPipeline wires the generation pipeline from configuration.
func buildPipeline(ctx context.Context, cfg *config.Config, store *bookstore.Store, logger *slog.Logger) (*assemble.Coordinator, error) {
	backend := narrative.NewOpenAIBackend(narrative.OpenAIConfig{
		APIKey:      config.ResolveEnvVars(cfg.OpenAI.APIKey),
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
	})
	generator := narrative.NewGenerator(backend, logger)

	renderer := midjourney.NewClient(midjourney.Config{
		BaseURL:      cfg.Midjourney.BaseURL,
		APIKey:       config.ResolveEnvVars(cfg.Midjourney.APIKey),
		ProcessMode:  cfg.Midjourney.ProcessMode,
		AspectRatio:  cfg.Midjourney.AspectRatio,
		PollInterval: time.Duration(cfg.Midjourney.PollIntervalSeconds) * time.Second,
		MaxPolls:     cfg.Midjourney.MaxPolls,
		Logger:       logger,
	})

	images, err := imagestore.New(ctx, imagestore.Config{
		Bucket:        cfg.Images.Bucket,
		Region:        cfg.Images.Region,
		Endpoint:      cfg.Images.Endpoint,
		PublicBaseURL: cfg.Images.PublicBaseURL,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	refs := illustrate.NewReferencePipeline(renderer, images, logger)
	fanOut := illustrate.NewFanOut(renderer, images, illustrate.FanOutConfig{
		SubmitInterval: time.Duration(cfg.Midjourney.SubmitIntervalSeconds * float64(time.Second)),
		SubmitBurst:    cfg.Midjourney.SubmitBurst,
	}, logger)

	return assemble.New(generator, refs, fanOut, store, logger), nil
}
