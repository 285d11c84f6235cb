package illustrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/storyforge/storyforge/internal/book"
)

// Framing prefixes keep reference renders recognizable as conditioning
// inputs rather than story pages.
const (
	characterReferenceFraming = "Children's book character reference: "
	styleReferenceFraming     = "Children's book style reference: "
)

// ReferencePipeline produces the per-book conditioning images: one
// main-character portrait and one style board.
type ReferencePipeline struct {
	jobs   JobClient
	store  ImageStore
	logger *slog.Logger
}

// NewReferencePipeline creates a ReferencePipeline.
func NewReferencePipeline(jobs JobClient, store ImageStore, logger *slog.Logger) *ReferencePipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReferencePipeline{jobs: jobs, store: store, logger: logger}
}

// BuildReferences renders and persists the reference images for a manuscript.
// The two renders run sequentially: the character look is established first,
// the style board after. A reference whose prompt is empty is skipped
// without error, and downstream jobs simply omit that conditioning input.
// The returned URLs point at durable storage, not the renderer's temporary
// result URLs.
func (p *ReferencePipeline) BuildReferences(ctx context.Context, bookID string, m book.Manuscript) (book.ReferenceSet, error) {
	var refs book.ReferenceSet

	if m.MainCharacterDescriptivePrompt != "" {
		res, err := p.jobs.SubmitAndAwait(ctx, characterReferenceFraming+m.MainCharacterDescriptivePrompt, nil)
		if err != nil {
			return book.ReferenceSet{}, fmt.Errorf("character reference: %w", err)
		}
		url, err := p.store.UploadFromURL(ctx, res.URL, book.CharacterKey(bookID, 1))
		if err != nil {
			return book.ReferenceSet{}, fmt.Errorf("store character reference: %w", err)
		}
		refs.MainCharacterImageURL = url
		p.logger.Info("character reference ready", "book_id", bookID, "url", url)
	}

	if m.StyleReferencePrompt != "" {
		res, err := p.jobs.SubmitAndAwait(ctx, styleReferenceFraming+m.StyleReferencePrompt, nil)
		if err != nil {
			return book.ReferenceSet{}, fmt.Errorf("style reference: %w", err)
		}
		url, err := p.store.UploadFromURL(ctx, res.URL, book.StyleKey(bookID, 1))
		if err != nil {
			return book.ReferenceSet{}, fmt.Errorf("store style reference: %w", err)
		}
		refs.StyleImageURL = url
		p.logger.Info("style reference ready", "book_id", bookID, "url", url)
	}

	return refs, nil
}
