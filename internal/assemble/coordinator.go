// Package assemble orchestrates one book generation run end to end:
// narrative, pending record, reference images, page fan-out, terminal status.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/storyforge/storyforge/internal/book"
)

// Assembly failure reasons. Callers distinguish them with errors.Is so the
// API can map each to an appropriate status and message.
var (
	// ErrNarrativeFailed means no usable manuscript was produced. No book
	// record exists.
	ErrNarrativeFailed = errors.New("narrative failed")

	// ErrImageFailed means a reference, cover, or page image did not
	// render. The book record is marked failed.
	ErrImageFailed = errors.New("image generation failed")

	// ErrPersistFailed means the book store rejected a write.
	ErrPersistFailed = errors.New("persist failed")
)

// NarrativeGenerator produces a validated manuscript for a request.
type NarrativeGenerator interface {
	Generate(ctx context.Context, req book.GenerationRequest) (book.Manuscript, error)
}

// ReferenceBuilder renders and persists the conditioning reference images.
type ReferenceBuilder interface {
	BuildReferences(ctx context.Context, bookID string, m book.Manuscript) (book.ReferenceSet, error)
}

// PageRenderer renders and persists the cover and all page images.
type PageRenderer interface {
	Render(ctx context.Context, bookID string, m book.Manuscript, refs book.ReferenceSet) (book.Manuscript, error)
}

// BookStore is the subset of the book store the coordinator needs.
type BookStore interface {
	Create(ctx context.Context, b *book.Book) error
	SetComplete(ctx context.Context, id string, m book.Manuscript) error
	SetFailed(ctx context.Context, id string) error
}

// failedWriteTimeout bounds the best-effort failed-status write, which must
// go through even when the run's own context is already canceled.
const failedWriteTimeout = 10 * time.Second

// Coordinator drives a book from request to terminal status.
type Coordinator struct {
	narrative NarrativeGenerator
	refs      ReferenceBuilder
	renderer  PageRenderer
	store     BookStore
	logger    *slog.Logger
}

// New creates a Coordinator. All collaborators are required.
func New(narrative NarrativeGenerator, refs ReferenceBuilder, renderer PageRenderer, store BookStore, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		narrative: narrative,
		refs:      refs,
		renderer:  renderer,
		store:     store,
		logger:    logger,
	}
}

// Result is the outcome of a successful assembly.
type Result struct {
	BookID     string
	Manuscript book.Manuscript
}

// Assemble runs the full pipeline. Once a book record is created it always
// ends in a terminal complete or failed status; a book is never left pending
// when Assemble returns.
func (c *Coordinator) Assemble(ctx context.Context, req book.GenerationRequest) (Result, error) {
	m, err := c.narrative.Generate(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrNarrativeFailed, err)
	}

	b := &book.Book{
		ID:          uuid.New().String(),
		Status:      book.StatusPending,
		Manuscript:  m,
		AgeRange:    req.AgeRange,
		Characters:  req.Characters,
		StoryPrompt: req.StoryPrompt,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.store.Create(ctx, b); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	log := c.logger.With("book_id", b.ID)
	log.Info("book pending", "title", m.Title, "pages", len(m.Pages))

	refs, err := c.refs.BuildReferences(ctx, b.ID, m)
	if err != nil {
		c.markFailed(ctx, b.ID, err)
		return Result{}, fmt.Errorf("%w: %w", ErrImageFailed, err)
	}

	final, err := c.renderer.Render(ctx, b.ID, m, refs)
	if err != nil {
		c.markFailed(ctx, b.ID, err)
		return Result{}, fmt.Errorf("%w: %w", ErrImageFailed, err)
	}

	if err := c.store.SetComplete(ctx, b.ID, final); err != nil {
		c.markFailed(ctx, b.ID, err)
		return Result{}, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	log.Info("book complete", "title", final.Title)
	return Result{BookID: b.ID, Manuscript: final}, nil
}

// markFailed writes the failed status. Best effort: a failure to even write
// the failed status is logged, not escalated.
func (c *Coordinator) markFailed(ctx context.Context, id string, cause error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failedWriteTimeout)
	defer cancel()

	if err := c.store.SetFailed(writeCtx, id); err != nil {
		c.logger.Error("could not mark book failed", "book_id", id, "cause", cause, "error", err)
		return
	}
	c.logger.Warn("book failed", "book_id", id, "cause", cause)
}
