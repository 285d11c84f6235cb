package illustrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/storyforge/storyforge/internal/book"
)

const (
	defaultSubmitInterval = 2 * time.Second
	defaultSubmitBurst    = 2
)

// FanOutConfig tunes the concurrent page rendering.
type FanOutConfig struct {
	// SubmitInterval spaces out job submissions so the renderer is not
	// burst-flooded when a book has many pages.
	SubmitInterval time.Duration
	SubmitBurst    int
}

// FanOut renders the cover and all page images for a manuscript.
type FanOut struct {
	jobs    JobClient
	store   ImageStore
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewFanOut creates a FanOut.
func NewFanOut(jobs JobClient, store ImageStore, cfg FanOutConfig, logger *slog.Logger) *FanOut {
	if cfg.SubmitInterval <= 0 {
		cfg.SubmitInterval = defaultSubmitInterval
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = defaultSubmitBurst
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FanOut{
		jobs:    jobs,
		store:   store,
		limiter: rate.NewLimiter(rate.Every(cfg.SubmitInterval), cfg.SubmitBurst),
		logger:  logger,
	}
}

// Render returns a copy of the manuscript with imageUrl filled on the cover
// and every page, or fails as a unit: if any single job fails, no partially
// illustrated manuscript is returned. The cover renders first; page jobs
// then run concurrently and are matched back to pages by page number.
func (f *FanOut) Render(ctx context.Context, bookID string, m book.Manuscript, refs book.ReferenceSet) (book.Manuscript, error) {
	out := m.Clone()

	coverRefs := refs
	coverRes, err := f.jobs.SubmitAndAwait(ctx, out.CoverImagePrompt, &coverRefs)
	if err != nil {
		return book.Manuscript{}, fmt.Errorf("cover: %w", err)
	}

	f.logger.Info("cover rendered", "book_id", bookID, "pages", len(out.Pages))

	// One job per page. Each goroutine writes only its own index, so the
	// join needs no further synchronization.
	rendered := make([]string, len(out.Pages))
	eg, egCtx := errgroup.WithContext(ctx)

	for i := range out.Pages {
		page := out.Pages[i]
		eg.Go(func() error {
			if err := f.limiter.Wait(egCtx); err != nil {
				return err
			}

			pageRefs := refs
			if !page.IsMainCharacterPresent {
				// Conditioning an unrelated scene on the main
				// character biases the render toward them.
				pageRefs.MainCharacterImageURL = ""
			}

			prompt := pagePrompt(page, m.BookSummary)
			res, err := f.jobs.SubmitAndAwait(egCtx, prompt, &pageRefs)
			if err != nil {
				return fmt.Errorf("page %d: %w", page.PageNumber, err)
			}
			rendered[i] = res.URL
			f.logger.Info("page rendered", "book_id", bookID, "page", page.PageNumber)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return book.Manuscript{}, err
	}

	// All jobs resolved; persist everything under the book's namespace.
	coverURL, err := f.store.UploadFromURL(ctx, coverRes.URL, book.CoverKey(bookID))
	if err != nil {
		return book.Manuscript{}, fmt.Errorf("store cover: %w", err)
	}
	out.CoverImageURL = coverURL

	for i := range out.Pages {
		n := out.Pages[i].PageNumber
		url, err := f.store.UploadFromURL(ctx, rendered[i], book.PageKey(bookID, n))
		if err != nil {
			return book.Manuscript{}, fmt.Errorf("store page %d: %w", n, err)
		}
		out.Pages[i].ImageURL = url
	}

	return out, nil
}

// pagePrompt combines a page's image prompt with a short story-context
// suffix so isolated scenes still read as part of the same book.
func pagePrompt(p book.Page, summary string) string {
	if summary == "" {
		return p.ImagePrompt
	}
	return fmt.Sprintf("%s. Scene from the story: %s", p.ImagePrompt, summary)
}
