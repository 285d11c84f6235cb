// Package illustrate renders the images for a manuscript: the two
// conditioning references first, then the cover and every page.
package illustrate

import (
	"context"

	"github.com/storyforge/storyforge/internal/book"
	"github.com/storyforge/storyforge/internal/midjourney"
)

// JobClient submits one image job and waits for its terminal state.
type JobClient interface {
	SubmitAndAwait(ctx context.Context, prompt string, refs *book.ReferenceSet) (midjourney.ImageResult, error)
}

// ImageStore copies a rendered image into durable storage and returns its
// public URL.
type ImageStore interface {
	UploadFromURL(ctx context.Context, srcURL, key string) (string, error)
}
