package assemble_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/storyforge/storyforge/internal/assemble"
	"github.com/storyforge/storyforge/internal/book"
	"github.com/storyforge/storyforge/internal/illustrate"
	"github.com/storyforge/storyforge/internal/midjourney"
	"github.com/storyforge/storyforge/internal/narrative"
)

// scriptedBackend returns a canned completion, wrapped in prose like a chatty
// model response.
type scriptedBackend struct {
	response string
}

func (b *scriptedBackend) Complete(_ context.Context, _ string) (string, error) {
	return b.response, nil
}

// stubJobs renders every prompt instantly, except prompts containing failOn.
type stubJobs struct {
	mu      sync.Mutex
	n       int
	failOn  string
	prompts []string
}

func (j *stubJobs) SubmitAndAwait(_ context.Context, prompt string, refs *book.ReferenceSet) (midjourney.ImageResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.prompts = append(j.prompts, prompt)
	if j.failOn != "" && strings.Contains(prompt, j.failOn) {
		return midjourney.ImageResult{}, fmt.Errorf("%w: task t-%d", midjourney.ErrRenderFailed, j.n)
	}
	j.n++
	return midjourney.ImageResult{URL: fmt.Sprintf("https://tmp.example.com/render-%d.png", j.n), Prompt: prompt}, nil
}

// stubUploads copies any source URL to a durable URL derived from the key.
type stubUploads struct {
	mu   sync.Mutex
	keys []string
}

func (u *stubUploads) UploadFromURL(_ context.Context, _ string, key string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys = append(u.keys, key)
	return "https://cdn.example.com/" + key, nil
}

type recordingStore struct {
	created  *book.Book
	statuses map[string]book.Status
	final    map[string]book.Manuscript
}

func newRecordingStore() *recordingStore {
	return &recordingStore{statuses: map[string]book.Status{}, final: map[string]book.Manuscript{}}
}

func (s *recordingStore) Create(_ context.Context, b *book.Book) error {
	s.created = b
	s.statuses[b.ID] = b.Status
	return nil
}

func (s *recordingStore) SetComplete(_ context.Context, id string, m book.Manuscript) error {
	s.statuses[id] = book.StatusComplete
	s.final[id] = m
	return nil
}

func (s *recordingStore) SetFailed(_ context.Context, id string) error {
	s.statuses[id] = book.StatusFailed
	return nil
}

// lunaManuscript builds a five page manuscript the narrative schema accepts.
func lunaManuscript(t *testing.T) string {
	t.Helper()
	m := book.Manuscript{
		Title:                          "Luna and the Lost Star",
		Theme:                          "courage",
		BookSummary:                    "Luna the fox helps a fallen star find its way home.",
		MainCharacterDescriptivePrompt: "a small orange fox with bright eyes",
		CoverImagePrompt:               "a fox gazing at a starry sky",
		StyleReferencePrompt:           "soft watercolor storybook illustration",
		Characters:                     []string{"Luna the fox"},
	}
	for i := 1; i <= 5; i++ {
		m.Pages = append(m.Pages, book.Page{
			PageNumber:             i,
			Text:                   fmt.Sprintf("Page %d of Luna's journey.", i),
			ImagePrompt:            fmt.Sprintf("luna scene %d", i),
			CharactersPresent:      []string{"Luna the fox"},
			IsMainCharacterPresent: true,
		})
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal manuscript: %v", err)
	}
	return string(data)
}

func buildCoordinator(backend narrative.TextBackend, jobs illustrate.JobClient, uploads illustrate.ImageStore, store assemble.BookStore) *assemble.Coordinator {
	logger := slog.New(slog.DiscardHandler)
	gen := narrative.NewGenerator(backend, logger)
	refs := illustrate.NewReferencePipeline(jobs, uploads, logger)
	fanOut := illustrate.NewFanOut(jobs, uploads, illustrate.FanOutConfig{SubmitInterval: 1}, logger)
	return assemble.New(gen, refs, fanOut, store, logger)
}

func lunaRequest() book.GenerationRequest {
	return book.GenerationRequest{
		AgeRange:    "4-5",
		Characters:  []string{"Luna the fox"},
		StoryPrompt: "Luna finds a lost star",
	}
}

func TestPipelineCompletesBook(t *testing.T) {
	backend := &scriptedBackend{response: "Here is your story!\n" + lunaManuscript(t) + "\nEnjoy!"}
	jobs := &stubJobs{}
	uploads := &stubUploads{}
	store := newRecordingStore()

	res, err := buildCoordinator(backend, jobs, uploads, store).Assemble(context.Background(), lunaRequest())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if res.BookID == "" {
		t.Fatal("expected a book id")
	}
	if got := store.statuses[res.BookID]; got != book.StatusComplete {
		t.Fatalf("status = %q, want complete", got)
	}

	final := store.final[res.BookID]
	if final.CoverImageURL == "" {
		t.Error("cover imageUrl missing")
	}
	if len(final.Pages) != 5 {
		t.Fatalf("pages = %d, want 5", len(final.Pages))
	}
	for _, p := range final.Pages {
		if p.ImageURL == "" {
			t.Errorf("page %d imageUrl missing", p.PageNumber)
		}
		if !strings.HasPrefix(p.ImageURL, "https://cdn.example.com/"+res.BookID+"/") {
			t.Errorf("page %d imageUrl %q not under the book's namespace", p.PageNumber, p.ImageURL)
		}
	}

	// Two reference jobs, one cover, five pages.
	if len(jobs.prompts) != 8 {
		t.Errorf("render jobs = %d, want 8", len(jobs.prompts))
	}
}

func TestPipelinePageFailureFailsBook(t *testing.T) {
	backend := &scriptedBackend{response: lunaManuscript(t)}
	jobs := &stubJobs{failOn: "luna scene 3"}
	uploads := &stubUploads{}
	store := newRecordingStore()

	_, err := buildCoordinator(backend, jobs, uploads, store).Assemble(context.Background(), lunaRequest())
	if !errors.Is(err, assemble.ErrImageFailed) {
		t.Fatalf("err = %v, want ErrImageFailed", err)
	}
	if got := store.statuses[store.created.ID]; got != book.StatusFailed {
		t.Errorf("status = %q, want failed", got)
	}

	// Nothing from the failed fan-out may be persisted.
	for _, key := range uploads.keys {
		if strings.Contains(key, "/page") || strings.Contains(key, "/cover") {
			t.Errorf("stored %q from a failed render run", key)
		}
	}
}

func TestPipelineProseResponseCreatesNoBook(t *testing.T) {
	backend := &scriptedBackend{response: "Once upon a time there was a fox. The end."}
	store := newRecordingStore()

	_, err := buildCoordinator(backend, &stubJobs{}, &stubUploads{}, store).Assemble(context.Background(), lunaRequest())
	if !errors.Is(err, assemble.ErrNarrativeFailed) {
		t.Fatalf("err = %v, want ErrNarrativeFailed", err)
	}
	if store.created != nil {
		t.Error("no book record should be created when no JSON can be extracted")
	}
}
