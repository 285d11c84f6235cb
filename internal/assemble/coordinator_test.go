package assemble

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/storyforge/storyforge/internal/book"
)

type fakeNarrative struct {
	manuscript book.Manuscript
	err        error
	calls      int
}

func (f *fakeNarrative) Generate(_ context.Context, _ book.GenerationRequest) (book.Manuscript, error) {
	f.calls++
	if f.err != nil {
		return book.Manuscript{}, f.err
	}
	return f.manuscript, nil
}

type fakeRefs struct {
	refs  book.ReferenceSet
	err   error
	calls int
}

func (f *fakeRefs) BuildReferences(_ context.Context, _ string, _ book.Manuscript) (book.ReferenceSet, error) {
	f.calls++
	if f.err != nil {
		return book.ReferenceSet{}, f.err
	}
	return f.refs, nil
}

type fakeRenderer struct {
	out   book.Manuscript
	err   error
	calls int
	refs  book.ReferenceSet
}

func (f *fakeRenderer) Render(_ context.Context, _ string, _ book.Manuscript, refs book.ReferenceSet) (book.Manuscript, error) {
	f.calls++
	f.refs = refs
	if f.err != nil {
		return book.Manuscript{}, f.err
	}
	return f.out, nil
}

type fakeStore struct {
	createErr   error
	completeErr error
	failedErr   error

	created  *book.Book
	statuses map[string]book.Status
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: map[string]book.Status{}}
}

func (f *fakeStore) Create(_ context.Context, b *book.Book) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = b
	f.statuses[b.ID] = b.Status
	return nil
}

func (f *fakeStore) SetComplete(_ context.Context, id string, _ book.Manuscript) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.statuses[id] = book.StatusComplete
	return nil
}

func (f *fakeStore) SetFailed(_ context.Context, id string) error {
	if f.failedErr != nil {
		return f.failedErr
	}
	f.statuses[id] = book.StatusFailed
	return nil
}

func testManuscript() book.Manuscript {
	return book.Manuscript{
		Title:            "The Brave Fox",
		BookSummary:      "A fox learns to swim.",
		CoverImagePrompt: "a fox by a river",
		Pages: []book.Page{
			{PageNumber: 1, Text: "Once upon a time.", ImagePrompt: "a fox", IsMainCharacterPresent: true},
			{PageNumber: 2, Text: "The end.", ImagePrompt: "a river"},
		},
	}
}

func testCoordinator(n *fakeNarrative, r *fakeRefs, p *fakeRenderer, s *fakeStore) *Coordinator {
	return New(n, r, p, s, slog.New(slog.DiscardHandler))
}

func TestAssembleSuccess(t *testing.T) {
	m := testManuscript()
	rendered := m.Clone()
	rendered.CoverImageURL = "https://cdn.example.com/cover.jpg"

	narrative := &fakeNarrative{manuscript: m}
	refs := &fakeRefs{refs: book.ReferenceSet{MainCharacterImageURL: "https://cdn.example.com/char.jpeg"}}
	renderer := &fakeRenderer{out: rendered}
	store := newFakeStore()

	res, err := testCoordinator(narrative, refs, renderer, store).Assemble(context.Background(), book.GenerationRequest{
		AgeRange:    "4-6",
		Characters:  []string{"Fox"},
		StoryPrompt: "a fox learns to swim",
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if res.BookID == "" {
		t.Fatal("expected a book id")
	}
	if res.Manuscript.CoverImageURL != rendered.CoverImageURL {
		t.Errorf("manuscript = %+v, want rendered output", res.Manuscript)
	}
	if got := store.statuses[res.BookID]; got != book.StatusComplete {
		t.Errorf("status = %q, want %q", got, book.StatusComplete)
	}
	if renderer.refs != refs.refs {
		t.Errorf("renderer received refs %+v, want %+v", renderer.refs, refs.refs)
	}
	if store.created == nil || store.created.Status != book.StatusPending {
		t.Errorf("created book = %+v, want initial pending status", store.created)
	}
}

func TestAssembleNarrativeFailure(t *testing.T) {
	narrative := &fakeNarrative{err: errors.New("model returned prose")}
	store := newFakeStore()

	_, err := testCoordinator(narrative, &fakeRefs{}, &fakeRenderer{}, store).Assemble(context.Background(), book.GenerationRequest{})
	if !errors.Is(err, ErrNarrativeFailed) {
		t.Fatalf("err = %v, want ErrNarrativeFailed", err)
	}
	if store.created != nil {
		t.Error("no book record should exist when the narrative fails")
	}
}

func TestAssembleCreateFailure(t *testing.T) {
	refs := &fakeRefs{}
	store := newFakeStore()
	store.createErr = errors.New("connection refused")

	_, err := testCoordinator(&fakeNarrative{manuscript: testManuscript()}, refs, &fakeRenderer{}, store).Assemble(context.Background(), book.GenerationRequest{})
	if !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("err = %v, want ErrPersistFailed", err)
	}
	if refs.calls != 0 {
		t.Error("no images should be requested when the pending record cannot be created")
	}
}

func TestAssembleReferenceFailure(t *testing.T) {
	refs := &fakeRefs{err: errors.New("render failed")}
	renderer := &fakeRenderer{}
	store := newFakeStore()

	_, err := testCoordinator(&fakeNarrative{manuscript: testManuscript()}, refs, renderer, store).Assemble(context.Background(), book.GenerationRequest{})
	if !errors.Is(err, ErrImageFailed) {
		t.Fatalf("err = %v, want ErrImageFailed", err)
	}
	if renderer.calls != 0 {
		t.Error("pages should not render when references fail")
	}
	if got := store.statuses[store.created.ID]; got != book.StatusFailed {
		t.Errorf("status = %q, want %q", got, book.StatusFailed)
	}
}

func TestAssembleRenderFailure(t *testing.T) {
	renderer := &fakeRenderer{err: errors.New("page 2: render timed out")}
	store := newFakeStore()

	_, err := testCoordinator(&fakeNarrative{manuscript: testManuscript()}, &fakeRefs{}, renderer, store).Assemble(context.Background(), book.GenerationRequest{})
	if !errors.Is(err, ErrImageFailed) {
		t.Fatalf("err = %v, want ErrImageFailed", err)
	}
	if got := store.statuses[store.created.ID]; got != book.StatusFailed {
		t.Errorf("status = %q, want %q", got, book.StatusFailed)
	}
}

func TestAssembleSetCompleteFailure(t *testing.T) {
	store := newFakeStore()
	store.completeErr = errors.New("connection reset")

	_, err := testCoordinator(&fakeNarrative{manuscript: testManuscript()}, &fakeRefs{}, &fakeRenderer{out: testManuscript()}, store).Assemble(context.Background(), book.GenerationRequest{})
	if !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("err = %v, want ErrPersistFailed", err)
	}
	if got := store.statuses[store.created.ID]; got != book.StatusFailed {
		t.Errorf("status = %q, want %q: a book must not stay pending", got, book.StatusFailed)
	}
}

func TestAssembleMarksFailedAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	renderer := &fakeRenderer{err: context.Canceled}
	store := newFakeStore()

	narrative := &fakeNarrative{manuscript: testManuscript()}
	coord := testCoordinator(narrative, &fakeRefs{}, renderer, store)

	// The failed-status write does not inherit the run's cancellation.
	cancel()
	_, err := coord.Assemble(ctx, book.GenerationRequest{})
	if !errors.Is(err, ErrImageFailed) {
		t.Fatalf("err = %v, want ErrImageFailed", err)
	}
	if got := store.statuses[store.created.ID]; got != book.StatusFailed {
		t.Errorf("status = %q, want %q even after cancellation", got, book.StatusFailed)
	}
}

func TestAssembleSetFailedErrorNotEscalated(t *testing.T) {
	store := newFakeStore()
	store.failedErr = errors.New("connection refused")
	renderer := &fakeRenderer{err: errors.New("render failed")}

	_, err := testCoordinator(&fakeNarrative{manuscript: testManuscript()}, &fakeRefs{}, renderer, store).Assemble(context.Background(), book.GenerationRequest{})
	if !errors.Is(err, ErrImageFailed) {
		t.Fatalf("err = %v, want the original ErrImageFailed, not the status-write error", err)
	}
}
