package midjourney

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/storyforge/storyforge/internal/book"
)

// fakeRenderer is a scriptable /imagine + /fetch server.
type fakeRenderer struct {
	t            *testing.T
	imagineResp  map[string]any
	imagineCode  int
	fetchScript  []map[string]any // consumed one per poll; last entry repeats
	fetchCode    int
	imagineCalls atomic.Int64
	fetchCalls   atomic.Int64
	lastPrompt   atomic.Value
}

func (f *fakeRenderer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /imagine", func(w http.ResponseWriter, r *http.Request) {
		f.imagineCalls.Add(1)
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.t.Errorf("imagine body: %v", err)
		}
		if p, ok := req["prompt"].(string); ok {
			f.lastPrompt.Store(p)
		}
		code := f.imagineCode
		if code == 0 {
			code = http.StatusOK
		}
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(f.imagineResp)
	})
	mux.HandleFunc("POST /fetch", func(w http.ResponseWriter, r *http.Request) {
		n := f.fetchCalls.Add(1)
		if f.fetchCode != 0 {
			w.WriteHeader(f.fetchCode)
			return
		}
		idx := int(n) - 1
		if idx >= len(f.fetchScript) {
			idx = len(f.fetchScript) - 1
		}
		json.NewEncoder(w).Encode(f.fetchScript[idx])
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeRenderer, maxPolls int) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:      srv.URL,
		APIKey:       "test-key",
		PollInterval: time.Millisecond,
		MaxPolls:     maxPolls,
	}), srv
}

func TestSubmitAndAwait(t *testing.T) {
	t.Run("completed job returns temporary URL head", func(t *testing.T) {
		f := &fakeRenderer{
			t:           t,
			imagineResp: map[string]any{"task_id": "task-1"},
			fetchScript: []map[string]any{
				{"status": "processing"},
				{"status": "completed", "task_result": map[string]any{
					"image_url":            "https://img.example/final.png",
					"temporary_image_urls": []string{"https://img.example/tmp.png"},
				}},
			},
		}
		client, _ := newTestClient(t, f, 10)

		res, err := client.SubmitAndAwait(context.Background(), "a fox", nil)
		if err != nil {
			t.Fatalf("SubmitAndAwait() error = %v", err)
		}
		if res.URL != "https://img.example/tmp.png" {
			t.Errorf("URL = %q, want temporary head", res.URL)
		}
	})

	t.Run("falls back to image_url", func(t *testing.T) {
		f := &fakeRenderer{
			t:           t,
			imagineResp: map[string]any{"task_id": "task-1"},
			fetchScript: []map[string]any{
				{"status": "finished", "task_result": map[string]any{
					"image_url": "https://img.example/final.png",
				}},
			},
		}
		client, _ := newTestClient(t, f, 10)

		res, err := client.SubmitAndAwait(context.Background(), "a fox", nil)
		if err != nil {
			t.Fatalf("SubmitAndAwait() error = %v", err)
		}
		if res.URL != "https://img.example/final.png" {
			t.Errorf("URL = %q", res.URL)
		}
	})

	t.Run("missing task_id fails without polling", func(t *testing.T) {
		f := &fakeRenderer{
			t:           t,
			imagineResp: map[string]any{"success": false},
		}
		client, _ := newTestClient(t, f, 10)

		_, err := client.SubmitAndAwait(context.Background(), "a fox", nil)
		if !errors.Is(err, ErrSubmissionFailed) {
			t.Fatalf("expected ErrSubmissionFailed, got %v", err)
		}
		if n := f.fetchCalls.Load(); n != 0 {
			t.Errorf("fetch calls = %d, want 0", n)
		}
	})

	t.Run("failed status returns ErrRenderFailed immediately", func(t *testing.T) {
		f := &fakeRenderer{
			t:           t,
			imagineResp: map[string]any{"task_id": "task-1"},
			fetchScript: []map[string]any{
				{"status": "processing"},
				{"status": "failed"},
			},
		}
		client, _ := newTestClient(t, f, 48)

		_, err := client.SubmitAndAwait(context.Background(), "a fox", nil)
		if !errors.Is(err, ErrRenderFailed) {
			t.Fatalf("expected ErrRenderFailed, got %v", err)
		}
		if n := f.fetchCalls.Load(); n != 2 {
			t.Errorf("fetch calls = %d, want 2", n)
		}
	})

	t.Run("exhausted poll budget returns ErrTimedOut after exactly maxPolls", func(t *testing.T) {
		f := &fakeRenderer{
			t:           t,
			imagineResp: map[string]any{"task_id": "task-1"},
			fetchScript: []map[string]any{{"status": "processing"}},
		}
		client, _ := newTestClient(t, f, 48)

		_, err := client.SubmitAndAwait(context.Background(), "a fox", nil)
		if !errors.Is(err, ErrTimedOut) {
			t.Fatalf("expected ErrTimedOut, got %v", err)
		}
		if n := f.fetchCalls.Load(); n != 48 {
			t.Errorf("fetch calls = %d, want exactly 48", n)
		}
	})

	t.Run("non-2xx polls are transient misses", func(t *testing.T) {
		f := &fakeRenderer{
			t:           t,
			imagineResp: map[string]any{"task_id": "task-1"},
			fetchCode:   http.StatusBadGateway,
		}
		client, _ := newTestClient(t, f, 5)

		_, err := client.SubmitAndAwait(context.Background(), "a fox", nil)
		if !errors.Is(err, ErrTimedOut) {
			t.Fatalf("expected ErrTimedOut after transient misses, got %v", err)
		}
		if n := f.fetchCalls.Load(); n != 5 {
			t.Errorf("fetch calls = %d, want 5", n)
		}
	})

	t.Run("context cancellation stops polling", func(t *testing.T) {
		f := &fakeRenderer{
			t:           t,
			imagineResp: map[string]any{"task_id": "task-1"},
			fetchScript: []map[string]any{{"status": "processing"}},
		}
		client, _ := newTestClient(t, f, 48)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := client.SubmitAndAwait(ctx, "a fox", nil)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestConditionPrompt(t *testing.T) {
	refs := &book.ReferenceSet{
		MainCharacterImageURL: "https://img.example/char.png",
		StyleImageURL:         "https://img.example/style.png",
	}

	t.Run("appends cref and sref", func(t *testing.T) {
		got := conditionPrompt("a fox — in the woods", refs)
		want := "a fox - in the woods --cref https://img.example/char.png --cw 100 --sref https://img.example/style.png"
		if got != want {
			t.Errorf("got %q\nwant %q", got, want)
		}
	})

	t.Run("style only when main character absent", func(t *testing.T) {
		got := conditionPrompt("a quiet forest", &book.ReferenceSet{StyleImageURL: "https://img.example/style.png"})
		if strings.Contains(got, "--cref") {
			t.Errorf("unexpected --cref in %q", got)
		}
		if !strings.Contains(got, "--sref https://img.example/style.png") {
			t.Errorf("missing --sref in %q", got)
		}
	})

	t.Run("nil refs leaves prompt bare", func(t *testing.T) {
		got := conditionPrompt("a quiet forest", nil)
		if got != "a quiet forest" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("sanitization runs before suffixes", func(t *testing.T) {
		got := conditionPrompt("dashes -- everywhere", refs)
		if !strings.Contains(got, "--cref") || !strings.Contains(got, "--cw 100") {
			t.Errorf("directives mangled: %q", got)
		}
		if strings.Contains(got, "dashes --") {
			t.Errorf("prompt body not sanitized: %q", got)
		}
	})
}

func TestSubmittedPromptCarriesDirectives(t *testing.T) {
	f := &fakeRenderer{
		t:           t,
		imagineResp: map[string]any{"task_id": "task-1"},
		fetchScript: []map[string]any{
			{"status": "completed", "task_result": map[string]any{"image_url": "https://img.example/x.png"}},
		},
	}
	client, _ := newTestClient(t, f, 10)

	refs := &book.ReferenceSet{StyleImageURL: "https://img.example/style.png"}
	res, err := client.SubmitAndAwait(context.Background(), "a fox", refs)
	if err != nil {
		t.Fatalf("SubmitAndAwait() error = %v", err)
	}

	sent, _ := f.lastPrompt.Load().(string)
	if sent != res.Prompt {
		t.Errorf("submitted prompt %q != result prompt %q", sent, res.Prompt)
	}
	if !strings.HasSuffix(sent, "--sref https://img.example/style.png") {
		t.Errorf("submitted prompt missing directive: %q", sent)
	}
}
