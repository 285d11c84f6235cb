// Package book defines the storybook data model shared by the generation
// pipeline, the stores, and the HTTP API.
package book

import (
	"errors"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a book record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// GenerationRequest is the structured input for one book generation run.
type GenerationRequest struct {
	AgeRange        string   `json:"ageRange"`
	Characters      []string `json:"characters"`
	StoryPrompt     string   `json:"storyPrompt"`
	TargetPageCount int      `json:"numOfPages,omitempty"` // 0 means "let the model decide"
}

// minTargetPageCount is the smallest page count a caller may request.
const minTargetPageCount = 3

// Validate checks that the request is well-formed.
func (r GenerationRequest) Validate() error {
	if r.AgeRange == "" {
		return errors.New("age range is required")
	}
	if len(r.Characters) == 0 {
		return errors.New("at least one character is required")
	}
	for i, c := range r.Characters {
		if c == "" {
			return fmt.Errorf("character %d is empty", i+1)
		}
	}
	if r.StoryPrompt == "" {
		return errors.New("story prompt is required")
	}
	if r.TargetPageCount != 0 && r.TargetPageCount < minTargetPageCount {
		return fmt.Errorf("number of pages must be at least %d", minTargetPageCount)
	}
	return nil
}

// Page is a single page of a manuscript. ImageURL stays empty until the
// page's image job succeeds.
type Page struct {
	PageNumber             int      `json:"pageNumber"`
	Text                   string   `json:"text"`
	ImagePrompt            string   `json:"imagePrompt"`
	CharactersPresent      []string `json:"charactersPresent,omitempty"`
	IsMainCharacterPresent bool     `json:"isMainCharacterPresent"`
	ImageURL               string   `json:"imageUrl,omitempty"`
}

// Manuscript is the generated narrative. It is produced once by the
// narrative generator and immutable afterwards except for image URL
// attachment.
type Manuscript struct {
	Title                          string   `json:"title"`
	Theme                          string   `json:"theme"`
	BookSummary                    string   `json:"bookSummary"`
	MainCharacterDescriptivePrompt string   `json:"mainCharacterDescriptivePrompt"`
	CoverImagePrompt               string   `json:"coverImagePrompt"`
	StyleReferencePrompt           string   `json:"styleReferencePrompt"`
	Characters                     []string `json:"characters"`
	Pages                          []Page   `json:"pages"`
	CoverImageURL                  string   `json:"coverImageUrl,omitempty"`
}

// Clone returns a deep copy of the manuscript. The fan-out renderer works on
// a copy so a failed run never leaves a half-annotated manuscript behind.
func (m Manuscript) Clone() Manuscript {
	out := m
	out.Characters = append([]string(nil), m.Characters...)
	out.Pages = make([]Page, len(m.Pages))
	copy(out.Pages, m.Pages)
	for i := range out.Pages {
		out.Pages[i].CharactersPresent = append([]string(nil), m.Pages[i].CharactersPresent...)
	}
	return out
}

// ReferenceSet holds the conditioning images shared by every image job of a
// book. Read-only after creation.
type ReferenceSet struct {
	MainCharacterImageURL string `json:"mainCharacterImageUrl,omitempty"`
	StyleImageURL         string `json:"styleImageUrl,omitempty"`
}

// Book is the stored record for one generated storybook.
type Book struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Manuscript  Manuscript `json:"content"`
	AgeRange    string     `json:"age_range"`
	Characters  []string   `json:"characters"`
	StoryPrompt string     `json:"story_prompt"`
	Stars       int        `json:"stars"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
