package narrative

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/storyforge/storyforge/internal/book"
)

// manuscriptSchema is the canonical shape of the text backend's JSON output.
// Unknown fields are deliberately not rejected so newer backends can add
// fields without breaking older servers.
const manuscriptSchema = `{
	"type": "object",
	"required": ["title", "bookSummary", "coverImagePrompt", "pages"],
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"theme": {"type": "string"},
		"bookSummary": {"type": "string", "minLength": 1},
		"mainCharacterDescriptivePrompt": {"type": "string"},
		"coverImagePrompt": {"type": "string", "minLength": 1},
		"styleReferencePrompt": {"type": "string"},
		"characters": {
			"type": "array",
			"items": {"type": "string"}
		},
		"pages": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["pageNumber", "text", "imagePrompt"],
				"properties": {
					"pageNumber": {"type": "integer", "minimum": 1},
					"text": {"type": "string", "minLength": 1},
					"imagePrompt": {"type": "string", "minLength": 1},
					"charactersPresent": {
						"type": "array",
						"items": {"type": "string"}
					},
					"isMainCharacterPresent": {"type": "boolean"}
				}
			}
		}
	}
}`

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("manuscript.json", strings.NewReader(manuscriptSchema)); err != nil {
			compileErr = fmt.Errorf("failed to load manuscript schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("manuscript.json")
	})
	return compiledSchema, compileErr
}

// ValidationError describes a manuscript that does not satisfy the expected
// narrative structure.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid manuscript: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid manuscript: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ValidateManuscript validates raw JSON against the manuscript schema and the
// structural invariants the schema cannot express, then decodes it.
//
// Enforced beyond the schema: page numbers are exactly 1..len(pages) in
// order, and charactersPresent only names declared characters.
func ValidateManuscript(raw []byte) (book.Manuscript, error) {
	var zero book.Manuscript

	s, err := schema()
	if err != nil {
		return zero, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return zero, &ValidationError{Reason: "not valid JSON", Err: err}
	}
	if err := s.Validate(doc); err != nil {
		return zero, &ValidationError{Reason: "schema violation", Err: err}
	}

	var m book.Manuscript
	if err := json.Unmarshal(raw, &m); err != nil {
		return zero, &ValidationError{Reason: "decode failed", Err: err}
	}

	declared := make(map[string]struct{}, len(m.Characters))
	for _, c := range m.Characters {
		declared[c] = struct{}{}
	}

	for i, p := range m.Pages {
		if p.PageNumber != i+1 {
			return zero, &ValidationError{
				Reason: fmt.Sprintf("page %d has pageNumber %d, want %d", i+1, p.PageNumber, i+1),
			}
		}
		if len(declared) > 0 {
			for _, c := range p.CharactersPresent {
				if _, ok := declared[c]; !ok {
					return zero, &ValidationError{
						Reason: fmt.Sprintf("page %d names undeclared character %q", p.PageNumber, c),
					}
				}
			}
		}
	}

	return m, nil
}
