package narrative

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed story.tmpl
var storyPromptText string

var storyPromptTmpl = template.Must(template.New("story").Parse(storyPromptText))

// defaultMinPages matches the original product behavior: a storybook is at
// least five pages unless the caller asks for a specific count.
const defaultMinPages = 5

type storyPromptData struct {
	AgeRange        string
	Characters      string
	StoryPrompt     string
	MinPages        int
	TargetPageCount int
}

// buildStoryPrompt renders the narrative prompt for a generation request.
func buildStoryPrompt(ageRange string, characters []string, storyPrompt string, targetPageCount int) (string, error) {
	minPages := defaultMinPages
	if targetPageCount > 0 && targetPageCount < minPages {
		minPages = targetPageCount
	}

	var sb strings.Builder
	err := storyPromptTmpl.Execute(&sb, storyPromptData{
		AgeRange:        ageRange,
		Characters:      strings.Join(characters, ", "),
		StoryPrompt:     storyPrompt,
		MinPages:        minPages,
		TargetPageCount: targetPageCount,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render story prompt: %w", err)
	}
	return sb.String(), nil
}

// buildRetryPrompt amends the original prompt after an unusable response.
// One bounded retry, never a loop.
func buildRetryPrompt(original, problem string) string {
	return fmt.Sprintf(
		"Your previous response could not be used: %s.\nRespond again with ONLY the JSON object, following the structure exactly.\n\n%s",
		problem, original,
	)
}
