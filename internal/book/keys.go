package book

import "fmt"

// Object storage keys are namespaced by book id so concurrent writes from
// different page jobs never collide.

// CoverKey returns the storage key for a book's cover image.
func CoverKey(bookID string) string {
	return fmt.Sprintf("%s/cover.jpg", bookID)
}

// PageKey returns the storage key for page n's image (1-based).
func PageKey(bookID string, n int) string {
	return fmt.Sprintf("%s/page%d.jpg", bookID, n)
}

// CharacterKey returns the storage key for the nth character reference image.
func CharacterKey(bookID string, n int) string {
	return fmt.Sprintf("%s/character%d.jpeg", bookID, n)
}

// StyleKey returns the storage key for the nth style reference image.
func StyleKey(bookID string, n int) string {
	return fmt.Sprintf("%s/style%d.jpeg", bookID, n)
}
