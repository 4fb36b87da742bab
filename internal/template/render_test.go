package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	content := "Hi {user_name}, {book_title} is due on {due_date}."
	fields := map[string]string{
		"user_name":  "Alice",
		"book_title": "The Go Programming Language",
		"due_date":   "2025-06-17",
	}

	got, err := Render(content, fields)
	require.NoError(t, err)
	assert.Equal(t, "Hi Alice, The Go Programming Language is due on 2025-06-17.", got)
	assert.NotContains(t, got, "{")
	assert.NotContains(t, got, "}")
}

func TestRenderIdempotent(t *testing.T) {
	content := "{book_title} ({days_overdue} days overdue)"
	fields := map[string]string{"book_title": "Dune", "days_overdue": "3"}

	first, err := Render(content, fields)
	require.NoError(t, err)
	second, err := Render(content, fields)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRenderMissingPlaceholder(t *testing.T) {
	content := "{book_title} due {due_date} for {user_name}"
	fields := map[string]string{"book_title": "Dune"}

	_, err := Render(content, fields)
	require.Error(t, err)

	var missing *MissingPlaceholderError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "due_date", missing.Name, "first unresolved token is named")
	assert.Equal(t, "missing placeholder {due_date}", err.Error())
}

func TestRenderNoRecursion(t *testing.T) {
	// A substituted value containing a token is left literal.
	got, err := Render("{book_title}", map[string]string{"book_title": "{due_date}"})
	require.NoError(t, err)
	assert.Equal(t, "{due_date}", got)
}

func TestRenderNoPlaceholders(t *testing.T) {
	got, err := Render("plain message", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain message", got)

	// Extra fields the template never references are ignored.
	got, err = Render("plain message", map[string]string{"user_name": "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "plain message", got)
}

func TestPlaceholders(t *testing.T) {
	names := Placeholders("{book_title} by {author}, {book_title}")
	assert.Equal(t, []string{"book_title", "author"}, names)

	assert.Nil(t, Placeholders("no tokens here"))
}
