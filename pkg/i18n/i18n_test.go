package i18n

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogIsComplete(t *testing.T) {
	c := Default()
	require.NotEmpty(t, c.messages[English])
	for key := range c.messages[English] {
		_, ok := c.messages[Arabic][key]
		assert.True(t, ok, "missing arabic text for %s", key)
	}
	for key := range c.messages[Arabic] {
		assert.True(t, c.Has(key), "arabic-only key %s", key)
	}
}

func TestMessageFallback(t *testing.T) {
	c, err := Parse([]byte("en:\n  a: A\n  b: B\nar:\n  a: أ\n"))
	require.NoError(t, err)

	assert.Equal(t, "أ", c.Message(Arabic, "a"))
	assert.Equal(t, "B", c.Message(Arabic, "b"))
	assert.Equal(t, "A", c.Message("fr", "a"))
	assert.Equal(t, "missing.key", c.Message(English, "missing.key"))
}

func TestMatch(t *testing.T) {
	tests := map[string]string{
		"":                        English,
		"ar":                      Arabic,
		"ar-SA,ar;q=0.9,en;q=0.8": Arabic,
		"en-US,en;q=0.9":          English,
		"fr-FR":                   English,
		"garbage;;;":              English,
	}
	for header, want := range tests {
		assert.Equal(t, want, Match(header), header)
	}
}

func TestFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?lang=ar", nil)
	req.Header.Set("Accept-Language", "en")
	assert.Equal(t, Arabic, FromRequest(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ar-EG")
	assert.Equal(t, Arabic, FromRequest(req))
}
