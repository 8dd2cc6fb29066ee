// Package i18n resolves message keys to English or Arabic text.
package i18n

import (
	_ "embed"
	"fmt"
	"net/http"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Supported languages
const (
	English = "en"
	Arabic  = "ar"
)

//go:embed messages.yaml
var messagesYAML []byte

var matcher = language.NewMatcher([]language.Tag{language.English, language.Arabic})

// Catalog holds translated messages per language
type Catalog struct {
	messages map[string]map[string]string
}

// Default loads the embedded catalog
func Default() *Catalog {
	c, err := Parse(messagesYAML)
	if err != nil {
		panic(fmt.Sprintf("i18n: embedded messages are invalid: %v", err))
	}
	return c
}

// Parse reads a catalog document: a map of language to key to text
func Parse(data []byte) (*Catalog, error) {
	var messages map[string]map[string]string
	if err := yaml.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return &Catalog{messages: messages}, nil
}

// Message returns key's text in lang, falling back to English and then to the key itself
func (c *Catalog) Message(lang, key string) string {
	if msg, ok := c.messages[lang][key]; ok {
		return msg
	}
	if msg, ok := c.messages[English][key]; ok {
		return msg
	}
	return key
}

// Has reports whether key has an English text
func (c *Catalog) Has(key string) bool {
	_, ok := c.messages[English][key]
	return ok
}

// Match picks "en" or "ar" for an Accept-Language header value
func Match(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return English
	}
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return English
	}
	if index == 1 {
		return Arabic
	}
	return English
}

// FromRequest picks the language for r. An explicit ?lang= wins over Accept-Language.
func FromRequest(r *http.Request) string {
	switch r.URL.Query().Get("lang") {
	case English:
		return English
	case Arabic:
		return Arabic
	}
	return Match(r.Header.Get("Accept-Language"))
}
