// Package prompts loads the extraction template sent with every document.
// The template is opaque text; it is never parsed or rewritten.
package prompts

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// BuiltinSource is the Source of the embedded default template.
const BuiltinSource = "builtin:default.md"

//go:embed default.md
var defaultTemplate string

// Template is the extraction instruction text and its provenance.
type Template struct {
	Text   string `json:"-"`
	Hash   string `json:"hash"`
	Source string `json:"source"`
}

// New wraps text as a template from source.
func New(text, source string) Template {
	return Template{
		Text:   text,
		Hash:   HashText(text),
		Source: source,
	}
}

// HashText returns a SHA256 hash of the text for provenance.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Default returns the embedded template.
func Default() Template {
	return New(defaultTemplate, BuiltinSource)
}

// Load reads the template at path. When path is empty or does not exist the
// embedded default is returned and fromFile is false.
func Load(path string) (tmpl Template, fromFile bool, err error) {
	if path == "" {
		return Default(), false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), false, nil
		}
		return Template{}, false, fmt.Errorf("failed to read template %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return Template{}, false, fmt.Errorf("template %s is empty", path)
	}
	return New(string(data), path), true, nil
}

// ShortHash returns the first 12 hex digits of the hash.
func (t Template) ShortHash() string {
	if len(t.Hash) < 12 {
		return t.Hash
	}
	return t.Hash[:12]
}
