package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileName is the manifest document expected at the root of every bundle.
const FileName = "manifest.json"

// ErrMalformed reports a manifest that cannot be used at all: unreadable,
// invalid JSON, or missing the top-level templates section. Callers treat
// this as a soft failure for the whole run, not a per-entry one.
var ErrMalformed = errors.New("malformed manifest")

// Entry is one declared template deployment unit: a template file inside the
// bundle bound to the accounts it should be deployed into.
type Entry struct {
	TemplateFile string   `json:"template_file"`
	Accounts     []string `json:"accounts"`
}

// Manifest is the ordered desired-state description for one run. It is
// constructed once from a bundle and immutable afterward.
type Manifest struct {
	Templates []Entry
}

// Load reads and parses the manifest document from an extracted bundle
// directory.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Parse(data)
}

// Parse decodes a manifest document. The templates section must be present;
// a document without it is malformed.
func Parse(data []byte) (*Manifest, error) {
	var doc struct {
		Templates *[]Entry `json:"templates"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.Templates == nil {
		return nil, fmt.Errorf("%w: no 'templates' section", ErrMalformed)
	}
	return &Manifest{Templates: *doc.Templates}, nil
}

// ValidEntries returns the entries that carry both a template file and at
// least one target account, in manifest order. Invalid entries are skipped
// entirely with a warning; the accounts they would have targeted are never
// touched by that entry.
func (m *Manifest) ValidEntries() []Entry {
	out := make([]Entry, 0, len(m.Templates))
	for _, entry := range m.Templates {
		if entry.TemplateFile == "" {
			slog.Warn("template entry missing 'template_file', skipping", "component", "manifest")
			continue
		}
		if len(entry.Accounts) == 0 {
			slog.Warn("no accounts specified for template, skipping", "component", "manifest", "template_file", entry.TemplateFile)
			continue
		}
		out = append(out, entry)
	}
	return out
}
