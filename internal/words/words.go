// Package words holds the per-language secret-word lists for the drawing
// game. English and Turkish lists ship embedded; a words directory can
// override or extend them without rebuilding.
package words

import (
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed words_en.yaml words_tr.yaml
var embedded embed.FS

type wordListFile struct {
	Language string   `yaml:"language"`
	Words    []string `yaml:"words"`
}

// Table holds the loaded lists, immutable after Load.
type Table struct {
	lists    map[string][]string
	fallback string
}

// Load builds the table from the embedded lists, then layers any
// words_<lang>.yaml files found in dir over them. An empty dir means
// embedded only.
func Load(dir, fallback string) (*Table, error) {
	t := &Table{lists: make(map[string][]string), fallback: fallback}

	entries, err := embedded.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("read embedded word lists: %w", err)
	}
	for _, e := range entries {
		raw, err := embedded.ReadFile(e.Name())
		if err != nil {
			return nil, fmt.Errorf("read embedded %s: %w", e.Name(), err)
		}
		if err := t.add(e.Name(), raw); err != nil {
			return nil, err
		}
	}

	if dir != "" {
		matches, err := filepath.Glob(filepath.Join(dir, "words_*.yaml"))
		if err != nil {
			return nil, fmt.Errorf("scan words dir %s: %w", dir, err)
		}
		for _, path := range matches {
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			if err := t.add(filepath.Base(path), raw); err != nil {
				return nil, err
			}
		}
	}

	if len(t.lists[fallback]) == 0 {
		return nil, fmt.Errorf("no words for fallback language %q", fallback)
	}
	return t, nil
}

func (t *Table) add(name string, raw []byte) error {
	var f wordListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	lang := f.Language
	if lang == "" {
		lang = strings.TrimSuffix(strings.TrimPrefix(name, "words_"), ".yaml")
	}
	list := make([]string, 0, len(f.Words))
	for _, w := range f.Words {
		if w = strings.TrimSpace(w); w != "" {
			list = append(list, w)
		}
	}
	if len(list) > 0 {
		t.lists[lang] = list
	}
	return nil
}

// Pick returns a random word for lang, falling back to the default
// language when lang has no list.
func (t *Table) Pick(lang string) string {
	list, ok := t.lists[lang]
	if !ok || len(list) == 0 {
		list = t.lists[t.fallback]
	}
	return list[rand.Intn(len(list))]
}

// Has reports whether lang has its own list.
func (t *Table) Has(lang string) bool {
	return len(t.lists[lang]) > 0
}

// Languages returns the loaded language codes, sorted.
func (t *Table) Languages() []string {
	out := make([]string, 0, len(t.lists))
	for lang := range t.lists {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Count returns the list length for lang.
func (t *Table) Count(lang string) int {
	return len(t.lists[lang])
}

var turkishLower = cases.Lower(language.Turkish)

// Fold lowercases a guess for comparison. Turkish gets its own caser so
// dotted and dotless i fold the way players expect.
func Fold(lang, s string) string {
	s = strings.TrimSpace(s)
	if lang == "tr" {
		return turkishLower.String(s)
	}
	return strings.ToLower(s)
}
