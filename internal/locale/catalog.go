// Package locale holds the user-facing reply templates.
package locale

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultLanguage is used when no language is configured.
const DefaultLanguage = "ja"

//go:embed messages.yaml
var builtin []byte

// Messages is the template set for one language.
type Messages struct {
	Welcome string `yaml:"welcome"`
	Error   string `yaml:"error"`
}

// Catalog renders templates for a single, fixed language.
type Catalog struct {
	lang string
	msgs Messages
}

// Languages lists the built-in language codes.
func Languages() []string {
	all, err := parse(builtin)
	if err != nil {
		return nil
	}
	langs := make([]string, 0, len(all))
	for k := range all {
		langs = append(langs, k)
	}
	sort.Strings(langs)
	return langs
}

// New returns the catalog for lang (DefaultLanguage when empty).
func New(lang string) (*Catalog, error) {
	return load(builtin, lang)
}

// Load parses a user supplied catalog, e.g. to override wording.
func Load(data []byte, lang string) (*Catalog, error) {
	return load(data, lang)
}

// Open loads lang from the catalog file at path, or from the built-in
// catalog when path is empty.
func Open(path, lang string) (*Catalog, error) {
	if path == "" {
		return New(lang)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locale catalog: %w", err)
	}
	return Load(data, lang)
}

func load(data []byte, lang string) (*Catalog, error) {
	if lang == "" {
		lang = DefaultLanguage
	}
	all, err := parse(data)
	if err != nil {
		return nil, err
	}
	msgs, ok := all[lang]
	if !ok {
		return nil, fmt.Errorf("locale %q not found", lang)
	}
	if msgs.Welcome == "" || msgs.Error == "" {
		return nil, fmt.Errorf("locale %q: welcome and error templates are required", lang)
	}
	return &Catalog{lang: lang, msgs: msgs}, nil
}

func parse(data []byte) (map[string]Messages, error) {
	var all map[string]Messages
	if err := yaml.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parse locale catalog: %w", err)
	}
	return all, nil
}

func (c *Catalog) Language() string { return c.lang }

// Welcome renders the greeting sent to members joining a conversation.
func (c *Catalog) Welcome(bot, model string) string {
	return strings.NewReplacer("{bot}", bot, "{model}", model).Replace(c.msgs.Welcome)
}

// Error renders the apology sent when inference fails; detail is embedded verbatim.
func (c *Catalog) Error(detail string) string {
	return strings.NewReplacer("{detail}", detail).Replace(c.msgs.Error)
}
