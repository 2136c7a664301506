package features

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"pawpal-relay/internal/apperr"
	"pawpal-relay/internal/relay"
)

//go:embed features.yaml
var defaultCatalog []byte

const (
	defaultCount = 5
	maxCount     = 10
	textToken    = "{text}"
)

type Input string

const (
	InputText  Input = "text"
	InputPhoto Input = "photo"
	InputAny   Input = "any"
)

type Feature struct {
	Key          string   `yaml:"key"`
	Title        string   `yaml:"title"`
	Description  string   `yaml:"description"`
	Input        Input    `yaml:"input"`
	Count        int      `yaml:"count"`
	Persona      string   `yaml:"persona"`
	Rules        []string `yaml:"rules"`
	UserTemplate string   `yaml:"user_template"`
}

type document struct {
	Features []Feature `yaml:"features"`
}

// Catalog is immutable after load and safe for concurrent use.
type Catalog struct {
	order []string
	byKey map[string]Feature
}

func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads the catalog at path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "features.load", "read features file", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	const op = "features.parse"

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, op, "invalid features document", err)
	}
	if len(doc.Features) == 0 {
		return nil, apperr.New(apperr.KindConfig, op, "features document is empty")
	}

	c := &Catalog{byKey: make(map[string]Feature, len(doc.Features))}
	for i, f := range doc.Features {
		f.Key = strings.ToLower(strings.TrimSpace(f.Key))
		if f.Key == "" {
			return nil, apperr.New(apperr.KindConfig, op, fmt.Sprintf("feature #%d has no key", i+1))
		}
		if _, dup := c.byKey[f.Key]; dup {
			return nil, apperr.New(apperr.KindConfig, op, "duplicate feature "+f.Key)
		}
		switch f.Input {
		case "":
			f.Input = InputText
		case InputText, InputPhoto, InputAny:
		default:
			return nil, apperr.New(apperr.KindConfig, op, fmt.Sprintf("feature %s: unknown input %q", f.Key, f.Input))
		}
		if strings.TrimSpace(f.Persona) == "" {
			return nil, apperr.New(apperr.KindConfig, op, "feature "+f.Key+" has no persona")
		}
		if f.Count <= 0 {
			f.Count = defaultCount
		}
		if f.Count > maxCount {
			f.Count = maxCount
		}
		if f.Title == "" {
			f.Title = f.Key
		}
		f.Rules = append([]string(nil), f.Rules...)

		c.order = append(c.order, f.Key)
		c.byKey[f.Key] = f
	}
	return c, nil
}

func (c *Catalog) List() []Feature {
	out := make([]Feature, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.byKey[key])
	}
	return out
}

func (c *Catalog) Get(key string) (Feature, bool) {
	f, ok := c.byKey[strings.ToLower(strings.TrimSpace(key))]
	return f, ok
}

// Build renders the relay request for feature key. Text-only features drop
// the image.
func (c *Catalog) Build(key, text string, image *relay.Image) (relay.Request, error) {
	const op = "features.build"

	f, ok := c.Get(key)
	if !ok {
		return relay.Request{}, apperr.New(apperr.KindInput, op, fmt.Sprintf("unknown feature %q", key))
	}

	text = strings.TrimSpace(text)
	switch f.Input {
	case InputText:
		if text == "" {
			return relay.Request{}, apperr.New(apperr.KindInput, op, f.Title+" needs some text")
		}
		image = nil
	case InputPhoto:
		if image == nil {
			return relay.Request{}, apperr.New(apperr.KindInput, op, f.Title+" needs a photo")
		}
	case InputAny:
		if text == "" && image == nil {
			return relay.Request{}, apperr.New(apperr.KindInput, op, "enter some text or attach a photo first")
		}
	}

	return relay.Request{
		SystemPrompt: f.SystemPrompt(),
		UserPrompt:   f.UserPrompt(text),
		Image:        image,
	}, nil
}

func (f Feature) SystemPrompt() string {
	var b strings.Builder
	b.Grow(512)

	b.WriteString(strings.TrimSpace(f.Persona))
	b.WriteString("\n\nRULES:\n")
	fmt.Fprintf(&b, "- Answer with a numbered list of exactly %d suggestions, one per line.\n", f.Count)
	b.WriteString("- No preamble, no headings, no closing remarks.\n")
	b.WriteString("- Do not wrap suggestions in quotes.\n")
	for _, rule := range f.Rules {
		if rule = strings.TrimSpace(rule); rule != "" {
			b.WriteString("- " + rule + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// UserPrompt fills the template. Empty text stays empty so the forwarder can
// substitute its image placeholder.
func (f Feature) UserPrompt(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if !strings.Contains(f.UserTemplate, textToken) {
		return text
	}
	return strings.ReplaceAll(f.UserTemplate, textToken, text)
}
