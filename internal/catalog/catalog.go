// Package catalog holds the static tables that drive the gateway's behavior:
// topic vocabulary, response probabilities, reply templates, command texts
// and user-facing notices. The tables are plain data so they can be reviewed
// and tested without wiring up the rest of the service.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the root of the data tables.
type Catalog struct {
	Bot             BotInfo                      `yaml:"bot"`
	Topics          Topics                       `yaml:"topics"`
	Conversation    Conversation                 `yaml:"conversation"`
	Notices         Notices                      `yaml:"notices"`
	Commands        map[string]string            `yaml:"commands"`
	ChannelCommands map[string]map[string]string `yaml:"channelCommands"`
}

type BotInfo struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Service string `yaml:"service"`
}

// Topics configures keyword detection.
type Topics struct {
	Vocabulary []string      `yaml:"vocabulary"`
	Ambiguous  AmbiguousTerm `yaml:"ambiguous"`
}

// AmbiguousTerm is a vocabulary entry that is dropped when any of the
// SuppressedBy words also appears in the text.
type AmbiguousTerm struct {
	Term         string   `yaml:"term"`
	SuppressedBy []string `yaml:"suppressedBy"`
}

// Conversation holds the response policy tables.
type Conversation struct {
	MinTokens     int                `yaml:"minTokens"`
	QuestionWords []string           `yaml:"questionWords"`
	ResponseRates map[string]float64 `yaml:"responseRates"` // keyed by chat kind
	DefaultRate   float64            `yaml:"defaultRate"`
	Boost         float64            `yaml:"boost"`
	RateCap       float64            `yaml:"rateCap"`
	ThinkerChance float64            `yaml:"thinkerChance"`
	Thinkers      []string           `yaml:"thinkers"`
	Variations    []Variation        `yaml:"variations"`
	Delay         DelayRange         `yaml:"delay"`
	Templates     Templates          `yaml:"templates"`
}

// Variation is a light textual transform applied to a chosen template.
type Variation struct {
	Prefix string `yaml:"prefix,omitempty"`
	Suffix string `yaml:"suffix,omitempty"`
	Lower  bool   `yaml:"lower,omitempty"`
}

// Apply returns s transformed by the variation.
func (v Variation) Apply(s string) string {
	if v.Lower {
		s = strings.ToLower(s)
	}
	return v.Prefix + s + v.Suffix
}

type DelayRange struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

type Templates struct {
	Topic   []string `yaml:"topic"`
	General []string `yaml:"general"`
}

// Notices are fixed texts sent by the gateway itself.
type Notices struct {
	UnknownCommand string `yaml:"unknownCommand"` // fmt pattern, %s is the command
	Fallback       string `yaml:"fallback"`
	Failure        string `yaml:"failure"`
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog from a YAML file. An empty path returns Default().
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// normalize lowercases lookup keys so matching can be case-insensitive.
func (c *Catalog) normalize() {
	for i, kw := range c.Topics.Vocabulary {
		c.Topics.Vocabulary[i] = strings.ToLower(kw)
	}
	c.Topics.Ambiguous.Term = strings.ToLower(c.Topics.Ambiguous.Term)
	for i, w := range c.Topics.Ambiguous.SuppressedBy {
		c.Topics.Ambiguous.SuppressedBy[i] = strings.ToLower(w)
	}
	c.Commands = lowerKeys(c.Commands)
	for ch, cmds := range c.ChannelCommands {
		c.ChannelCommands[ch] = lowerKeys(cmds)
	}
}

func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Validate checks that every table the pipeline draws from is usable.
func (c *Catalog) Validate() error {
	var errs []string

	if len(c.Topics.Vocabulary) == 0 {
		errs = append(errs, "topics.vocabulary must not be empty")
	}
	conv := c.Conversation
	if conv.MinTokens < 0 {
		errs = append(errs, "conversation.minTokens must be >= 0")
	}
	if len(conv.Templates.Topic) == 0 || len(conv.Templates.General) == 0 {
		errs = append(errs, "conversation.templates.topic and .general must not be empty")
	}
	if len(conv.Variations) == 0 {
		errs = append(errs, "conversation.variations must not be empty")
	}
	if conv.ThinkerChance > 0 && len(conv.Thinkers) == 0 {
		errs = append(errs, "conversation.thinkers must not be empty when thinkerChance > 0")
	}
	for kind, rate := range conv.ResponseRates {
		if rate < 0 || rate > 1 {
			errs = append(errs, fmt.Sprintf("conversation.responseRates.%s must be within [0,1]", kind))
		}
	}
	if conv.DefaultRate < 0 || conv.DefaultRate > 1 {
		errs = append(errs, "conversation.defaultRate must be within [0,1]")
	}
	if conv.RateCap <= 0 || conv.RateCap > 1 {
		errs = append(errs, "conversation.rateCap must be within (0,1]")
	}
	if conv.Delay.Min < 0 || conv.Delay.Max < conv.Delay.Min {
		errs = append(errs, "conversation.delay must satisfy 0 <= min <= max")
	}
	for name := range c.Commands {
		if !strings.HasPrefix(name, "/") {
			errs = append(errs, fmt.Sprintf("commands.%s must start with /", name))
		}
	}
	if c.Notices.Fallback == "" || c.Notices.Failure == "" {
		errs = append(errs, "notices.fallback and notices.failure are required")
	}
	if strings.Count(c.Notices.UnknownCommand, "%s") != 1 {
		errs = append(errs, "notices.unknownCommand must contain exactly one %s for the command name")
	}

	if len(errs) > 0 {
		return fmt.Errorf("catalog validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
