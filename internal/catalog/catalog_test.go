package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_Valid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("embedded catalog invalid: %v", err)
	}
	if c.Bot.Name != "Japa Genie" {
		t.Errorf("expected bot name 'Japa Genie', got %q", c.Bot.Name)
	}
}

func TestDefault_Tables(t *testing.T) {
	c := Default()

	if c.Topics.Ambiguous.Term != "visa" {
		t.Errorf("expected ambiguous term visa, got %q", c.Topics.Ambiguous.Term)
	}
	if got := c.Conversation.ResponseRates["private"]; got != 0.8 {
		t.Errorf("expected private rate 0.8, got %v", got)
	}
	if got := c.Conversation.ResponseRates["supergroup"]; got != 0.25 {
		t.Errorf("expected supergroup rate 0.25, got %v", got)
	}
	if c.Conversation.Delay.Min != 1500*time.Millisecond || c.Conversation.Delay.Max != 4500*time.Millisecond {
		t.Errorf("unexpected delay range %+v", c.Conversation.Delay)
	}
	if len(c.Conversation.Variations) != 6 {
		t.Errorf("expected 6 variations, got %d", len(c.Conversation.Variations))
	}
	if len(c.Conversation.Thinkers) != 3 {
		t.Errorf("expected 3 thinkers, got %d", len(c.Conversation.Thinkers))
	}
	for _, cmd := range []string{"/start", "/help", "/visa", "/work", "/study", "/countries", "/feedback"} {
		if c.Commands[cmd] == "" {
			t.Errorf("missing command text for %s", cmd)
		}
	}
	if !strings.HasPrefix(c.ChannelCommands["whatsapp"]["/start"], "Welcome to Japa Genie v2") {
		t.Error("expected whatsapp /start override")
	}
}

func TestVariation_Apply(t *testing.T) {
	tests := []struct {
		v    Variation
		in   string
		want string
	}{
		{Variation{}, "Good point!", "Good point!"},
		{Variation{Suffix: " :)"}, "Good point", "Good point :)"},
		{Variation{Prefix: "Hmm... ", Lower: true}, "Good Point", "Hmm... good point"},
		{Variation{Prefix: "I see. "}, "Good point", "I see. Good point"},
	}
	for _, tt := range tests {
		if got := tt.v.Apply(tt.in); got != tt.want {
			t.Errorf("Apply(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParse_NormalizesCase(t *testing.T) {
	data := []byte(`
topics:
  vocabulary: [Visa, "Work Permit"]
  ambiguous: {term: VISA, suppressedBy: [Credit]}
conversation:
  variations: [{}]
  rateCap: 0.9
  templates: {topic: [a], general: [b]}
notices: {fallback: f, failure: x, unknownCommand: "unknown %s"}
commands:
  /HELP: help text
`)
	c, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Topics.Vocabulary[1] != "work permit" {
		t.Errorf("expected lowercase vocabulary, got %q", c.Topics.Vocabulary[1])
	}
	if c.Topics.Ambiguous.SuppressedBy[0] != "credit" {
		t.Errorf("expected lowercase suppressor, got %q", c.Topics.Ambiguous.SuppressedBy[0])
	}
	if c.Commands["/help"] != "help text" {
		t.Errorf("expected lowercase command key")
	}
}

func TestParse_Invalid(t *testing.T) {
	data := []byte(`
topics: {vocabulary: []}
conversation:
  rateCap: 2
  responseRates: {private: 1.5}
`)
	_, err := Parse(data)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"vocabulary", "rateCap", "responseRates.private", "notices.fallback", "notices.unknownCommand"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownCommandPlaceholder(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{"one placeholder", "Unknown command: %s", false},
		{"missing", "", true},
		{"no placeholder", "Unknown command, try /help", true},
		{"two placeholders", "%s is not %s", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.Notices.UnknownCommand = tt.pattern
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "notices.unknownCommand") {
				t.Errorf("error should name the field: %v", err)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, defaultCatalog, 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Topics.Vocabulary) != len(Default().Topics.Vocabulary) {
		t.Error("expected file catalog to match embedded one")
	}
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Bot.Service != "japa-genie-bot" {
		t.Errorf("unexpected service %q", c.Bot.Service)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
