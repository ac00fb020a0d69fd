// Package command answers slash commands with fixed texts from the catalog.
package command

import (
	"fmt"
	"strings"

	"japagenie/internal/catalog"
	"japagenie/internal/domain"
)

// Command is a parsed slash command.
type Command struct {
	Name string   // lowercased, including the leading "/"
	Args []string // tokens after the command
}

// Parse returns the command at the start of text, or nil if text is not a command.
func Parse(text string) *Command {
	parts := strings.Fields(text)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], domain.CommandPrefix) {
		return nil
	}
	cmd := &Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = parts[1:]
	}
	return cmd
}

// Router maps command names to reply texts.
type Router struct {
	commands  map[string]string
	overrides map[string]map[string]string
	unknown   string
}

func NewRouter(c *catalog.Catalog) *Router {
	return &Router{
		commands:  c.Commands,
		overrides: c.ChannelCommands,
		unknown:   c.Notices.UnknownCommand,
	}
}

// Dispatch looks up the reply for a command token. Matching is exact and
// case-insensitive; ok is false for unknown commands.
func (r *Router) Dispatch(token string) (string, bool) {
	text, ok := r.commands[strings.ToLower(token)]
	return text, ok
}

// DispatchFor resolves the command in text for a given channel, preferring
// the channel's own reply over the shared one.
func (r *Router) DispatchFor(channel, text string) (string, bool) {
	cmd := Parse(text)
	if cmd == nil {
		return "", false
	}
	if reply, ok := r.overrides[channel][cmd.Name]; ok {
		return reply, true
	}
	return r.Dispatch(cmd.Name)
}

// UnknownReply renders the hint sent back for an unrecognized command.
func (r *Router) UnknownReply(name string) string {
	return fmt.Sprintf(r.unknown, name)
}

// Names returns the known command names.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	return names
}
