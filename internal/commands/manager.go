// Package commands parses slash commands and dispatches them to the fixed
// command table.
package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"unicode"

	. "github.com/roelfdiedericks/pagebot/internal/logging"
	"github.com/roelfdiedericks/pagebot/internal/metrics"
)

// Marker starts every command.
const Marker = "/"

// FailureText is the reply when a handler fails.
const FailureText = "⚠️ Something went wrong while handling your command. The admin has been notified."

// Command represents a slash command
type Command struct {
	Name        string   // e.g., "/time"
	Description string   // e.g., "Show the current time"
	Usage       string   // argument usage, e.g. "[question]" (optional)
	Aliases     []string // e.g., ["/hello"]
	Handler     CommandHandler
}

// CommandHandler is the function signature for command handlers
type CommandHandler func(ctx context.Context, args *CommandArgs) *Result

// CommandArgs contains the arguments passed to a command handler
type CommandArgs struct {
	ThreadID string // conversation the command came from
	RawArgs  string // everything after the command name, trimmed
	Usage    string // copy of Command.Usage for error messages
	Env      *Env
	Manager  *Manager
}

// Manager is the command registry
type Manager struct {
	mu       sync.RWMutex
	commands map[string]*Command // keyed by name and aliases (lowercase)
	ordered  []*Command          // registration order, for /help
	env      *Env
}

// NewManager creates a manager with the built-in command table.
func NewManager(env *Env) *Manager {
	if env == nil {
		env = &Env{}
	}
	m := &Manager{
		commands: make(map[string]*Command),
		env:      env,
	}
	registerBuiltins(m)
	return m
}

// Register adds a command to the manager
func (m *Manager) Register(cmd *Command) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := strings.ToLower(cmd.Name)
	if _, exists := m.commands[name]; !exists {
		m.ordered = append(m.ordered, cmd)
	}
	m.commands[name] = cmd

	for _, alias := range cmd.Aliases {
		m.commands[strings.ToLower(alias)] = cmd
	}
}

// Get returns a command by name (or alias), with or without the marker.
func (m *Manager) Get(name string) *Command {
	name = strings.ToLower(name)
	if !strings.HasPrefix(name, Marker) {
		name = Marker + name
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commands[name]
}

// List returns all unique commands (no aliases) in registration order
func (m *Manager) List() []*Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Command, len(m.ordered))
	copy(list, m.ordered)
	return list
}

// Execute parses text and runs the matching command for threadID.
// It always returns exactly one reply.
func (m *Manager) Execute(ctx context.Context, text string, threadID string) (res *Result) {
	name, rawArgs := Parse(text)

	cmd := m.Get(name)
	if cmd == nil {
		metrics.CommandsHandled.WithLabelValues("unknown").Inc()
		L_debug("commands: unknown", "name", name, "thread", threadID)
		return &Result{Text: unknownText(name)}
	}
	metrics.CommandsHandled.WithLabelValues(strings.TrimPrefix(cmd.Name, Marker)).Inc()
	L_debug("commands: execute", "command", cmd.Name, "thread", threadID, "argsLen", len(rawArgs))

	defer func() {
		if p := recover(); p != nil {
			L_error("commands: handler panic", "command", cmd.Name, "panic", p)
			res = &Result{
				Text:  FailureText,
				Error: fmt.Errorf("%s: panic: %v\n%s", cmd.Name, p, debug.Stack()),
			}
		}
	}()

	res = cmd.Handler(ctx, &CommandArgs{
		ThreadID: threadID,
		RawArgs:  rawArgs,
		Usage:    cmd.Usage,
		Env:      m.env,
		Manager:  m,
	})
	if res == nil {
		res = &Result{Text: FailureText, Error: fmt.Errorf("%s: handler returned no result", cmd.Name)}
	}
	if res.Error != nil && res.Text == "" {
		res.Text = FailureText
	}
	return res
}

// IsCommand checks if text is a command
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), Marker)
}

// Parse splits a command into its lower-cased name (without the marker) and
// the trimmed remainder after the first whitespace run.
func Parse(text string) (name, args string) {
	text = strings.TrimPrefix(strings.TrimSpace(text), Marker)
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return strings.ToLower(text), ""
	}
	return strings.ToLower(text[:i]), strings.TrimSpace(text[i:])
}

func unknownText(name string) string {
	return fmt.Sprintf("❓ Unknown command: %s%s\nType /help to see all commands.", Marker, name)
}
