package commands

import (
	"time"

	"github.com/roelfdiedericks/pagebot/internal/completion"
	"github.com/roelfdiedericks/pagebot/internal/store"
)

// Env is what command handlers can see and touch.
type Env struct {
	Store     store.Store
	Completer completion.Completer // nil disables /ai

	BotName   string
	OwnerName string
	AdminID   string

	Location          *time.Location // zone for /time and /date
	BroadcastInterval time.Duration  // advertised by /subscribe
	Now               func() time.Time
}

func (e *Env) now() time.Time {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	loc := e.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

// Result is the single reply produced by a command
type Result struct {
	Text  string // reply sent to the thread
	Error error  // set when the handler failed; Text then holds a generic apology
}
