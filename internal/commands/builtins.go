package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	. "github.com/roelfdiedericks/pagebot/internal/logging"
)

// Reply layouts
const (
	TimeLayout = time.RFC1123 // Mon, 02 Jan 2006 15:04:05 MST
	DateLayout = "Mon Jan 02 2006"

	EmojiText     = "😀 😍 😂 🤖 👍 🎉 🙏"
	JokeText      = "😄 Joke: I'm a bot, so I never need coffee to wake up. Just a steady supply of 0s and 1s 😂"
	AIUsageText   = "Usage: /ai <your question>"
	AIDisabledTxt = "⚠️ AI is not enabled. Ask the admin to set an OpenAI key."
	AIAnswerLabel = "🤖 AI answer:\n"
)

// FormatTime renders t the way /time and the broadcast do.
func FormatTime(t time.Time) string {
	return "🕒 Current time: " + t.Format(TimeLayout)
}

// registerBuiltins registers the fixed command table
func registerBuiltins(m *Manager) {
	m.Register(&Command{
		Name:        "/hi",
		Description: "Say hello",
		Aliases:     []string{"/hello"},
		Handler:     handleHi,
	})

	m.Register(&Command{
		Name:        "/time",
		Description: "Show the current time",
		Handler:     handleTime,
	})

	m.Register(&Command{
		Name:        "/date",
		Description: "Show today's date",
		Handler:     handleDate,
	})

	m.Register(&Command{
		Name:        "/owner",
		Description: "Show the bot owner",
		Handler:     handleOwner,
	})

	m.Register(&Command{
		Name:        "/help",
		Description: "Show this list",
		Handler:     handleHelp,
	})

	m.Register(&Command{
		Name:        "/joke",
		Description: "Tell a joke",
		Handler:     handleJoke,
	})

	m.Register(&Command{
		Name:        "/emoji",
		Description: "Show some emoji",
		Handler:     handleEmoji,
	})

	m.Register(&Command{
		Name:        "/members",
		Description: "Show the number of registered users",
		Handler:     handleMembers,
	})

	m.Register(&Command{
		Name:        "/subscribe",
		Description: "Get the time sent to you periodically",
		Handler:     handleSubscribe,
	})

	m.Register(&Command{
		Name:        "/unsubscribe",
		Description: "Stop the periodic time messages",
		Handler:     handleUnsubscribe,
	})

	m.Register(&Command{
		Name:        "/ai",
		Description: "Ask the AI (when enabled)",
		Usage:       "[question]",
		Handler:     handleAI,
	})
}

func handleHi(ctx context.Context, args *CommandArgs) *Result {
	return &Result{Text: fmt.Sprintf("Hi! 👋 I'm %s. How can I help?", botName(args.Env))}
}

func handleTime(ctx context.Context, args *CommandArgs) *Result {
	return &Result{Text: FormatTime(args.Env.now())}
}

func handleDate(ctx context.Context, args *CommandArgs) *Result {
	return &Result{Text: "📅 Today: " + args.Env.now().Format(DateLayout)}
}

func handleOwner(ctx context.Context, args *CommandArgs) *Result {
	return &Result{Text: fmt.Sprintf("👤 Owner: %s (Admin UID: %s)", args.Env.OwnerName, args.Env.AdminID)}
}

// handleHelp lists every registered command
func handleHelp(ctx context.Context, args *CommandArgs) *Result {
	var text strings.Builder
	fmt.Fprintf(&text, "📚 %s commands:", botName(args.Env))
	for _, cmd := range args.Manager.List() {
		text.WriteString("\n")
		text.WriteString(cmd.Name)
		if cmd.Usage != "" {
			text.WriteString(" " + cmd.Usage)
		}
		text.WriteString(" - " + cmd.Description)
	}
	return &Result{Text: text.String()}
}

func handleJoke(ctx context.Context, args *CommandArgs) *Result {
	return &Result{Text: JokeText}
}

func handleEmoji(ctx context.Context, args *CommandArgs) *Result {
	return &Result{Text: EmojiText}
}

func handleMembers(ctx context.Context, args *CommandArgs) *Result {
	return &Result{Text: fmt.Sprintf("👥 Registered members: %d", args.Env.Store.MemberCount())}
}

func handleSubscribe(ctx context.Context, args *CommandArgs) *Result {
	if err := args.Env.Store.Subscribe(args.ThreadID); err != nil {
		return &Result{Error: fmt.Errorf("subscribe %s: %w", args.ThreadID, err)}
	}
	L_info("commands: subscribed", "thread", args.ThreadID)
	return &Result{Text: fmt.Sprintf("✅ Subscribed. You'll get the current time %s.", every(args.Env.BroadcastInterval))}
}

func handleUnsubscribe(ctx context.Context, args *CommandArgs) *Result {
	if err := args.Env.Store.Unsubscribe(args.ThreadID); err != nil {
		return &Result{Error: fmt.Errorf("unsubscribe %s: %w", args.ThreadID, err)}
	}
	L_info("commands: unsubscribed", "thread", args.ThreadID)
	return &Result{Text: "❌ Unsubscribed. No more time updates."}
}

// handleAI never calls the completer for an empty prompt or when disabled
func handleAI(ctx context.Context, args *CommandArgs) *Result {
	if args.RawArgs == "" {
		return &Result{Text: AIUsageText}
	}
	c := args.Env.Completer
	if c == nil || !c.Enabled() {
		return &Result{Text: AIDisabledTxt}
	}
	return &Result{Text: AIAnswerLabel + c.Complete(ctx, args.RawArgs)}
}

func botName(env *Env) string {
	if env.BotName == "" {
		return "PageBot"
	}
	return env.BotName
}

func every(d time.Duration) string {
	switch {
	case d <= 0 || d == time.Hour:
		return "every hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("every %d hours", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("every %d minutes", d/time.Minute)
	default:
		return "every " + d.String()
	}
}
