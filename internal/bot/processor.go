// Package bot runs normalized webhook events through registration and the
// command router.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/roelfdiedericks/pagebot/internal/commands"
	. "github.com/roelfdiedericks/pagebot/internal/logging"
	"github.com/roelfdiedericks/pagebot/internal/members"
	"github.com/roelfdiedericks/pagebot/internal/messenger"
	"github.com/roelfdiedericks/pagebot/internal/metrics"
	"github.com/roelfdiedericks/pagebot/internal/reporter"
	"github.com/roelfdiedericks/pagebot/internal/webhook"
)

// Processor handles events for the webhook.
type Processor struct {
	registrar *members.Registrar
	router    *commands.Manager
	sender    messenger.Sender
	reporter  *reporter.Reporter
}

var _ webhook.EventHandler = (*Processor)(nil)

// NewProcessor wires the pipeline.
func NewProcessor(registrar *members.Registrar, router *commands.Manager, sender messenger.Sender, rep *reporter.Reporter) *Processor {
	return &Processor{
		registrar: registrar,
		router:    router,
		sender:    sender,
		reporter:  rep,
	}
}

// HandleEvents processes events one at a time in arrival order. Failures are
// reported and never abort the remaining events.
func (p *Processor) HandleEvents(ctx context.Context, events []webhook.Event) {
	for _, ev := range events {
		p.handle(ctx, ev)
	}
}

func (p *Processor) handle(ctx context.Context, ev webhook.Event) {
	unlock := p.registrar.Lock(ev.SenderID)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			L_error("bot: panic handling event", "sender", ev.SenderID, "panic", r)
			p.reporter.Report(ctx, reporter.Report{
				Component: "bot",
				Message:   fmt.Sprintf("panic handling event from %s: %v", ev.SenderID, r),
				Detail:    string(debug.Stack()),
			})
		}
	}()

	metrics.EventsProcessed.Inc()

	if _, err := p.registrar.Register(ctx, ev.SenderID); err != nil {
		p.reporter.ReportError(ctx, "registration", err)
	}

	if !commands.IsCommand(ev.Text) {
		L_trace("bot: ignoring non-command text", "sender", ev.SenderID)
		return
	}

	res := p.router.Execute(ctx, ev.Text, ev.SenderID)
	sendErr := p.sender.Send(ctx, ev.SenderID, res.Text)
	if err := errors.Join(res.Error, wrapSend(sendErr)); err != nil {
		p.reporter.ReportError(ctx, "commands", err)
	}
}

func wrapSend(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("send reply: %w", err)
}
