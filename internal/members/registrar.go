// Package members registers first-time senders and welcomes them.
package members

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	. "github.com/roelfdiedericks/pagebot/internal/logging"
	"github.com/roelfdiedericks/pagebot/internal/messenger"
	"github.com/roelfdiedericks/pagebot/internal/metrics"
	"github.com/roelfdiedericks/pagebot/internal/store"
)

// Registration is the outcome of Register.
type Registration struct {
	Created bool
	Ordinal int // member-set size after insertion, 0 when not created
}

// Registrar creates Member records on first contact.
type Registrar struct {
	store   store.Store
	sender  messenger.Sender
	botName string
	now     func() time.Time
	locks   *keyedMutex
}

// NewRegistrar creates a Registrar.
func NewRegistrar(st store.Store, sender messenger.Sender, botName string) *Registrar {
	return &Registrar{
		store:   st,
		sender:  sender,
		botName: botName,
		now:     time.Now,
		locks:   newKeyedMutex(),
	}
}

// SetClock overrides the time source.
func (r *Registrar) SetClock(now func() time.Time) {
	r.now = now
}

// Lock enters senderID's critical section. Events from one sender are handled
// one at a time, across concurrent webhook deliveries.
func (r *Registrar) Lock(senderID string) (unlock func()) {
	return r.locks.lock(senderID)
}

// Register creates senderID's member record if absent and sends the two
// welcome messages. Known senders cause no side effects.
// The returned error joins a flush failure and any welcome send failures.
func (r *Registrar) Register(ctx context.Context, senderID string) (Registration, error) {
	if _, ok := r.store.Member(senderID); ok {
		return Registration{}, nil
	}

	count, created, err := r.store.AddMember(senderID, r.now())
	if !created {
		return Registration{}, err
	}
	metrics.MembersRegistered.Inc()
	L_info("members: registered", "sender", senderID, "ordinal", count)

	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("persist member %s: %w", senderID, err))
	}
	for _, text := range r.welcome(count) {
		if err := r.sender.Send(ctx, senderID, text); err != nil {
			errs = append(errs, fmt.Errorf("welcome %s: %w", senderID, err))
		}
	}
	return Registration{Created: true, Ordinal: count}, errors.Join(errs...)
}

func (r *Registrar) welcome(ordinal int) []string {
	return []string{
		fmt.Sprintf("👋 Welcome! This is your first time with %s.", r.botName),
		fmt.Sprintf("🎉 You are our %s member!", humanize.Ordinal(ordinal)),
	}
}
