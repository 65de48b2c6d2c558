// Package messengertest provides a recording messenger.Sender for tests.
package messengertest

import (
	"context"
	"errors"
	"sync"
)

// ErrInjected is returned for recipients configured to fail.
var ErrInjected = errors.New("injected send failure")

// Message is one recorded send.
type Message struct {
	RecipientID string
	Text        string
}

// Recorder records every send in order. Sends to ids in FailFor are recorded
// too but return ErrInjected.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	failFor  map[string]bool
	failAll  bool
}

// NewRecorder returns a recorder that fails for the given recipients.
func NewRecorder(failFor ...string) *Recorder {
	r := &Recorder{failFor: make(map[string]bool)}
	for _, id := range failFor {
		r.failFor[id] = true
	}
	return r
}

// FailAll makes every subsequent send fail.
func (r *Recorder) FailAll(fail bool) {
	r.mu.Lock()
	r.failAll = fail
	r.mu.Unlock()
}

// Send implements messenger.Sender.
func (r *Recorder) Send(_ context.Context, recipientID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{RecipientID: recipientID, Text: text})
	if r.failAll || r.failFor[recipientID] {
		return ErrInjected
	}
	return nil
}

// Messages returns a copy of all recorded sends.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// To returns the texts sent to one recipient, in order.
func (r *Recorder) To(recipientID string) []string {
	var out []string
	for _, m := range r.Messages() {
		if m.RecipientID == recipientID {
			out = append(out, m.Text)
		}
	}
	return out
}

// Reset clears the recorded sends.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()
}
