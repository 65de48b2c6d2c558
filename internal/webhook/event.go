// Package webhook handles the Messenger platform webhook: verification,
// payload signatures and normalization of delivered messaging events.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ObjectPage is the only payload object this bot handles.
const ObjectPage = "page"

var (
	// ErrNotPage means the payload is not a page subscription delivery.
	ErrNotPage = errors.New("not a page event")
	// ErrMalformed means the body could not be decoded.
	ErrMalformed = errors.New("malformed webhook payload")
)

// Event is a normalized inbound text message.
type Event struct {
	SenderID string
	Text     string
}

type payload struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []messagingEvent `json:"messaging"`
}

type messagingEvent struct {
	Sender *struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient *struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64    `json:"timestamp"`
	Message   *message `json:"message"`
}

type message struct {
	MID    string  `json:"mid"`
	Text   *string `json:"text"`
	IsEcho bool    `json:"is_echo"`
}

// Normalize decodes a webhook body into text events in arrival order.
// Events without a sender, echoes of the page's own messages and events
// without a message (postbacks, deliveries, reads) are dropped.
func Normalize(body []byte) ([]Event, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		// a type mismatch still decodes the rest, so the object is known
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && p.Object != ObjectPage {
			return nil, ErrNotPage
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Object != ObjectPage {
		return nil, ErrNotPage
	}

	events := make([]Event, 0)
	for _, e := range p.Entry {
		for _, m := range e.Messaging {
			if m.Sender == nil || m.Sender.ID == "" {
				continue
			}
			if m.Message == nil || m.Message.IsEcho {
				continue
			}
			text := ""
			if m.Message.Text != nil {
				text = strings.TrimSpace(*m.Message.Text)
			}
			events = append(events, Event{SenderID: m.Sender.ID, Text: text})
		}
	}
	return events, nil
}
