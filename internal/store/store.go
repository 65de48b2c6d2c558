// Package store persists bot state: registered members, broadcast
// subscribers and the (reserved) thread registry.
package store

import (
	"encoding/json"
	"time"
)

// Member is created once, on the first non-echo message from a sender.
type Member struct {
	ID        string    `json:"id"`
	FirstSeen time.Time `json:"firstSeen"`
}

// Store is the persistence gateway. Every mutating call flushes before it
// returns; a returned error means the in-memory change stands but may not
// have reached disk.
type Store interface {
	Member(id string) (Member, bool)
	// AddMember inserts id if absent. count is the member total after the call.
	AddMember(id string, at time.Time) (count int, created bool, err error)
	MemberCount() int

	Subscribe(id string) error
	Unsubscribe(id string) error
	IsSubscribed(id string) bool
	// Subscribers returns a sorted snapshot.
	Subscribers() []string
	SubscriberCount() int

	Thread(id string) (json.RawMessage, bool)
	PutThread(id string, meta json.RawMessage) error

	Flush() error
}

// document is the on-disk layout.
type document struct {
	Members     map[string]Member          `json:"members"`
	Threads     map[string]json.RawMessage `json:"threads"`
	Subscribers map[string]bool            `json:"subscribers"`
}

func newDocument() *document {
	return &document{
		Members:     make(map[string]Member),
		Threads:     make(map[string]json.RawMessage),
		Subscribers: make(map[string]bool),
	}
}

// normalize fills nil maps and drops subscriber entries that are not true.
func (d *document) normalize() {
	if d.Members == nil {
		d.Members = make(map[string]Member)
	}
	if d.Threads == nil {
		d.Threads = make(map[string]json.RawMessage)
	}
	if d.Subscribers == nil {
		d.Subscribers = make(map[string]bool)
	}
	for id, on := range d.Subscribers {
		if !on {
			delete(d.Subscribers, id)
		}
	}
	for id, m := range d.Members {
		if m.ID == "" {
			m.ID = id
			d.Members[id] = m
		}
	}
}
