// Package client implements the optimistic-send reconciliation state machine
// used by chat clients: a submitted message is rendered immediately under a
// temporary id and later replaced by the authoritative server record, or
// marked failed and kept for retry.
package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/clamor-chat/clamor/types"
	"github.com/mitchellh/hashstructure/v2"
)

type Status string

const (
	StatusSending Status = "sending"
	StatusFailed  Status = "failed"
	// confirmed is implicit: the entry carries the authoritative message and
	// an empty Status
)

// Entry is one timeline position: either a confirmed message or a pending
// locally originated one.
type Entry struct {
	Message types.Message
	TempId  string // empty once confirmed
	Status  Status // empty once confirmed
}

func (e Entry) Pending() bool { return e.TempId != "" }

// SendFunc issues the create request over the live channel. The transport
// calls Confirm or Fail with the same temp id when the acknowledgment
// arrives (or times out).
type SendFunc func(tempId, channelId, content string)

// Outbox is the per-channel message timeline of one client. Safe for
// concurrent use: ack callbacks and broadcast ingestion may arrive on
// different goroutines.
type Outbox struct {
	mu        sync.Mutex
	channelId string
	authorId  string
	entries   []*Entry
	byId      map[string]*Entry // authoritative id -> entry
	byTemp    map[string]*Entry
	send      SendFunc
	now       func() time.Time
	nonce     uint64
}

func NewOutbox(channelId, authorId string, send SendFunc) *Outbox {
	return &Outbox{
		channelId: channelId,
		authorId:  authorId,
		byId:      make(map[string]*Entry),
		byTemp:    make(map[string]*Entry),
		send:      send,
		now:       time.Now,
	}
}

func (o *Outbox) tempId(content string) string {
	o.nonce++
	h, err := hashstructure.Hash(struct {
		Content string
		Nonce   uint64
		At      int64
	}{content, o.nonce, o.now().UnixNano()}, hashstructure.FormatV2, nil)
	if err != nil {
		// hashstructure cannot fail on this shape, but never emit a
		// colliding id
		return fmt.Sprintf("tmp_%d", o.nonce)
	}
	return fmt.Sprintf("tmp_%x", h)
}

// Submit appends a provisional entry with status sending and issues the
// create request. Returns the temporary id.
func (o *Outbox) Submit(content string) string {
	o.mu.Lock()
	id := o.tempId(content)
	entry := &Entry{
		Message: types.Message{
			Id:        id,
			ChannelId: o.channelId,
			AuthorId:  o.authorId,
			Content:   content,
			CreatedAt: o.now(),
		},
		TempId: id,
		Status: StatusSending,
	}
	o.entries = append(o.entries, entry)
	o.byTemp[id] = entry
	o.mu.Unlock()
	o.send(id, o.channelId, content)
	return id
}

// Confirm replaces the pending entry, matched by temp id, with the
// authoritative message in place. The temp id is dropped entirely. If the
// authoritative id already arrived via broadcast (another path won the race),
// the pending entry is removed instead of duplicated.
func (o *Outbox) Confirm(tempId string, msg types.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.byTemp[tempId]
	if !ok {
		return
	}
	delete(o.byTemp, tempId)
	if _, seen := o.byId[msg.Id]; seen {
		o.remove(entry)
		return
	}
	entry.Message = msg
	entry.TempId = ""
	entry.Status = ""
	o.byId[msg.Id] = entry
}

// Fail marks the pending entry failed; its content stays in the timeline for
// a user-initiated retry.
func (o *Outbox) Fail(tempId string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.byTemp[tempId]; ok {
		entry.Status = StatusFailed
	}
}

// Retry re-submits a failed entry under the same temp id. Returns false when
// the temp id is unknown or not in the failed state.
func (o *Outbox) Retry(tempId string) bool {
	o.mu.Lock()
	entry, ok := o.byTemp[tempId]
	if !ok || entry.Status != StatusFailed {
		o.mu.Unlock()
		return false
	}
	entry.Status = StatusSending
	content := entry.Message.Content
	o.mu.Unlock()
	o.send(tempId, o.channelId, content)
	return true
}

// Ingest merges a broadcast-origin message:new. A message whose authoritative
// id is already present (own echo, other-device duplicate) is ignored.
func (o *Outbox) Ingest(msg types.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.byId[msg.Id]; ok {
		return
	}
	entry := &Entry{Message: msg}
	o.entries = append(o.entries, entry)
	o.byId[msg.Id] = entry
}

// ApplyUpdate merges a message:update broadcast. Updates for unknown ids are
// dropped: the corresponding create was never observed and must come first.
func (o *Outbox) ApplyUpdate(msg types.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.byId[msg.Id]; ok {
		entry.Message = msg
	}
}

// ApplyDelete marks a message deleted. The content is retained in the entry,
// rendering hides it by the Deleted flag.
func (o *Outbox) ApplyDelete(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.byId[id]; ok {
		entry.Message.Deleted = true
	}
}

// Timeline returns a snapshot of the entries in insertion order.
func (o *Outbox) Timeline() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Entry, len(o.entries))
	for i, e := range o.entries {
		out[i] = *e
	}
	return out
}

func (o *Outbox) remove(entry *Entry) {
	for i, e := range o.entries {
		if e == entry {
			o.entries = append(o.entries[:i], o.entries[i+1:]...)
			return
		}
	}
}
