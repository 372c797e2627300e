package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnknownMessage is returned for control messages of an unknown type.
var ErrUnknownMessage = errors.New("unknown message type")

// Event is one of the events handled by the registration:
// InstallEvent, ActivateEvent, FetchEvent, MessageEvent, PushEvent,
// NotificationClickEvent or SyncEvent.
type Event interface {
	event()
}

// InstallEvent installs a new version.
type InstallEvent struct {
	Version string `json:"version"`
}

// ActivateEvent activates the waiting version, if any.
type ActivateEvent struct{}

// FetchEvent is an intercepted request. It is never queued.
type FetchEvent struct {
	Writer  http.ResponseWriter
	Request *http.Request
}

type MessageType string

const (
	MessageSkipWaiting   MessageType = "SKIP_WAITING"
	MessageCleanupCaches MessageType = "CLEANUP_CACHES"
)

// MessageEvent is a control message sent by a page.
type MessageEvent struct {
	Type MessageType `json:"type"`
}

// ParseMessage decodes a control message and checks its type.
func ParseMessage(data []byte) (MessageEvent, error) {
	var m MessageEvent
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse message: %w", err)
	}
	switch m.Type {
	case MessageSkipWaiting, MessageCleanupCaches:
		return m, nil
	}
	return m, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
}

// PushEvent carries the raw data of a push message.
type PushEvent struct {
	Data []byte
}

type NotificationClickEvent struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}

// SyncTag is the only background sync tag acted upon.
const SyncTag = "cv-sync"

type SyncEvent struct {
	Tag string `json:"tag"`
}

func (InstallEvent) event()           {}
func (ActivateEvent) event()          {}
func (FetchEvent) event()             {}
func (MessageEvent) event()           {}
func (PushEvent) event()              {}
func (NotificationClickEvent) event() {}
func (SyncEvent) event()              {}
