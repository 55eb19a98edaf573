package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind tags the event types carried by the bus.
type Kind string

const (
	// KindSignatureStateChanged is dispatched whenever a component performs
	// an action it believes changes signature state. It is an optimistic
	// notification, not itself authoritative.
	KindSignatureStateChanged Kind = "signatureStateChanged"

	// KindRequestUnsignPrompt is dispatched when a navigation action is
	// blocked because the contract is signed; it signals that a consumer
	// should present a confirm/remove flow instead of silently failing.
	KindRequestUnsignPrompt Kind = "requestUnsignPrompt"

	// KindSignatureRemoved is dispatched after a signature record has been
	// deleted, instructing subscribers to invalidate cached copies.
	KindSignatureRemoved Kind = "signatureRemoved"
)

// Event is the tagged union of bus payloads.
type Event interface {
	EventKind() Kind
	Contract() string
}

// SignatureStateChanged notifies subscribers of a believed state transition.
type SignatureStateChanged struct {
	ContractID           string `json:"contractId"`
	HasDesignerSignature bool   `json:"hasDesignerSignature"`
	HasClientSignature   bool   `json:"hasClientSignature"`
	Source               string `json:"source"`
}

func (e SignatureStateChanged) EventKind() Kind  { return KindSignatureStateChanged }
func (e SignatureStateChanged) Contract() string { return e.ContractID }

// RequestUnsignPrompt asks a UI layer to offer signature removal.
type RequestUnsignPrompt struct {
	ContractID string `json:"contractId"`
	Source     string `json:"source"`
}

func (e RequestUnsignPrompt) EventKind() Kind  { return KindRequestUnsignPrompt }
func (e RequestUnsignPrompt) Contract() string { return e.ContractID }

// SignatureRemoved notifies subscribers that a record was deleted.
type SignatureRemoved struct {
	ContractID string `json:"contractId"`
	Party      string `json:"party"`
	Source     string `json:"source"`
}

func (e SignatureRemoved) EventKind() Kind  { return KindSignatureRemoved }
func (e SignatureRemoved) Contract() string { return e.ContractID }

// Handler receives published events. Handlers must be idempotent to
// duplicate deliveries: multiple mounted consumers may publish the same
// transition.
type Handler func(Event)

type subscription struct {
	id      string
	kinds   map[Kind]bool // nil means all kinds
	handler Handler
}

// Bus propagates signature/workflow transitions to all live subscribers in
// the same process without a shared reactive store. Dispatch is synchronous
// fire-and-forget: Publish invokes every matching handler before returning,
// in registration order, and never fails.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	logger *zap.Logger
}

// NewBus creates a new event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
	}
}

// Subscribe registers a handler for the given kinds. With no kinds the
// handler receives every event. Returns a subscription ID for Unsubscribe.
func (b *Bus) Subscribe(handler Handler, kinds ...Kind) string {
	sub := &subscription{
		id:      uuid.NewString(),
		handler: handler,
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs = append(b.subs, sub)
	return sub.id
}

// Unsubscribe removes a handler by subscription ID.
// Idempotent - unknown IDs are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish dispatches an event to all matching subscribers synchronously.
// There is no delivery guarantee beyond in-order invocation of the
// subscriber list; handlers that panic are recovered and logged so one bad
// consumer cannot break the others.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.kinds != nil && !sub.kinds[event.EventKind()] {
			continue
		}
		b.dispatch(sub, event)
	}
}

func (b *Bus) dispatch(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Sugar().Errorw("Event handler panicked",
				"kind", event.EventKind(), "contractId", event.Contract(), "panic", r)
		}
	}()
	sub.handler(event)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}
