// Package bus implements the inter-repository message bus (C5): an
// append-only, signed message log with priority ordering, acknowledgement,
// and forwarding between named repository endpoints.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lesleslie/mahavishnu/kernel"
	"github.com/lesleslie/mahavishnu/kernel/bus/store"
	"github.com/lesleslie/mahavishnu/kernel/telemetry"
)

// Status is a message's lifecycle position.
type Status string

const (
	StatusUnread   Status = "unread"
	StatusRead     Status = "read"
	StatusArchived Status = "archived"
)

// Message is the read-facing view of a bus envelope.
type Message struct {
	MessageID  string
	From       string
	To         string
	Subject    string
	Body       []byte
	Priority   int
	Status     Status
	InReplyTo  string
	Timestamp  time.Time
	Context    map[string]string
}

// Bus stores, routes, acknowledges, and forwards messages between
// registered repository endpoints.
type Bus struct {
	store    store.Store
	secrets  SecretResolver
	repos    map[string]struct{}
	logger   telemetry.Logger
	now      func() time.Time
}

// New constructs a Bus. repos lists every registered endpoint name; send
// and forward fail with kernel.ErrUnknownRepo for any name outside it.
func New(st store.Store, secrets SecretResolver, repos []string, logger telemetry.Logger) *Bus {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	repoSet := make(map[string]struct{}, len(repos))
	for _, r := range repos {
		repoSet[r] = struct{}{}
	}
	return &Bus{store: st, secrets: secrets, repos: repoSet, logger: logger, now: time.Now}
}

func (b *Bus) registered(repo string) bool {
	_, ok := b.repos[repo]
	return ok
}

// Send appends a new message to the log, assigning its ID, timestamp, and
// signature. inReplyTo may be empty. Returns kernel.ErrUnknownRepo if
// either endpoint is unregistered.
func (b *Bus) Send(ctx context.Context, from, to, subject string, body []byte, priority int, msgCtx map[string]string, inReplyTo string) (string, error) {
	if !b.registered(from) || !b.registered(to) {
		return "", kernel.ErrUnknownRepo
	}
	secret, ok := b.secrets.Secret(from)
	if !ok {
		return "", kernel.ErrUnauthenticated
	}

	id := uuid.NewString()
	ts := b.now()
	form := canonicalForm(id, from, to, subject, body, priority, ts.UnixNano(), msgCtx)
	sig := sign(secret, form)

	threadRoot := id
	if inReplyTo != "" {
		if parent, err := b.store.Get(ctx, inReplyTo); err == nil {
			threadRoot = rootOf(parent)
		} else {
			threadRoot = inReplyTo
		}
	}

	e := &store.Envelope{
		MessageID:  id,
		From:       from,
		To:         to,
		Subject:    subject,
		Body:       body,
		Priority:   priority,
		Timestamp:  ts.UnixNano(),
		Context:    msgCtx,
		Signature:  sig,
		Status:     string(StatusUnread),
		InReplyTo:  inReplyTo,
		ThreadRoot: threadRoot,
	}
	if err := b.store.Save(ctx, e); err != nil {
		return "", &kernel.StoreUnavailable{Err: err}
	}
	return id, nil
}

// Broadcast sends the same message to every recipient in to, continuing
// past any individual UnknownRepo/StoreUnavailable failure. It returns
// the message_id for each recipient that succeeded, and the per-recipient
// errors for those that did not: a partial send, not all-or-nothing.
func (b *Bus) Broadcast(ctx context.Context, from string, to []string, subject string, body []byte, priority int, msgCtx map[string]string) (sent map[string]string, failed map[string]error) {
	sent = make(map[string]string, len(to))
	failed = make(map[string]error)
	for _, recipient := range to {
		id, err := b.Send(ctx, from, recipient, subject, body, priority, msgCtx, "")
		if err != nil {
			failed[recipient] = err
			continue
		}
		sent[recipient] = id
	}
	return sent, failed
}

// List returns messages addressed to recipient in priority-descending,
// then timestamp-descending order.
func (b *Bus) List(ctx context.Context, recipient string) ([]Message, error) {
	envelopes, err := b.store.ListByRecipient(ctx, recipient)
	if err != nil {
		return nil, &kernel.StoreUnavailable{Err: err}
	}
	out := make([]Message, len(envelopes))
	for i, e := range envelopes {
		out[i] = toMessage(e)
	}
	return out, nil
}

// Acknowledge transitions a message's status. Valid transitions are
// unread→read and {unread,read}→archived. Archiving an already-archived
// message is a no-op that returns nil; any other transition returns
// kernel.ErrInvalidTransition.
func (b *Bus) Acknowledge(ctx context.Context, messageID string, newStatus Status) error {
	e, err := b.store.Get(ctx, messageID)
	if err != nil {
		return &kernel.StoreUnavailable{Err: err}
	}
	if err := b.verifyEnvelope(e); err != nil {
		return err
	}

	cur := Status(e.Status)
	if cur == StatusArchived && newStatus == StatusArchived {
		return nil
	}
	if !validTransition(cur, newStatus) {
		return kernel.ErrInvalidTransition
	}
	if err := b.store.UpdateStatus(ctx, messageID, string(newStatus)); err != nil {
		return &kernel.StoreUnavailable{Err: err}
	}
	return nil
}

func validTransition(from, to Status) bool {
	switch {
	case from == StatusUnread && to == StatusRead:
		return true
	case (from == StatusUnread || from == StatusRead) && to == StatusArchived:
		return true
	default:
		return false
	}
}

// Forward creates a new message addressed to `to` whose body is the
// original message's canonical form, optionally prepended with prepend.
// The new message's in_reply_to is set to the original's ID, and it
// shares the original's thread root, so repeated forwards of the same
// conversation all reference one root.
func (b *Bus) Forward(ctx context.Context, messageID, to, prepend string) (string, error) {
	e, err := b.store.Get(ctx, messageID)
	if err != nil {
		return "", &kernel.StoreUnavailable{Err: err}
	}
	if err := b.verifyEnvelope(e); err != nil {
		return "", err
	}
	if !b.registered(to) {
		return "", kernel.ErrUnknownRepo
	}

	form := canonicalForm(e.MessageID, e.From, e.To, e.Subject, e.Body, e.Priority, e.Timestamp, e.Context)
	body := form
	if prepend != "" {
		body = append([]byte(prepend+"\n"), form...)
	}

	return b.Send(ctx, e.To, to, fmt.Sprintf("fwd: %s", e.Subject), body, e.Priority, nil, messageID)
}

func (b *Bus) verifyEnvelope(e *store.Envelope) error {
	secret, ok := b.secrets.Secret(e.From)
	if !ok {
		return kernel.ErrUnauthenticated
	}
	form := canonicalForm(e.MessageID, e.From, e.To, e.Subject, e.Body, e.Priority, e.Timestamp, e.Context)
	if !verify(secret, form, e.Signature) {
		return kernel.ErrUnauthenticated
	}
	return nil
}

func rootOf(e *store.Envelope) string {
	if e.ThreadRoot != "" {
		return e.ThreadRoot
	}
	return e.MessageID
}

func toMessage(e *store.Envelope) Message {
	return Message{
		MessageID: e.MessageID,
		From:      e.From,
		To:        e.To,
		Subject:   e.Subject,
		Body:      e.Body,
		Priority:  e.Priority,
		Status:    Status(e.Status),
		InReplyTo: e.InReplyTo,
		Timestamp: time.Unix(0, e.Timestamp),
		Context:   e.Context,
	}
}
