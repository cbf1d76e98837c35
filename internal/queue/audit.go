package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"qrattend/internal/attendance"
)

const (
	// TypeAudit tags messages carrying an attendance.AuditEvent.
	TypeAudit = "audit"
	// AuditKey is the redis list shared by the API and the worker.
	AuditKey = "attendance:audit"
)

// NewAuditMessage wraps evt for publishing.
func NewAuditMessage(evt attendance.AuditEvent) (Message, error) {
	b, err := json.Marshal(evt)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeAudit, Body: b}, nil
}

// DecodeAudit unwraps an audit message.
func DecodeAudit(msg Message) (attendance.AuditEvent, error) {
	var evt attendance.AuditEvent
	if msg.Type != TypeAudit {
		return evt, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return evt, fmt.Errorf("decode audit: %w", err)
	}
	return evt, nil
}

// Auditor publishes submission decisions for the worker. A slow or failing
// queue never fails the submission; the event is logged and dropped.
type Auditor struct {
	q       Queue
	timeout time.Duration
}

func NewAuditor(q Queue, timeout time.Duration) *Auditor {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Auditor{q: q, timeout: timeout}
}

func (a *Auditor) Audit(ctx context.Context, evt attendance.AuditEvent) {
	msg, err := NewAuditMessage(evt)
	if err != nil {
		log.Printf("audit: encode: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	if err := a.q.Publish(ctx, msg); err != nil {
		log.Printf("audit: publish %s/%s: %v", evt.Slot, evt.Outcome, err)
	}
}

// AuditSink persists audit events.
type AuditSink interface {
	RecordAudit(ctx context.Context, evt attendance.AuditEvent) error
}

// DrainAudit stores every audit message from q into sink until ctx is done
// and returns how many were stored. Other message types and failed writes are
// logged and skipped.
func DrainAudit(ctx context.Context, q Queue, sink AuditSink) (int, error) {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	for msg := range msgs {
		evt, err := DecodeAudit(msg)
		if err != nil {
			log.Printf("audit: skip message: %v", err)
			continue
		}
		if err := sink.RecordAudit(ctx, evt); err != nil {
			log.Printf("audit: store %s/%s: %v", evt.Slot, evt.Outcome, err)
			continue
		}
		n++
	}
	return n, nil
}
