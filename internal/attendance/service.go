package attendance

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/fingerprint"
	"qrattend/internal/token"
)

// TokenVerifier checks a raw token and returns what it carries.
type TokenVerifier interface {
	Verify(raw string, ttl time.Duration) (token.Token, error)
}

// BindingReader returns the current token of a slot.
type BindingReader interface {
	CurrentTokenFor(ctx context.Context, slot string) (string, bool, error)
}

// Auditor is told about every submission decision. It must not block for long.
type Auditor interface {
	Audit(ctx context.Context, evt AuditEvent)
}

// Auditors fans an event out to each auditor in order.
type Auditors []Auditor

func (as Auditors) Audit(ctx context.Context, evt AuditEvent) {
	for _, a := range as {
		a.Audit(ctx, evt)
	}
}

// Policy holds the deployment-wide submission settings.
type Policy struct {
	PIN string
	TTL time.Duration
}

// Service decides whether a submission becomes an attendance record.
type Service struct {
	tokens   TokenVerifier
	bindings BindingReader
	ledger   Ledger
	policy   Policy
	fp       fingerprint.Fingerprinter
	auditor  Auditor
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithFingerprinter replaces the IP+User-Agent fingerprint.
func WithFingerprinter(fp fingerprint.Fingerprinter) Option {
	return func(s *Service) { s.fp = fp }
}

// WithAuditor reports decisions to a.
func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

// WithClock overrides the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a service over the token verifier, the registry bindings
// and the ledger.
func NewService(tokens TokenVerifier, bindings BindingReader, ledger Ledger, policy Policy, opts ...Option) *Service {
	if policy.TTL <= 0 {
		policy.TTL = 10 * time.Minute
	}
	s := &Service{
		tokens:   tokens,
		bindings: bindings,
		ledger:   ledger,
		policy:   policy,
		fp:       fingerprint.IPUserAgent{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL is the maximum accepted token age.
func (s *Service) TTL() time.Duration { return s.policy.TTL }

// Inspect validates raw and confirms it is the live token of its slot,
// without checking the PIN or touching the ledger.
func (s *Service) Inspect(ctx context.Context, raw string) (token.Token, error) {
	tok, err := s.tokens.Verify(strings.TrimSpace(raw), s.policy.TTL)
	if err != nil {
		return token.Token{}, err
	}
	if err := s.checkBinding(ctx, tok); err != nil {
		return token.Token{}, err
	}
	return tok, nil
}

// Submit runs the checks in order and stops at the first failure:
// token seal and age, slot binding, PIN, then device duplicate. Only a
// submission passing all of them is appended to the ledger.
func (s *Service) Submit(ctx context.Context, sub Submission) (Record, error) {
	evt := AuditEvent{}
	rec, err := s.submit(ctx, sub, &evt)
	evt.Outcome = Code(err)
	evt.At = s.now().UTC()
	if s.auditor != nil {
		s.auditor.Audit(ctx, evt)
	}
	return rec, err
}

func (s *Service) submit(ctx context.Context, sub Submission, evt *AuditEvent) (Record, error) {
	tok, err := s.tokens.Verify(strings.TrimSpace(sub.Token), s.policy.TTL)
	if err != nil {
		return Record{}, err
	}
	evt.Slot = tok.Slot

	if err := s.checkBinding(ctx, tok); err != nil {
		return Record{}, err
	}

	pin := strings.TrimSpace(sub.PIN)
	if subtle.ConstantTimeCompare([]byte(pin), []byte(s.policy.PIN)) != 1 {
		return Record{}, ErrWrongPIN
	}

	fp := s.fp.Fingerprint(sub.SourceIP, sub.UserAgent)
	evt.Fingerprint = fp
	dup, err := s.ledger.Exists(ctx, tok.Slot, fp)
	if err != nil {
		return Record{}, fmt.Errorf("check duplicate: %w", err)
	}
	if dup {
		return Record{}, ErrDuplicateSubmission
	}

	rec, err := s.ledger.Append(ctx, Record{
		ID:                uuid.NewString(),
		StudentName:       strings.TrimSpace(sub.StudentName),
		Roll:              strings.TrimSpace(sub.Roll),
		Slot:              tok.Slot,
		Timestamp:         s.now().UTC().Truncate(time.Millisecond),
		DeviceFingerprint: fp,
		IP:                sub.SourceIP,
		UserAgent:         sub.UserAgent,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateSubmission) {
			return Record{}, ErrDuplicateSubmission
		}
		return Record{}, fmt.Errorf("append record: %w", err)
	}
	evt.RecordID = rec.ID
	return rec, nil
}

func (s *Service) checkBinding(ctx context.Context, tok token.Token) error {
	current, ok, err := s.bindings.CurrentTokenFor(ctx, tok.Slot)
	if err != nil {
		return fmt.Errorf("read binding: %w", err)
	}
	if !ok || current != tok.Raw {
		return ErrRevokedToken
	}
	return nil
}
