package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"qrattend/internal/token"
)

var (
	// ErrNoActiveSlot is returned when a token is requested for a slot that is not live.
	ErrNoActiveSlot = errors.New("no active slot")
	// ErrEmptySlot is returned when a slot name is blank after trimming.
	ErrEmptySlot = errors.New("slot required")
)

// Binding records which token is currently authoritative for a slot.
type Binding struct {
	Slot      string
	Token     string
	TokenID   string
	IssuedAt  time.Time
	CreatedAt time.Time
}

// BindingStore persists the active slot and the per-slot bindings.
type BindingStore interface {
	ActiveSlot(ctx context.Context) (string, error)
	SetActiveSlot(ctx context.Context, slot string) error
	Binding(ctx context.Context, slot string) (Binding, bool, error)
	PutBinding(ctx context.Context, b Binding) error
}

// Issuer seals tokens for a slot.
type Issuer interface {
	Issue(slot string) (token.Token, error)
}

// Registry tracks the live slot and the current token of every slot.
// Admin operations are serialized; they are rare and cheap.
type Registry struct {
	mu     sync.Mutex
	store  BindingStore
	issuer Issuer
	now    func() time.Time
}

// New builds a registry over store, issuing tokens with issuer.
func New(store BindingStore, issuer Issuer) *Registry {
	return &Registry{store: store, issuer: issuer, now: time.Now}
}

// Activate makes slot the live slot. It does not issue a token.
func (r *Registry) Activate(ctx context.Context, slot string) error {
	slot = strings.TrimSpace(slot)
	if slot == "" {
		return ErrEmptySlot
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.SetActiveSlot(ctx, slot); err != nil {
		return fmt.Errorf("activate %s: %w", slot, err)
	}
	return nil
}

// Deactivate clears the live slot. Existing per-slot bindings are kept, so
// tokens already handed out stay usable until they expire or are replaced.
func (r *Registry) Deactivate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.SetActiveSlot(ctx, ""); err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}
	return nil
}

// Active returns the live slot, if any.
func (r *Registry) Active(ctx context.Context) (string, bool, error) {
	slot, err := r.store.ActiveSlot(ctx)
	if err != nil {
		return "", false, err
	}
	return slot, slot != "", nil
}

// IssueToken seals a new token for slot and makes it the slot's current token,
// revoking whatever was issued before. slot must be the live slot.
func (r *Registry) IssueToken(ctx context.Context, slot string) (token.Token, error) {
	slot = strings.TrimSpace(slot)
	r.mu.Lock()
	defer r.mu.Unlock()

	active, err := r.store.ActiveSlot(ctx)
	if err != nil {
		return token.Token{}, fmt.Errorf("read active slot: %w", err)
	}
	if active == "" || active != slot {
		return token.Token{}, ErrNoActiveSlot
	}

	tok, err := r.issuer.Issue(slot)
	if err != nil {
		return token.Token{}, fmt.Errorf("issue token: %w", err)
	}
	b := Binding{
		Slot:      slot,
		Token:     tok.Raw,
		TokenID:   tok.ID,
		IssuedAt:  tok.IssuedAt,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.PutBinding(ctx, b); err != nil {
		return token.Token{}, fmt.Errorf("store binding: %w", err)
	}
	return tok, nil
}

// CurrentTokenFor returns the raw current token for slot, or "" with ok=false.
func (r *Registry) CurrentTokenFor(ctx context.Context, slot string) (string, bool, error) {
	b, ok, err := r.store.Binding(ctx, slot)
	if err != nil || !ok {
		return "", false, err
	}
	return b.Token, true, nil
}

// Binding returns the full binding for slot.
func (r *Registry) Binding(ctx context.Context, slot string) (Binding, bool, error) {
	return r.store.Binding(ctx, slot)
}
