// Package identity holds the credential bundles used against the chat
// backend and the capability matrix deciding which identity may run which
// tool family.
package identity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
)

// Kind names a credential bundle.
type Kind string

const (
	KindUser  Kind = "user"
	KindBot   Kind = "bot"
	KindAdmin Kind = "admin"
)

// Credentials is one authenticated principal against the backend.
type Credentials struct {
	Kind   Kind
	Email  string
	APIKey string
	// Name is the display name; only populated for bots.
	Name string
}

// Family groups tools for capability checks.
type Family string

const (
	FamilyRead          Family = "read"
	FamilySend          Family = "send"
	FamilyEditOwn       Family = "edit_own"
	FamilySearch        Family = "search"
	FamilyUpload        Family = "upload"
	FamilySubscribe     Family = "subscribe"
	FamilyReact         Family = "react"
	FamilyStreamEvents  Family = "stream_events"
	FamilyScheduled     Family = "scheduled"
	FamilyBulkRead      Family = "bulk_read"
	FamilyUserMgmt      Family = "user_management"
	FamilyRealmSettings Family = "realm_settings"
	FamilyExport        Family = "export"
	FamilyTopicDelete   Family = "topic_delete"
)

// capabilities maps each identity kind to the tool families it may invoke.
// Admin is a strict superset of user and bot.
var capabilities = map[Kind]map[Family]bool{
	KindUser: set(
		FamilyRead, FamilySend, FamilyEditOwn, FamilySearch,
		FamilyUpload, FamilySubscribe, FamilyScheduled,
	),
	KindBot: set(
		FamilySend, FamilyRead, FamilyReact, FamilyStreamEvents,
		FamilyScheduled, FamilyBulkRead,
	),
	KindAdmin: set(
		FamilyRead, FamilySend, FamilyEditOwn, FamilySearch,
		FamilyUpload, FamilySubscribe, FamilyReact, FamilyStreamEvents,
		FamilyScheduled, FamilyBulkRead, FamilyUserMgmt,
		FamilyRealmSettings, FamilyExport, FamilyTopicDelete,
	),
}

func set(families ...Family) map[Family]bool {
	m := make(map[Family]bool, len(families))
	for _, f := range families {
		m[f] = true
	}
	return m
}

// CapabilityDeniedError reports a tool family an identity may not use. When
// another configured identity could serve the call, Alternative names it.
type CapabilityDeniedError struct {
	Kind        Kind
	Family      Family
	Alternative Kind
}

func (e *CapabilityDeniedError) Error() string {
	msg := fmt.Sprintf("identity %q may not use %q tools", e.Kind, e.Family)
	if e.Alternative != "" {
		msg += fmt.Sprintf(" (try identity %q)", e.Alternative)
	}
	return msg
}

// Verifier checks that a credential bundle actually authenticates, typically
// with a get-own-user round trip. The registry calls it before activating a
// switched identity.
type Verifier func(ctx context.Context, creds Credentials) error

// Registry holds the configured identities and selects one per tool call.
type Registry struct {
	mu      sync.RWMutex
	bundles map[Kind]Credentials
	current Kind
	verify  Verifier
	logger  *logger.Logger
}

// NewRegistry builds a registry from the configured bundles. The user
// identity is required by the caller; bot and admin are optional. The
// current identity starts as user.
func NewRegistry(bundles []Credentials, verify Verifier, log *logger.Logger) *Registry {
	m := make(map[Kind]Credentials, len(bundles))
	for _, b := range bundles {
		m[b.Kind] = b
	}
	return &Registry{
		bundles: m,
		current: KindUser,
		verify:  verify,
		logger:  log,
	}
}

// Has reports whether credentials for kind are configured.
func (r *Registry) Has(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bundles[kind]
	return ok
}

// Current returns the active identity kind. Observability only; selection
// per call goes through Select.
func (r *Registry) Current() Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Get returns the credential bundle for kind.
func (r *Registry) Get(kind Kind) (Credentials, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bundles[kind]
	return b, ok
}

// Select picks the credential bundle for a tool family. An explicit
// preferred kind wins when configured and capable; otherwise the family's
// default identity applies, falling back to user.
func (r *Registry) Select(family Family, preferred Kind) (Credentials, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if preferred != "" {
		b, ok := r.bundles[preferred]
		if !ok {
			return Credentials{}, fmt.Errorf("identity %q is not configured", preferred)
		}
		if !capabilities[preferred][family] {
			return Credentials{}, r.deniedLocked(preferred, family)
		}
		return b, nil
	}

	for _, kind := range defaultOrder(family) {
		if b, ok := r.bundles[kind]; ok && capabilities[kind][family] {
			return b, nil
		}
	}
	b, ok := r.bundles[KindUser]
	if !ok {
		return Credentials{}, fmt.Errorf("no identity configured for %q tools", family)
	}
	if !capabilities[KindUser][family] {
		return Credentials{}, r.deniedLocked(KindUser, family)
	}
	return b, nil
}

// CheckCapability verifies kind may invoke the family.
func (r *Registry) CheckCapability(family Family, kind Kind) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if capabilities[kind][family] {
		return nil
	}
	return r.deniedLocked(kind, family)
}

// Switch activates a different identity after verifying its credentials
// round-trip. Failure leaves the previous identity active.
func (r *Registry) Switch(ctx context.Context, kind Kind) error {
	r.mu.RLock()
	b, ok := r.bundles[kind]
	prev := r.current
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("identity %q is not configured", kind)
	}
	if r.verify != nil {
		if err := r.verify(ctx, b); err != nil {
			return fmt.Errorf("identity %q failed verification: %w", kind, err)
		}
	}
	r.mu.Lock()
	r.current = kind
	r.mu.Unlock()
	r.logger.Info("switched identity",
		zap.String("from", string(prev)),
		zap.String("to", string(kind)))
	return nil
}

// Kinds lists the configured identity kinds, sorted for stable output.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.bundles))
	for k := range r.bundles {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// deniedLocked builds the denial error, naming a configured identity that
// could serve the family when one exists. Caller holds at least the read
// lock.
func (r *Registry) deniedLocked(kind Kind, family Family) error {
	err := &CapabilityDeniedError{Kind: kind, Family: family}
	for _, alt := range []Kind{KindAdmin, KindUser, KindBot} {
		if alt == kind {
			continue
		}
		if _, ok := r.bundles[alt]; ok && capabilities[alt][family] {
			err.Alternative = alt
			break
		}
	}
	return err
}

// defaultOrder lists identity kinds by preference for a family when the
// caller expressed none. Bot-flavored families prefer the bot identity;
// admin-only families require admin; everything else runs as the user.
func defaultOrder(family Family) []Kind {
	switch family {
	case FamilyReact, FamilyStreamEvents, FamilyBulkRead:
		return []Kind{KindBot, KindUser, KindAdmin}
	case FamilyUserMgmt, FamilyRealmSettings, FamilyExport, FamilyTopicDelete:
		return []Kind{KindAdmin}
	default:
		return []Kind{KindUser, KindBot, KindAdmin}
	}
}

// ParseKind normalizes a user-supplied identity name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return KindUser, nil
	case "bot":
		return KindBot, nil
	case "admin":
		return KindAdmin, nil
	default:
		return "", fmt.Errorf("unknown identity %q (expected user, bot, or admin)", s)
	}
}
