// Package tools implements the bridge's tool surface: the operations
// advertised over MCP, grouped into families. Handlers validate their
// arguments, pick an identity, and delegate to the REST client or the
// store.
package tools

import (
	"context"
	"errors"

	"github.com/zulipmcp/zulipmcp/internal/afk"
	"github.com/zulipmcp/zulipmcp/internal/chain"
	"github.com/zulipmcp/zulipmcp/internal/common/config"
	"github.com/zulipmcp/zulipmcp/internal/common/logger"
	"github.com/zulipmcp/zulipmcp/internal/events/bus"
	"github.com/zulipmcp/zulipmcp/internal/identity"
	"github.com/zulipmcp/zulipmcp/internal/resolver"
	"github.com/zulipmcp/zulipmcp/internal/store"
	"github.com/zulipmcp/zulipmcp/internal/telemetry"
	"github.com/zulipmcp/zulipmcp/internal/validate"
	"github.com/zulipmcp/zulipmcp/internal/zulip"
)

// Handler executes one tool call. The returned map is the success payload;
// errors are converted to the structured error shape by the dispatcher.
type Handler func(ctx context.Context, args validate.Args) (map[string]any, error)

// Toolset wires every family against its dependencies.
type Toolset struct {
	store    *store.Store
	registry *identity.Registry
	client   *zulip.Client
	resolver *resolver.Resolver
	afk      *afk.Controller
	executor *chain.Executor
	bus      bus.Bus
	cfg      *config.Config
	logger   *logger.Logger
	metrics  *telemetry.Metrics
}

// New builds the toolset and registers the chain executor's step
// implementations.
func New(
	st *store.Store,
	registry *identity.Registry,
	client *zulip.Client,
	res *resolver.Resolver,
	afkCtl *afk.Controller,
	executor *chain.Executor,
	b bus.Bus,
	cfg *config.Config,
	log *logger.Logger,
	metrics *telemetry.Metrics,
) *Toolset {
	t := &Toolset{
		store:    st,
		registry: registry,
		client:   client,
		resolver: res,
		afk:      afkCtl,
		executor: executor,
		bus:      b,
		cfg:      cfg,
		logger:   log,
		metrics:  metrics,
	}
	t.registerChainSteps()
	return t
}

// creds selects the identity for a family, honoring an optional
// "identity" argument.
func (t *Toolset) creds(args validate.Args, family identity.Family) (identity.Credentials, error) {
	preferred := identity.Kind("")
	if args.Has("identity") {
		raw, err := args.String("identity", "")
		if err != nil {
			return identity.Credentials{}, err
		}
		kind, err := identity.ParseKind(raw)
		if err != nil {
			return identity.Credentials{}, validate.Invalid("identity", err.Error(),
				"allowed: user, bot, admin")
		}
		preferred = kind
	}
	return t.registry.Select(family, preferred)
}

// botCreds returns the bot bundle, or an error naming the missing
// configuration. Agent features require it.
func (t *Toolset) botCreds() (identity.Credentials, error) {
	creds, ok := t.registry.Get(identity.KindBot)
	if !ok {
		return identity.Credentials{}, &validate.ToolError{
			Code:    validate.CodeCapabilityDenied,
			Message: "agent features require bot credentials (ZULIP_BOT_EMAIL / ZULIP_BOT_API_KEY)",
		}
	}
	return creds, nil
}

// success wraps a payload with the success status.
func success(payload map[string]any) map[string]any {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = "success"
	return payload
}

// partial wraps a payload with partial_success and a capability note.
func partial(note string, payload map[string]any) map[string]any {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = "partial_success"
	payload["note"] = note
	return payload
}

// skipped reports an intentionally suppressed action.
func skipped(reason string) map[string]any {
	return map[string]any{"status": "skipped", "reason": reason}
}

// ToToolError maps any error to the structured shape clients receive.
func ToToolError(err error) *validate.ToolError {
	var te *validate.ToolError
	if errors.As(err, &te) {
		return te
	}
	var denied *identity.CapabilityDeniedError
	if errors.As(err, &denied) {
		out := &validate.ToolError{
			Code:    validate.CodeCapabilityDenied,
			Message: denied.Error(),
		}
		if denied.Alternative != "" {
			out.Recovery = &validate.Recovery{
				Tool: "switch_identity",
				Hint: "switch to identity " + string(denied.Alternative),
			}
		}
		return out
	}
	var authErr *zulip.AuthError
	if errors.As(err, &authErr) {
		return &validate.ToolError{
			Code:        validate.CodeAuth,
			Message:     authErr.Error(),
			Suggestions: []string{"check ZULIP_EMAIL / ZULIP_API_KEY for the selected identity"},
		}
	}
	var notFound *zulip.NotFoundError
	if errors.As(err, &notFound) {
		return &validate.ToolError{
			Code:    validate.CodeNotFound,
			Message: notFound.Error(),
		}
	}
	var rateLimited *zulip.RateLimitError
	if errors.As(err, &rateLimited) {
		return &validate.ToolError{
			Code:        validate.CodeRateLimited,
			Message:     rateLimited.Error(),
			Suggestions: []string{"reduce request volume and retry shortly"},
		}
	}
	var transient *zulip.TransientError
	if errors.As(err, &transient) {
		return &validate.ToolError{
			Code:        validate.CodeTransient,
			Message:     transient.Error(),
			Suggestions: []string{"the backend is having trouble; retry the call"},
		}
	}
	var ambiguous *resolver.AmbiguousUserError
	if errors.As(err, &ambiguous) {
		suggestions := make([]string, 0, len(ambiguous.Candidates))
		for _, u := range ambiguous.Candidates {
			suggestions = append(suggestions, u.FullName+" <"+u.Email+">")
		}
		return &validate.ToolError{
			Code:        validate.CodeAmbiguous,
			Message:     ambiguous.Error(),
			Suggestions: suggestions,
			Recovery: &validate.Recovery{
				Tool: "get_users",
				Hint: "pass the exact email of the intended user",
			},
		}
	}
	var userNotFound *resolver.UserNotFoundError
	if errors.As(err, &userNotFound) {
		return &validate.ToolError{
			Code:    validate.CodeNotFound,
			Message: userNotFound.Error(),
			Recovery: &validate.Recovery{
				Tool: "get_users",
				Hint: "list users to find the right identifier",
			},
		}
	}
	var writeErr *store.WriteError
	if errors.As(err, &writeErr) {
		return &validate.ToolError{
			Code:    validate.CodeInternal,
			Message: writeErr.Error(),
		}
	}
	var apiErr *zulip.APIError
	if errors.As(err, &apiErr) {
		return &validate.ToolError{
			Code:    validate.CodeInvalidParam,
			Message: apiErr.Error(),
		}
	}
	return &validate.ToolError{
		Code:    validate.CodeInternal,
		Message: err.Error(),
	}
}
