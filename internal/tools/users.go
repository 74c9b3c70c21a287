package tools

import (
	"context"

	"github.com/zulipmcp/zulipmcp/internal/identity"
	"github.com/zulipmcp/zulipmcp/internal/validate"
	"github.com/zulipmcp/zulipmcp/internal/zulip"
)

// GetUsers lists members, optionally resolving one identifier.
func (t *Toolset) GetUsers(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyRead)
	if err != nil {
		return nil, err
	}

	if args.Has("identifier") {
		identifier, err := args.RequiredString("identifier")
		if err != nil {
			return nil, err
		}
		user, err := t.resolver.Resolve(ctx, creds, identifier)
		if err != nil {
			return nil, err
		}
		return success(map[string]any{"user": projectUser(*user)}), nil
	}

	users, err := t.client.GetUsers(ctx, creds)
	if err != nil {
		return nil, err
	}
	includeBots, err := args.Bool("include_bots", true)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		if !includeBots && u.IsBot {
			continue
		}
		out = append(out, projectUser(u))
	}
	return success(map[string]any{"users": out, "count": len(out)}), nil
}

// GetOwnUser returns the profile behind the selected identity.
func (t *Toolset) GetOwnUser(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyRead)
	if err != nil {
		return nil, err
	}
	user, err := t.client.GetOwnUser(ctx, creds)
	if err != nil {
		return nil, err
	}
	return success(map[string]any{
		"user":     projectUser(*user),
		"identity": string(creds.Kind),
	}), nil
}

// UpdatePresence reads another user's presence or sets the caller's own.
func (t *Toolset) UpdatePresence(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyRead)
	if err != nil {
		return nil, err
	}

	if args.Has("email") {
		email, err := args.RequiredString("email")
		if err != nil {
			return nil, err
		}
		presence, err := t.client.GetPresence(ctx, creds, email)
		if err != nil {
			return nil, err
		}
		return success(map[string]any{
			"email":  email,
			"status": presence.Status,
		}), nil
	}

	// Presence can only be set for the calling identity itself.
	status, err := args.Enum("status", "", "active", "idle")
	if err != nil {
		return nil, err
	}
	if status == "" {
		return nil, validate.Missing("status")
	}
	if err := t.client.UpdateOwnPresence(ctx, creds, status); err != nil {
		return nil, err
	}
	return success(map[string]any{"status": status}), nil
}

// SwitchIdentity activates a different credential bundle after a
// verification round trip.
func (t *Toolset) SwitchIdentity(ctx context.Context, args validate.Args) (map[string]any, error) {
	raw, err := args.RequiredString("identity")
	if err != nil {
		return nil, err
	}
	kind, err := identity.ParseKind(raw)
	if err != nil {
		return nil, validate.Invalid("identity", err.Error(), "allowed: user, bot, admin")
	}
	if err := t.registry.Switch(ctx, kind); err != nil {
		return nil, err
	}
	return success(map[string]any{
		"identity":   string(kind),
		"configured": kindsAsStrings(t.registry.Kinds()),
	}), nil
}

// ManageUserGroups serves group listings and membership; mutations are
// surfaced as capability-unimplemented because the backend client carries
// no group-mutation endpoints.
func (t *Toolset) ManageUserGroups(ctx context.Context, args validate.Args) (map[string]any, error) {
	action, err := args.Enum("action", "list",
		"list", "members", "create", "update", "delete")
	if err != nil {
		return nil, err
	}

	switch action {
	case "list":
		creds, err := t.creds(args, identity.FamilyRead)
		if err != nil {
			return nil, err
		}
		groups, err := t.client.GetUserGroups(ctx, creds)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(groups))
		for _, g := range groups {
			out = append(out, map[string]any{
				"id":           g.ID,
				"name":         g.Name,
				"description":  g.Description,
				"member_count": len(g.Members),
			})
		}
		return success(map[string]any{"groups": out, "count": len(out)}), nil

	case "members":
		creds, err := t.creds(args, identity.FamilyRead)
		if err != nil {
			return nil, err
		}
		groupID, err := args.Int64("group_id", 0)
		if err != nil {
			return nil, err
		}
		if groupID == 0 {
			return nil, validate.Missing("group_id")
		}
		members, err := t.client.GroupMembers(ctx, creds, groupID)
		if err != nil {
			return nil, err
		}
		return success(map[string]any{
			"group_id":   groupID,
			"member_ids": members,
		}), nil

	default:
		// Admin-gated mutations the underlying client does not carry.
		if err := t.registry.CheckCapability(identity.FamilyUserMgmt, identity.KindAdmin); err != nil {
			return nil, err
		}
		return partial("group "+action+" is not available through this bridge", map[string]any{
			"action": action,
		}), nil
	}
}

func projectUser(u zulip.User) map[string]any {
	return map[string]any{
		"user_id":   u.UserID,
		"email":     u.Email,
		"full_name": u.FullName,
		"is_bot":    u.IsBot,
		"is_active": u.IsActive,
	}
}

func kindsAsStrings(kinds []identity.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
