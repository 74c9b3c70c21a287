package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
)

func newTestRegistry(verify Verifier, kinds ...Kind) *Registry {
	bundles := make([]Credentials, 0, len(kinds))
	for _, k := range kinds {
		bundles = append(bundles, Credentials{
			Kind:   k,
			Email:  string(k) + "@example.com",
			APIKey: "key-" + string(k),
		})
	}
	return NewRegistry(bundles, verify, logger.Default())
}

func TestSelectPrefersExplicitKind(t *testing.T) {
	r := newTestRegistry(nil, KindUser, KindBot)

	creds, err := r.Select(FamilySend, KindBot)
	require.NoError(t, err)
	assert.Equal(t, KindBot, creds.Kind)
}

func TestSelectExplicitKindMustBeCapable(t *testing.T) {
	r := newTestRegistry(nil, KindUser, KindBot)

	_, err := r.Select(FamilyUpload, KindBot)
	var denied *CapabilityDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, KindBot, denied.Kind)
	assert.Equal(t, KindUser, denied.Alternative)
}

func TestSelectDefaultsBotForBotFamilies(t *testing.T) {
	r := newTestRegistry(nil, KindUser, KindBot)

	creds, err := r.Select(FamilyStreamEvents, "")
	require.NoError(t, err)
	assert.Equal(t, KindBot, creds.Kind)
}

func TestSelectFallsBackToUserWithoutBot(t *testing.T) {
	r := newTestRegistry(nil, KindUser)

	creds, err := r.Select(FamilyReact, "")
	require.NoError(t, err)
	assert.Equal(t, KindUser, creds.Kind)
}

func TestAdminOnlyFamilyWithoutAdmin(t *testing.T) {
	r := newTestRegistry(nil, KindUser, KindBot)

	_, err := r.Select(FamilyUserMgmt, "")
	var denied *CapabilityDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Empty(t, denied.Alternative)
}

func TestSwitchVerifiesBeforeActivation(t *testing.T) {
	calls := 0
	verify := func(ctx context.Context, creds Credentials) error {
		calls++
		if creds.Kind == KindBot {
			return errors.New("bad key")
		}
		return nil
	}
	r := newTestRegistry(verify, KindUser, KindBot, KindAdmin)
	require.Equal(t, KindUser, r.Current())

	// Failed verification leaves the previous identity active.
	err := r.Switch(context.Background(), KindBot)
	require.Error(t, err)
	assert.Equal(t, KindUser, r.Current())

	require.NoError(t, r.Switch(context.Background(), KindAdmin))
	assert.Equal(t, KindAdmin, r.Current())
	assert.Equal(t, 2, calls)
}

func TestSwitchUnconfiguredKind(t *testing.T) {
	r := newTestRegistry(nil, KindUser)
	err := r.Switch(context.Background(), KindAdmin)
	require.Error(t, err)
	assert.Equal(t, KindUser, r.Current())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Bot ")
	require.NoError(t, err)
	assert.Equal(t, KindBot, k)

	_, err = ParseKind("root")
	assert.Error(t, err)
}
