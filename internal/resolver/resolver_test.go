package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulipmcp/zulipmcp/internal/identity"
	"github.com/zulipmcp/zulipmcp/internal/zulip"
)

type staticDirectory []zulip.User

func (d staticDirectory) GetUsers(ctx context.Context, creds identity.Credentials) ([]zulip.User, error) {
	return d, nil
}

var testUsers = staticDirectory{
	{UserID: 1, Email: "j.g@x", FullName: "Jaime Garcia"},
	{UserID: 2, Email: "m.k@x", FullName: "Maria Kowalski"},
	{UserID: 3, Email: "bot@x", FullName: "Deploy Bot", IsBot: true},
}

func resolve(t *testing.T, identifier string) (*zulip.User, error) {
	t.Helper()
	r := New(testUsers)
	return r.Resolve(context.Background(), identity.Credentials{Kind: identity.KindUser}, identifier)
}

func TestResolveEmailExact(t *testing.T) {
	u, err := resolve(t, "j.g@x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.UserID)
}

func TestResolveEmailNoFuzzyFallback(t *testing.T) {
	_, err := resolve(t, "jaime@x")
	var nf *UserNotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestResolveExactName(t *testing.T) {
	u, err := resolve(t, "maria kowalski")
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.UserID)
}

func TestResolveSubstring(t *testing.T) {
	u, err := resolve(t, "Jaime")
	require.NoError(t, err)
	assert.Equal(t, "j.g@x", u.Email)
}

func TestResolveNotFound(t *testing.T) {
	_, err := resolve(t, "zzzzzz")
	var nf *UserNotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestPickFuzzyAmbiguityBand(t *testing.T) {
	a := zulip.User{UserID: 1, FullName: "A"}
	b := zulip.User{UserID: 2, FullName: "B"}
	c := zulip.User{UserID: 3, FullName: "C"}

	// 0.80 is within 0.2 of 0.82, 0.55 is not: two rivals, ambiguous.
	_, err := pickFuzzy("x", []scored{{a, 0.82}, {b, 0.80}, {c, 0.55}})
	var amb *AmbiguousUserError
	require.ErrorAs(t, err, &amb)
	assert.Len(t, amb.Candidates, 2)

	// With the rival gone, the best match wins.
	u, err := pickFuzzy("x", []scored{{a, 0.82}, {c, 0.55}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.UserID)
}

func TestPickFuzzyCandidateCap(t *testing.T) {
	candidates := make([]scored, 8)
	for i := range candidates {
		candidates[i] = scored{zulip.User{UserID: int64(i)}, 0.8}
	}
	_, err := pickFuzzy("x", candidates)
	var amb *AmbiguousUserError
	require.ErrorAs(t, err, &amb)
	assert.Len(t, amb.Candidates, 5)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("jaime", "jaime"))
	assert.Greater(t, Similarity("jaime", "jaimie"), 0.6)
	assert.Less(t, Similarity("jaime", "xqz"), 0.4)
}
