// Package resolver turns loose user identifiers (emails, names, fragments)
// into canonical user records from the organization directory.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/zulipmcp/zulipmcp/internal/identity"
	"github.com/zulipmcp/zulipmcp/internal/zulip"
)

const (
	// similarityFloor is the minimum fuzzy score considered a match.
	similarityFloor = 0.6
	// ambiguityBand keeps candidates whose score is within this distance
	// of the best as rivals.
	ambiguityBand = 0.2
	// maxCandidates caps the rival list in ambiguity errors.
	maxCandidates = 5
)

// AmbiguousUserError reports multiple closely scored matches.
type AmbiguousUserError struct {
	Identifier string
	Candidates []zulip.User
}

func (e *AmbiguousUserError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, u := range e.Candidates {
		names[i] = fmt.Sprintf("%s <%s>", u.FullName, u.Email)
	}
	return fmt.Sprintf("identifier %q matches multiple users: %s",
		e.Identifier, strings.Join(names, ", "))
}

// UserNotFoundError reports no acceptable match.
type UserNotFoundError struct {
	Identifier string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("no user matches %q", e.Identifier)
}

// Directory supplies the user list; satisfied by the REST client's cached
// users view.
type Directory interface {
	GetUsers(ctx context.Context, creds identity.Credentials) ([]zulip.User, error)
}

// Resolver resolves identifiers against the directory.
type Resolver struct {
	directory Directory
}

// New builds a resolver over the directory.
func New(directory Directory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve maps an identifier to a single user. Identifiers containing "@"
// require an exact email match. Anything else matches full names in tiers:
// exact, substring, then fuzzy similarity.
func (r *Resolver) Resolve(ctx context.Context, creds identity.Credentials, identifier string) (*zulip.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, &UserNotFoundError{Identifier: identifier}
	}
	users, err := r.directory.GetUsers(ctx, creds)
	if err != nil {
		return nil, err
	}

	if strings.Contains(identifier, "@") {
		for i := range users {
			if strings.EqualFold(users[i].Email, identifier) {
				return &users[i], nil
			}
		}
		return nil, &UserNotFoundError{Identifier: identifier}
	}
	return matchByName(identifier, users)
}

type scored struct {
	user  zulip.User
	score float64
}

func matchByName(identifier string, users []zulip.User) (*zulip.User, error) {
	needle := strings.ToLower(identifier)

	// Tier 1: exact full-name match.
	var exact []zulip.User
	for _, u := range users {
		if strings.ToLower(u.FullName) == needle {
			exact = append(exact, u)
		}
	}
	if len(exact) == 1 {
		return &exact[0], nil
	}
	if len(exact) > 1 {
		return nil, &AmbiguousUserError{Identifier: identifier, Candidates: cap5(exact)}
	}

	// Tier 2: substring match.
	var substr []zulip.User
	for _, u := range users {
		if strings.Contains(strings.ToLower(u.FullName), needle) {
			substr = append(substr, u)
		}
	}
	if len(substr) == 1 {
		return &substr[0], nil
	}
	if len(substr) > 1 {
		return nil, &AmbiguousUserError{Identifier: identifier, Candidates: cap5(substr)}
	}

	// Tier 3: fuzzy similarity over the floor, ambiguity within the band.
	var candidates []scored
	for _, u := range users {
		s := Similarity(needle, strings.ToLower(u.FullName))
		if s >= similarityFloor {
			candidates = append(candidates, scored{user: u, score: s})
		}
	}
	return pickFuzzy(identifier, candidates)
}

// pickFuzzy returns the best-scored candidate, or an ambiguity error when
// rivals land within the band of the best score.
func pickFuzzy(identifier string, candidates []scored) (*zulip.User, error) {
	if len(candidates) == 0 {
		return nil, &UserNotFoundError{Identifier: identifier}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	best := candidates[0].score
	rivals := []zulip.User{candidates[0].user}
	for _, c := range candidates[1:] {
		if best-c.score <= ambiguityBand {
			rivals = append(rivals, c.user)
		}
	}
	if len(rivals) > 1 {
		return nil, &AmbiguousUserError{Identifier: identifier, Candidates: cap5(rivals)}
	}
	return &rivals[0], nil
}

func cap5(users []zulip.User) []zulip.User {
	if len(users) > maxCandidates {
		return users[:maxCandidates]
	}
	return users
}

// Similarity is a normalized edit-distance ratio in [0, 1]: 1 for equal
// strings, 0 for nothing in common.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	dist := levenshtein(a, b)
	longest := la
	if lb > longest {
		longest = lb
	}
	return 1 - float64(dist)/float64(longest)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
