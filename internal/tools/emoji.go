package tools

import (
	"sort"
	"strings"

	"github.com/zulipmcp/zulipmcp/internal/validate"
)

// approvedEmoji is the reaction registry. Reactions outside it are rejected
// at validation so agents cannot spam arbitrary emoji.
var approvedEmoji = map[string]bool{
	"+1": true, "-1": true,
	"smile": true, "laughing": true, "heart": true, "tada": true,
	"rocket": true, "eyes": true, "thinking": true, "check": true,
	"check_mark": true, "cross_mark": true, "warning": true,
	"fire": true, "bug": true, "question": true, "wave": true,
	"clap": true, "pray": true, "hourglass": true, "lock": true,
	"white_check_mark": true, "octopus": true, "working_on_it": true,
}

// validateEmoji checks membership in the approved registry.
func validateEmoji(name string) error {
	if approvedEmoji[strings.TrimSpace(name)] {
		return nil
	}
	allowed := make([]string, 0, len(approvedEmoji))
	for e := range approvedEmoji {
		allowed = append(allowed, e)
	}
	sort.Strings(allowed)
	return validate.Invalid("emoji_name",
		"emoji is not in the approved registry",
		"allowed: "+strings.Join(allowed, ", "))
}
