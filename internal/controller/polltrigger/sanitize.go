package polltrigger

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/tombee/pollgate/internal/pieces"
	pgerrors "github.com/tombee/pollgate/pkg/errors"
)

// secretFieldGlobs match lower-cased payload keys that never leave the
// process. Matching uses path.Match semantics.
var secretFieldGlobs = []string{
	"*token",
	"*secret",
	"*password",
	"*_key",
	"authorization",
	"credential*",
}

// pieceFields are extra keys dropped for one piece.
var pieceFields = map[string][]string{
	"pagerduty": {"escalation_rules", "conference_bridge"},
	"slack":     {"bot_profile", "app_id"},
	"jira":      {"email"},
}

// Trigger names become store keys and metric labels.
var identifierRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateIdentifier rejects names that are empty or use characters
// outside [a-zA-Z0-9_-].
func ValidateIdentifier(value string) error {
	if value == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if !identifierRe.MatchString(value) {
		return fmt.Errorf("identifier %q may only contain letters, digits, underscore and hyphen", value)
	}
	return nil
}

// StripSensitiveFields returns a deep copy of payload without secret-like
// keys or keys listed for piece. payload is not modified.
func StripSensitiveFields(payload map[string]any, piece string) map[string]any {
	return stripValue(payload, piece).(map[string]any)
}

func stripValue(v any, piece string) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			if !dropField(k, piece) {
				out[k] = stripValue(child, piece)
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = stripValue(child, piece)
		}
		return out
	}
	return v
}

func dropField(name, piece string) bool {
	lower := strings.ToLower(name)
	for _, glob := range secretFieldGlobs {
		if ok, _ := path.Match(glob, lower); ok {
			return true
		}
	}
	for _, f := range pieceFields[piece] {
		if lower == f {
			return true
		}
	}
	return false
}

var redactions = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`Bearer [a-zA-Z0-9_\-.]+`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`Token token=[a-zA-Z0-9_+\-]+`), "Token token=[REDACTED]"},
	{regexp.MustCompile(`Basic [a-zA-Z0-9+/=]+`), "Basic [REDACTED]"},
	{regexp.MustCompile(`xox[bpa]-[a-zA-Z0-9-]+`), "[REDACTED-SLACK-TOKEN]"},
}

// SanitizeErrorMessage renders err with credentials masked. It is applied
// before an error is stored in trigger status or returned by the API.
func SanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, r := range redactions {
		msg = r.re.ReplaceAllString(msg, r.with)
	}
	return msg
}

// credentialRule is one requirement a piece places on its credentials.
type credentialRule struct {
	ok      func(pieces.Credentials) bool
	message string
}

var credentialRules = map[string][]credentialRule{
	"pagerduty": {
		{func(c pieces.Credentials) bool { return c.Token != "" }, "pagerduty requires token"},
	},
	"slack": {
		{func(c pieces.Credentials) bool { return c.Token != "" }, "slack requires token"},
		{func(c pieces.Credentials) bool { return strings.HasPrefix(c.Token, "xoxb-") }, "slack requires a bot token (xoxb-), user tokens are not supported"},
	},
	"jira": {
		{func(c pieces.Credentials) bool { return c.Username != "" }, "jira requires username"},
		{func(c pieces.Credentials) bool { return c.Token != "" }, "jira requires token"},
	},
}

// ValidateCredentials checks creds against the rules for piece. Pieces
// without rules accept anything, including no credentials.
func ValidateCredentials(piece string, creds pieces.Credentials) error {
	for _, rule := range credentialRules[piece] {
		if !rule.ok(creds) {
			return &pgerrors.ValidationError{Field: "triggers.credentials", Message: rule.message}
		}
	}
	return nil
}
