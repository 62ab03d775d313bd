// Package validator implements the command whitelist and shell-metacharacter
// denial described in spec.md §4.2: a command is allowed on the fast path
// only if it matches a whitelist prefix and contains no shell metacharacter,
// with a narrowly-gated, fully audited bypass.
package validator

import (
	"strings"

	"github.com/rs/zerolog"
)

// Decision is the outcome of Validate.
type Decision struct {
	Allowed bool
	Reason  string // populated when Allowed is false, or "bypass" when bypassed
}

// whitelist is the ordered set of allowed command prefixes (spec.md §4.2).
var whitelist = []string{
	"git", "npm", "npx", "node", "ls", "cat", "head", "tail", "grep", "find",
	"pwd", "echo", "mkdir", "touch", "cp", "mv", "chmod", "wc", "sort",
	"uniq", "cut", "diff", "which", "env", "date", "whoami", "hostname",
}

// metacharacterPatterns enable shell chaining or substitution and are
// denied unconditionally before whitelist matching.
var metacharacterPatterns = []string{
	";", "|", "&", "`", "$(", "${", "\n", "\r", ">>", "<<",
}

const denyReasonInjection = "shell injection pattern"

// Validate checks command against the metacharacter denylist and then the
// whitelist. bypass, when true, skips the whitelist match (but never the
// metacharacter check) and is audit-logged via audit.
func Validate(command string, bypass bool, audit zerolog.Logger) Decision {
	if m, ok := containsMetacharacter(command); ok {
		return Decision{Allowed: false, Reason: denyReasonInjection + ": " + m}
	}

	if matchesWhitelist(command) {
		return Decision{Allowed: true}
	}

	if bypass {
		audit.Warn().
			Str("command_preview", preview(command)).
			Msg("whitelist bypass used")
		return Decision{Allowed: true, Reason: "bypass"}
	}

	return Decision{Allowed: false, Reason: "command not in whitelist"}
}

func containsMetacharacter(command string) (string, bool) {
	for _, m := range metacharacterPatterns {
		if strings.Contains(command, m) {
			return m, true
		}
	}
	return "", false
}

func matchesWhitelist(command string) bool {
	trimmed := strings.TrimSpace(command)
	for _, prefix := range whitelist {
		if trimmed == prefix || strings.HasPrefix(trimmed, prefix+" ") {
			return true
		}
	}
	return false
}

// preview truncates command for audit-log inclusion.
func preview(command string) string {
	const max = 200
	if len(command) <= max {
		return command
	}
	return command[:max] + "…"
}
