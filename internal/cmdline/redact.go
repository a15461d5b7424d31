package cmdline

import "regexp"

// redactPattern is a pre-compiled secret-shaped pattern applied to full
// cmdlines before they are written to a diagnostic dump. Adapted from the
// teacher's log redaction approach (match a named pattern, replace with a
// fixed placeholder) but scoped to the handful of shapes that show up on
// build command lines.
type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

var defaultPatterns = []redactPattern{
	{"flag-secret", regexp.MustCompile(`(?i)(--?[a-z0-9_-]*(password|secret|token|api[_-]?key)[a-z0-9_-]*)=\S+`), "${1}=***"},
	{"bearer", regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]+`), "bearer ***"},
	{"aws-secret-env", regexp.MustCompile(`(?i)(AWS_[A-Z_]*SECRET[A-Z_]*=)\S+`), "${1}***"},
}

// Redact replaces any recognizable secret-shaped substring in s with a
// placeholder. It never errors: an unmatched line passes through unchanged.
func Redact(s string) string {
	for _, p := range defaultPatterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}
