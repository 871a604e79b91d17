// Package security scrubs OAuth secrets from logs and audit records,
// validates inbound payloads and filters redirect targets.
package security

import (
	"regexp"
	"strings"
	"sync"
)

// RedactPlaceholder is the replacement string for redacted secrets.
const RedactPlaceholder = "***REDACTED***"

// secretKeyPattern matches map and attribute keys that likely hold secrets.
var secretKeyPattern = regexp.MustCompile(`(?i)(secret|token|password|api_key|credential|authorization)`)

// rule replaces every match of re with repl. repl may reference groups.
type rule struct {
	re   *regexp.Regexp
	repl string
}

// Redactor replaces secret values in strings and maps with a placeholder.
// It knows the shapes of common OAuth tokens and also redacts literal
// values learned at runtime, such as tokens returned by a refresh.
// All methods are safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	rules    []rule
	literals map[string]struct{}
}

// NewRedactor creates a Redactor pre-loaded with DefaultPatterns and the
// OAuth parameter rules.
func NewRedactor() *Redactor {
	r := &Redactor{rules: paramRules()}
	for _, p := range DefaultPatterns() {
		r.rules = append(r.rules, rule{re: p, repl: RedactPlaceholder})
	}
	return r
}

// AddPattern adds a compiled regex whose matches are fully redacted.
func (r *Redactor) AddPattern(pattern *regexp.Regexp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{re: pattern, repl: RedactPlaceholder})
}

// AddLiteral adds a literal secret value that should be redacted on sight.
// Empty strings and values shorter than 8 bytes are ignored so that short
// test fixtures and status words are never masked.
func (r *Redactor) AddLiteral(secret string) {
	if len(secret) < 8 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.literals == nil {
		r.literals = make(map[string]struct{})
	}
	r.literals[secret] = struct{}{}
}

// Literals returns how many literal secrets are registered.
func (r *Redactor) Literals() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.literals)
}

// Redact replaces all known secret patterns and literal values in s
// with RedactPlaceholder.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Literals first: a learned token may not match any pattern.
	for lit := range r.literals {
		if strings.Contains(s, lit) {
			s = strings.ReplaceAll(s, lit, RedactPlaceholder)
		}
	}
	for _, ru := range r.rules {
		s = ru.re.ReplaceAllString(s, ru.repl)
	}
	return s
}

// RedactMap walks a map and replaces values whose keys look like secret
// names. Used before displaying configuration.
func (r *Redactor) RedactMap(m map[string]any) {
	for k, v := range m {
		if secretKeyPattern.MatchString(k) {
			if s, ok := v.(string); ok && s != "" {
				m[k] = RedactPlaceholder
				continue
			}
		}
		switch val := v.(type) {
		case map[string]any:
			r.RedactMap(val)
		case []any:
			for _, item := range val {
				if sub, ok := item.(map[string]any); ok {
					r.RedactMap(sub)
				}
			}
		case string:
			if redacted := r.Redact(val); redacted != val {
				m[k] = redacted
			}
		}
	}
}

// paramRules mask the value of OAuth parameters in URLs, form bodies and
// JSON while keeping the parameter name readable.
func paramRules() []rule {
	return []rule{
		{
			re:   regexp.MustCompile(`(?i)\b(access_token|refresh_token|id_token|client_secret|code)=[^&\s"']+`),
			repl: "${1}=" + RedactPlaceholder,
		},
		{
			re:   regexp.MustCompile(`(?i)"(access_token|refresh_token|id_token|client_secret)"\s*:\s*"[^"]*"`),
			repl: `"${1}":"` + RedactPlaceholder + `"`,
		},
		{
			re:   regexp.MustCompile(`(?i)\b(Bearer|Basic)\s+[A-Za-z0-9\-._~+/]+=*`),
			repl: "${1} " + RedactPlaceholder,
		},
	}
}

// DefaultPatterns returns compiled regex patterns for token formats issued
// by common OAuth providers.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Google access tokens
		regexp.MustCompile(`ya29\.[A-Za-z0-9_\-]{20,}`),
		// Google refresh tokens
		regexp.MustCompile(`1//[A-Za-z0-9_\-]{20,}`),
		// Meta (Facebook, Instagram) user and page tokens
		regexp.MustCompile(`EAA[A-Za-z0-9]{30,}`),
		// GitHub OAuth and personal tokens
		regexp.MustCompile(`(ghp_|gho_|ghu_|ghr_|github_pat_)[A-Za-z0-9_]{20,}`),
		// Slack bot, user and refresh tokens
		regexp.MustCompile(`xox[abpre]-[0-9A-Za-z\-]{10,}`),
		// JSON Web Tokens
		regexp.MustCompile(`eyJ[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}`),
	}
}
