package rules

import (
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Vars is the render-time context for template substitution. The
// symbol table it feeds is a stable contract for rule authors: new
// symbols may be added, existing ones are never removed or
// reinterpreted.
type Vars struct {
	ClientIP  string
	Method    string
	Path      string
	Host      string
	UserAgent string
	TokenCode string
	Query     url.Values
	Now       time.Time
}

var paramPattern = regexp.MustCompile(`\{\{param\.(\w+)\}\}`)

// Substitute performs a single linear literal-replacement pass over
// the template. It is intentionally not a template language: the
// replacement output is never rescanned, so a query value containing
// "{{client_ip}}" stays literal, and malformed placeholder syntax is
// left verbatim. {{attacker_ip}} and {{attacker_port}} expand to
// literal scaffold values the operator edits by hand.
func Substitute(template string, v Vars) string {
	if template == "" {
		return template
	}

	pairs := []string{
		"{{client_ip}}", orUnknown(v.ClientIP),
		"{{timestamp}}", v.Now.UTC().Format(time.RFC3339),
		"{{method}}", v.Method,
		"{{path}}", v.Path,
		"{{host}}", orUnknown(v.Host),
		"{{user_agent}}", orUnknown(v.UserAgent),
		"{{callback_url}}", "/c/" + v.TokenCode,
		"{{attacker_ip}}", "ATTACKER_IP",
		"{{attacker_port}}", "4444",
	}

	// Indexed family: {{param.NAME}} resolves from the inbound query
	// string; a missing parameter becomes the empty string.
	seen := make(map[string]bool)
	for _, match := range paramPattern.FindAllStringSubmatch(template, -1) {
		placeholder, name := match[0], match[1]
		if seen[placeholder] {
			continue
		}
		seen[placeholder] = true
		pairs = append(pairs, placeholder, v.Query.Get(name))
	}

	return strings.NewReplacer(pairs...).Replace(template)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
