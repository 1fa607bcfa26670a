package redact

import "regexp"

// Pattern is a secret-token shape. A string containing a match is replaced
// with "<redacted:Name>".
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
}

// Compiled token shapes. These look for credentials that show up inside
// otherwise harmless values, such as a command line or a header value.
var (
	apiKeyRe      = regexp.MustCompile(`\bsk-(?:ant-|proj-|live-|test-)?[A-Za-z0-9_\-]{12,}`)
	bearerRe      = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-\.=:+/]{8,}`)
	githubTokenRe = regexp.MustCompile(`\b(?:gh[pousr]_[A-Za-z0-9]{20,}|github_pat_[A-Za-z0-9_]{22,})`)
	slackTokenRe  = regexp.MustCompile(`\bxox[abprs]-[A-Za-z0-9\-]{10,}`)
	awsKeyRe      = regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)
	jwtRe         = regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`)
	privateKeyRe  = regexp.MustCompile(`-----BEGIN (?:[A-Z]+ )?PRIVATE KEY-----`)
)

// DefaultPatterns returns the built-in token shapes in match order.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "private-key", Regex: privateKeyRe},
		{Name: "jwt", Regex: jwtRe},
		{Name: "bearer", Regex: bearerRe},
		{Name: "github-token", Regex: githubTokenRe},
		{Name: "slack-token", Regex: slackTokenRe},
		{Name: "aws-key", Regex: awsKeyRe},
		{Name: "api-key", Regex: apiKeyRe},
	}
}

// MatchPattern returns the name of the first pattern found in s.
func MatchPattern(patterns []Pattern, s string) (string, bool) {
	if len(s) < 8 {
		return "", false
	}
	for _, p := range patterns {
		if p.Regex.MatchString(s) {
			return p.Name, true
		}
	}
	return "", false
}
