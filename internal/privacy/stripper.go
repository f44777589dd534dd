// Package privacy redacts credential material before it reaches logs.
package privacy

import (
	"net/url"
	"regexp"
	"strings"
)

// Mask replaces redacted values.
const Mask = "REDACTED"

var (
	// bearerRegex matches bearer credentials inside free text.
	bearerRegex = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-._~+/]+=*`)

	// secretParamRegex matches query parameter names that carry credentials.
	secretParamRegex = regexp.MustCompile(`(?i)^(auth|token|access_token|api[_-]?key|key|sig|signature|secret|password)$`)
)

// RedactToken keeps the last four characters of a credential.
func RedactToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return Mask
	}
	return Mask + "..." + token[len(token)-4:]
}

// RedactURL removes user info and masks credential query parameters.
// Text that does not parse as a URL is passed through StripBearer.
func RedactURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return StripBearer(raw)
	}
	if u.User != nil {
		u.User = url.User(Mask)
	}
	q := u.Query()
	changed := false
	for name := range q {
		if secretParamRegex.MatchString(name) {
			q.Set(name, Mask)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// StripBearer masks bearer credentials in text such as error messages.
func StripBearer(text string) string {
	return bearerRegex.ReplaceAllString(text, "${1}"+Mask)
}

// Clean performs full redaction on free text: bearer credentials and any
// URLs embedded in it.
func Clean(text string) string {
	text = StripBearer(text)
	fields := strings.Fields(text)
	for i, f := range fields {
		trimmed := strings.Trim(f, `"'(),:`)
		if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
			fields[i] = strings.Replace(f, trimmed, RedactURL(trimmed), 1)
		}
	}
	return strings.Join(fields, " ")
}
