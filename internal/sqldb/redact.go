package sqldb

import (
	"net/url"
	"regexp"
	"strings"
)

const redacted = "REDACTED"

var (
	urlPasswordRe     = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://[^:/@\s]*):[^@\s]*@`)
	keywordPasswordRe = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|"[^"]*"|\S+)`)
)

// RedactURL masks the password of a database URL while keeping the rest
// readable for logs.
func RedactURL(raw string) string {
	if raw == "" {
		return raw
	}

	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "[REDACTED: invalid URL]"
		}
		if parsed.User != nil {
			if _, hasPassword := parsed.User.Password(); hasPassword {
				parsed.User = url.UserPassword(parsed.User.Username(), redacted)
			}
		}
		q := parsed.Query()
		changed := false
		for key := range q {
			if strings.Contains(strings.ToLower(key), "password") {
				q.Set(key, redacted)
				changed = true
			}
		}
		if changed {
			parsed.RawQuery = q.Encode()
		}
		return parsed.String()
	}

	// libpq keyword/value form, e.g. "host=localhost password=secret dbname=test"
	return keywordPasswordRe.ReplaceAllString(raw, "${1}"+redacted)
}

// SafeError renders err with any embedded credentials masked.
func SafeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = urlPasswordRe.ReplaceAllString(msg, "${1}:"+redacted+"@")
	msg = keywordPasswordRe.ReplaceAllString(msg, "${1}"+redacted)
	return msg
}
