package safeurl

import "net/url"

// IsHTTPOrHTTPS returns true if u is a valid URL with scheme http or https.
// Resolved storage links are fetched server-side, so anything else
// (file://, ftp://, ...) is rejected before we ever dial it.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := parsed.Scheme
	return s == "http" || s == "https"
}

// Redact strips the query string from u for logging. Storage providers sign
// their direct links in query parameters; logging them verbatim would leak
// time-limited credentials into log files.
func Redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return "(unparseable url)"
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}
