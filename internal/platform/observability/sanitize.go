package observability

import "unicode"

// sanitizeString drops control characters and truncates to limit runes so
// request derived values cannot forge log lines.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	out := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return string(out)
}

// SanitizeRoute cleans a chi route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeUserID caps identity values written to logs.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, 64)
}
