package tool

import (
	"fmt"
	"regexp"
)

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
	domainRe   = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneRe    = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	urlRe      = regexp.MustCompile(`^https?://[^\s]+$`)
	countryRe  = regexp.MustCompile(`^[A-Za-z]{2}$`)
	sourcesRe  = regexp.MustCompile(`^[a-z0-9,]+$`)
)

func stringField(raw map[string]any, key string) (string, bool) {
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// intField tolerates JSON numbers arriving as float64.
func intField(raw map[string]any, key string) (int, bool) {
	v, ok := raw[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func boolField(raw map[string]any, key string) (bool, bool) {
	v, ok := raw[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func requiredString(tool string, raw map[string]any, key string, re *regexp.Regexp, hint string) (string, error) {
	s, ok := stringField(raw, key)
	if !ok || s == "" {
		return "", &ValidationError{Tool: tool, Field: key, Reason: "required"}
	}
	if !re.MatchString(s) {
		return "", &ValidationError{Tool: tool, Field: key, Reason: hint}
	}
	return s, nil
}

func optionalString(tool string, raw map[string]any, key string, re *regexp.Regexp, hint string) (string, error) {
	if _, present := raw[key]; !present {
		return "", nil
	}
	s, ok := stringField(raw, key)
	if !ok {
		return "", &ValidationError{Tool: tool, Field: key, Reason: "must be a string"}
	}
	if !re.MatchString(s) {
		return "", &ValidationError{Tool: tool, Field: key, Reason: hint}
	}
	return s, nil
}

func optionalInt(tool string, raw map[string]any, key string, min, max int) (int, bool, error) {
	if _, present := raw[key]; !present {
		return 0, false, nil
	}
	n, ok := intField(raw, key)
	if !ok {
		return 0, false, &ValidationError{Tool: tool, Field: key, Reason: "must be an integer"}
	}
	if n < min || n > max {
		return 0, false, &ValidationError{
			Tool: tool, Field: key,
			Reason: fmt.Sprintf("must be between %d and %d", min, max),
		}
	}
	return n, true, nil
}
