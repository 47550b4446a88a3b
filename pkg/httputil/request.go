package httputil

import (
	"fmt"
	"net/url"
	"strconv"
)

// FormInt reads a non-negative integer from form or query values. A missing
// key yields defaultVal.
func FormInt(values url.Values, key string, defaultVal int) (int, error) {
	raw := values.Get(key)
	if raw == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return val, nil
}

// FormBool reads a boolean ("1", "true", "0", "false", ...) from form or
// query values
func FormBool(values url.Values, key string, defaultVal bool) (bool, error) {
	raw := values.Get(key)
	if raw == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", key, raw)
	}
	return val, nil
}
