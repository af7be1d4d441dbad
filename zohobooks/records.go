package zohobooks

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is one upstream document as Zoho returned it. Numbers are kept as json.Number
// so stored payloads round-trip without float rounding.
type Record map[string]interface{}

// NaturalKey returns the value of field as a non-empty string.
func (r Record) NaturalKey(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}
	var key string
	switch t := v.(type) {
	case string:
		key = t
	case float64:
		key = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		key = strconv.Itoa(t)
	case int64:
		key = strconv.FormatInt(t, 10)
	case fmt.Stringer:
		// json.Number
		key = t.String()
	default:
		return "", false
	}
	key = strings.TrimSpace(key)
	return key, key != ""
}
