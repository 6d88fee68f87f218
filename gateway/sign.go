package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strconv"
)

// Sign computes the Bank's request token: the terminal password is added
// as a "Password" pseudo-parameter, keys are sorted lexicographically and
// the stringified values concatenated, then SHA-256 hex of the result.
//
// Nested objects (the DATA sub-map and anything else non-scalar) are
// excluded from the token by the Bank's protocol. So are nil values and
// empty strings. This is fixed, not configurable.
func Sign(params map[string]any, password string) string {
	values := make(map[string]string, len(params)+1)
	for k, v := range params {
		s, ok := stringify(v)
		if !ok || s == "" {
			continue
		}
		values[k] = s
	}
	values["Password"] = password

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var concat []byte
	for _, k := range keys {
		concat = append(concat, values[k]...)
	}

	sum := sha256.Sum256(concat)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the token over params (minus the token field itself,
// which the caller must already have stripped) and compares in constant
// time.
func Verify(params map[string]any, token, password string) bool {
	want := Sign(params, password)
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint:
		return strconv.FormatUint(uint64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float64:
		// JSON numbers decode as float64; the Bank only sends integers.
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		// maps, slices, structs: excluded from the token
		return "", false
	}
}
