package gateway

import "strings"

// Keys that enable prototype pollution or query injection in downstream
// consumers. Matched case-insensitively at every object depth.
var forbiddenKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
	"$where":      {},
}

// sanitizeValue strips structurally dangerous keys from decoded JSON
// before it reaches a module. Objects and arrays are walked recursively;
// scalars pass through unchanged.
func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		clean := make(map[string]any, len(val))
		for key, item := range val {
			if isForbiddenKey(key) {
				continue
			}
			clean[key] = sanitizeValue(item)
		}
		return clean
	case []any:
		for i, item := range val {
			val[i] = sanitizeValue(item)
		}
		return val
	default:
		return v
	}
}

func isForbiddenKey(key string) bool {
	if strings.ContainsRune(key, 0) {
		return true
	}
	_, bad := forbiddenKeys[strings.ToLower(key)]
	return bad
}
