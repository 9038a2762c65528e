package recon

import (
	"strconv"
	"strings"
)

// lookupPath walks a decoded JSON document by a dot path with optional
// array indexes: "data.txn[0].status". Returns nil when any segment is
// missing.
func lookupPath(doc any, path string) any {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	current := doc
	for _, segment := range strings.Split(path, ".") {
		key, indexes := splitIndexes(segment)
		if key != "" {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil
			}
			current, ok = obj[key]
			if !ok {
				return nil
			}
		}
		for _, idx := range indexes {
			arr, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil
			}
			current = arr[idx]
		}
	}
	return current
}

// lookupString renders the value at path as a string. Numbers come back in
// their shortest decimal form.
func lookupString(doc any, path string) string {
	switch v := lookupPath(doc, path).(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func splitIndexes(segment string) (string, []int) {
	open := strings.IndexByte(segment, '[')
	if open < 0 {
		return segment, nil
	}

	key := segment[:open]
	var indexes []int
	rest := segment[open:]
	for strings.HasPrefix(rest, "[") {
		close := strings.IndexByte(rest, ']')
		if close < 0 {
			return key, indexes
		}
		idx, err := strconv.Atoi(rest[1:close])
		if err != nil {
			return key, indexes
		}
		indexes = append(indexes, idx)
		rest = rest[close+1:]
	}
	return key, indexes
}
