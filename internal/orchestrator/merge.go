package orchestrator

import "encoding/json"

// Merge combines two result trees key-wise. Nested maps merge recursively,
// lists concatenate and then drop structural duplicates (first-seen order
// kept), anything else is overwritten by the later value. Merging a tree
// into itself is a no-op, which is what makes re-delivered worker frames
// safe to fold in.
func Merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, incoming := range src {
		existing, ok := dst[key]
		if !ok {
			dst[key] = Dedupe(incoming)
			continue
		}

		switch existingTyped := existing.(type) {
		case map[string]any:
			if incomingMap, isMap := incoming.(map[string]any); isMap {
				dst[key] = Merge(existingTyped, incomingMap)
				continue
			}
		case []any:
			if incomingList, isList := incoming.([]any); isList {
				merged := make([]any, 0, len(existingTyped)+len(incomingList))
				merged = append(merged, existingTyped...)
				merged = append(merged, incomingList...)
				dst[key] = dedupeList(merged)
				continue
			}
		}
		dst[key] = Dedupe(incoming)
	}
	return dst
}

// Dedupe walks a value and removes structural duplicates from every list
// it contains, preserving first occurrence order.
func Dedupe(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		for k, child := range typed {
			typed[k] = Dedupe(child)
		}
		return typed
	case []any:
		return dedupeList(typed)
	default:
		return v
	}
}

func dedupeList(list []any) []any {
	out := make([]any, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, elem := range list {
		elem = Dedupe(elem)
		key := stableKey(elem)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, elem)
	}
	return out
}

// stableKey serializes a value with sorted map keys (encoding/json sorts
// string-keyed maps) so structurally equal values compare equal regardless
// of insertion order.
func stableKey(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "" // unserializable values collapse together rather than panic
	}
	return string(data)
}
