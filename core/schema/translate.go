package schema

var formatAliases = map[string]string{
	"ip-address": "ipv4",
	"host-name":  "hostname",
}

var droppedFormats = map[string]bool{
	"utc-millisec": true,
}

// translate rewrites one draft-02/03 schema node for a 2020-12 validator. The
// input is never modified.
func translate(node map[string]any) map[string]any {
	out := make(map[string]any, len(node))
	for key, value := range node {
		if isLegacyKey(key) {
			continue
		}
		out[key] = value
	}

	if divisor, ok := out["divisibleBy"]; ok {
		delete(out, "divisibleBy")
		if _, exists := out["multipleOf"]; !exists {
			out["multipleOf"] = divisor
		}
	}
	exclusiveBound(out, "exclusiveMinimum", "minimum")
	exclusiveBound(out, "exclusiveMaximum", "maximum")

	if typeValue, ok := out["type"]; ok {
		if translated, keep := translateType(typeValue); keep {
			out[typeKeyword(translated)] = translated
			if typeKeyword(translated) != "type" {
				delete(out, "type")
			}
		} else {
			delete(out, "type")
		}
	}
	if disallowed, ok := out["disallow"]; ok {
		delete(out, "disallow")
		if translated, keep := translateType(disallowed); keep {
			out["not"] = map[string]any{typeKeyword(translated): translated}
		}
	}

	if format, ok := out["format"].(string); ok {
		if droppedFormats[format] {
			delete(out, "format")
		} else if alias, found := formatAliases[format]; found {
			out["format"] = alias
		}
	}

	for _, key := range []string{"items", "additionalProperties", "additionalItems", "not"} {
		if child, ok := out[key]; ok {
			out[key] = translateValue(child)
		}
	}
	if properties, ok := out["properties"].(map[string]any); ok {
		translated := make(map[string]any, len(properties))
		for name, child := range properties {
			translated[name] = translateValue(child)
		}
		out["properties"] = translated
	}
	return out
}

func translateValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return translate(typed)
	case []any:
		out := make([]any, 0, len(typed))
		for _, item := range typed {
			out = append(out, translateValue(item))
		}
		return out
	default:
		return value
	}
}

// exclusiveBound turns the draft-03 boolean flag into the numeric bound.
func exclusiveBound(node map[string]any, flag, bound string) {
	value, ok := node[flag]
	if !ok {
		return
	}
	exclusive, isBool := value.(bool)
	if !isBool {
		return
	}
	delete(node, flag)
	if !exclusive {
		return
	}
	if limit, hasLimit := node[bound]; hasLimit {
		node[flag] = limit
		delete(node, bound)
	}
}

// translateType drops "any" and lifts inline schemas in a type union into an
// anyOf list. keep is false when nothing constrains the type.
func translateType(value any) (any, bool) {
	switch typed := value.(type) {
	case string:
		if typed == "any" {
			return nil, false
		}
		return typed, true
	case []any:
		names := []any{}
		schemas := []any{}
		for _, item := range typed {
			switch member := item.(type) {
			case string:
				if member == "any" {
					return nil, false
				}
				names = append(names, member)
			case map[string]any:
				schemas = append(schemas, translate(member))
			}
		}
		if len(schemas) == 0 {
			if len(names) == 0 {
				return nil, false
			}
			return names, true
		}
		branches := anyOf{}
		for _, name := range names {
			branches = append(branches, map[string]any{"type": name})
		}
		return append(branches, schemas...), true
	default:
		return value, true
	}
}

// anyOf marks a type union that had to become anyOf branches.
type anyOf []any

func typeKeyword(translated any) string {
	if _, ok := translated.(anyOf); ok {
		return "anyOf"
	}
	return "type"
}
