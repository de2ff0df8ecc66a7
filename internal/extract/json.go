package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// maxJSONDepth bounds recursion on deeply nested documents.
const maxJSONDepth = 32

func isJSON(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// fromJSON flattens a JSON document into "key: value " tokens. Nested values
// are keyed by their innermost member name; array elements inherit the name
// of the array. Concatenated documents (NDJSON) are flattened in order.
// Input that does not decode falls back to plain text.
func fromJSON(raw []byte, charset string) string {
	text := decodeText(raw, charset)
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var b strings.Builder
	for {
		var doc any
		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return text
		}
		flattenJSON(&b, "", doc, 0)
	}
	return b.String()
}

func flattenJSON(b *strings.Builder, key string, v any, depth int) {
	if depth > maxJSONDepth {
		return
	}
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenJSON(b, k, val[k], depth+1)
		}
	case []any:
		for _, item := range val {
			flattenJSON(b, key, item, depth+1)
		}
	case nil:
	default:
		s := scalarString(val)
		if s == "" {
			return
		}
		if key == "" {
			b.WriteString(s)
			b.WriteString(" ")
			return
		}
		writePair(b, key, s)
	}
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// looksLikeJSON reports whether raw starts like an object or array, for
// bodies sent without a usable content type.
func looksLikeJSON(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 1 && (t[0] == '{' && t[len(t)-1] == '}' || t[0] == '[' && t[len(t)-1] == ']')
}
