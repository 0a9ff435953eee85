package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
)

const clipLimit = 240

func attrsToMap(attrs []slog.Attr) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	values := map[string]any{}
	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}
		values[attr.Key] = resolveValue(attr.Value.Resolve())
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func resolveValue(value slog.Value) any {
	if value.Kind() != slog.KindGroup {
		return value.Any()
	}
	inner := map[string]any{}
	for _, attr := range value.Group() {
		if attr.Key != "" {
			inner[attr.Key] = resolveValue(attr.Value.Resolve())
		}
	}
	return inner
}

// Truncate flattens value to one line and clips it for inline display.
func Truncate(value string) string {
	value = strings.TrimSpace(value)
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	if value == "" {
		return "<empty>"
	}
	if len(value) > clipLimit {
		return value[:clipLimit] + "..."
	}
	return value
}

// FormatPayload normalizes wire text for log output. Large integers stay
// unquoted digits because decoding uses json.Number.
func FormatPayload(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "<empty>"
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return Truncate(trimmed)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return Truncate(trimmed)
	}
	return Truncate(buf.String())
}

func FormatEntryLine(entry Entry) string {
	ts := entry.Time.Format("15:04:05")
	level := strings.ToUpper(entry.Level.String())
	fields := ""
	if len(entry.Fields) > 0 {
		keys := orderedFieldKeys(entry.Fields)
		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, formatFieldValue(entry.Fields[key])))
		}
		fields = " " + strings.Join(parts, " ")
	}
	return fmt.Sprintf("%s [%s] %s%s\n", ts, level, entry.Message, fields)
}

func formatFieldValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "<nil>"
	case error:
		return Truncate(v.Error())
	case string:
		if strings.ContainsAny(v, " \t") {
			return fmt.Sprintf("%q", v)
		}
		return Truncate(v)
	case []byte:
		return FormatPayload(v)
	case *big.Int:
		if v == nil {
			return "<nil>"
		}
		return v.String()
	case fmt.Stringer:
		return Truncate(v.String())
	case map[string]any, []any:
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return Truncate(string(payload))
	default:
		return fmt.Sprintf("%v", value)
	}
}

// orderedFieldKeys sorts keys alphabetically and moves payload-like keys last.
func orderedFieldKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	inline := make([]string, 0, len(keys))
	payload := make([]string, 0, len(keys))
	for _, key := range keys {
		if isPayloadFieldKey(key) {
			payload = append(payload, key)
			continue
		}
		inline = append(inline, key)
	}
	return append(inline, payload...)
}

func isPayloadFieldKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "payload", "frame", "data", "params":
		return true
	default:
		return false
	}
}
