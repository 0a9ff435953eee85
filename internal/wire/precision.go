package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"sync"
	"sync/atomic"
)

const (
	// MaxSafeInteger bounds the integers an IEEE-754 double holds exactly.
	MaxSafeInteger = 1<<53 - 1
	MinSafeInteger = -MaxSafeInteger

	bigIntTag = "#bigint"
)

var (
	warmOnce     sync.Once
	warmed       atomic.Bool
	taggedBigInt *regexp.Regexp
)

// Warm prepares the codec. It runs once per process; every frame builder
// calls it before encoding.
func Warm() {
	warmOnce.Do(func() {
		taggedBigInt = regexp.MustCompile(`"(-?\d+)` + bigIntTag + `"`)
		warmed.Store(true)
	})
}

func Ready() bool {
	return warmed.Load()
}

// ToWire renders v as wire text. Integers outside the safe range are written
// as bare digits; a string value shaped like a tagged integer fails with
// ErrBigIntCollision. A nil value has no wire text. An integral float64 is
// written without a fraction, so 2.0 reads back through FromWire as int64 2.
func ToWire(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	Warm()
	generic, err := normalize(v)
	if err != nil {
		return nil, err
	}
	tags := 0
	tagged := tagBigInts(generic, &tags)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tagged); err != nil {
		return nil, fmt.Errorf("wire text: %w", err)
	}
	text := bytes.TrimRight(buf.Bytes(), "\n")

	replaced := 0
	out := taggedBigInt.ReplaceAllFunc(text, func(match []byte) []byte {
		replaced++
		return match[1 : len(match)-len(bigIntTag)-1]
	})
	if replaced > tags {
		return nil, ErrBigIntCollision
	}
	return out, nil
}

// FromWire parses wire text. Integers outside the safe range come back as
// *big.Int, other integers as int64, fractional numbers as float64, and the
// absence sentinel (null) as nil.
func FromWire(text []byte) (any, error) {
	if len(bytes.TrimSpace(text)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("wire text: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("wire text: trailing data")
	}
	return restoreNumbers(raw)
}

// normalize converts v into the generic tree json.Decoder produces so
// struct and typed-map payloads get the same large-integer treatment.
func normalize(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any, string, bool, json.Number, *big.Int,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire text: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("wire text: %w", err)
	}
	return generic, nil
}

func tagBigInts(v any, tags *int) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for key, item := range x {
			out[key] = tagBigInts(item, tags)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = tagBigInts(item, tags)
		}
		return out
	case *big.Int:
		if x == nil {
			return nil
		}
		return markInteger(x, tags)
	case int64:
		return markInteger(big.NewInt(x), tags)
	case int:
		return markInteger(big.NewInt(int64(x)), tags)
	case uint64:
		return markInteger(new(big.Int).SetUint64(x), tags)
	case uint:
		return markInteger(new(big.Int).SetUint64(uint64(x)), tags)
	case json.Number:
		if !isIntegerLiteral(x.String()) {
			return x
		}
		i, ok := new(big.Int).SetString(x.String(), 10)
		if !ok {
			return x
		}
		return markInteger(i, tags)
	default:
		if generic, err := normalizeNested(v); err == nil && generic != nil {
			return tagBigInts(generic, tags)
		}
		return v
	}
}

// normalizeNested flattens nested typed values (structs, typed maps) found
// inside an otherwise generic tree.
func normalizeNested(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float32, float64, int8, int16, int32, uint8, uint16, uint32:
		return nil, nil
	}
	return normalize(v)
}

func markInteger(i *big.Int, tags *int) any {
	if i.IsInt64() && i.Int64() >= MinSafeInteger && i.Int64() <= MaxSafeInteger {
		return json.Number(i.String())
	}
	*tags++
	return i.String() + bigIntTag
}

func restoreNumbers(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		for key, item := range x {
			restored, err := restoreNumbers(item)
			if err != nil {
				return nil, err
			}
			x[key] = restored
		}
		return x, nil
	case []any:
		for i, item := range x {
			restored, err := restoreNumbers(item)
			if err != nil {
				return nil, err
			}
			x[i] = restored
		}
		return x, nil
	case json.Number:
		return restoreNumber(x)
	default:
		return v, nil
	}
}

func restoreNumber(n json.Number) (any, error) {
	text := n.String()
	if !isIntegerLiteral(text) {
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("wire text: %w", err)
		}
		return f, nil
	}
	i, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, fmt.Errorf("wire text: invalid integer %q", text)
	}
	if i.IsInt64() && i.Int64() >= MinSafeInteger && i.Int64() <= MaxSafeInteger {
		return i.Int64(), nil
	}
	return i, nil
}
