package wire

import (
	"errors"
	"math/big"
	"testing"
)

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("invalid big integer %q", s)
	}
	return i
}

func TestToWireWritesLargeIntegersAsBareDigits(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "big positive", value: map[string]any{"id": bigFromString(t, "1180591620717411303424")}, want: `{"id":1180591620717411303424}`},
		{name: "big negative", value: map[string]any{"id": bigFromString(t, "-9007199254740993")}, want: `{"id":-9007199254740993}`},
		{name: "safe int64", value: map[string]any{"n": int64(5)}, want: `{"n":5}`},
		{name: "max safe", value: []any{int64(MaxSafeInteger)}, want: `[9007199254740991]`},
		{name: "uint64 above safe", value: []any{uint64(1 << 60)}, want: `[1152921504606846976]`},
		{name: "fraction untouched", value: map[string]any{"f": 1.5}, want: `{"f":1.5}`},
		{name: "string with tag but no digits", value: map[string]any{"s": "abc#bigint"}, want: `{"s":"abc#bigint"}`},
		{name: "html not escaped", value: map[string]any{"s": "<a&b>"}, want: `{"s":"<a&b>"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToWire(tt.value)
			if err != nil {
				t.Fatalf("ToWire() error = %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("ToWire() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestToWireRejectsTagCollision(t *testing.T) {
	values := []any{
		map[string]any{"s": "123#bigint"},
		map[string]any{"id": bigFromString(t, "9007199254740993"), "s": "-7#bigint"},
	}
	for _, value := range values {
		if _, err := ToWire(value); !errors.Is(err, ErrBigIntCollision) {
			t.Fatalf("ToWire(%v) error = %v, want ErrBigIntCollision", value, err)
		}
	}
}

func TestToWireNormalizesStructs(t *testing.T) {
	type payload struct {
		ID   *big.Int `json:"id"`
		Name string   `json:"name"`
	}
	got, err := ToWire(map[string]any{"p": payload{ID: bigFromString(t, "18446744073709551617"), Name: "gh"}})
	if err != nil {
		t.Fatalf("ToWire() error = %v", err)
	}
	want := `{"p":{"id":18446744073709551617,"name":"gh"}}`
	if string(got) != want {
		t.Fatalf("ToWire() = %s, want %s", got, want)
	}
}

func TestToWireNil(t *testing.T) {
	got, err := ToWire(nil)
	if err != nil || got != nil {
		t.Fatalf("ToWire(nil) = %q, %v, want nil, nil", got, err)
	}
	if !Ready() {
		t.Fatalf("Ready() = false after encoding")
	}
}

func TestFromWireRestoresNumbers(t *testing.T) {
	v, err := FromWire([]byte(`{"a":9007199254740993,"b":5,"c":1.5,"d":null,"e":[-9007199254740991]}`))
	if err != nil {
		t.Fatalf("FromWire() error = %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("FromWire() type = %T, want map", v)
	}
	a, ok := m["a"].(*big.Int)
	if !ok || a.String() != "9007199254740993" {
		t.Fatalf("a = %#v, want *big.Int 9007199254740993", m["a"])
	}
	if m["b"] != int64(5) {
		t.Fatalf("b = %#v, want int64(5)", m["b"])
	}
	if m["c"] != 1.5 {
		t.Fatalf("c = %#v, want 1.5", m["c"])
	}
	if d, present := m["d"]; !present || d != nil {
		t.Fatalf("d = %#v (present=%v), want nil", d, present)
	}
	e := m["e"].([]any)
	if e[0] != int64(MinSafeInteger) {
		t.Fatalf("e[0] = %#v, want MinSafeInteger", e[0])
	}
}

func TestFromWireEmptyAndInvalid(t *testing.T) {
	if v, err := FromWire(nil); v != nil || err != nil {
		t.Fatalf("FromWire(nil) = %v, %v", v, err)
	}
	if _, err := FromWire([]byte(`{"a":`)); err == nil {
		t.Fatalf("FromWire(truncated) error = nil")
	}
	if _, err := FromWire([]byte(`1 2`)); err == nil {
		t.Fatalf("FromWire(trailing) error = nil")
	}
}

func TestWireTextRoundTripKeepsDigits(t *testing.T) {
	const text = `{"ids":[1,9007199254740993,-340282366920938463463374607431768211456],"name":"x"}`
	v, err := FromWire([]byte(text))
	if err != nil {
		t.Fatalf("FromWire() error = %v", err)
	}
	got, err := ToWire(v)
	if err != nil {
		t.Fatalf("ToWire() error = %v", err)
	}
	if string(got) != text {
		t.Fatalf("round trip = %s, want %s", got, text)
	}
}

func TestToWireIntegralFloatReadsBackAsInteger(t *testing.T) {
	text, err := ToWire(map[string]any{"t": 2.0, "h": 2.5})
	if err != nil {
		t.Fatalf("ToWire() error = %v", err)
	}
	if string(text) != `{"h":2.5,"t":2}` {
		t.Fatalf("ToWire() = %s", text)
	}
	v, err := FromWire(text)
	if err != nil {
		t.Fatalf("FromWire() error = %v", err)
	}
	m := v.(map[string]any)
	if m["t"] != int64(2) || m["h"] != 2.5 {
		t.Fatalf("FromWire() = %#v, want t int64 2 and h float64 2.5", m)
	}
}
