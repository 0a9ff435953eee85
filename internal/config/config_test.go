package config

import (
	"math/big"
	"testing"
	"time"
)

func TestBuildEndpoint_Normalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "https root", raw: "https://garthen.example.com", want: "wss://garthen.example.com/ws"},
		{name: "http root with slash", raw: "http://127.0.0.1:8080/", want: "ws://127.0.0.1:8080/ws"},
		{name: "ws endpoint kept", raw: "ws://127.0.0.1:8080/ws", want: "ws://127.0.0.1:8080/ws"},
		{name: "custom path trailing slash", raw: "wss://example.com/realtime/", want: "wss://example.com/realtime"},
		{name: "query kept fragment dropped", raw: "https://example.com?v=2#top", want: "wss://example.com/ws?v=2"},
		{name: "surrounding whitespace", raw: "  https://example.com  ", want: "wss://example.com/ws"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildEndpoint(tt.raw)
			if err != nil {
				t.Fatalf("BuildEndpoint(%q) failed: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("BuildEndpoint(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestBuildEndpoint_Invalid(t *testing.T) {
	tests := []string{
		"ftp://example.com",
		"file:///tmp/garthen",
		"example.com/ws",
		"",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			if _, err := BuildEndpoint(raw); err == nil {
				t.Fatalf("expected error for %q", raw)
			}
		})
	}
}

func TestParseTopics(t *testing.T) {
	topics, err := ParseTopics([]string{
		"user",
		"greenhouse:{\"id\":9007199254740993}",
		" device : ",
	})
	if err != nil {
		t.Fatalf("ParseTopics() error = %v", err)
	}
	if len(topics) != 3 {
		t.Fatalf("len(topics) = %d, want 3", len(topics))
	}
	if topics[0].Name != "user" || topics[0].Params != nil {
		t.Fatalf("topics[0] = %#v", topics[0])
	}
	params, ok := topics[1].Params.(map[string]any)
	if !ok {
		t.Fatalf("topics[1].Params = %T, want map", topics[1].Params)
	}
	id, ok := params["id"].(*big.Int)
	if !ok || id.String() != "9007199254740993" {
		t.Fatalf("id = %#v, want exact big integer", params["id"])
	}
	if topics[2].Name != "device" || topics[2].Params != nil {
		t.Fatalf("topics[2] = %#v", topics[2])
	}
}

func TestParseTopics_Invalid(t *testing.T) {
	tests := []string{
		":{}",
		"greenhouse:{not json}",
		"greenhouse:[1,2]",
	}
	for _, value := range tests {
		t.Run(value, func(t *testing.T) {
			if _, err := ParseTopics([]string{value}); err == nil {
				t.Fatalf("expected error for %q", value)
			}
		})
	}
}

func TestParseArgs_DefaultsAndEnv(t *testing.T) {
	t.Setenv("GARTHEN_WS_URI", "https://env.example.com")
	t.Setenv("GARTHEN_TOKEN", "")

	opts, err := ParseArgs([]string{"--reconnect-delay", "250ms", "--subscribe", "user", "--subscribe", "device"})
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if opts.WSURI != "https://env.example.com" {
		t.Fatalf("WSURI = %q", opts.WSURI)
	}
	if opts.HeartbeatInterval != 30*time.Second {
		t.Fatalf("HeartbeatInterval = %v, want 30s", opts.HeartbeatInterval)
	}
	if opts.ReconnectDelay != 250*time.Millisecond {
		t.Fatalf("ReconnectDelay = %v, want 250ms", opts.ReconnectDelay)
	}
	if len(opts.Subscribe) != 2 {
		t.Fatalf("Subscribe = %v", opts.Subscribe)
	}
	if err := ValidateRequired(opts); err != nil {
		t.Fatalf("ValidateRequired() error = %v", err)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "missing endpoint", opts: Options{}},
		{name: "bad scheme", opts: Options{WSURI: "ftp://example.com"}},
		{name: "negative delay", opts: Options{WSURI: "https://example.com", ReconnectDelay: -time.Second}},
		{name: "bad topic", opts: Options{WSURI: "https://example.com", Subscribe: []string{"x:{"}}},
		{name: "bad greenhouse id", opts: Options{WSURI: "https://example.com", DeleteGreenhouse: "abc", CurrentPassword: "pw"}},
		{name: "delete without password", opts: Options{WSURI: "https://example.com", DeleteGreenhouse: "42"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateRequired(tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseGreenhouseID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{raw: "42", want: 42},
		{raw: " 1234567890123456789 ", want: 1234567890123456789},
		{raw: "0", wantErr: true},
		{raw: "-3", wantErr: true},
		{raw: "99999999999999999999", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseGreenhouseID(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseGreenhouseID(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseGreenhouseID(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
