package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"garthen-realtime/internal/wire"
)

type Options struct {
	WSURI             string        `long:"ws-uri" env:"GARTHEN_WS_URI" description:"Realtime endpoint (e.g. https://garthen.example.com or wss://garthen.example.com/ws)"`
	Token             string        `long:"token" env:"GARTHEN_TOKEN" description:"Bearer token; overrides the credentials file"`
	CredentialsFile   string        `long:"credentials-file" env:"GARTHEN_CREDENTIALS_FILE" description:"Credentials file (default: user config dir)"`
	HeartbeatInterval time.Duration `long:"heartbeat-interval" env:"GARTHEN_HEARTBEAT_INTERVAL" default:"30s" description:"Heartbeat interval while authorized"`
	ReconnectDelay    time.Duration `long:"reconnect-delay" env:"GARTHEN_RECONNECT_DELAY" default:"1s" description:"Delay before reconnecting after a transient close"`
	MetricsAddr       string        `long:"metrics-addr" env:"GARTHEN_METRICS_ADDR" description:"Serve Prometheus metrics on this address (e.g. :9464)"`
	Debug             bool          `long:"debug" env:"GARTHEN_DEBUG" description:"Enable verbose debug output"`
	LogPersist        bool          `long:"log-persist" env:"GARTHEN_LOG_PERSIST" description:"Persist log entries as JSONL files"`
	LogDir            string        `long:"log-dir" env:"GARTHEN_LOG_DIR" description:"Directory for persisted logs (default: user cache dir)"`
	Subscribe         []string      `long:"subscribe" description:"Subscribe after connecting: topic or topic:{json params} (repeatable)"`
	DeleteGreenhouse  string        `long:"delete-greenhouse" description:"Delete this greenhouse id once connected, then exit"`
	CurrentPassword   string        `long:"current-password" env:"GARTHEN_CURRENT_PASSWORD" description:"Account password confirming --delete-greenhouse"`
}

// Topic is a subscription requested on the command line.
type Topic struct {
	Name   string
	Params any
}

const realtimePath = "/ws"

func ParseOptions() (Options, error) {
	return ParseArgs(nil)
}

// ParseArgs loads .env when present and parses args; nil args means the
// process arguments.
func ParseArgs(args []string) (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	var err error
	if args == nil {
		_, err = flags.Parse(&opts)
	} else {
		_, err = flags.ParseArgs(&opts, args)
	}
	if err != nil {
		return Options{}, err
	}
	return opts, nil
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(opts.WSURI) == "" {
		return errors.New("realtime endpoint (--ws-uri) is required")
	}
	if opts.HeartbeatInterval < 0 || opts.ReconnectDelay < 0 {
		return errors.New("intervals must not be negative")
	}
	if _, err := BuildEndpoint(opts.WSURI); err != nil {
		return err
	}
	if _, err := ParseTopics(opts.Subscribe); err != nil {
		return err
	}
	if strings.TrimSpace(opts.DeleteGreenhouse) != "" {
		if _, err := ParseGreenhouseID(opts.DeleteGreenhouse); err != nil {
			return err
		}
		if opts.CurrentPassword == "" {
			return errors.New("--delete-greenhouse needs --current-password")
		}
	}
	return nil
}

// ParseGreenhouseID reads a positive snowflake id given on the command line.
func ParseGreenhouseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid greenhouse id %q", raw)
	}
	return id, nil
}

// BuildEndpoint turns a pasted base or endpoint URL into the websocket URL.
// http maps to ws and https to wss; an empty path becomes /ws.
func BuildEndpoint(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.New("expected absolute URL like https://garthen.example.com")
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", errors.New("endpoint scheme must be http, https, ws or wss")
	}

	path := strings.TrimRight(parsed.Path, "/")
	if path == "" {
		path = realtimePath
	}
	parsed.Path = path
	parsed.RawPath = ""
	parsed.Fragment = ""
	return parsed.String(), nil
}

// ParseTopics reads --subscribe values. Params keep large integers exact.
func ParseTopics(values []string) ([]Topic, error) {
	topics := make([]Topic, 0, len(values))
	for _, value := range values {
		name, rawParams, hasParams := strings.Cut(strings.TrimSpace(value), ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("subscribe %q: missing topic", value)
		}
		topic := Topic{Name: name}
		if hasParams && strings.TrimSpace(rawParams) != "" {
			params, err := wire.FromWire([]byte(rawParams))
			if err != nil {
				return nil, fmt.Errorf("subscribe %q: %w", value, err)
			}
			if _, ok := params.(map[string]any); !ok {
				return nil, fmt.Errorf("subscribe %q: params must be a JSON object", value)
			}
			topic.Params = params
		}
		topics = append(topics, topic)
	}
	return topics, nil
}
