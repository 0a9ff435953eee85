package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"garthen-realtime/internal/logging"
	"garthen-realtime/internal/runctx"
)

// Credentials is the persisted login state shared with the HTTP login flow.
type Credentials struct {
	Token      string `json:"token"`
	IsLoggedIn bool   `json:"is_logged_in"`
}

func CredentialsPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "garthen", "credentials.json"), nil
}

// CredentialStore keeps the current credentials in memory and on disk. It
// is the token source read at every handshake, so a token refreshed on disk
// is used by the next reconnect.
type CredentialStore struct {
	path   string
	logger *logging.Logger

	mu       sync.RWMutex
	current  Credentials
	override string
}

func NewCredentialStore(path string, logger *logging.Logger) (*CredentialStore, error) {
	if logger == nil {
		panic("config.NewCredentialStore: logger must not be nil")
	}
	if strings.TrimSpace(path) == "" {
		defaultPath, err := CredentialsPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}
	return &CredentialStore{path: filepath.Clean(path), logger: logger}, nil
}

func (s *CredentialStore) Path() string {
	return s.path
}

// Load reads the file into memory. A missing file yields empty credentials.
func (s *CredentialStore) Load() (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.set(Credentials{})
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	s.set(creds)
	return creds, nil
}

func (s *CredentialStore) Save(creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, payload, 0o600); err != nil {
		return err
	}
	s.set(creds)
	return nil
}

// ClearLogin forgets the token after the server rejected it.
func (s *CredentialStore) ClearLogin() error {
	s.mu.Lock()
	s.override = ""
	s.mu.Unlock()
	return s.Save(Credentials{})
}

// SetOverride makes token win over the file, as --token does.
func (s *CredentialStore) SetOverride(token string) {
	s.mu.Lock()
	s.override = strings.TrimSpace(token)
	s.mu.Unlock()
}

func (s *CredentialStore) Current() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Token returns the bearer token for the next authorize frame.
func (s *CredentialStore) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.override != "" {
		return s.override, nil
	}
	return strings.TrimSpace(s.current.Token), nil
}

// Watch reloads the credentials whenever the file changes and delivers each
// reloaded value. The channel closes when ctx ends.
func (s *CredentialStore) Watch(ctx context.Context) (<-chan Credentials, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	// The directory is watched so atomic replacements are seen too.
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch credentials directory %s: %w", dir, err)
	}
	s.logger.Debugf("watching credentials: %s", s.path)

	updates := make(chan Credentials, 1)
	go func() {
		defer close(updates)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("stopping credentials watch: context canceled")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != s.path || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				creds, err := s.Load()
				if err != nil {
					s.logger.Warn("failed to reload credentials", logging.Field("path", s.path), logging.Field("error", err))
					continue
				}
				s.logger.Debug("credentials reloaded", logging.Field("logged_in", creds.IsLoggedIn))
				if !runctx.SendOrDone(ctx, "credentials watch", s.logger, updates, creds) {
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("watcher error", logging.Field("error", err))
			}
		}
	}()
	return updates, nil
}

func (s *CredentialStore) set(creds Credentials) {
	s.mu.Lock()
	s.current = creds
	s.mu.Unlock()
}
