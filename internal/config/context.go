package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Context remembers the CLI selection between invocations: who is signed
// in and which conversation commands act on. Credentials never go here.
type Context struct {
	UserID           string    `yaml:"user,omitempty"`
	ConversationID   string    `yaml:"conversation,omitempty"`
	ConversationName string    `yaml:"conversation_name,omitempty"`
	UpdatedAt        time.Time `yaml:"updated_at,omitempty"`
}

// IsEmpty reports whether nothing is selected.
func (c *Context) IsEmpty() bool {
	return c.UserID == "" && c.ConversationID == ""
}

// HasConversation reports whether a conversation is selected.
func (c *Context) HasConversation() bool {
	return c.ConversationID != ""
}

// SetUser switches the signed-in user. A conversation picked by another
// user is dropped.
func (c *Context) SetUser(id string) {
	if id != c.UserID {
		c.ConversationID, c.ConversationName = "", ""
	}
	c.UserID = id
	c.UpdatedAt = time.Now()
}

// SetConversation selects a conversation; name is for display only.
func (c *Context) SetConversation(id, name string) {
	c.ConversationID, c.ConversationName = id, name
	c.UpdatedAt = time.Now()
}

func (c *Context) String() string {
	if c.IsEmpty() {
		return "(no context set)"
	}
	var parts []string
	if c.UserID != "" {
		parts = append(parts, "user:"+abbrev(c.UserID))
	}
	if c.HasConversation() {
		label := c.ConversationName
		if label == "" {
			label = abbrev(c.ConversationID)
		}
		parts = append(parts, "conversation:"+label)
	}
	return strings.Join(parts, " ")
}

func abbrev(id string) string {
	const n = 8
	if len(id) > n {
		return id[:n]
	}
	return id
}

// ContextStore keeps a Context in a YAML file.
type ContextStore struct {
	mu   sync.Mutex
	path string
}

// NewContextStore creates a store at path, or at
// ~/.config/sync/context.yaml when path is empty.
func NewContextStore(path string) *ContextStore {
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".config", "sync", "context.yaml")
	}
	return &ContextStore{path: path}
}

// Path returns the backing file.
func (s *ContextStore) Path() string {
	return s.path
}

// Load reads the saved context. A missing file is an empty context.
func (s *ContextStore) Load() (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Context{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read context: %w", err)
	}
	var ctx Context
	if err := yaml.Unmarshal(raw, &ctx); err != nil {
		return nil, fmt.Errorf("parse context %s: %w", s.path, err)
	}
	return &ctx, nil
}

// Save replaces the saved context. The file is written beside its final
// name and renamed so a crash never leaves half a document.
func (s *ContextStore) Save(ctx *Context) error {
	raw, err := yaml.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create context dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".context-*.yaml")
	if err != nil {
		return fmt.Errorf("create context file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write context: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod context: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close context: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace context: %w", err)
	}
	return nil
}

// Clear deletes the saved context. Clearing twice is fine.
func (s *ContextStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove context: %w", err)
	}
	return nil
}
