// Package audit provides append-only structured logging for keychain item
// operations.
//
// Every item mutation, every read that returns secret bytes, and every
// migration is recorded to ~/.lockbox/audit.log as newline-delimited JSON.
// Secret values are never written.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Action describes what happened.
type Action string

const (
	ActionItemAdd    Action = "item_add"
	ActionItemUpdate Action = "item_update"
	ActionItemRead   Action = "item_read"
	ActionItemDelete Action = "item_delete"
	ActionMigrate    Action = "migrate"
)

// Entry is a single audit log record.
type Entry struct {
	Timestamp   time.Time `json:"ts"`
	Action      Action    `json:"action"`
	Service     string    `json:"service,omitempty"`
	Account     string    `json:"account,omitempty"`
	AccessGroup string    `json:"access_group,omitempty"`
	Actor       string    `json:"actor,omitempty"` // "cli", "library"
	Count       int       `json:"count,omitempty"` // items touched by a migration
	Error       string    `json:"error,omitempty"`
}

// Logger writes audit entries to an append-only file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLogger creates or opens an audit log file for appending.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{file: f, path: path}, nil
}

// Path returns the file the logger appends to.
func (l *Logger) Path() string {
	return l.path
}

// Log writes an audit entry.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	return l.file.Close()
}
