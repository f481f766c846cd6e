package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/ansuz/internal/models"
)

const (
	sessionsFile = "sessions.json"
	activeIDFile = "active-id.txt"
)

// File is a Provider that keeps everything as plain files in one data
// directory: sessions.json for the collection, active-id.txt for the focus
// marker, setting-<key>.txt per setting. The flat JSON layout is exactly
// what external tooling expects to read and edit.
type File struct {
	dir string
}

// NewFile creates a provider rooted at dir. The directory is created on Open.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

// Open ensures the data directory exists.
func (f *File) Open() error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("store: create data dir: %w", err)
	}
	return nil
}

// Flush is a no-op: every write is atomic and durable.
func (f *File) Flush() error { return nil }

// Close is a no-op.
func (f *File) Close() error { return nil }

// SaveSessions replaces sessions.json with the full collection.
func (f *File) SaveSessions(sessions []*models.Session) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal sessions: %w", err)
	}
	return f.writeAtomic(sessionsFile, data)
}

// LoadSessions reads the stored collection; an absent file is an empty one.
func (f *File) LoadSessions() ([]*models.Session, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, sessionsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read sessions: %w", err)
	}
	var out []*models.Session
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("store: unmarshal sessions: %w", err)
	}
	for _, sess := range out {
		if sess.MessageMap == nil {
			sess.MessageMap = make(map[string]*models.Message)
		}
	}
	return out, nil
}

// SaveActiveID writes the focus marker; "" removes it.
func (f *File) SaveActiveID(id string) error {
	path := filepath.Join(f.dir, activeIDFile)
	if id == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("store: clear active id: %w", err)
		}
		return nil
	}
	return f.writeAtomic(activeIDFile, []byte(id))
}

// LoadActiveID returns the focus marker, or "" when absent.
func (f *File) LoadActiveID() (string, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, activeIDFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: read active id: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveSetting writes one setting file.
func (f *File) SaveSetting(key, value string) error {
	return f.writeAtomic(settingFile(key), []byte(value))
}

// LoadSetting returns the setting value, or "" when absent.
func (f *File) LoadSetting(key string) (string, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, settingFile(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: read setting %s: %w", key, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func settingFile(key string) string {
	return "setting-" + key + ".txt"
}

// writeAtomic writes content via tmp file, fsync, rename.
func (f *File) writeAtomic(name string, content []byte) error {
	tmp, err := os.CreateTemp(f.dir, ".ansuz-tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("store: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("store: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(f.dir, name)); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	success = true
	return nil
}

var _ Provider = (*File)(nil)
