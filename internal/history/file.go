package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// FileRecorder пишет обмены в JSONL-файл (одна запись на строку), а профили
// пользователей держит в памяти и атомарно сохраняет в соседний <path>.users.json.
type FileRecorder struct {
	mu        sync.Mutex
	path      string
	usersPath string
	users     map[int64]User
	now       func() time.Time
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	if path == "" {
		return nil, fmt.Errorf("history file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	f := &FileRecorder{
		path:      path,
		usersPath: path + ".users.json",
		users:     make(map[int64]User),
		now:       time.Now,
	}
	if err := f.loadUsers(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FileRecorder) TouchUser(_ context.Context, user User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	existing, ok := f.users[user.UserID]
	if ok {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = now
	}
	user.LastActive = now
	f.users[user.UserID] = user
	return f.persistUsersLocked()
}

func (f *FileRecorder) SaveInteraction(_ context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = f.now()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	if _, err := file.Write(line); err != nil {
		file.Close()
		return fmt.Errorf("append history: %w", err)
	}
	return file.Close()
}

func (f *FileRecorder) Close(context.Context) error { return nil }

func (f *FileRecorder) loadUsers() error {
	data, err := os.ReadFile(f.usersPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read users file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var raw map[string]User
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse users file %s: %w", f.usersPath, err)
	}
	for key, user := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		f.users[id] = user
	}
	return nil
}

// persistUsersLocked пишет профили во временный файл и переименовывает его.
func (f *FileRecorder) persistUsersLocked() error {
	payload := make(map[string]User, len(f.users))
	for id, user := range f.users {
		payload[strconv.FormatInt(id, 10)] = user
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}

	dir := filepath.Dir(f.usersPath)
	tmpFile, err := os.CreateTemp(dir, filepath.Base(f.usersPath)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmpFile.Name()

	cleanup := func(err error) error {
		tmpFile.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if _, err := tmpFile.Write(data); err != nil {
		return cleanup(fmt.Errorf("write temp file: %w", err))
	}
	if err := tmpFile.Sync(); err != nil {
		return cleanup(fmt.Errorf("sync temp file: %w", err))
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.usersPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
