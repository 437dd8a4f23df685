package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coreman2200/ledwall/internal/topology"
)

// ErrNotFound means the store holds no topology document yet.
var ErrNotFound = errors.New("no topology document stored")

// Store persists the topology document. Implementations validate on both
// Load and Save, so an invalid document is never handed out or written.
type Store interface {
	Load(ctx context.Context) (*topology.Raw, error)
	Save(ctx context.Context, raw *topology.Raw) error
}

// Decode parses a topology document. JSON is picked for a ".json" name,
// YAML otherwise.
func Decode(name string, b []byte) (*topology.Raw, error) {
	var raw topology.Raw
	var err error
	if isJSON(name) {
		err = json.Unmarshal(b, &raw)
	} else {
		err = yaml.Unmarshal(b, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return &raw, nil
}

func Encode(name string, raw *topology.Raw) ([]byte, error) {
	if isJSON(name) {
		return json.MarshalIndent(raw, "", "  ")
	}
	return yaml.Marshal(raw)
}

func isJSON(name string) bool { return strings.EqualFold(filepath.Ext(name), ".json") }

const (
	DefaultKeepBackups = 10
	backupStamp        = "20060102_150405.000"
)

// FileStore keeps the document in one file and copies the previous version
// into a backup directory before every save.
type FileStore struct {
	Path      string
	BackupDir string // default: "backup" next to Path
	Keep      int    // backups kept, default DefaultKeepBackups
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path, BackupDir: filepath.Join(filepath.Dir(path), "backup"), Keep: DefaultKeepBackups}
}

func (s *FileStore) Load(ctx context.Context) (*topology.Raw, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	raw, err := Decode(s.Path, b)
	if err != nil {
		return nil, err
	}
	if _, err := topology.Validate(raw); err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return raw, nil
}

func (s *FileStore) Save(ctx context.Context, raw *topology.Raw) error {
	if _, err := topology.Validate(raw); err != nil {
		return err
	}
	b, err := Encode(s.Path, raw)
	if err != nil {
		return err
	}
	if err := s.backup(); err != nil {
		return fmt.Errorf("backup %s: %w", s.Path, err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

func (s *FileStore) backup() error {
	old, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.BackupDir, 0755); err != nil {
		return err
	}
	ext := filepath.Ext(s.Path)
	base := strings.TrimSuffix(filepath.Base(s.Path), ext)
	name := fmt.Sprintf("%s_%s%s", base, time.Now().Format(backupStamp), ext)
	if err := os.WriteFile(filepath.Join(s.BackupDir, name), old, 0644); err != nil {
		return err
	}
	return s.prune(base, ext)
}

// prune deletes all but the newest Keep backups. Stamps sort by time.
func (s *FileStore) prune(base, ext string) error {
	keep := s.Keep
	if keep <= 0 {
		keep = DefaultKeepBackups
	}
	matches, err := filepath.Glob(filepath.Join(s.BackupDir, base+"_*"+ext))
	if err != nil {
		return err
	}
	if len(matches) <= keep {
		return nil
	}
	sort.Strings(matches)
	for _, m := range matches[:len(matches)-keep] {
		if err := os.Remove(m); err != nil {
			return err
		}
	}
	return nil
}

// Backups lists backup files, oldest first.
func (s *FileStore) Backups() ([]string, error) {
	ext := filepath.Ext(s.Path)
	base := strings.TrimSuffix(filepath.Base(s.Path), ext)
	matches, err := filepath.Glob(filepath.Join(s.BackupDir, base+"_*"+ext))
	sort.Strings(matches)
	return matches, err
}
