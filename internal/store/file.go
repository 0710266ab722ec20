// internal/store/file.go
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/statepilot/api/schemas"
)

// FileStore keeps each repository in its own JSON or YAML file. The format
// follows the file extension.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

var _ Repository = (*FileStore)(nil)

// NewFileStore resolves relative names against dir. An empty dir means the
// working directory.
func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	return &FileStore{dir: dir, logger: logger.Named("store")}
}

func (s *FileStore) path(name string) string {
	if s.dir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.dir, name)
}

func (s *FileStore) Load(_ context.Context, name string) ([]schemas.State, error) {
	p := s.path(name)
	var states []schemas.State
	if err := decodeFile(p, &states); err != nil {
		return nil, err
	}
	if states == nil {
		states = []schemas.State{}
	}
	s.logger.Debug("Loaded repository.", zap.String("path", p), zap.Int("states", len(states)))
	return states, nil
}

// Save writes through a temporary file and renames it into place so a crash
// never leaves a truncated repository behind.
func (s *FileStore) Save(_ context.Context, name string, states []schemas.State) error {
	p := s.path(name)
	if states == nil {
		states = []schemas.State{}
	}
	data, err := encode(p, states)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", p, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to replace %s: %w", p, err)
	}
	s.logger.Info("Repository saved.", zap.String("path", p), zap.Int("states", len(states)))
	return nil
}

func (s *FileStore) Close() error { return nil }

// LoadPrompts reads the state prompt templates from a JSON or YAML file.
func LoadPrompts(path string) ([]schemas.StatePrompt, error) {
	var prompts []schemas.StatePrompt
	if err := decodeFile(path, &prompts); err != nil {
		return nil, err
	}
	return prompts, nil
}

// LoadParameters accepts either an inline JSON object or a path to a JSON or
// YAML file. Non-string values are rendered with their default formatting.
func LoadParameters(arg string) (schemas.Parameters, error) {
	raw := map[string]any{}
	trimmed := strings.TrimSpace(arg)
	switch {
	case trimmed == "":
		return schemas.Parameters{}, nil
	case strings.HasPrefix(trimmed, "{"):
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil, fmt.Errorf("failed to decode inline parameters: %w", err)
		}
	default:
		if err := decodeFile(trimmed, &raw); err != nil {
			return nil, err
		}
	}

	params := make(schemas.Parameters, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			params[k] = val
		case nil:
			params[k] = ""
		default:
			params[k] = fmt.Sprint(val)
		}
	}
	return params, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, v)
	} else {
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func encode(path string, v any) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return data, nil
}
