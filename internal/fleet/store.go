package fleet

import (
	"context"
	_ "embed"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	ferrors "fleet-trader/internal/errors"
)

//go:embed bot_config.template.json
var bundledTemplate []byte

// BundledTemplate returns the template shipped with the binary.
func BundledTemplate() []byte {
	out := make([]byte, len(bundledTemplate))
	copy(out, bundledTemplate)
	return out
}

// Store reads and writes the shared fleet config document.
//
// Load fails with ErrConfigNotFound when the document does not exist. Save is a
// full-document overwrite; only the regime detector and operator commands call
// it.
type Store interface {
	Load(ctx context.Context) (*FleetConfig, error)
	Save(ctx context.Context, cfg *FleetConfig) error
}

// FileStore keeps the fleet config as a JSON file.
type FileStore struct {
	path         string
	templatePath string
	mu           sync.Mutex
}

// NewFileStore creates a store for path. templatePath is optional; when empty or
// missing on disk the bundled template is used for bootstrapping.
func NewFileStore(path, templatePath string) *FileStore {
	return &FileStore{path: path, templatePath: templatePath}
}

// Path returns the document location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the document.
func (s *FileStore) Load(ctx context.Context) (*FleetConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if ferrors.Is(err, fs.ErrNotExist) {
			return nil, ferrors.Wrapf(ferrors.ErrConfigNotFound, "%s", s.path)
		}
		return nil, ferrors.NewConfigError("read", s.path, err)
	}
	cfg, err := Decode(data)
	if err != nil {
		return nil, ferrors.NewConfigError("decode", s.path, ferrors.Join(ferrors.ErrConfigInvalid, err))
	}
	return cfg, nil
}

// Save atomically replaces the document.
func (s *FileStore) Save(ctx context.Context, cfg *FleetConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(cfg)
	if err != nil {
		return ferrors.NewConfigError("encode", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path, data); err != nil {
		return ferrors.NewConfigError("write", s.path, err)
	}
	return nil
}

// Template returns the template document, preferring the on-disk template.
func (s *FileStore) Template() (*FleetConfig, error) {
	data := bundledTemplate
	if s.templatePath != "" {
		if raw, err := os.ReadFile(s.templatePath); err == nil {
			data = raw
		} else if !ferrors.Is(err, fs.ErrNotExist) {
			return nil, ferrors.NewConfigError("read", s.templatePath, err)
		}
	}
	if len(data) == 0 {
		return nil, ferrors.ErrTemplateMissing
	}
	cfg, err := Decode(data)
	if err != nil {
		return nil, ferrors.NewConfigError("decode", s.templatePath, err)
	}
	return cfg, nil
}

// TemplateSource provides the fallback document used when the live one is missing.
type TemplateSource interface {
	Template() (*FleetConfig, error)
}

// LoadOrInit loads the document, and when it is missing persists the template
// first and returns it.
func LoadOrInit(ctx context.Context, store Store, tmpl TemplateSource) (*FleetConfig, bool, error) {
	cfg, err := store.Load(ctx)
	if err == nil {
		return cfg, false, nil
	}
	if !ferrors.Is(err, ferrors.ErrConfigNotFound) || tmpl == nil {
		return nil, false, err
	}

	cfg, err = tmpl.Template()
	if err != nil {
		return nil, false, err
	}
	if err := store.Save(ctx, cfg); err != nil {
		return nil, false, ferrors.Wrap(err, "persisting template")
	}
	return cfg, true, nil
}

// writeFileAtomic writes data to a temp file in the target directory and renames
// it over path, so readers never observe a partial document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
