package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Starter returns the configuration written by WriteStarter: the defaults
// plus an example Note collection.
func Starter() *Config {
	cfg := Default()
	cfg.Schemas = []SchemaDef{
		{
			Name: "Author",
			Fields: []FieldDef{
				{Name: "name", Type: "string", Required: true},
				{Name: "email", Type: "string"},
			},
		},
		{
			Name: "Note",
			Fields: []FieldDef{
				{Name: "title", Type: "string", Required: true},
				{Name: "slug", Type: "string", Unique: true},
				{Name: "views", Type: "int", Default: int64(0)},
				{Name: "due", Type: "datetime"},
				{Name: "tags", Type: "list", Elem: &FieldDef{Type: "string"}},
				{Name: "meta", Type: "map", Elem: &FieldDef{Type: "string"}},
				{Name: "author", Type: "embedded", Schema: "Author"},
			},
		},
	}
	return cfg
}

// WriteStarter writes cfg as TOML to path. An existing file is left alone
// unless force is set.
func WriteStarter(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	fmt.Fprintf(file, "# docsync configuration. Environment variables named DOCSYNC_<SECTION>_<KEY>\n# override any value.\n\n")
	err = toml.NewEncoder(file).Encode(cfg)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
