package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
)

// LoadFrom reads the config at path. Missing fields take their defaults,
// then the environment overrides are applied and the result is validated.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, readError(path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		hint := "Fix the JSON or run 'dialin config init --force' to start over"
		if _, statErr := os.Stat(path + ".bak"); statErr == nil {
			hint = fmt.Sprintf("Restore the previous config from %s.bak", path)
		}
		return nil, &InvalidConfigError{Path: path, Message: fmt.Sprintf("JSON parse error: %v", err), Hint: hint}
	}

	cfg.fillDefaults()
	cfg.applyEnv()

	if err := Validate(&cfg); err != nil {
		return nil, withPath(err, path)
	}
	return &cfg, nil
}

// LoadOrCreate reads config from path, returning the defaults (with the
// environment overrides) when the file does not exist yet.
func LoadOrCreate(path string) (*Config, error) {
	cfg, err := LoadFrom(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = NewConfig()
		cfg.applyEnv()
		return cfg, nil
	}
	return cfg, err
}

func readError(path string, err error) error {
	fe := &FileError{Path: path, Op: "read", Err: err}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fe.Hint = "Run 'dialin config init' to create it, or omit --config to use defaults"
	case errors.Is(err, fs.ErrPermission):
		fe.Hint = readPermissionFix(path)
	}
	return fe
}

// readPermissionFix returns the platform's fix, with the current mode when known.
func readPermissionFix(path string) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("Right-click %s → Properties → Security → Edit permissions", path)
	}
	fix := fmt.Sprintf("Run: chmod 644 %s", path)
	if info, err := os.Stat(path); err == nil {
		fix += fmt.Sprintf(" (current mode %04o)", info.Mode().Perm())
	}
	return fix
}

func withPath(err error, path string) error {
	var ice *InvalidConfigError
	if errors.As(err, &ice) {
		ice.Path = path
	}
	return err
}
