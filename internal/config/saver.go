package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

// Save validates cfg and writes it to path. The previous file, if any, is
// kept as path.bak. The write goes through a uniquely named temp file and a
// rename, so a reader never sees a partial config.
func Save(cfg *Config, path string) error {
	if err := Validate(cfg); err != nil {
		return withPath(err, path)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := backupConfig(path); err != nil {
		log.Printf("Warning: failed to back up %s: %v", path, err)
	}
	if err := atomicWrite(path, data); err != nil {
		return writeError(path, err)
	}
	return nil
}

// backupConfig copies the current file to path.bak. A missing file is not
// an error.
func backupConfig(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path+".bak", data, 0644)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()[:8]+".tmp")
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func writeError(path string, err error) error {
	fe := &FileError{Path: path, Op: "write", Err: err}
	if errors.Is(err, fs.ErrPermission) {
		target := filepath.Dir(path)
		if _, statErr := os.Stat(path); statErr == nil {
			target = path
		}
		if runtime.GOOS == "windows" {
			fe.Hint = fmt.Sprintf("Right-click %s → Properties → Security → Grant 'Write' permission", target)
		} else {
			fe.Hint = fmt.Sprintf("Run: chmod u+w %s", target)
		}
	}
	return fe
}
