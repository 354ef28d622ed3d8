package config

import (
	"fmt"
	"strings"
)

// FileError is a config file that could not be read or written. It unwraps
// to the underlying os error, so errors.Is(err, fs.ErrNotExist) and
// errors.Is(err, fs.ErrPermission) work.
type FileError struct {
	Path string
	Op   string // "read" or "write"
	Err  error
	Hint string
}

func (e *FileError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "cannot %s config %s: %v", e.Op, e.Path, e.Err)
	if e.Hint != "" {
		sb.WriteString("\n💡 " + e.Hint)
	}
	return sb.String()
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// InvalidConfigError is a config that does not parse or fails validation.
// Field is the dotted JSON path of the offending value, e.g.
// dialIn.bounds.grind.
type InvalidConfigError struct {
	Path    string
	Field   string
	Message string
	Hint    string
}

func (e *InvalidConfigError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid config")
	if e.Path != "" {
		sb.WriteString(" " + e.Path)
	}
	sb.WriteString(": ")
	if e.Field != "" {
		sb.WriteString(e.Field + " ")
	}
	sb.WriteString(e.Message)
	if e.Hint != "" {
		sb.WriteString("\n💡 " + e.Hint)
	}
	return sb.String()
}
