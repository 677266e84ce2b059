package restyutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
)

// InstrumentOutput receives named text captures (HTTP exchanges, page markup).
type InstrumentOutput interface {
	Write(id string, contents string)
}

type FilesystemOutput struct {
	directory string
}

// NewFilesystemOutput writes every capture as a file under dir, creating it
// when needed.
func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return FilesystemOutput{}, fmt.Errorf("create capture directory: %w", err)
	}
	return FilesystemOutput{directory: dir}, nil
}

var unsafeIdChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (o FilesystemOutput) Write(id string, contents string) {
	name := unsafeIdChars.ReplaceAllString(id, "_")
	err := os.WriteFile(filepath.Join(o.directory, name), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write capture file", "id", id, "err", err)
	}
}

// DiscardOutput drops every capture.
type DiscardOutput struct{}

func (DiscardOutput) Write(string, string) {}
