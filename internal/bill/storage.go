package bill

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
	safeExtension       = regexp.MustCompile(`^\.[a-z0-9]+$`)
)

const maxFilenameBase = 50

// Storage defines the interface for uploaded file storage
type Storage interface {
	// Save stores data under name and returns the key to retrieve it
	Save(name string, data []byte) (string, error)

	Get(key string) ([]byte, error)

	Delete(key string) error
}

// LocalStorage stores uploads as files under a base directory
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the base directory if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	key := filepath.Base(name)
	if err := os.WriteFile(filepath.Join(l.basePath, key), data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return key, nil
}

func (l *LocalStorage) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, filepath.Base(key)))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

func (l *LocalStorage) Delete(key string) error {
	if err := os.Remove(filepath.Join(l.basePath, filepath.Base(key))); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// sanitizeFilename strips characters that phones and browsers like to put in
// upload names and caps the length of the base name.
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(repeatedSpaces.ReplaceAllString(base, " "))
	if len(base) > maxFilenameBase {
		base = strings.TrimSpace(base[:maxFilenameBase])
	}
	if base == "" {
		base = "bill"
	}
	if !safeExtension.MatchString(ext) {
		ext = ""
	}
	return base + ext
}
