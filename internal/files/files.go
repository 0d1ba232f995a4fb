// Package files gives access to the app-private data directory and to
// recording assets addressed by absolute path or file:// URI.
package files

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrInvalidName = errors.New("invalid file name")
	ErrInvalidURI  = errors.New("invalid file uri")
)

// Dir is rooted at one app-private directory.
type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("directory root is required")
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Root() string {
	return d.root
}

// Path returns the absolute path of name inside the directory.
func (d *Dir) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(d.root, name), nil
}

// Write replaces the content of name. The file is swapped in by rename so
// readers never observe a partial write.
func (d *Dir) Write(name, content string) error {
	path, err := d.Path(name)
	if err != nil {
		return err
	}

	tempPath := path + ".part"
	if err := os.WriteFile(tempPath, []byte(content), 0o644); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("move %s into place: %w", name, err)
	}
	return nil
}

// Read returns ok=false when name does not exist.
func (d *Dir) Read(name string) (string, bool, error) {
	path, err := d.Path(name)
	if err != nil {
		return "", false, err
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", name, err)
	}
	return string(content), true, nil
}

// Append creates name when it does not exist.
func (d *Dir) Append(name, content string) error {
	path, err := d.Path(name)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", name, err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("append to %s: %w", name, err)
	}
	return f.Close()
}

func (d *Dir) Exists(name string) (bool, error) {
	path, err := d.Path(name)
	if err != nil {
		return false, err
	}
	return statExists(path)
}

func (d *Dir) Delete(name string) error {
	path, err := d.Path(name)
	if err != nil {
		return err
	}
	return removeIfExists(path)
}

// List returns the names of regular files, sorted.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.root, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *Dir) PathExists(uri string) (bool, error) {
	return PathExists(uri)
}

func (d *Dir) DeletePath(uri string) error {
	return DeletePath(uri)
}

// ResolvePath turns an absolute path or a file:// URI into a clean local path.
func ResolvePath(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURI)
	}

	if strings.HasPrefix(uri, "file:") {
		parsed, err := url.Parse(uri)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidURI, err)
		}
		if parsed.Host != "" && parsed.Host != "localhost" {
			return "", fmt.Errorf("%w: remote host %q", ErrInvalidURI, parsed.Host)
		}
		uri = parsed.Path
	}

	if !filepath.IsAbs(uri) {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidURI, uri)
	}
	return filepath.Clean(uri), nil
}

func PathExists(uri string) (bool, error) {
	path, err := ResolvePath(uri)
	if err != nil {
		return false, err
	}
	return statExists(path)
}

// DeletePath succeeds when the file is already gone.
func DeletePath(uri string) error {
	path, err := ResolvePath(uri)
	if err != nil {
		return err
	}
	return removeIfExists(path)
}

func statExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return !info.IsDir(), nil
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("delete %s: %w", path, err)
}
