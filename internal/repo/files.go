package repo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrNotText is returned by ReadText for content that is not valid UTF-8.
var ErrNotText = errors.New("file is not valid UTF-8 text")

// errStop ends a walk early once a match is found.
var errStop = errors.New("stop walk")

const gitDir = ".git"

// HasExtension reports whether path ends in one of exts. Matching is exact,
// so ".PY" does not match ".py".
func HasExtension(path string, exts []string) bool {
	ext := filepath.Ext(path)
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// Walk calls fn for every regular file under root whose extension is in exts,
// in lexical order, never descending into .git. A nil exts selects every file.
func Walk(root string, exts []string, fn func(path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == gitDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if exts != nil && !HasExtension(path, exts) {
			return nil
		}
		return fn(path)
	})
}

// FindFile returns the first file under root whose base name equals name
// ignoring case.
func FindFile(root, name string) (string, bool) {
	return find(root, func(base string) bool { return strings.EqualFold(base, name) })
}

// FindFirst returns the first file under root named exactly name.
func FindFirst(root, name string) (string, bool) {
	return find(root, func(base string) bool { return base == name })
}

func find(root string, match func(string) bool) (string, bool) {
	var found string
	err := Walk(root, nil, func(path string) error {
		if match(filepath.Base(path)) {
			found = path
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return "", false
	}
	return found, found != ""
}

// ReadText reads a whole file and rejects binary content.
func ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s: %w", path, ErrNotText)
	}
	return string(data), nil
}
