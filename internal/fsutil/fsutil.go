package fsutil

import (
	"errors"
	"path/filepath"
	"strings"
)

// TempPrefix marks in-flight upload files inside a store root. Names carrying it
// are reserved.
const TempPrefix = ".lanxfer-"

var (
	ErrEmptyName  = errors.New("empty name")
	ErrUnsafeName = errors.New("unsafe name")
	ErrPathEscape = errors.New("path escape")
)

// SafeName reduces a caller supplied name to the single path segment that is
// stored on disk. Both separator conventions are honoured, so "dir\a.txt" and
// "dir/a.txt" both become "a.txt". Names that try to climb out (any ".."
// element) or that are absolute are refused outright.
func SafeName(name string) (string, error) {
	if strings.Contains(name, "\x00") {
		return "", ErrUnsafeName
	}
	p := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(p, "/") || hasDrivePrefix(p) {
		return "", ErrUnsafeName
	}
	for _, el := range strings.Split(p, "/") {
		if strings.TrimSpace(el) == ".." {
			return "", ErrUnsafeName
		}
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	switch strings.TrimSpace(p) {
	case "":
		return "", ErrEmptyName
	case ".":
		return "", ErrUnsafeName
	}
	if strings.HasPrefix(p, TempPrefix) {
		return "", ErrUnsafeName
	}
	return p, nil
}

func hasDrivePrefix(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// JoinWithinRoot returns the absolute path of name under rootAbs. name must be a
// single segment as produced by SafeName; the result is rejected unless rootAbs
// is a literal prefix of it.
func JoinWithinRoot(rootAbs string, name string) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}
	rootClean := filepath.Clean(rootAbs)
	absClean := filepath.Clean(filepath.Join(rootClean, name))
	if !strings.HasPrefix(absClean, rootClean+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	if filepath.Dir(absClean) != rootClean {
		return "", ErrPathEscape
	}
	return absClean, nil
}

// IsTemp reports whether a directory entry name belongs to an in-flight upload.
func IsTemp(name string) bool {
	return strings.HasPrefix(name, TempPrefix)
}
