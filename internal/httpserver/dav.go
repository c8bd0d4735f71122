package httpserver

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/net/webdav"

	"lanxfer/internal/store"
)

// davHandler serves the store as a read-only WebDAV collection under /dav/.
func (s *Server) davHandler() http.Handler {
	dav := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: davFS{store: s.store},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				s.log.Debug("webdav", "method", r.Method, "path", r.URL.Path, "error", err)
			}
		},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, "PROPFIND":
			dav.ServeHTTP(w, r)
		default:
			w.Header().Set("Allow", "GET, HEAD, OPTIONS, PROPFIND")
			http.Error(w, "read-only", http.StatusMethodNotAllowed)
		}
	})
}

// davFS exposes the flat store root as a single collection. Every write
// answers os.ErrPermission.
type davFS struct {
	store *store.Store
}

// davName returns the file name for a WebDAV path, or "" for the collection
// itself. Nested paths do not exist in a flat store.
func davName(name string) (string, error) {
	name = strings.Trim(path.Clean("/"+name), "/")
	if strings.Contains(name, "/") {
		return "", os.ErrNotExist
	}
	return name, nil
}

func davError(err error) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidName) {
		return os.ErrNotExist
	}
	return err
}

func (d davFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return os.ErrPermission
}

func (d davFS) RemoveAll(ctx context.Context, name string) error {
	return os.ErrPermission
}

func (d davFS) Rename(ctx context.Context, oldName, newName string) error {
	return os.ErrPermission
}

func (d davFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	n, err := davName(name)
	if err != nil {
		return nil, err
	}
	if n == "" {
		return os.Stat(d.store.Root())
	}
	e, err := d.store.Stat(n)
	if err != nil {
		return nil, davError(err)
	}
	return entryInfo{e}, nil
}

func (d davFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, os.ErrPermission
	}
	n, err := davName(name)
	if err != nil {
		return nil, err
	}
	if n == "" {
		fi, err := os.Stat(d.store.Root())
		if err != nil {
			return nil, err
		}
		return &davDir{store: d.store, info: fi}, nil
	}
	f, _, err := d.store.Get(n)
	if err != nil {
		return nil, davError(err)
	}
	return readOnlyFile{f}, nil
}

type readOnlyFile struct {
	*os.File
}

func (readOnlyFile) Write([]byte) (int, error) {
	return 0, os.ErrPermission
}

// entryInfo adapts a store.FileEntry to fs.FileInfo.
type entryInfo struct {
	e store.FileEntry
}

func (i entryInfo) Name() string       { return i.e.Name }
func (i entryInfo) Size() int64        { return i.e.Size }
func (i entryInfo) Mode() fs.FileMode  { return 0o444 }
func (i entryInfo) ModTime() time.Time { return i.e.ModTime }
func (i entryInfo) IsDir() bool        { return false }
func (i entryInfo) Sys() any           { return nil }

// davDir is the root collection. Its children come from Store.List, so temp
// files and anything that is not a regular file never show up.
type davDir struct {
	store   *store.Store
	info    fs.FileInfo
	entries []fs.FileInfo
	loaded  bool
	pos     int
}

func (d *davDir) Close() error                   { return nil }
func (d *davDir) Read([]byte) (int, error)       { return 0, errors.New("is a directory") }
func (d *davDir) Write([]byte) (int, error)      { return 0, os.ErrPermission }
func (d *davDir) Seek(int64, int) (int64, error) { return 0, nil }
func (d *davDir) Stat() (fs.FileInfo, error)     { return d.info, nil }

func (d *davDir) Readdir(count int) ([]fs.FileInfo, error) {
	if !d.loaded {
		for _, e := range d.store.List() {
			d.entries = append(d.entries, entryInfo{e})
		}
		d.loaded = true
	}
	rest := d.entries[d.pos:]
	if count <= 0 {
		d.pos = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	n := min(count, len(rest))
	d.pos += n
	return rest[:n], nil
}
