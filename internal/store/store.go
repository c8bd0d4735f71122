package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"lanxfer/internal/fsutil"
)

var (
	ErrInvalidName     = errors.New("invalid name")
	ErrNotFound        = errors.New("not found")
	ErrIOFailure       = errors.New("i/o failure")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// FileEntry describes one stored file. Size and ModTime come from the
// filesystem at the time of the call. Digest is only set on entries returned
// by Put.
type FileEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
	Digest  string    `json:"digest,omitempty"`
}

type Options struct {
	// MaxBytes caps a single Put. Zero or negative means unbounded.
	MaxBytes int64
	Logger   *slog.Logger
}

// Store is a flat directory of files. Writers go through a temp file in the
// same directory and an atomic rename, so readers never observe a partial
// file and no lock is held across requests.
type Store struct {
	root     string
	maxBytes int64
	log      *slog.Logger
}

// New returns a store rooted at root, creating the directory if needed.
func New(root string, opts Options) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	// canonical form so the prefix check in fsutil compares like with like
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("store root %s is not a directory", abs)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: abs, maxBytes: opts.MaxBytes, log: logger}, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

func (s *Store) resolve(name string) (string, string, error) {
	clean, err := fsutil.SafeName(name)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", ErrInvalidName, name, err)
	}
	abs, err := fsutil.JoinWithinRoot(s.root, clean)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", ErrInvalidName, name, err)
	}
	return clean, abs, nil
}

// Put streams r into the store under name, replacing any existing file of the
// same name once the whole stream has been written.
func (s *Store) Put(ctx context.Context, name string, r io.Reader) (FileEntry, error) {
	clean, dst, err := s.resolve(name)
	if err != nil {
		return FileEntry{}, err
	}

	tmp := filepath.Join(s.root, fsutil.TempPrefix+uuid.NewString()+".part")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return FileEntry{}, ioFailure("create temp file", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	h, err := blake2b.New256(nil)
	if err != nil {
		return FileEntry{}, ioFailure("hash", err)
	}
	src := r
	if s.maxBytes > 0 {
		// one byte past the limit is enough to tell "too large" from "exactly max"
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := copyChunks(ctx, io.MultiWriter(f, h), src)
	if err != nil {
		return FileEntry{}, ioFailure("write "+clean, err)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		return FileEntry{}, fmt.Errorf("%w: %q exceeds %d bytes", ErrPayloadTooLarge, clean, s.maxBytes)
	}
	if err := f.Sync(); err != nil {
		return FileEntry{}, ioFailure("sync "+clean, err)
	}
	if err := f.Close(); err != nil {
		return FileEntry{}, ioFailure("close "+clean, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return FileEntry{}, ioFailure("rename "+clean, err)
	}
	committed = true

	entry := FileEntry{
		Name:    clean,
		Size:    n,
		ModTime: time.Now(),
		Digest:  hex.EncodeToString(h.Sum(nil)),
	}
	// a concurrent writer may already have replaced dst; the mtime is
	// informational only
	if st, err := os.Lstat(dst); err == nil {
		entry.ModTime = st.ModTime()
	}
	return entry, nil
}

// copyChunks copies src into dst in 1 MiB steps, checking ctx between steps.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 1024*1024)
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rn, rerr := src.Read(buf)
		if rn > 0 {
			wn, werr := dst.Write(buf[:rn])
			n += int64(wn)
			if werr != nil {
				return n, werr
			}
			if wn != rn {
				return n, io.ErrShortWrite
			}
		}
		if errors.Is(rerr, io.EOF) {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}

// List returns the regular files directly inside the root, ordered by name.
// A directory read failure is logged and yields an empty list.
func (s *Store) List() []FileEntry {
	ents, err := os.ReadDir(s.root)
	if err != nil {
		s.log.Warn("list store", "root", s.root, "error", err)
		return []FileEntry{}
	}
	// os.ReadDir sorts by file name
	out := make([]FileEntry, 0, len(ents))
	for _, e := range ents {
		name := e.Name()
		if fsutil.IsTemp(name) || !e.Type().IsRegular() {
			continue
		}
		// files that could not be addressed by name again are hidden
		if clean, err := fsutil.SafeName(name); err != nil || clean != name {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		out = append(out, FileEntry{
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out
}

// Stat returns the entry for name without opening it.
func (s *Store) Stat(name string) (FileEntry, error) {
	clean, abs, err := s.resolve(name)
	if err != nil {
		return FileEntry{}, err
	}
	st, err := s.lstatRegular(clean, abs)
	if err != nil {
		return FileEntry{}, err
	}
	return FileEntry{Name: clean, Size: st.Size(), ModTime: st.ModTime()}, nil
}

// Get opens name for reading. The caller closes the file. Because the open
// descriptor pins the inode, a concurrent Delete or Put does not change what
// the caller reads.
func (s *Store) Get(name string) (*os.File, FileEntry, error) {
	clean, abs, err := s.resolve(name)
	if err != nil {
		return nil, FileEntry{}, err
	}
	st, err := s.lstatRegular(clean, abs)
	if err != nil {
		return nil, FileEntry{}, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, FileEntry{}, notFound(clean)
		}
		return nil, FileEntry{}, ioFailure("open "+clean, err)
	}
	fst, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, FileEntry{}, ioFailure("stat "+clean, err)
	}
	// the name was swapped between Lstat and Open (for a symlink, say)
	if !fst.Mode().IsRegular() || !os.SameFile(st, fst) {
		_ = f.Close()
		return nil, FileEntry{}, notFound(clean)
	}
	return f, FileEntry{Name: clean, Size: fst.Size(), ModTime: fst.ModTime()}, nil
}

// Delete removes name. A missing name is reported as ErrNotFound.
func (s *Store) Delete(name string) error {
	clean, abs, err := s.resolve(name)
	if err != nil {
		return err
	}
	if _, err := s.lstatRegular(clean, abs); err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(clean)
		}
		return ioFailure("remove "+clean, err)
	}
	return nil
}

// Sweep removes upload temp files last modified before now-olderThan and
// returns how many were removed.
func (s *Store) Sweep(olderThan time.Duration) (int, error) {
	ents, err := os.ReadDir(s.root)
	if err != nil {
		return 0, ioFailure("sweep", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range ents {
		if !fsutil.IsTemp(e.Name()) || !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("sweep temp file", "name", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *Store) lstatRegular(clean, abs string) (os.FileInfo, error) {
	st, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(clean)
		}
		return nil, ioFailure("stat "+clean, err)
	}
	if !st.Mode().IsRegular() {
		return nil, notFound(clean)
	}
	return st, nil
}

func notFound(name string) error {
	return fmt.Errorf("%w: %q", ErrNotFound, name)
}

func ioFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIOFailure, op, err)
}
