package store_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"lanxfer/internal/fsutil"
	"lanxfer/internal/store"
)

func newStore(t *testing.T, maxBytes int64) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "uploads"), store.Options{MaxBytes: maxBytes})
	if err != nil {
		t.Fatalf("New() returned an error: %v", err)
	}
	return s
}

func put(t *testing.T, s *store.Store, name, content string) store.FileEntry {
	t.Helper()

	entry, err := s.Put(context.Background(), name, strings.NewReader(content))
	if err != nil {
		t.Fatalf("Put(%q) returned an error: %v", name, err)
	}
	return entry
}

func read(t *testing.T, s *store.Store, name string) string {
	t.Helper()

	f, _, err := s.Get(name)
	if err != nil {
		t.Fatalf("Get(%q) returned an error: %v", name, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read %q: %v", name, err)
	}
	return string(b)
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()

	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%q): %v", dir, err)
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		names = append(names, e.Name())
	}
	return names
}

func TestNew(t *testing.T) {
	t.Run("CreatesRoot", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")

		s, err := store.New(dir, store.Options{})
		if err != nil {
			t.Fatalf("New() returned an error: %v", err)
		}
		st, err := os.Stat(s.Root())
		if err != nil || !st.IsDir() {
			t.Fatalf("root was not created: %v", err)
		}
		if !filepath.IsAbs(s.Root()) {
			t.Errorf("Root() = %q, want absolute", s.Root())
		}
	})

	t.Run("RootIsFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := store.New(file, store.Options{}); err == nil {
			t.Error("New() on a regular file should fail")
		}
	})
}

func TestStore_Put(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		s := newStore(t, 0)
		payload := string([]byte{0, 1, 2, 255, '\n', 'x'})

		entry := put(t, s, "bin.dat", payload)

		if entry.Name != "bin.dat" || entry.Size != int64(len(payload)) {
			t.Errorf("unexpected entry %+v", entry)
		}
		if len(entry.Digest) != 64 {
			t.Errorf("Digest = %q, want 64 hex chars", entry.Digest)
		}
		if got := read(t, s, "bin.dat"); got != payload {
			t.Errorf("read back %q, want %q", got, payload)
		}
	})

	t.Run("StripsDirectories", func(t *testing.T) {
		s := newStore(t, 0)

		entry := put(t, s, `phone\DCIM\img.jpg`, "jpeg")

		if entry.Name != "img.jpg" {
			t.Errorf("Name = %q, want img.jpg", entry.Name)
		}
		if got := read(t, s, "img.jpg"); got != "jpeg" {
			t.Errorf("read back %q", got)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := newStore(t, 0)

		put(t, s, "a.txt", "first payload, longer")
		put(t, s, "a.txt", "second")

		if got := read(t, s, "a.txt"); got != "second" {
			t.Errorf("read back %q, want second", got)
		}
		if n := len(s.List()); n != 1 {
			t.Errorf("List() has %d entries, want 1", n)
		}
	})

	t.Run("ZeroBytes", func(t *testing.T) {
		s := newStore(t, 10)

		entry := put(t, s, "empty", "")

		if entry.Size != 0 {
			t.Errorf("Size = %d, want 0", entry.Size)
		}
		list := s.List()
		if len(list) != 1 || list[0].Name != "empty" || list[0].Size != 0 {
			t.Errorf("List() = %+v", list)
		}
	})

	t.Run("ExactlyMax", func(t *testing.T) {
		s := newStore(t, 5)

		if _, err := s.Put(context.Background(), "five", strings.NewReader("12345")); err != nil {
			t.Fatalf("Put of exactly MaxBytes returned an error: %v", err)
		}
	})

	t.Run("TooLarge", func(t *testing.T) {
		s := newStore(t, 5)

		_, err := s.Put(context.Background(), "big", strings.NewReader("123456"))

		if !errors.Is(err, store.ErrPayloadTooLarge) {
			t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
		}
		if names := dirNames(t, s.Root()); len(names) != 0 {
			t.Errorf("root should be empty, has %v", names)
		}
	})

	t.Run("TooLargeKeepsPrevious", func(t *testing.T) {
		s := newStore(t, 5)
		put(t, s, "a", "old")

		if _, err := s.Put(context.Background(), "a", strings.NewReader("much too long")); !errors.Is(err, store.ErrPayloadTooLarge) {
			t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
		}
		if got := read(t, s, "a"); got != "old" {
			t.Errorf("read back %q, want old", got)
		}
	})

	t.Run("InterruptedStream", func(t *testing.T) {
		s := newStore(t, 0)
		r := io.MultiReader(strings.NewReader("partial"), iotestErrReader{errors.New("connection reset")})

		_, err := s.Put(context.Background(), "x.bin", r)

		if !errors.Is(err, store.ErrIOFailure) {
			t.Fatalf("expected ErrIOFailure, got %v", err)
		}
		if names := dirNames(t, s.Root()); len(names) != 0 {
			t.Errorf("root should be empty, has %v", names)
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		s := newStore(t, 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.Put(ctx, "x.bin", strings.NewReader("data"))

		if !errors.Is(err, store.ErrIOFailure) || !errors.Is(err, context.Canceled) {
			t.Fatalf("expected ErrIOFailure wrapping context.Canceled, got %v", err)
		}
		if names := dirNames(t, s.Root()); len(names) != 0 {
			t.Errorf("root should be empty, has %v", names)
		}
	})

	t.Run("LargeStream", func(t *testing.T) {
		s := newStore(t, 0)
		const size = 3*1024*1024 + 17
		payload := bytes.Repeat([]byte("0123456789abcdef"), size/16+1)[:size]

		entry, err := s.Put(context.Background(), "large.bin", bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("Put() returned an error: %v", err)
		}
		if entry.Size != size {
			t.Errorf("Size = %d, want %d", entry.Size, size)
		}
		if got := read(t, s, "large.bin"); got != string(payload) {
			t.Error("large payload did not round trip")
		}
	})
}

type iotestErrReader struct{ err error }

func (r iotestErrReader) Read([]byte) (int, error) { return 0, r.err }

func TestStore_InvalidNames(t *testing.T) {
	parent := t.TempDir()
	s, err := store.New(filepath.Join(parent, "uploads"), store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	victim := filepath.Join(parent, "victim.txt")
	if err := os.WriteFile(victim, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	names := []string{
		"",
		"  ",
		"..",
		"../victim.txt",
		"..\\victim.txt",
		"a/../../victim.txt",
		filepath.Join(parent, "victim.txt"),
		"/etc/passwd",
		`C:\Windows\win.ini`,
	}

	for _, name := range names {
		if _, err := s.Put(context.Background(), name, strings.NewReader("pwned")); !errors.Is(err, store.ErrInvalidName) {
			t.Errorf("Put(%q): expected ErrInvalidName, got %v", name, err)
		}
		if f, _, err := s.Get(name); !errors.Is(err, store.ErrInvalidName) {
			if f != nil {
				f.Close()
			}
			t.Errorf("Get(%q): expected ErrInvalidName, got %v", name, err)
		}
		if _, err := s.Stat(name); !errors.Is(err, store.ErrInvalidName) {
			t.Errorf("Stat(%q): expected ErrInvalidName, got %v", name, err)
		}
		if err := s.Delete(name); !errors.Is(err, store.ErrInvalidName) {
			t.Errorf("Delete(%q): expected ErrInvalidName, got %v", name, err)
		}
	}

	b, err := os.ReadFile(victim)
	if err != nil || string(b) != "keep" {
		t.Errorf("file outside the root was touched: %q, %v", b, err)
	}
	if names := dirNames(t, parent); len(names) != 2 {
		t.Errorf("unexpected files next to the root: %v", names)
	}
	if names := dirNames(t, s.Root()); len(names) != 0 {
		t.Errorf("root should be empty, has %v", names)
	}
}

func TestStore_List(t *testing.T) {
	t.Run("SortedRegularFilesOnly", func(t *testing.T) {
		s := newStore(t, 0)
		put(t, s, "b.txt", "bb")
		put(t, s, "a.txt", "a")
		put(t, s, "c.txt", "ccc")
		if err := os.Mkdir(filepath.Join(s.Root(), "subdir"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(s.Root(), "subdir", "nested.txt"), []byte("n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(s.Root(), fsutil.TempPrefix+"x.part"), []byte("t"), 0o644); err != nil {
			t.Fatal(err)
		}

		list := s.List()

		want := []struct {
			name string
			size int64
		}{{"a.txt", 1}, {"b.txt", 2}, {"c.txt", 3}}
		if len(list) != len(want) {
			t.Fatalf("List() = %+v", list)
		}
		for i, w := range want {
			if list[i].Name != w.name || list[i].Size != w.size {
				t.Errorf("List()[%d] = %+v, want %s/%d", i, list[i], w.name, w.size)
			}
		}
	})

	t.Run("MissingRootDegradesToEmpty", func(t *testing.T) {
		s := newStore(t, 0)
		if err := os.RemoveAll(s.Root()); err != nil {
			t.Fatal(err)
		}

		list := s.List()

		if list == nil || len(list) != 0 {
			t.Errorf("List() = %#v, want empty non-nil slice", list)
		}
	})

	t.Run("SymlinksHidden", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("symlinks need privileges on windows")
		}
		s := newStore(t, 0)
		outside := filepath.Join(t.TempDir(), "secret")
		if err := os.WriteFile(outside, []byte("secret"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Symlink(outside, filepath.Join(s.Root(), "link")); err != nil {
			t.Fatal(err)
		}

		if list := s.List(); len(list) != 0 {
			t.Errorf("List() = %+v, want empty", list)
		}
		if _, _, err := s.Get("link"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get(link): expected ErrNotFound, got %v", err)
		}
		if err := s.Delete("link"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Delete(link): expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_Get(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t, 0)

		if _, _, err := s.Get("missing"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Directory", func(t *testing.T) {
		s := newStore(t, 0)
		if err := os.Mkdir(filepath.Join(s.Root(), "dir"), 0o755); err != nil {
			t.Fatal(err)
		}

		if _, _, err := s.Get("dir"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeleteDuringRead", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("open files cannot be removed on windows")
		}
		s := newStore(t, 0)
		put(t, s, "a.txt", "complete content")

		f, entry, err := s.Get("a.txt")
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		if err := s.Delete("a.txt"); err != nil {
			t.Fatalf("Delete() returned an error: %v", err)
		}
		put(t, s, "a.txt", "replacement")

		b, err := io.ReadAll(f)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != "complete content" || entry.Size != int64(len(b)) {
			t.Errorf("read %q (size %d) after delete", b, entry.Size)
		}
	})
}

func TestStore_Delete(t *testing.T) {
	s := newStore(t, 0)
	put(t, s, "a.txt", "hello")

	if err := s.Delete("a.txt"); err != nil {
		t.Fatalf("first Delete() returned an error: %v", err)
	}
	if err := s.Delete("a.txt"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete(): expected ErrNotFound, got %v", err)
	}
	if list := s.List(); len(list) != 0 {
		t.Errorf("List() after delete = %+v", list)
	}
	if _, err := s.Stat("a.txt"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Stat() after delete: expected ErrNotFound, got %v", err)
	}
}

func TestStore_Concurrency(t *testing.T) {
	t.Run("DistinctNames", func(t *testing.T) {
		s := newStore(t, 0)
		const n = 24
		var wg sync.WaitGroup
		errs := make(chan error, n)

		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				payload := strings.Repeat("x", i*100)
				if _, err := s.Put(context.Background(), fmt.Sprintf("f%02d", i), strings.NewReader(payload)); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("concurrent Put() returned an error: %v", err)
		}

		list := s.List()
		if len(list) != n {
			t.Fatalf("List() has %d entries, want %d", len(list), n)
		}
		for i, e := range list {
			if e.Name != fmt.Sprintf("f%02d", i) || e.Size != int64(i*100) {
				t.Errorf("entry %d = %+v", i, e)
			}
		}
	})

	t.Run("SameName", func(t *testing.T) {
		s := newStore(t, 0)
		const n = 8
		const size = 256 * 1024
		payloads := make([]string, n)
		for i := range payloads {
			payloads[i] = strings.Repeat(string(rune('a'+i)), size)
		}
		var wg sync.WaitGroup

		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := s.Put(context.Background(), "same.bin", strings.NewReader(payloads[i])); err != nil {
					t.Errorf("Put() returned an error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		got := read(t, s, "same.bin")
		matched := false
		for _, p := range payloads {
			if got == p {
				matched = true
				break
			}
		}
		if !matched {
			t.Error("final content is not exactly one of the uploaded payloads")
		}
		if names := dirNames(t, s.Root()); len(names) != 1 {
			t.Errorf("root has %v, want only same.bin", names)
		}
	})
}

func TestStore_Sweep(t *testing.T) {
	s := newStore(t, 0)
	put(t, s, "keep.txt", "k")
	stale := filepath.Join(s.Root(), fsutil.TempPrefix+"stale.part")
	fresh := filepath.Join(s.Root(), fsutil.TempPrefix+"fresh.part")
	for _, p := range []string{stale, fresh} {
		if err := os.WriteFile(p, []byte("tmp"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Sweep(time.Hour)
	if err != nil {
		t.Fatalf("Sweep() returned an error: %v", err)
	}

	if removed != 1 {
		t.Errorf("Sweep() removed %d files, want 1", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale temp file still present")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh temp file was removed")
	}
	if got := read(t, s, "keep.txt"); got != "k" {
		t.Errorf("keep.txt = %q", got)
	}
}
