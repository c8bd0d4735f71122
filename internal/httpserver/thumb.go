package httpserver

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	// decoders
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	thumbSize      = 160
	maxThumbSource = 32 << 20
)

var errNoThumb = errors.New("no thumbnail for this file")

func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/thumb/")

	f, entry, err := s.store.Get(name)
	if err != nil {
		http.Error(w, describe("thumbnail", name, err, 0), statusFor(err))
		return
	}
	defer f.Close()

	if !isImageExt(strings.ToLower(filepath.Ext(entry.Name))) || entry.Size > maxThumbSource {
		http.Error(w, errNoThumb.Error(), http.StatusNotFound)
		return
	}
	b, err := makeThumb(f, thumbSize)
	if err != nil {
		s.log.Debug("thumbnail failed", "name", entry.Name, "error", err)
		http.Error(w, errNoThumb.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(b)
}

func makeThumb(r io.Reader, limit int) ([]byte, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, errNoThumb
	}
	if limit <= 0 {
		limit = thumbSize
	}

	nw, nh := w, h
	if w > h {
		if w > limit {
			nw = limit
			nh = int(float64(h) * (float64(limit) / float64(w)))
		}
	} else {
		if h > limit {
			nh = limit
			nw = int(float64(w) * (float64(limit) / float64(h)))
		}
	}
	nw, nh = max(nw, 1), max(nh, 1)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
