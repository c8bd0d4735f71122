package httpserver

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"lanxfer/internal/config"
	"lanxfer/internal/events"
	"lanxfer/internal/fsutil"
	"lanxfer/internal/store"
)

// multipartSlack is how far a multipart Content-Length may exceed the upload
// cap before the request is refused without reading it. Boundaries and part
// headers are counted by Content-Length but not by the cap.
const multipartSlack = 1 << 20

type Options struct {
	Config config.Config
	// Store is opened from Config.UploadDir when nil.
	Store   *store.Store
	BaseURL string
	Logger  *slog.Logger
	// Hub receives put/delete events. A new hub is created when nil.
	Hub *events.Hub
}

type Server struct {
	cfg     config.Config
	store   *store.Store
	baseURL string
	log     *slog.Logger
	hub     *events.Hub
	page    *template.Template
}

//go:embed web/index.html
var embeddedWeb embed.FS

func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	st := opts.Store
	if st == nil {
		var err error
		st, err = store.New(opts.Config.UploadDir, store.Options{
			MaxBytes: opts.Config.MaxUploadBytes,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	hub := opts.Hub
	if hub == nil {
		hub = events.NewHub(logger)
	}
	page, err := template.ParseFS(embeddedWeb, "web/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return &Server{
		cfg:     opts.Config,
		store:   st,
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		log:     logger,
		hub:     hub,
		page:    page,
	}, nil
}

func (s *Server) Hub() *events.Hub { return s.hub }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})

	// listing + browser upload
	mux.Handle("/", compress(http.HandlerFunc(s.handleIndex)))

	// file serving with Range
	mux.HandleFunc("/download/", s.handleDownload)
	mux.HandleFunc("/delete/", s.handleDelete)

	// api
	mux.Handle("/api/files", compress(http.HandlerFunc(s.handleList)))
	mux.Handle("/api/files/", compress(http.HandlerFunc(s.handleFile)))

	if s.cfg.Thumbnails {
		mux.HandleFunc("/thumb/", s.handleThumb)
	}
	if s.cfg.WebDAV {
		mux.Handle("/dav/", s.davHandler())
	}
	mux.Handle("/events", s.hub)

	return withHeaders(s.withRequestLog(mux))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		q := r.URL.Query()
		s.renderIndex(w, http.StatusOK, q.Get("message"), q.Get("success") == "true")
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if max := s.store.MaxBytes(); max > 0 && r.ContentLength > max+multipartSlack {
		s.renderIndex(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Upload failed: the file is larger than the %s limit", humanize.IBytes(uint64(max))), false)
		return
	}
	mr, err := r.MultipartReader()
	if err != nil {
		s.renderIndex(w, http.StatusBadRequest, "Upload failed: the request is not a multipart form", false)
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.renderIndex(w, http.StatusBadRequest, "Upload failed: malformed multipart body", false)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		name := partFileName(part.Header.Get("Content-Disposition"))
		if name == "" {
			part.Close()
			break
		}

		entry, err := s.store.Put(r.Context(), name, part)
		part.Close()
		if err != nil {
			s.log.Warn("upload failed", "name", name, "error", err)
			s.renderIndex(w, statusFor(err), describe("upload", name, err, s.store.MaxBytes()), false)
			return
		}
		s.log.Info("file uploaded", "name", entry.Name, "size", entry.Size, "digest", entry.Digest)
		s.renderIndex(w, http.StatusOK,
			fmt.Sprintf("File %q uploaded (%s)", entry.Name, humanize.IBytes(uint64(entry.Size))), true)
		s.hub.Publish(events.Event{Type: events.TypePut, Name: entry.Name})
		return
	}
	s.renderIndex(w, http.StatusBadRequest, "Upload failed: no file was selected", false)
}

// partFileName returns the unprocessed filename parameter. multipart.Part's
// FileName strips directories itself; the store must see the raw name so a
// traversal attempt is rejected instead of silently rewritten.
func partFileName(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/download/")
	f, entry, err := s.store.Get(name)
	if err != nil {
		s.log.Debug("download refused", "name", name, "error", err)
		http.Error(w, describe("download", name, err, 0), statusFor(err))
		return
	}
	defer f.Close()

	if ct := contentTypeForName(entry.Name); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Disposition", attachment(entry.Name))
	http.ServeContent(w, r, entry.Name, entry.ModTime, f)
}

// storedName is the name a successful store call actually used.
func storedName(name string) string {
	if clean, err := fsutil.SafeName(name); err == nil {
		return clean
	}
	return name
}

func attachment(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/delete/")

	q := url.Values{}
	if err := s.store.Delete(name); err != nil {
		s.log.Warn("delete failed", "name", name, "error", err)
		q.Set("message", describe("delete", name, err, 0))
		q.Set("success", "false")
		http.Redirect(w, r, "/?"+q.Encode(), http.StatusSeeOther)
		return
	}
	name = storedName(name)
	s.log.Info("file deleted", "name", name)
	q.Set("message", fmt.Sprintf("File %q deleted", name))
	q.Set("success", "true")
	http.Redirect(w, r, "/?"+q.Encode(), http.StatusSeeOther)
	s.hub.Publish(events.Event{Type: events.TypeDelete, Name: name})
}

type listResponse struct {
	BaseURL string            `json:"baseURL"`
	Files   []store.FileEntry `json:"files"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{BaseURL: s.baseURL, Files: s.store.List()})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/files/")

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		entry, err := s.store.Stat(name)
		if err != nil {
			s.writeStoreError(w, "stat", name, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)

	case http.MethodPut:
		if max := s.store.MaxBytes(); max > 0 && r.ContentLength > max {
			s.writeStoreError(w, "upload", name, fmt.Errorf("%w: %d bytes announced", store.ErrPayloadTooLarge, r.ContentLength))
			return
		}
		entry, err := s.store.Put(r.Context(), name, r.Body)
		if err != nil {
			s.log.Warn("upload failed", "name", name, "error", err)
			s.writeStoreError(w, "upload", name, err)
			return
		}
		s.log.Info("file uploaded", "name", entry.Name, "size", entry.Size, "digest", entry.Digest)
		w.Header().Set("Location", "/download/"+url.PathEscape(entry.Name))
		writeJSON(w, http.StatusCreated, entry)
		s.hub.Publish(events.Event{Type: events.TypePut, Name: entry.Name})

	case http.MethodDelete:
		if err := s.store.Delete(name); err != nil {
			s.log.Warn("delete failed", "name", name, "error", err)
			s.writeStoreError(w, "delete", name, err)
			return
		}
		name = storedName(name)
		s.log.Info("file deleted", "name", name)
		w.WriteHeader(http.StatusNoContent)
		s.hub.Publish(events.Event{Type: events.TypeDelete, Name: name})

	default:
		w.Header().Set("Allow", "GET, HEAD, PUT, DELETE")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET, PUT or DELETE")
	}
}

type pageData struct {
	BaseURL   string
	Files     []fileView
	Message   string
	Success   bool
	MaxUpload string
	WebDAV    bool
}

type fileView struct {
	Name        string
	Size        string
	Modified    string
	Age         string
	DownloadURL string
	DeleteURL   string
	ThumbURL    string
}

func (s *Server) renderIndex(w http.ResponseWriter, status int, message string, success bool) {
	entries := s.store.List()
	now := time.Now()

	data := pageData{
		BaseURL: s.baseURL,
		Files:   make([]fileView, 0, len(entries)),
		Message: message,
		Success: success,
		WebDAV:  s.cfg.WebDAV,
	}
	if max := s.store.MaxBytes(); max > 0 {
		data.MaxUpload = humanize.IBytes(uint64(max))
	}
	for _, e := range entries {
		esc := url.PathEscape(e.Name)
		v := fileView{
			Name:        e.Name,
			Size:        humanize.IBytes(uint64(e.Size)),
			Modified:    e.ModTime.Format("2006-01-02 15:04:05"),
			Age:         humanize.RelTime(e.ModTime, now, "ago", "from now"),
			DownloadURL: "/download/" + esc,
			DeleteURL:   "/delete/" + esc,
		}
		if s.cfg.Thumbnails && isImageExt(strings.ToLower(filepath.Ext(e.Name))) && e.Size <= maxThumbSource {
			v.ThumbURL = "/thumb/" + esc
		}
		data.Files = append(data.Files, v)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.page.Execute(w, data); err != nil {
		s.log.Error("render listing", "error", err)
	}
}

// statusFor maps store error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func kindFor(err error) string {
	switch {
	case errors.Is(err, store.ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrPayloadTooLarge):
		return "payload_too_large"
	default:
		return "io_failure"
	}
}

// describe renders the user-facing message for a failed operation on name.
func describe(op, name string, err error, max int64) string {
	switch {
	case errors.Is(err, store.ErrInvalidName):
		return fmt.Sprintf("%s failed: %q is not a valid file name", capitalize(op), name)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Sprintf("%s failed: file %q does not exist", capitalize(op), name)
	case errors.Is(err, store.ErrPayloadTooLarge):
		if max > 0 {
			return fmt.Sprintf("%s failed: %q is larger than the %s limit", capitalize(op), name, humanize.IBytes(uint64(max)))
		}
		return fmt.Sprintf("%s failed: %q is too large", capitalize(op), name)
	default:
		return fmt.Sprintf("%s of %q failed: %s", capitalize(op), name, cause(err))
	}
}

// cause is the error text without the server-side path a *fs.PathError or
// *os.LinkError would carry.
func cause(err error) string {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Op + ": " + pe.Err.Error()
	}
	var le *os.LinkError
	if errors.As(err, &le) {
		return le.Op + ": " + le.Err.Error()
	}
	return err.Error()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: kind, Message: message})
}

func (s *Server) writeStoreError(w http.ResponseWriter, op, name string, err error) {
	writeError(w, statusFor(err), kindFor(err), describe(op, name, err, s.store.MaxBytes()))
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}

func contentTypeForName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	// Fallbacks for systems with sparse mime tables.
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".log", ".md":
		return "text/plain; charset=utf-8"
	case ".zip":
		return "application/zip"
	case ".apk":
		return "application/vnd.android.package-archive"
	default:
		return ""
	}
}
