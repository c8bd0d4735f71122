// Package client talks to a running lanxfer service over its JSON API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"

	"lanxfer/internal/store"
)

// Error kinds match the "error" field of the service's JSON error bodies.
var (
	ErrInvalidName     = errors.New("invalid name")
	ErrNotFound        = errors.New("not found")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrServer          = errors.New("server error")
)

// APIError is returned for any non-2xx response.
type APIError struct {
	Status  int    `json:"-"`
	Kind    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrInvalidName:
		return e.Status == http.StatusBadRequest
	case ErrPayloadTooLarge:
		return e.Status == http.StatusRequestEntityTooLarge
	case ErrServer:
		return e.Status >= 500
	}
	return false
}

type Listing struct {
	BaseURL string            `json:"baseURL"`
	Files   []store.FileEntry `json:"files"`
}

// Client is safe for concurrent use.
type Client struct {
	base   string
	client *resty.Client
}

// New returns a client for the service at baseURL ("http://192.168.1.20:5000").
func New(baseURL string) (*Client, error) {
	return NewWithClient(baseURL, &http.Client{})
}

// NewWithClient is New with a caller supplied http.Client.
func NewWithClient(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	rc := resty.NewWithClient(hc).
		SetBaseURL(u.String()).
		SetHeader("User-Agent", "lanxfer-client")
	return &Client{base: u.String(), client: rc}, nil
}

func (c *Client) BaseURL() string {
	return c.base
}

// List returns the files currently in the store.
func (c *Client) List(ctx context.Context) (Listing, error) {
	var out Listing
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&APIError{}).
		Get("/api/files")
	if err != nil {
		return Listing{}, fmt.Errorf("list files: %w", err)
	}
	if err := apiError(resp); err != nil {
		return Listing{}, err
	}
	return out, nil
}

// Upload streams r to the service under name. The body is not buffered.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (store.FileEntry, error) {
	var out store.FileEntry
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(r).
		SetResult(&out).
		SetError(&APIError{}).
		Put("/api/files/" + url.PathEscape(name))
	if err != nil {
		return store.FileEntry{}, fmt.Errorf("upload %s: %w", name, err)
	}
	if err := apiError(resp); err != nil {
		return store.FileEntry{}, err
	}
	return out, nil
}

// Download copies the named file into w and returns the number of bytes
// written.
func (c *Client) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get("/download/" + url.PathEscape(name))
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", name, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(body, 4096))
		return 0, &APIError{
			Status:  resp.StatusCode(),
			Kind:    http.StatusText(resp.StatusCode()),
			Message: strings.TrimSpace(string(msg)),
		}
	}
	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", name, err)
	}
	return n, nil
}

// Delete removes the named file.
func (c *Client) Delete(ctx context.Context, name string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetError(&APIError{}).
		Delete("/api/files/" + url.PathEscape(name))
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return apiError(resp)
}

func apiError(resp *resty.Response) error {
	if !resp.IsError() && resp.StatusCode() < 300 {
		return nil
	}
	e, ok := resp.Error().(*APIError)
	if !ok || e == nil || e.Kind == "" {
		e = &APIError{}
		// bodies that resty did not decode (wrong content type)
		_ = json.Unmarshal(resp.Body(), e)
	}
	e.Status = resp.StatusCode()
	if e.Kind == "" {
		e.Kind = http.StatusText(e.Status)
	}
	return e
}
