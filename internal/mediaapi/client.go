// Package mediaapi talks to the media REST API and serves a development implementation of it.
package mediaapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/freemedia/storefront/internal/domain"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultPageSize = 12
	relatedLimit    = 4
)

var (
	// ErrNotFound is returned when the API reports a missing item.
	ErrNotFound = errors.New("mediaapi: not found")
	// ErrMalformed is returned when a response body cannot be interpreted.
	ErrMalformed = errors.New("mediaapi: malformed response")

	tracer = otel.Tracer("github.com/freemedia/storefront/internal/mediaapi")
)

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Op     string
	Status int
	// Code is the "error" field of a JSON error body, empty for other bodies.
	Code string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mediaapi: %s status %d: %s", e.Op, e.Status, e.Body)
}

// RequestObserver is told about every completed API round trip.
type RequestObserver func(method, path string, status int, elapsed time.Duration)

// Client issues media API calls.
type Client struct {
	baseURL  string
	http     *http.Client
	logger   *zap.Logger
	observer RequestObserver
	flight   singleflight.Group
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRequestObserver registers a callback for every round trip.
func WithRequestObserver(fn RequestObserver) Option {
	return func(c *Client) {
		c.observer = fn
	}
}

// NewClient constructs an API client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List fetches one listing page.
func (c *Client) List(ctx context.Context, q domain.MediaQuery) (domain.MediaPage, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	ctx, span := tracer.Start(ctx, "mediaapi.List", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("media.category", q.Category),
			attribute.String("media.sort", string(q.Sort)),
			attribute.Int("media.page", q.Page),
		))
	defer span.End()

	values := url.Values{}
	if q.Category != "" && q.Category != domain.CategoryAll {
		values.Set("category", q.Category)
	}
	if q.Search != "" {
		values.Set("search", q.Search)
	}
	if q.Sort != "" {
		values.Set("sort", string(q.Sort))
	}
	values.Set("page", strconv.Itoa(q.Page))
	values.Set("pageSize", strconv.Itoa(q.PageSize))

	body, err := c.get(ctx, "list", "/media", values)
	if err != nil {
		return domain.MediaPage{}, recordSpanError(span, err)
	}
	page, err := parseListing(body, q)
	if err != nil {
		return domain.MediaPage{}, recordSpanError(span, err)
	}
	span.SetAttributes(attribute.Int("media.items", len(page.Items)), attribute.Bool("media.has_more", page.HasMore))
	return page, nil
}

// Get fetches one item. Concurrent calls for the same id share a single request.
func (c *Client) Get(ctx context.Context, id string) (domain.MediaItem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.MediaItem{}, ErrNotFound
	}
	ch := c.flight.DoChan(id, func() (any, error) {
		return c.fetchItem(context.WithoutCancel(ctx), id)
	})
	select {
	case <-ctx.Done():
		return domain.MediaItem{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.MediaItem{}, res.Err
		}
		return res.Val.(domain.MediaItem), nil
	}
}

func (c *Client) fetchItem(ctx context.Context, id string) (domain.MediaItem, error) {
	ctx, span := tracer.Start(ctx, "mediaapi.Get", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("media.id", id)))
	defer span.End()

	body, err := c.get(ctx, "get", "/media/"+url.PathEscape(id), nil)
	if err != nil {
		return domain.MediaItem{}, recordSpanError(span, err)
	}
	item, err := parseItem(body)
	if err != nil {
		return domain.MediaItem{}, recordSpanError(span, err)
	}
	return item, nil
}

// Related returns a few other items from the same category.
func (c *Client) Related(ctx context.Context, item domain.MediaItem) ([]domain.MediaItem, error) {
	if strings.TrimSpace(item.Category) == "" {
		return nil, nil
	}
	page, err := c.List(ctx, domain.MediaQuery{
		Category: item.Category,
		Sort:     domain.MediaSortPopular,
		Page:     1,
		PageSize: relatedLimit + 1,
	})
	if err != nil {
		return nil, err
	}
	related := make([]domain.MediaItem, 0, relatedLimit)
	for _, candidate := range page.Items {
		if candidate.ID == item.ID {
			continue
		}
		related = append(related, candidate)
		if len(related) == relatedLimit {
			break
		}
	}
	return related, nil
}

// Download streams the item's file into w and returns the number of bytes copied.
func (c *Client) Download(ctx context.Context, item domain.MediaItem, w io.Writer) (int64, error) {
	ctx, span := tracer.Start(ctx, "mediaapi.Download", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("media.id", item.ID)))
	defer span.End()

	endpoint := c.baseURL + "/media/" + url.PathEscape(item.ID) + "/download"
	if u, err := url.Parse(item.DownloadURL); err == nil && u.IsAbs() {
		endpoint = item.DownloadURL
	}
	resp, err := c.do(ctx, endpoint)
	if err != nil {
		return 0, recordSpanError(span, err)
	}
	defer resp.Body.Close()
	if err := statusError("download", resp); err != nil {
		return 0, recordSpanError(span, err)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, recordSpanError(span, fmt.Errorf("mediaapi: download %s: %w", item.ID, err))
	}
	span.SetAttributes(attribute.Int64("media.bytes", n))
	return n, nil
}

func (c *Client) get(ctx context.Context, op, path string, values url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(values) > 0 {
		endpoint += "?" + values.Encode()
	}
	resp, err := c.do(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := statusError(op, resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mediaapi: %s read body: %w", op, err)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if c.observer != nil {
		c.observer(req.Method, req.URL.RequestURI(), status, elapsed)
	}
	if err != nil {
		c.logger.Debug("media api request failed", zap.String("url", req.URL.Redacted()), zap.Error(err))
		return nil, err
	}
	c.logger.Debug("media api request",
		zap.String("url", req.URL.Redacted()),
		zap.Int("status", status),
		zap.Duration("latency", elapsed),
	)
	return resp, nil
}

func statusError(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		body := drainError(resp.Body)
		return &StatusError{Op: op, Status: resp.StatusCode, Code: gjson.Get(body, "error").String(), Body: body}
	}
	return nil
}

func drainError(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}

func recordSpanError(span trace.Span, err error) error {
	if errors.Is(err, ErrNotFound) {
		span.SetStatus(codes.Unset, "not found")
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
