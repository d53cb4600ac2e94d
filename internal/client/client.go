// Package client is a Go SDK for the report API. It performs exactly one
// HTTP attempt per call; retries are left to the caller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/civicreport/internal/models"
)

// Client talks to a civicreport server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger sets the logger used for response body close failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the server at baseURL, e.g. http://localhost:8787.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope mirrors the server's response body.
type envelope struct {
	Success     bool                `json:"success"`
	Message     string              `json:"message"`
	Data        json.RawMessage     `json:"data"`
	Error       string              `json:"error"`
	Fields      []models.FieldError `json:"fields"`
	Total       *int                `json:"total"`
	CurrentPage *int                `json:"currentPage"`
	TotalPages  *int                `json:"totalPages"`
	Limit       *int                `json:"limit"`
}

// ListOptions filters and paginates ListUserReports.
type ListOptions struct {
	Status   string
	Category string
	Priority string
	From     string
	To       string
	Page     int
	Limit    int
}

func (o ListOptions) values() url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("status", o.Status)
	set("category", o.Category)
	set("priority", o.Priority)
	set("from", o.From)
	set("to", o.To)
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	return q
}

// UploadResult lists the URLs of stored files.
type UploadResult struct {
	MediaURLs []string `json:"mediaUrls"`
	AudioURL  string   `json:"audioUrl,omitempty"`
}

// File is one part of a multipart upload. Field is "media", "audio" or
// "file".
type File struct {
	Field       string
	Name        string
	ContentType string
	Data        io.Reader
}

// CreateReport submits a new report.
func (c *Client) CreateReport(ctx context.Context, in models.ReportInput) (*models.Report, error) {
	var r models.Report
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/reports/create", in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReport fetches one report.
func (c *Client) GetReport(ctx context.Context, id string) (*models.Report, error) {
	var r models.Report
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/reports/"+url.PathEscape(id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListUserReports fetches one page of a user's reports.
func (c *Client) ListUserReports(ctx context.Context, userID string, opts ListOptions) (*models.ReportPage, error) {
	path := "/api/reports/user/" + url.PathEscape(userID)
	if q := opts.values().Encode(); q != "" {
		path += "?" + q
	}
	var reports []models.Report
	env, err := c.doJSON(ctx, http.MethodGet, path, nil, &reports)
	if err != nil {
		return nil, err
	}
	page := &models.ReportPage{Reports: reports, Limit: opts.Limit}
	if env.Limit != nil {
		page.Limit = *env.Limit
	}
	if env.Total != nil {
		page.Total = *env.Total
	}
	if env.CurrentPage != nil {
		page.CurrentPage = *env.CurrentPage
	}
	if env.TotalPages != nil {
		page.TotalPages = *env.TotalPages
	}
	return page, nil
}

// UpdateReport applies a partial update.
func (c *Client) UpdateReport(ctx context.Context, id string, patch models.ReportPatch) (*models.Report, error) {
	var r models.Report
	if _, err := c.doJSON(ctx, http.MethodPut, "/api/reports/"+url.PathEscape(id), patch, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ResolveReport marks a report resolved.
func (c *Client) ResolveReport(ctx context.Context, id string) (*models.Report, error) {
	var r models.Report
	if _, err := c.doJSON(ctx, http.MethodPatch, "/api/reports/"+url.PathEscape(id)+"/resolve", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteReport removes a report.
func (c *Client) DeleteReport(ctx context.Context, id string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, "/api/reports/"+url.PathEscape(id), nil, nil)
	return err
}

// Nearby finds reports within radius meters of a point. A zero radius uses
// the server default.
func (c *Client) Nearby(ctx context.Context, lat, lng, radius float64) ([]models.NearbyReport, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))
	if radius > 0 {
		q.Set("radius", strconv.FormatFloat(radius, 'f', -1, 64))
	}
	var out []models.NearbyReport
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/reports/nearby?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UserStats fetches aggregate stats for a user.
func (c *Client) UserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	var s models.UserStats
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/reports/user/"+url.PathEscape(userID)+"/stats", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UploadMedia uploads media and audio files in one request.
func (c *Client) UploadMedia(ctx context.Context, files []File) (*UploadResult, error) {
	var res UploadResult
	if err := c.doMultipart(ctx, "/api/reports/upload-media", files, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// UploadSingleMedia uploads one file and returns its URL.
func (c *Client) UploadSingleMedia(ctx context.Context, f File) (string, error) {
	if f.Field == "" {
		f.Field = "file"
	}
	var res struct {
		URL string `json:"url"`
	}
	if err := c.doMultipart(ctx, "/api/reports/upload-single-media", []File{f}, &res); err != nil {
		return "", err
	}
	return res.URL, nil
}

// Health checks the server's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: "health", Err: err}
	}
	defer c.closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return &ServerError{Status: resp.StatusCode, Message: "health check failed"}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) (*envelope, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) doMultipart(ctx context.Context, path string, files []File, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.Name))
		if f.ContentType != "" {
			h.Set("Content-Type", f.ContentType)
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			return fmt.Errorf("create part: %w", err)
		}
		if _, err := io.Copy(part, f.Data); err != nil {
			return fmt.Errorf("copy %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	_, err = c.send(req, out)
	return err
}

func (c *Client) send(req *http.Request, out any) (*envelope, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	defer c.closeBody(resp)

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &ServerError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return nil, &ServerError{Status: resp.StatusCode, Code: env.Error, Message: env.Message, Fields: env.Fields}
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}
	return &env, nil
}

func (c *Client) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		c.logger.Warn("failed to close response body", zap.Error(err))
	}
}
