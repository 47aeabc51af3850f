package matching

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ecoswap/internal/metrics"

	"github.com/tidwall/gjson"
)

const maxBodyBytes = 4 << 20

type Options struct {
	BaseURL       string
	APIKey        string
	PublicBaseURL string
	// CallTimeout bounds every single call, independent of any retry budget
	// the caller runs on top.
	CallTimeout time.Duration
}

// HTTPClient implements Client against the matching service REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	publicBase string
	timeout    time.Duration
	client     *http.Client
	log        *slog.Logger
}

func NewHTTPClient(opts Options, log *slog.Logger) *HTTPClient {
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		publicBase: opts.PublicBaseURL,
		timeout:    timeout,
		client:     &http.Client{Timeout: timeout},
		log:        log.With("component", "matching"),
	}
}

func (c *HTTPClient) GetByResource(ctx context.Context, resourceID string) (*MatchRecord, error) {
	return c.getRecord(ctx, "by_resource", "/match/by_resource/"+url.PathEscape(resourceID))
}

func (c *HTTPClient) GetByRequest(ctx context.Context, requestID string) (*MatchRecord, error) {
	return c.getRecord(ctx, "by_request", "/match/by_request/"+url.PathEscape(requestID))
}

func (c *HTTPClient) getRecord(ctx context.Context, op, path string) (*MatchRecord, error) {
	body, status, err := c.do(ctx, op, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		metrics.MatchingCallsTotal.WithLabelValues(op, "not_found").Inc()
		return nil, nil
	}
	if err := c.checkStatus(op, status); err != nil {
		return nil, err
	}
	rec, err := ParseMatchRecord(body, c.publicBase)
	if err != nil {
		return nil, c.malformed(op, err)
	}
	return rec, nil
}

// GetHistory returns finalized accept/decline records involving username.
// Items that are not objects are dropped.
func (c *HTTPClient) GetHistory(ctx context.Context, username string) ([]MatchRecord, error) {
	const op = "history"
	items, err := c.getList(ctx, op, "/match/history", url.Values{"username": {username}})
	if err != nil {
		return nil, err
	}
	out := make([]MatchRecord, 0, len(items))
	for _, it := range items {
		if !it.IsObject() {
			continue
		}
		out = append(out, recordFrom(it, c.publicBase))
	}
	return out, nil
}

func (c *HTTPClient) Confirm(ctx context.Context, resourceID, requestID string, action Action) (*ConfirmResult, error) {
	const op = "confirm"
	payload, _ := json.Marshal(map[string]string{
		"resource_id": resourceID,
		"request_id":  requestID,
		"action":      string(action),
	})
	body, status, err := c.do(ctx, op, http.MethodPost, "/match/confirm", nil, payload)
	if err != nil {
		return nil, err
	}
	return c.ack(op, body, status)
}

// ManualMatch asks the service to pair a resource with a requested amount on
// behalf of username, bypassing the automatic proposal round.
func (c *HTTPClient) ManualMatch(ctx context.Context, resourceID string, amount float64, username string) (*ConfirmResult, error) {
	const op = "manual_match"
	payload, _ := json.Marshal(map[string]any{
		"resource_id": resourceID,
		"amount":      amount,
		"username":    username,
	})
	body, status, err := c.do(ctx, op, http.MethodPost, "/match/manual", nil, payload)
	if err != nil {
		return nil, err
	}
	return c.ack(op, body, status)
}

func (c *HTTPClient) ack(op string, body []byte, status int) (*ConfirmResult, error) {
	if err := c.checkStatus(op, status); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) > 0 && !gjson.ValidBytes(body) {
		return nil, c.malformed(op, ErrMalformed)
	}
	root := unwrap(gjson.ParseBytes(body))
	res := &ConfirmResult{
		Status:  firstString(root, statusKeys...),
		Message: firstString(root, "message", "detail"),
	}
	if len(bytes.TrimSpace(body)) > 0 {
		res.Raw = json.RawMessage(body)
	}
	return res, nil
}

// ListResourcesOfUser tries the trailing-slash route first and falls back to
// the bare one on 404, matching both routings the service has shipped with.
func (c *HTTPClient) ListResourcesOfUser(ctx context.Context, username string) ([]ResourceBrief, error) {
	const op = "resources_of_user"
	base := "/resources/user/" + url.PathEscape(username)
	body, status, err := c.do(ctx, op, http.MethodGet, base+"/", nil, nil)
	if err == nil && status == http.StatusNotFound {
		body, status, err = c.do(ctx, op, http.MethodGet, base, nil, nil)
	}
	if err != nil {
		return nil, err
	}
	if err := c.checkStatus(op, status); err != nil {
		return nil, err
	}
	items, err := ParseList(body)
	if err != nil {
		return nil, c.malformed(op, err)
	}
	return c.resources(items), nil
}

func (c *HTTPClient) ListResources(ctx context.Context, f ResourceFilter) ([]ResourceBrief, error) {
	q := url.Values{}
	if f.MaterialType != "" {
		q.Set("material_type", f.MaterialType)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	items, err := c.getList(ctx, "resources", "/resources/", q)
	if err != nil {
		return nil, err
	}
	return c.resources(items), nil
}

func (c *HTTPClient) ListRequestsOfUser(ctx context.Context, username string) ([]RequestBrief, error) {
	items, err := c.getList(ctx, "requests_of_user", "/requests/user/"+url.PathEscape(username), nil)
	if err != nil {
		return nil, err
	}
	return c.requests(items), nil
}

func (c *HTTPClient) ListRequests(ctx context.Context, status string) ([]RequestBrief, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	items, err := c.getList(ctx, "requests", "/requests/", q)
	if err != nil {
		return nil, err
	}
	return c.requests(items), nil
}

func (c *HTTPClient) resources(items []gjson.Result) []ResourceBrief {
	out := make([]ResourceBrief, 0, len(items))
	for _, it := range items {
		if b := ParseResourceBrief(it, c.publicBase); b.ID != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c *HTTPClient) requests(items []gjson.Result) []RequestBrief {
	out := make([]RequestBrief, 0, len(items))
	for _, it := range items {
		if b := ParseRequestBrief(it, c.publicBase); b.ID != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c *HTTPClient) getList(ctx context.Context, op, path string, q url.Values) ([]gjson.Result, error) {
	body, status, err := c.do(ctx, op, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, err
	}
	if err := c.checkStatus(op, status); err != nil {
		return nil, err
	}
	items, err := ParseList(body)
	if err != nil {
		return nil, c.malformed(op, err)
	}
	return items, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, q url.Values, payload []byte) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, 0, &ExternalServiceError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.MatchingCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MatchingCallsTotal.WithLabelValues(op, "transport_error").Inc()
		return nil, 0, &ExternalServiceError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.MatchingCallsTotal.WithLabelValues(op, "transport_error").Inc()
		return nil, resp.StatusCode, &ExternalServiceError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	c.log.DebugContext(ctx, "matching call", "op", op, "method", method, "url", u, "status", resp.StatusCode)
	return body, resp.StatusCode, nil
}

func (c *HTTPClient) checkStatus(op string, status int) error {
	if status >= 200 && status < 300 {
		metrics.MatchingCallsTotal.WithLabelValues(op, "ok").Inc()
		return nil
	}
	if status == http.StatusNotFound {
		metrics.MatchingCallsTotal.WithLabelValues(op, "not_found").Inc()
	} else {
		metrics.MatchingCallsTotal.WithLabelValues(op, "http_error").Inc()
	}
	return &ExternalServiceError{Op: op, StatusCode: status, Err: fmt.Errorf("unexpected status %d", status)}
}

func (c *HTTPClient) malformed(op string, err error) error {
	metrics.MatchingCallsTotal.WithLabelValues(op, "malformed").Inc()
	if !errors.Is(err, ErrMalformed) {
		err = fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &ExternalServiceError{Op: op, Malformed: true, Err: err}
}
