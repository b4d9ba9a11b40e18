package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tahseelapp/tahseel/internal/collection"
	"go.uber.org/zap"
)

// RESTClient talks to a Supabase/PostgREST-style backend: rows live under
// /rest/v1/<table>, filters are eq./in. query operators, and errors carry a
// JSON body with a Postgres or PostgREST code.
type RESTClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger

	mu      sync.RWMutex
	session *Session
}

// NewRESTClient creates a REST backend client. timeout bounds every call;
// a nil logger is replaced with a no-op logger.
func NewRESTClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *RESTClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// SetSession installs the authenticated session used for subsequent calls.
// Passing nil clears it.
func (c *RESTClient) SetSession(s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// CurrentSession returns the installed session, or (nil, nil) when
// unauthenticated.
func (c *RESTClient) CurrentSession(_ context.Context) (*Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session, nil
}

// Ping probes backend liveness: the auth health endpoint first, falling
// back to a minimal read against the REST root when health is unavailable.
func (c *RESTClient) Ping(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodGet, c.baseURL+"/auth/v1/health", nil, nil)
	if err == nil && status < 300 {
		return nil
	}
	if err == nil && status != http.StatusNotFound {
		return &Error{Kind: KindConnectivity, Message: fmt.Sprintf("health probe status %d", status), Status: status}
	}
	status, _, err = c.do(ctx, http.MethodGet, c.baseURL+"/rest/v1/", nil, nil)
	if err != nil {
		return err
	}
	if status >= 500 {
		return &Error{Kind: KindConnectivity, Message: fmt.Sprintf("rest probe status %d", status), Status: status}
	}
	return nil
}

func (c *RESTClient) Select(ctx context.Context, table string, filters collection.Filters) ([]collection.Record, error) {
	u := c.tableURL(table) + "?" + filterQuery(filters)
	status, body, err := c.do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, classify(status, body)
	}
	var rows []collection.Record
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &Error{Kind: KindTransient, Message: "malformed response: " + err.Error(), Status: status}
	}
	return rows, nil
}

func (c *RESTClient) Insert(ctx context.Context, table string, row collection.Record) (collection.Record, error) {
	return c.writeRow(ctx, http.MethodPost, c.tableURL(table), row, "return=representation")
}

func (c *RESTClient) Upsert(ctx context.Context, table string, row collection.Record, conflictKey string) (collection.Record, error) {
	u := c.tableURL(table) + "?on_conflict=" + url.QueryEscape(conflictKey)
	return c.writeRow(ctx, http.MethodPost, u, row, "resolution=merge-duplicates,return=representation")
}

func (c *RESTClient) Update(ctx context.Context, table, id string, patch collection.Record) (collection.Record, error) {
	u := c.tableURL(table) + "?id=eq." + url.QueryEscape(id)
	return c.writeRow(ctx, http.MethodPatch, u, patch, "return=representation")
}

func (c *RESTClient) Delete(ctx context.Context, table, id string) error {
	u := c.tableURL(table) + "?id=eq." + url.QueryEscape(id)
	status, body, err := c.do(ctx, http.MethodDelete, u, nil, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return classify(status, body)
	}
	return nil
}

func (c *RESTClient) writeRow(ctx context.Context, method, u string, row collection.Record, prefer string) (collection.Record, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, &Error{Kind: KindSchema, Message: "unserializable row: " + err.Error()}
	}
	headers := map[string]string{"Prefer": prefer}
	status, body, err := c.do(ctx, method, u, bytes.NewReader(payload), headers)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, classify(status, body)
	}
	// PostgREST returns an array even for single-row writes.
	var rows []collection.Record
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		return row, nil
	}
	return rows[0], nil
}

func (c *RESTClient) do(ctx context.Context, method, u string, body io.Reader, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, nil, connErr(err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	if c.session != nil {
		req.Header.Set("Authorization", "Bearer "+c.session.AccessToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	c.mu.RUnlock()
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, connErr(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, connErr(err)
	}
	return resp.StatusCode, data, nil
}

func (c *RESTClient) tableURL(table string) string {
	return c.baseURL + "/rest/v1/" + url.PathEscape(table)
}

// filterQuery renders filters as PostgREST query operators in sorted field
// order: scalars become field=eq.value, slices become field=in.(a,b).
func filterQuery(filters collection.Filters) string {
	if len(filters) == 0 {
		return "select=*"
	}
	fields := make([]string, 0, len(filters))
	for f := range filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := []string{"select=*"}
	for _, f := range fields {
		switch v := filters[f].(type) {
		case []any:
			vals := make([]string, len(v))
			for i, item := range v {
				vals[i] = scalarString(item)
			}
			parts = append(parts, url.QueryEscape(f)+"=in.("+url.QueryEscape(strings.Join(vals, ","))+")")
		case []string:
			parts = append(parts, url.QueryEscape(f)+"=in.("+url.QueryEscape(strings.Join(v, ","))+")")
		default:
			parts = append(parts, url.QueryEscape(f)+"=eq."+url.QueryEscape(scalarString(v)))
		}
	}
	return strings.Join(parts, "&")
}

func scalarString(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		// Render integral floats without an exponent or trailing zeros.
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%v", n)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// pgError is the JSON error body PostgREST returns.
type pgError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// classify maps an HTTP status plus PostgREST error body to the taxonomy.
func classify(status int, body []byte) *Error {
	var pe pgError
	_ = json.Unmarshal(body, &pe)
	msg := pe.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	kind := KindTransient
	switch pe.Code {
	case "23505":
		kind = KindDuplicate
	case "23503":
		kind = KindForeignKey
	case "42501":
		kind = KindPermission
	case "42703", "PGRST204", "42P01":
		kind = KindSchema
	case "PGRST116":
		kind = KindNotFound
	default:
		switch {
		case status == http.StatusUnauthorized:
			kind = KindAuth
		case status == http.StatusForbidden:
			kind = KindPermission
		case status == http.StatusNotFound:
			kind = KindNotFound
		case status == http.StatusConflict:
			kind = KindDuplicate
		case status >= 500:
			kind = KindTransient
		}
	}
	return &Error{Kind: kind, Code: pe.Code, Message: msg, Status: status}
}
