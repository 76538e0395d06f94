// Package rest talks to a headless-CMS style sink over its REST content API.
// It is the alternative write path for deployments without direct database
// access.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/verdantleaf/pos-catalog-sync/config"
	"github.com/verdantleaf/pos-catalog-sync/internal/retry"
)

// APIError is returned for non-2xx sink responses.
type APIError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sink api: %s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *APIError) StatusCode() int { return e.Code }

// Document is one sink record. Attrs carries the record fields as raw JSON
// so callers decode into their own types.
type Document struct {
	ID         int64           `json:"id"`
	DocumentID string          `json:"documentId"`
	Attrs      json.RawMessage `json:"-"`
}

type pagination struct {
	Page      int `json:"page"`
	PageSize  int `json:"pageSize"`
	PageCount int `json:"pageCount"`
	Total     int `json:"total"`
}

type listEnvelope struct {
	Data []json.RawMessage `json:"data"`
	Meta struct {
		Pagination pagination `json:"pagination"`
	} `json:"meta"`
}

type singleEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// Client is a thin authenticated wrapper over the content API. All calls
// retry on transient failures; 4xx responses are permanent.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	policy  retry.Policy
	logger  *zap.Logger
}

const requestTimeout = 30 * time.Second

func NewClient(cfg *config.Sink, policy retry.Policy, logger *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.RESTURL,
		token:   cfg.RESTToken,
		httpc:   &http.Client{Timeout: requestTimeout},
		policy:  policy,
		logger:  logger,
	}
}

// List fetches one page of a collection and reports the total page count so
// callers can walk the rest.
func (c *Client) List(ctx context.Context, collection string, query url.Values, page, pageSize int) ([]Document, int, error) {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("pagination[page]", strconv.Itoa(page))
	q.Set("pagination[pageSize]", strconv.Itoa(pageSize))

	body, err := c.do(ctx, http.MethodGet, "/api/"+collection+"?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}

	var envelope listEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, 0, fmt.Errorf("sink api: decode %s list: %w", collection, err)
	}

	docs := make([]Document, 0, len(envelope.Data))
	for _, raw := range envelope.Data {
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("sink api: decode %s entry: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	return docs, envelope.Meta.Pagination.PageCount, nil
}

// FindFirst returns the first record matching the query, or nil when the
// collection has none.
func (c *Client) FindFirst(ctx context.Context, collection string, query url.Values) (*Document, error) {
	docs, _, err := c.List(ctx, collection, query, 1, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

func (c *Client) Create(ctx context.Context, collection string, attrs any) (*Document, error) {
	return c.write(ctx, http.MethodPost, "/api/"+collection, attrs)
}

func (c *Client) Update(ctx context.Context, collection, documentID string, attrs any) (*Document, error) {
	return c.write(ctx, http.MethodPut, "/api/"+collection+"/"+documentID, attrs)
}

func (c *Client) Delete(ctx context.Context, collection, documentID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/"+collection+"/"+documentID, nil)
	if retry.IsNotFound(err) {
		// already gone, same outcome
		return nil
	}
	return err
}

func (c *Client) write(ctx context.Context, method, path string, attrs any) (*Document, error) {
	payload, err := json.Marshal(map[string]any{"data": attrs})
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	var envelope singleEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("sink api: decode %s response: %w", path, err)
	}
	doc, err := decodeDocument(envelope.Data)
	if err != nil {
		return nil, fmt.Errorf("sink api: decode %s response: %w", path, err)
	}
	return &doc, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	return retry.DoValue(ctx, c.policy, func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &APIError{
				Method: method,
				Path:   path,
				Code:   resp.StatusCode,
				Body:   truncate(string(body), 256),
			}
		}
		return body, nil
	})
}

// decodeDocument accepts both envelope shapes the content API has shipped:
// nested attributes and flat fields.
func decodeDocument(raw json.RawMessage) (Document, error) {
	var nested struct {
		ID         int64           `json:"id"`
		DocumentID string          `json:"documentId"`
		Attributes json.RawMessage `json:"attributes"`
	}
	if err := json.Unmarshal(raw, &nested); err != nil {
		return Document{}, err
	}

	doc := Document{ID: nested.ID, DocumentID: nested.DocumentID}
	if len(nested.Attributes) > 0 && string(nested.Attributes) != "null" {
		doc.Attrs = nested.Attributes
	} else {
		doc.Attrs = raw
	}
	if doc.DocumentID == "" {
		doc.DocumentID = strconv.FormatInt(doc.ID, 10)
	}
	return doc, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
