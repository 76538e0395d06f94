// Package source is the read-only client for the upstream POS provider API.
// Every operation is idempotent; transient failures are retried by the
// shared policy and anything else is left to the caller to classify.
package source

import (
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
	"github.com/verdantleaf/pos-catalog-sync/internal/model"
	"github.com/verdantleaf/pos-catalog-sync/internal/retry"
)

// Credentials identify one location against the provider. The API key goes
// into HTTP Basic auth as the username with an empty password.
type Credentials struct {
	APIKey          string
	ProviderStoreID string
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("source %s: status %d", e.Endpoint, e.Code)
}

func (e *APIError) StatusCode() int { return e.Code }

type Client struct {
	baseURL  string
	lookback time.Duration
	timeout  time.Duration
	httpc    *http.Client
	policy   retry.Policy
	logger   *zap.Logger
}

func NewClient(cfg *config.Source, policy retry.Policy, logger *zap.Logger) *Client {
	return &Client{
		baseURL:  cfg.APIURL,
		lookback: cfg.Lookback(),
		timeout:  cfg.Timeout(),
		httpc:    &http.Client{Timeout: cfg.Timeout()},
		policy:   policy,
		logger:   logger,
	}
}

// FetchCatalog returns active catalog items modified within the lookback
// window.
func (c *Client) FetchCatalog(ctx context.Context, creds Credentials) ([]model.CatalogItem, error) {
	from := time.Now().UTC().Add(-c.lookback)
	q := url.Values{}
	q.Set("fromLastModifiedDateUTC", from.Format(time.RFC3339))
	q.Set("isActive", "true")

	var items []model.CatalogItem
	if err := c.getJSON(ctx, creds, "/products", q, &items); err != nil {
		return nil, err
	}

	c.logger.Debug("fetched catalog items",
		zap.String("store", creds.ProviderStoreID),
		zap.Int("count", len(items)))
	return items, nil
}

// FetchPromotions returns active promotions with their inclusion/exclusion
// filter data.
func (c *Client) FetchPromotions(ctx context.Context, creds Credentials) ([]model.Promotion, error) {
	q := url.Values{}
	q.Set("includeInactive", "false")
	q.Set("includeInclusionExclusionData", "true")

	var promos []model.Promotion
	if err := c.getJSON(ctx, creds, "/discounts", q, &promos); err != nil {
		return nil, err
	}

	c.logger.Debug("fetched promotions",
		zap.String("store", creds.ProviderStoreID),
		zap.Int("count", len(promos)))
	return promos, nil
}

// FetchReportingInventory returns the richer inventory dataset used for full
// reconciliation, including per-room quantities.
func (c *Client) FetchReportingInventory(ctx context.Context, creds Credentials) ([]model.CatalogItem, error) {
	q := url.Values{}
	q.Set("includeRoomQuantities", "true")

	var items []model.CatalogItem
	if err := c.getJSON(ctx, creds, "/reporting/inventory", q, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// FetchReportingDiscounts returns the full promotion dataset, including
// inactive and soft-deleted rows for cleanup decisions.
func (c *Client) FetchReportingDiscounts(ctx context.Context, creds Credentials) ([]model.Promotion, error) {
	var promos []model.Promotion
	if err := c.getJSON(ctx, creds, "/reporting/discounts", nil, &promos); err != nil {
		return nil, err
	}
	return promos, nil
}

// FetchItem returns one catalog item, or nil when the provider no longer
// knows the id.
func (c *Client) FetchItem(ctx context.Context, creds Credentials, productID int64) (*model.CatalogItem, error) {
	var item model.CatalogItem
	err := c.getJSON(ctx, creds, "/products/"+strconv.FormatInt(productID, 10), nil, &item)
	if retry.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FetchPromotion returns one promotion, or nil when it no longer exists.
func (c *Client) FetchPromotion(ctx context.Context, creds Credentials, discountID int64) (*model.Promotion, error) {
	q := url.Values{}
	q.Set("includeInactive", "false")
	q.Set("includeInclusionExclusionData", "true")

	var promo model.Promotion
	err := c.getJSON(ctx, creds, "/discounts/"+strconv.FormatInt(discountID, 10), q, &promo)
	if retry.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

func (c *Client) getJSON(ctx context.Context, creds Credentials, path string, query url.Values, out any) error {
	body, err := retry.DoValue(ctx, c.policy, func() ([]byte, error) {
		return c.get(ctx, creds, path, query)
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("source %s: decode: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, creds Credentials, path string, query url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(creds.APIKey, "")
	// the provider serves JSON but expects this Accept value
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Endpoint: path, Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
