// Package remote is the HTTP client for the remote record store. It
// only covers the contract the engine consumes: row read/write with
// idempotent inserts, the row-change feed, and the realtime channel.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/pos_engine/models"
	"github.com/shopspring/decimal"
)

type Client struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

func NewClient(apiKey string) (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("REMOTE_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.pos.example.com"
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("REMOTE_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("remote api key is empty")
	}
	rateLimitPerMin := int64(120)
	if v := strings.TrimSpace(os.Getenv("REMOTE_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := parseInt64(v); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 15 * time.Second},
		limiter:   time.Tick(interval),
	}, nil
}

// NewClientForTest points the client at a test server, bypassing env
// and the rate limiter.
func NewClientForTest(baseURL string) *Client {
	tick := make(chan time.Time)
	close(tick) // closed channel: receives never block
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    "test",
		apiKeyHdr: "X-API-Key",
		http:      &http.Client{Timeout: 5 * time.Second},
		limiter:   tick,
	}
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any) ([]byte, error) {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// Ping probes reachability. Any non-transient answer counts as
// reachable, including auth errors: the link is up.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
	if err != nil && IsTransient(err) {
		return err
	}
	return nil
}

// CreateSale inserts a sale. The sale's local id travels as the
// idempotency key; the remote rejects a second insert of the same id
// with 409, which surfaces here as ErrDuplicateWrite.
func (c *Client) CreateSale(ctx context.Context, sale models.SaleRecord) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/sales", nil, sale)
	return err
}

// UpdateSaleStatus transitions a sale's workflow status by remote id.
func (c *Client) UpdateSaleStatus(ctx context.Context, saleId string, status models.SaleStatus, at time.Time) error {
	payload := map[string]any{
		"current_status":    status,
		"status_changed_at": at.UTC().Format(time.RFC3339),
	}
	_, err := c.do(ctx, http.MethodPatch, "/v1/sales/"+url.PathEscape(saleId), nil, payload)
	return err
}

type saleListResponse struct {
	Data       []models.SaleRecord `json:"data"`
	NextCursor string              `json:"next_cursor"`
	HasMore    *bool               `json:"has_more"`
}

// ListSales reads the authoritative rows for one scope and day,
// optionally filtered by status, walking cursor pagination to the end.
func (c *Client) ListSales(ctx context.Context, scopeId string, dayKey string, status models.SaleStatus) ([]models.SaleRecord, error) {
	var out []models.SaleRecord
	cursor := ""
	for {
		params := url.Values{}
		params.Set("scope_id", scopeId)
		params.Set("day", dayKey)
		if status != "" {
			params.Set("status", string(status))
		}
		params.Set("limit", "200")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		body, err := c.do(ctx, http.MethodGet, "/v1/sales", params, nil)
		if err != nil {
			return out, err
		}
		var parsed saleListResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return out, err
		}
		out = append(out, parsed.Data...)
		if parsed.NextCursor == "" || (parsed.HasMore != nil && !*parsed.HasMore) {
			return out, nil
		}
		cursor = parsed.NextCursor
	}
}

// MaxBusinessOrdinal returns the highest confirmed receipt ordinal for
// the scope and day; 0 when no sales exist yet.
func (c *Client) MaxBusinessOrdinal(ctx context.Context, scopeId string, dayKey string) (int64, error) {
	params := url.Values{}
	params.Set("scope_id", scopeId)
	params.Set("day", dayKey)

	body, err := c.do(ctx, http.MethodGet, "/v1/sales/max-ordinal", params, nil)
	if err != nil {
		return 0, err
	}
	var parsed struct {
		MaxOrdinal int64 `json:"max_ordinal"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, err
	}
	return parsed.MaxOrdinal, nil
}

// DecrementInventory is the fire-and-forget side effect of a sale. It
// is excluded from the transactional write on purpose; its failure must
// never roll back or block the sale.
func (c *Client) DecrementInventory(ctx context.Context, scopeId string, itemId string, qty decimal.Decimal) error {
	payload := map[string]any{
		"scope_id": scopeId,
		"item_id":  itemId,
		"quantity": qty,
	}
	_, err := c.do(ctx, http.MethodPost, "/v1/inventory/decrement", nil, payload)
	return err
}

func parseInt64(v string) (int64, error) {
	return strconv.ParseInt(v, 10, 64)
}
