package coreapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/angelmondragon/cartbridge/pkg/config"
	pkgerrors "github.com/angelmondragon/cartbridge/pkg/errors"
	"github.com/angelmondragon/cartbridge/pkg/logger"
)

const (
	cartPath  = "/api/v1/storefront/cart"
	itemsPath = "/api/v1/storefront/cart/items"

	guestTokenParam = "guest_token"
)

var (
	errBaseURLRequired = errors.New("core api base url is required")
	errLoggerRequired  = errors.New("core api logger is required")
)

// Doer lets tests substitute the HTTP transport.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the authoritative cart service with centralized auth,
// logging, and error mapping. Response bodies are returned raw; payload
// shape-guessing belongs to the normalizer.
type Client struct {
	httpClient Doer
	baseURL    string
	userAgent  string
	logger     *logger.Logger
}

// Credentials identify the cart owner for a single call. Exactly one of
// BearerToken or GuestToken may be set; the upstream never accepts both.
type Credentials struct {
	BearerToken string
	GuestToken  string
}

func (c Credentials) validate() error {
	if c.BearerToken != "" && c.GuestToken != "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "bearer and guest credentials are mutually exclusive")
	}
	return nil
}

// NewClient initializes the core API wrapper and validates the configuration.
func NewClient(ctx context.Context, cfg config.CoreAPIConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parsing core api base url: %w", err)
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    baseURL,
		userAgent:  cfg.UserAgent,
		logger:     logg,
	}

	logg.Info(ctx, "core api client initialized")
	return c, nil
}

// AddItemParams is the add-item wire payload.
type AddItemParams struct {
	ProductID        string `json:"productId"`
	Quantity         int    `json:"quantity"`
	ProductVariantID string `json:"productVariantId,omitempty"`
}

// UpdateItemParams is the update-item wire payload.
type UpdateItemParams struct {
	Quantity int `json:"quantity"`
}

// FetchCart returns the raw cart payload for the identified shopper.
func (c *Client) FetchCart(ctx context.Context, creds Credentials) ([]byte, error) {
	c.log(ctx, "request", "fetch_cart", nil)
	body, err := c.do(ctx, http.MethodGet, cartPath, creds, nil, "fetch cart")
	if err != nil {
		c.log(ctx, "error", "fetch_cart", map[string]any{"error": err.Error()})
		return nil, err
	}
	c.log(ctx, "response", "fetch_cart", map[string]any{"bytes": len(body)})
	return body, nil
}

// AddItem posts a new line item and returns the raw updated cart payload.
func (c *Client) AddItem(ctx context.Context, creds Credentials, params AddItemParams) ([]byte, error) {
	c.log(ctx, "request", "add_item", map[string]any{
		"product_id": params.ProductID,
		"quantity":   params.Quantity,
		"variant_id": params.ProductVariantID,
	})
	body, err := c.do(ctx, http.MethodPost, itemsPath, creds, params, "add item")
	if err != nil {
		c.log(ctx, "error", "add_item", map[string]any{"error": err.Error()})
		return nil, err
	}
	c.log(ctx, "response", "add_item", map[string]any{"bytes": len(body)})
	return body, nil
}

// UpdateItem patches the quantity of an existing line item.
func (c *Client) UpdateItem(ctx context.Context, creds Credentials, itemID string, params UpdateItemParams) ([]byte, error) {
	c.log(ctx, "request", "update_item", map[string]any{
		"item_id":  itemID,
		"quantity": params.Quantity,
	})
	body, err := c.do(ctx, http.MethodPatch, itemsPath+"/"+url.PathEscape(itemID), creds, params, "update item")
	if err != nil {
		c.log(ctx, "error", "update_item", map[string]any{"error": err.Error()})
		return nil, err
	}
	c.log(ctx, "response", "update_item", map[string]any{"bytes": len(body)})
	return body, nil
}

// RemoveItem deletes a line item. Absence of the item afterward is the
// success criterion; callers decide how to treat not-found.
func (c *Client) RemoveItem(ctx context.Context, creds Credentials, itemID string) error {
	c.log(ctx, "request", "remove_item", map[string]any{"item_id": itemID})
	_, err := c.do(ctx, http.MethodDelete, itemsPath+"/"+url.PathEscape(itemID), creds, nil, "remove item")
	if err != nil {
		c.log(ctx, "error", "remove_item", map[string]any{"error": err.Error()})
		return err
	}
	c.log(ctx, "response", "remove_item", nil)
	return nil
}

// Ping verifies upstream reachability for readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health/live", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping core api: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("core api unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, creds Credentials, payload any, op string) ([]byte, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("encode %s payload", op))
		}
		body = bytes.NewReader(encoded)
	}

	endpoint := c.baseURL + path
	if creds.GuestToken != "" {
		endpoint += "?" + guestTokenParam + "=" + url.QueryEscape(creds.GuestToken)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("build %s request", op))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if creds.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+creds.BearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("core api %s failed", op))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("read %s response", op))
	}

	if resp.StatusCode >= 400 {
		code := domainCodeForStatus(resp.StatusCode)
		cause := &UpstreamError{Status: resp.StatusCode, Body: truncate(raw, 512)}
		return nil, pkgerrors.Wrap(code, cause, fmt.Sprintf("core api %s failed", op))
	}

	return raw, nil
}

// UpstreamError preserves the upstream HTTP status for diagnostics.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d", e.Status)
}

// UpstreamStatus implements pkg/errors.StatusCarrier.
func (e *UpstreamError) UpstreamStatus() int {
	return e.Status
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

func truncate(raw []byte, max int) string {
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max])
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("core api %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Debug(ctx, fmt.Sprintf("core api %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"token", "secret", "authorization"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
