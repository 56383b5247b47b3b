// Package marketprice is the REST client for the market-price API.
package marketprice

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
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/logger"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID   string `json:"id"`
	SKU  string `json:"sku"`
	Name string `json:"name"`
}

type Variant struct {
	Size   string  `json:"size"`
	Prices []Price `json:"prices"`
}

type Price struct {
	Type  string          `json:"type"`
	Price decimal.Decimal `json:"price"`
}

type subscriptionRequest struct {
	URL        string   `json:"url,omitempty"`
	ProductIDs []string `json:"product_ids"`
	Topics     []string `json:"topics,omitempty"`
}

type subscriptionResponse struct {
	ID string `json:"id"`
}

type Client struct {
	baseURL    string
	apiKey     string
	market     string
	priceType  string
	httpClient *http.Client
	logger     *logger.Logger
}

func NewClient(baseURL, apiKey, market, priceType string, timeout time.Duration, logger *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		market:    market,
		priceType: priceType,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Product looks a catalog key up. A key the API does not list is apperr.ErrNotFound.
func (c *Client) Product(ctx context.Context, sku string) (*Product, error) {
	var p Product
	if err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(sku), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ProductID resolves a catalog key to the API's internal product id.
func (c *Client) ProductID(ctx context.Context, sku string) (string, error) {
	p, err := c.Product(ctx, sku)
	if err != nil {
		return "", err
	}
	if p.ID == "" {
		return "", apperr.ErrNotFound
	}
	return p.ID, nil
}

// Variants lists the per-size prices of a product in the configured market.
func (c *Client) Variants(ctx context.Context, productID string) ([]Variant, error) {
	q := url.Values{}
	q.Set("market", c.market)
	var variants []Variant
	err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(productID)+"/variants", q, nil, &variants)
	return variants, err
}

// VariantPrices maps each size of sku to its market price of the configured
// price type. Sizes without that price type are left out.
func (c *Client) VariantPrices(ctx context.Context, sku string) (map[string]decimal.Decimal, error) {
	id, err := c.ProductID(ctx, sku)
	if err != nil {
		return nil, err
	}
	variants, err := c.Variants(ctx, id)
	if err != nil {
		return nil, err
	}

	prices := make(map[string]decimal.Decimal, len(variants))
	for _, v := range variants {
		for _, p := range v.Prices {
			if strings.EqualFold(p.Type, c.priceType) {
				prices[v.Size] = p.Price
				break
			}
		}
	}
	return prices, nil
}

// Register creates a price webhook subscription and returns its id.
func (c *Client) Register(ctx context.Context, hookURL string, productIDs, topics []string) (string, error) {
	var resp subscriptionResponse
	body := subscriptionRequest{URL: hookURL, ProductIDs: productIDs, Topics: topics}
	if err := c.do(ctx, http.MethodPost, "/webhooks", nil, body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("webhook registration returned no id")
	}
	return resp.ID, nil
}

func (c *Client) AddProducts(ctx context.Context, subscriptionID string, productIDs []string) error {
	path := "/webhooks/" + url.PathEscape(subscriptionID) + "/products"
	return c.do(ctx, http.MethodPost, path, nil, subscriptionRequest{ProductIDs: productIDs}, nil)
}

func (c *Client) RemoveProducts(ctx context.Context, subscriptionID string, productIDs []string) error {
	path := "/webhooks/" + url.PathEscape(subscriptionID) + "/products"
	return c.do(ctx, http.MethodDelete, path, nil, subscriptionRequest{ProductIDs: productIDs}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	op := method + " " + path
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &apperr.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return apperr.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apperr.StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}
