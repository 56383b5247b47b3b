// Package woocommerce is the REST client for the remote catalog.
package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/batch"
	"catalogsync/internal/catalog"
	"catalogsync/internal/logger"
)

const perPage = 100

type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	httpClient     *http.Client
	transformer    *Transformer
	logger         *logger.Logger
}

func NewClient(baseURL, consumerKey, consumerSecret string, timeout time.Duration, logger *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		transformer: NewTransformer(),
		logger:      logger,
	}
}

// BatchEntities creates and updates products in one request.
func (c *Client) BatchEntities(ctx context.Context, req batch.BatchRequest) (batch.BatchResponse, error) {
	body := BatchBody[ProductWrite]{}
	for _, p := range req.Create {
		body.Create = append(body.Create, c.transformer.ProductWrite(p))
	}
	for _, p := range req.Update {
		body.Update = append(body.Update, c.transformer.ProductWrite(p))
	}

	var resp BatchResponse
	if err := c.do(ctx, http.MethodPost, "/products/batch", nil, body, &resp, nil); err != nil {
		return batch.BatchResponse{}, err
	}
	return c.transformer.BatchResponse(resp), nil
}

// BatchVariations creates and updates the variations of one product.
func (c *Client) BatchVariations(ctx context.Context, parentID int64, req batch.BatchRequest) (batch.BatchResponse, error) {
	body := BatchBody[VariationWrite]{}
	for _, p := range req.Create {
		body.Create = append(body.Create, c.transformer.VariationWrite(p))
	}
	for _, p := range req.Update {
		body.Update = append(body.Update, c.transformer.VariationWrite(p))
	}

	var resp BatchResponse
	path := fmt.Sprintf("/products/%d/variations/batch", parentID)
	if err := c.do(ctx, http.MethodPost, path, nil, body, &resp, nil); err != nil {
		return batch.BatchResponse{}, err
	}
	return c.transformer.BatchResponse(resp), nil
}

// Variations returns every variation of a product.
func (c *Client) Variations(ctx context.Context, parentID int64) ([]catalog.Variation, error) {
	var out []catalog.Variation
	path := fmt.Sprintf("/products/%d/variations", parentID)
	err := c.paginate(ctx, path, url.Values{}, func(raw json.RawMessage) (int, error) {
		var page []Variation
		if err := json.Unmarshal(raw, &page); err != nil {
			return 0, err
		}
		for _, v := range page {
			out = append(out, c.transformer.Variation(v))
		}
		return len(page), nil
	})
	return out, err
}

// PublishedKeys lists the SKUs of every published product.
func (c *Client) PublishedKeys(ctx context.Context) ([]string, error) {
	var keys []string
	q := url.Values{}
	q.Set("status", "publish")
	err := c.paginate(ctx, "/products", q, func(raw json.RawMessage) (int, error) {
		var page []Product
		if err := json.Unmarshal(raw, &page); err != nil {
			return 0, err
		}
		for _, p := range page {
			if p.SKU != "" {
				keys = append(keys, p.SKU)
			}
		}
		return len(page), nil
	})
	return keys, err
}

// paginate walks a list endpoint page by page until a short page or the
// advertised total page count.
func (c *Client) paginate(ctx context.Context, path string, q url.Values, handle func(json.RawMessage) (int, error)) error {
	q.Set("per_page", strconv.Itoa(perPage))
	for page := 1; ; page++ {
		q.Set("page", strconv.Itoa(page))

		var raw json.RawMessage
		var header http.Header
		if err := c.do(ctx, http.MethodGet, path, q, nil, &raw, &header); err != nil {
			return err
		}
		n, err := handle(raw)
		if err != nil {
			return fmt.Errorf("failed to decode %s page %d: %w", path, page, err)
		}

		if total, err := strconv.Atoi(header.Get("X-WP-TotalPages")); err == nil && page >= total {
			return nil
		}
		if n < perPage {
			return nil
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out interface{}, header *http.Header) error {
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
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	op := method + " " + path
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &apperr.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apperr.StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(data)}
	}
	if header != nil {
		*header = resp.Header
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	c.logger.Debug("%s -> %d", op, resp.StatusCode)
	return nil
}
