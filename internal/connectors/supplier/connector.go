// Package supplier reads the upstream supplier feed over HTTP or from a local file.
package supplier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/catalog"
	"catalogsync/internal/logger"

	"github.com/shopspring/decimal"
)

type FeedItem struct {
	SKU   string     `json:"sku"`
	Name  string     `json:"name"`
	Sizes []FeedSize `json:"sizes"`
}

type FeedSize struct {
	Size  string          `json:"size"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type SupplierConnector struct {
	name   string
	source string
	logger *logger.Logger
	client *http.Client
}

// New builds a connector for source, which is an http(s) URL, a file:// URL or a plain path.
func New(name, source string, timeout time.Duration, logger *logger.Logger) *SupplierConnector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SupplierConnector{
		name:   name,
		source: source,
		logger: logger,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (sc *SupplierConnector) Name() string {
	return sc.name
}

// Fetch returns the full current entity set of the feed.
func (sc *SupplierConnector) Fetch(ctx context.Context) ([]catalog.Entity, error) {
	if sc.source == "" {
		return nil, fmt.Errorf("supplier feed %s: no source configured", sc.name)
	}

	body, err := sc.open(ctx)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var items []FeedItem
	if err := json.NewDecoder(body).Decode(&items); err != nil {
		return nil, fmt.Errorf("supplier feed %s: failed to decode: %w", sc.name, err)
	}

	entities := make([]catalog.Entity, 0, len(items))
	for _, item := range items {
		entities = append(entities, toEntity(item))
	}

	sc.logger.Info("Fetched %d entities from supplier feed %s", len(entities), sc.name)
	return entities, nil
}

func (sc *SupplierConnector) open(ctx context.Context) (io.ReadCloser, error) {
	if !strings.HasPrefix(sc.source, "http://") && !strings.HasPrefix(sc.source, "https://") {
		f, err := os.Open(strings.TrimPrefix(sc.source, "file://"))
		if err != nil {
			return nil, fmt.Errorf("supplier feed %s: %w", sc.name, err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.source, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, &apperr.TransportError{Op: "fetch supplier feed", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &apperr.StatusError{Op: "fetch supplier feed", StatusCode: resp.StatusCode, Body: string(data)}
	}
	return resp.Body, nil
}

func toEntity(item FeedItem) catalog.Entity {
	sku := strings.TrimSpace(item.SKU)
	e := catalog.Entity{
		SKU:        sku,
		Name:       strings.TrimSpace(item.Name),
		Variations: make([]catalog.Variation, 0, len(item.Sizes)),
	}
	for _, s := range item.Sizes {
		size := strings.TrimSpace(s.Size)
		e.Variations = append(e.Variations, catalog.Variation{
			Key:           catalog.VariationKey(sku, size),
			Size:          size,
			Price:         s.Price,
			StockQuantity: s.Stock,
		})
	}
	return e
}
