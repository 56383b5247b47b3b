// Package batch pushes entity and variation payloads to the remote catalog in
// size-limited chunks and rebuilds the local-key to remote-id mapping from the
// responses.
package batch

import (
	"context"

	"catalogsync/internal/catalog"

	"github.com/shopspring/decimal"
)

// MaxBatchSize is the remote catalog's hard per-request ceiling.
const MaxBatchSize = 100

// ItemPayload is one entity or variation in a batch request.
type ItemPayload struct {
	RemoteID      int64
	Key           string
	Name          string
	Size          string
	Price         *decimal.Decimal
	StockQuantity int
	StockStatus   catalog.StockStatus
	// Options lists the variation sizes of an entity payload.
	Options []string
	// PriceOnly marks an update that must leave remote stock untouched.
	PriceOnly bool
}

type BatchRequest struct {
	Create []ItemPayload
	Update []ItemPayload
}

func (r BatchRequest) Len() int { return len(r.Create) + len(r.Update) }

type ItemError struct {
	Code    string
	Message string
}

// BatchItemResult is the remote echo of one item: either an id and key, or an error.
type BatchItemResult struct {
	ID    int64
	Key   string
	Error *ItemError
}

type BatchResponse struct {
	Create []BatchItemResult
	Update []BatchItemResult
}

// CatalogAPI is the write side of the remote catalog. Implementations return
// an error for transport failures and non-2xx responses; per-item rejections
// come back inside the response.
type CatalogAPI interface {
	BatchEntities(ctx context.Context, req BatchRequest) (BatchResponse, error)
	BatchVariations(ctx context.Context, parentID int64, req BatchRequest) (BatchResponse, error)
}

// RemoteMap associates local keys with remote ids for entities and variations.
type RemoteMap struct {
	Entities   map[string]int64
	Variations map[string]int64
}

func NewRemoteMap() RemoteMap {
	return RemoteMap{
		Entities:   make(map[string]int64),
		Variations: make(map[string]int64),
	}
}

func (m RemoteMap) Clone() RemoteMap {
	out := NewRemoteMap()
	for k, v := range m.Entities {
		out.Entities[k] = v
	}
	for k, v := range m.Variations {
		out.Variations[k] = v
	}
	return out
}
