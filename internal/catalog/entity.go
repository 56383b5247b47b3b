// Package catalog defines the entities that flow through a sync pass and the
// signature-based delta detection between two entity sets.
package catalog

import (
	"github.com/shopspring/decimal"
)

type StockStatus string

const (
	StockInStock    StockStatus = "instock"
	StockOutOfStock StockStatus = "outofstock"
)

type SyncAction string

const (
	ActionNew       SyncAction = "new"
	ActionUpdated   SyncAction = "updated"
	ActionRemoved   SyncAction = "removed"
	ActionUnchanged SyncAction = "unchanged"
)

// Variation is one purchasable unit of an Entity.
type Variation struct {
	Key           string          `json:"key"`
	Size          string          `json:"size"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	RemoteID      int64           `json:"remote_id,omitempty"`
}

// StockStatus is derived: in stock iff quantity > 0.
func (v Variation) StockStatus() StockStatus {
	if v.StockQuantity > 0 {
		return StockInStock
	}
	return StockOutOfStock
}

// Entity is one sellable product as produced by a feed source.
type Entity struct {
	SKU        string      `json:"sku"`
	Name       string      `json:"name"`
	Variations []Variation `json:"variations"`
	Action     SyncAction  `json:"action,omitempty"`
	RemoteID   int64       `json:"remote_id,omitempty"`
}

// VariationKey builds the key of a variation from its parent key and size token.
func VariationKey(sku, size string) string {
	return sku + "-" + size
}

// StockStatus of an entity is in stock if any variation is.
func (e Entity) StockStatus() StockStatus {
	for _, v := range e.Variations {
		if v.StockStatus() == StockInStock {
			return StockInStock
		}
	}
	return StockOutOfStock
}

// TotalStock sums the stock quantity over all variations.
func (e Entity) TotalStock() int {
	total := 0
	for _, v := range e.Variations {
		total += v.StockQuantity
	}
	return total
}

// Clone returns a deep copy so callers can mutate variations safely.
func (e Entity) Clone() Entity {
	out := e
	out.Variations = make([]Variation, len(e.Variations))
	copy(out.Variations, e.Variations)
	return out
}

// MarkRemoved returns a copy tagged removed with every variation zeroed.
// Removal never deletes the remote entity; it only takes it out of stock.
func (e Entity) MarkRemoved() Entity {
	out := e.Clone()
	out.Action = ActionRemoved
	for i := range out.Variations {
		out.Variations[i].StockQuantity = 0
	}
	return out
}

// Keys returns the SKUs of the given entities in order.
func Keys(entities []Entity) []string {
	keys := make([]string, len(entities))
	for i, e := range entities {
		keys[i] = e.SKU
	}
	return keys
}
