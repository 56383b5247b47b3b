package woocommerce

import (
	"strings"

	"catalogsync/internal/batch"
	"catalogsync/internal/catalog"

	"github.com/shopspring/decimal"
)

// SizeAttribute is the product attribute variations are keyed on.
const SizeAttribute = "Size"

type Transformer struct{}

func NewTransformer() *Transformer {
	return &Transformer{}
}

// ProductWrite converts a batch item into a variable product payload.
func (t *Transformer) ProductWrite(p batch.ItemPayload) ProductWrite {
	w := ProductWrite{
		ID:          p.RemoteID,
		Name:        p.Name,
		StockStatus: string(p.StockStatus),
	}
	if p.RemoteID == 0 {
		w.SKU = p.Key
		w.Type = "variable"
		w.Status = "publish"
	}
	if len(p.Options) > 0 {
		w.Attributes = []Attribute{{
			Name:      SizeAttribute,
			Visible:   true,
			Variation: true,
			Options:   p.Options,
		}}
	}
	return w
}

// VariationWrite converts a batch item into a variation payload. A price-only
// update carries just the id and the regular price.
func (t *Transformer) VariationWrite(p batch.ItemPayload) VariationWrite {
	w := VariationWrite{ID: p.RemoteID}
	if p.Price != nil {
		w.RegularPrice = p.Price.StringFixed(2)
	}
	if p.PriceOnly && p.RemoteID != 0 {
		return w
	}
	manage, qty := true, p.StockQuantity
	w.ManageStock = &manage
	w.StockQuantity = &qty
	w.StockStatus = string(p.StockStatus)
	if p.RemoteID == 0 {
		w.SKU = p.Key
		w.Attributes = []VariationAttribute{{Name: SizeAttribute, Option: p.Size}}
	}
	return w
}

func (t *Transformer) BatchResponse(r BatchResponse) batch.BatchResponse {
	return batch.BatchResponse{
		Create: t.batchResults(r.Create),
		Update: t.batchResults(r.Update),
	}
}

func (t *Transformer) batchResults(in []BatchResult) []batch.BatchItemResult {
	out := make([]batch.BatchItemResult, len(in))
	for i, r := range in {
		out[i] = batch.BatchItemResult{ID: r.ID, Key: r.SKU}
		if r.Error != nil {
			out[i].Error = &batch.ItemError{Code: r.Error.Code, Message: r.Error.Message}
		}
	}
	return out
}

// Variation converts a remote variation back into a catalog variation.
func (t *Transformer) Variation(v Variation) catalog.Variation {
	price, err := decimal.NewFromString(strings.TrimSpace(v.RegularPrice))
	if err != nil {
		price = decimal.Zero
	}
	qty := 0
	if v.StockQuantity != nil {
		qty = *v.StockQuantity
	}
	return catalog.Variation{
		Key:           v.SKU,
		Size:          sizeOf(v),
		Price:         price,
		StockQuantity: qty,
		RemoteID:      v.ID,
	}
}

// sizeOf reads the size attribute, falling back to the key suffix.
func sizeOf(v Variation) string {
	for _, a := range v.Attributes {
		if strings.EqualFold(a.Name, SizeAttribute) {
			return a.Option
		}
	}
	if i := strings.LastIndex(v.SKU, "-"); i >= 0 {
		return v.SKU[i+1:]
	}
	return ""
}
