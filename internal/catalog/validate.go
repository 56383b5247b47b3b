package catalog

import (
	"catalogsync/internal/apperr"
)

// Validate checks the fields every downstream component relies on.
func Validate(e Entity) error {
	if e.SKU == "" {
		return &apperr.ValidationError{Reason: "missing sku"}
	}
	seen := make(map[string]struct{}, len(e.Variations))
	for _, v := range e.Variations {
		if v.Key == "" {
			return &apperr.ValidationError{Key: e.SKU, Reason: "variation without key"}
		}
		if _, dup := seen[v.Key]; dup {
			return &apperr.ValidationError{Key: e.SKU, Reason: "duplicate variation key " + v.Key}
		}
		seen[v.Key] = struct{}{}
		if v.Price.IsNegative() {
			return &apperr.ValidationError{Key: e.SKU, Reason: "negative price on " + v.Key}
		}
		if v.StockQuantity < 0 {
			return &apperr.ValidationError{Key: e.SKU, Reason: "negative stock on " + v.Key}
		}
	}
	return nil
}

// Partition splits entities into valid ones and the validation errors of the rest.
// Duplicate SKUs keep the first occurrence.
func Partition(entities []Entity) ([]Entity, []error) {
	valid := make([]Entity, 0, len(entities))
	var errs []error
	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		if err := Validate(e); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[e.SKU]; dup {
			errs = append(errs, &apperr.ValidationError{Key: e.SKU, Reason: "duplicate sku in feed"})
			continue
		}
		seen[e.SKU] = struct{}{}
		valid = append(valid, e)
	}
	return valid, errs
}
