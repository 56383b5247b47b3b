package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Signature fingerprints the comparison-relevant fields of an entity: its name
// and the (key, price, stock) tuple of every variation. Tuples are sorted first
// so feed ordering never produces a spurious change.
func Signature(e Entity) string {
	tuples := make([]string, len(e.Variations))
	for i, v := range e.Variations {
		tuples[i] = v.Key + "|" + v.Price.StringFixed(2) + "|" + strconv.Itoa(v.StockQuantity)
	}
	sort.Strings(tuples)

	h := sha256.New()
	h.Write([]byte(e.Name))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(tuples, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}

// Diff is the outcome of comparing the current entity set to the baseline.
type Diff struct {
	New            []Entity
	Updated        []Entity
	Removed        []Entity
	UnchangedCount int
}

// Empty reports whether nothing needs to be pushed.
func (d Diff) Empty() bool {
	return len(d.New) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// Changed returns new, updated and removed entities in that order.
func (d Diff) Changed() []Entity {
	out := make([]Entity, 0, len(d.New)+len(d.Updated)+len(d.Removed))
	out = append(out, d.New...)
	out = append(out, d.Updated...)
	out = append(out, d.Removed...)
	return out
}

// Compare diffs current against saved by SKU. With no saved snapshot, or when
// fullResync is set, every current entity is new.
func Compare(current, saved []Entity, fullResync bool) Diff {
	var d Diff

	if fullResync || len(saved) == 0 {
		for _, e := range current {
			e = e.Clone()
			e.Action = ActionNew
			d.New = append(d.New, e)
		}
		sortBySKU(d.New)
		return d
	}

	savedBySKU := make(map[string]Entity, len(saved))
	for _, e := range saved {
		savedBySKU[e.SKU] = e
	}

	seen := make(map[string]struct{}, len(current))
	for _, e := range current {
		seen[e.SKU] = struct{}{}
		prev, ok := savedBySKU[e.SKU]
		switch {
		case !ok:
			e = e.Clone()
			e.Action = ActionNew
			d.New = append(d.New, e)
		case Signature(prev) != Signature(e):
			e = e.Clone()
			e.Action = ActionUpdated
			d.Updated = append(d.Updated, e)
		default:
			d.UnchangedCount++
		}
	}

	for _, e := range saved {
		if _, ok := seen[e.SKU]; !ok {
			d.Removed = append(d.Removed, e.MarkRemoved())
		}
	}

	sortBySKU(d.New)
	sortBySKU(d.Updated)
	sortBySKU(d.Removed)
	return d
}

// ApplyToBaseline returns the baseline that results from taking the changes
// in processed on top of saved. Entities not in processed keep their saved state.
func ApplyToBaseline(saved []Entity, processed []Entity) []Entity {
	bySKU := make(map[string]Entity, len(saved)+len(processed))
	for _, e := range saved {
		bySKU[e.SKU] = e
	}
	for _, e := range processed {
		if e.Action == ActionRemoved {
			delete(bySKU, e.SKU)
			continue
		}
		e = e.Clone()
		e.Action = ""
		bySKU[e.SKU] = e
	}

	out := make([]Entity, 0, len(bySKU))
	for _, e := range bySKU {
		out = append(out, e)
	}
	sortBySKU(out)
	return out
}

func sortBySKU(entities []Entity) {
	sort.Slice(entities, func(i, j int) bool { return entities[i].SKU < entities[j].SKU })
}
