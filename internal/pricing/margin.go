// Package pricing maps volatile market prices to final selling prices.
package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

type Rounding string

const (
	RoundWhole Rounding = "whole"
	RoundHalf  Rounding = "half"
	RoundNone  Rounding = "none"
)

// FlatTier is the tier label used when no configured tier matches.
const FlatTier = "flat"

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Tier maps market prices in [Min, Max) to a markup percentage. A nil Max is open-ended.
type Tier struct {
	Min    decimal.Decimal
	Max    *decimal.Decimal
	Margin decimal.Decimal
}

func (t Tier) contains(p decimal.Decimal) bool {
	if p.LessThan(t.Min) {
		return false
	}
	return t.Max == nil || p.LessThan(*t.Max)
}

func (t Tier) String() string {
	if t.Max == nil {
		return fmt.Sprintf("[%s,+inf)", t.Min.String())
	}
	return fmt.Sprintf("[%s,%s)", t.Min.String(), t.Max.String())
}

type Config struct {
	Tiers      []Tier
	FlatMargin decimal.Decimal
	Floor      decimal.Decimal
	Rounding   Rounding
}

// Breakdown explains how a final price was derived. It is fully determined
// by the market price and the Config.
type Breakdown struct {
	MarketPrice      decimal.Decimal `json:"market_price"`
	Tier             string          `json:"tier"`
	MarginPercent    decimal.Decimal `json:"margin_percent"`
	PriceBeforeFloor decimal.Decimal `json:"price_before_floor"`
	PriceAfterFloor  decimal.Decimal `json:"price_after_floor"`
	FloorApplied     bool            `json:"floor_applied"`
	Rounding         Rounding        `json:"rounding"`
	FinalPrice       decimal.Decimal `json:"final_price"`
}

type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) (*Calculator, error) {
	switch cfg.Rounding {
	case RoundWhole, RoundHalf, RoundNone:
	case "":
		cfg.Rounding = RoundNone
	default:
		return nil, fmt.Errorf("unknown rounding mode %q", cfg.Rounding)
	}
	if cfg.Floor.IsNegative() {
		return nil, fmt.Errorf("price floor must not be negative")
	}

	tiers := make([]Tier, len(cfg.Tiers))
	copy(tiers, cfg.Tiers)
	for _, t := range tiers {
		if t.Max != nil && !t.Max.GreaterThan(t.Min) {
			return nil, fmt.Errorf("tier %s: max must be greater than min", t)
		}
	}
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Min.LessThan(tiers[j].Min) })
	cfg.Tiers = tiers

	return &Calculator{cfg: cfg}, nil
}

func (c *Calculator) Calculate(marketPrice decimal.Decimal) decimal.Decimal {
	return c.CalculateWithBreakdown(marketPrice).FinalPrice
}

func (c *Calculator) CalculateWithBreakdown(marketPrice decimal.Decimal) Breakdown {
	b := Breakdown{
		MarketPrice: marketPrice,
		Rounding:    c.cfg.Rounding,
	}

	floor := c.cfg.Floor
	hasFloor := floor.IsPositive()

	if !marketPrice.IsPositive() {
		// Degenerate input: fall back to the floor, or zero without one.
		b.Tier = FlatTier
		b.MarginPercent = decimal.Zero
		b.PriceBeforeFloor = decimal.Zero
		b.PriceAfterFloor = decimal.Zero
		if hasFloor {
			b.PriceAfterFloor = floor
			b.FloorApplied = true
		}
		b.FinalPrice = b.PriceAfterFloor
		return b
	}

	b.Tier, b.MarginPercent = c.matchTier(marketPrice)
	raw := marketPrice.Mul(decimal.NewFromInt(1).Add(b.MarginPercent.Div(hundred)))
	b.PriceBeforeFloor = raw
	b.PriceAfterFloor = raw

	if hasFloor && raw.LessThan(floor) {
		b.PriceAfterFloor = floor
		b.FloorApplied = true
	}

	final := round(b.PriceAfterFloor, c.cfg.Rounding)
	if hasFloor && final.LessThan(floor) {
		// Half rounding can land below a floor that is not a multiple of 0.50.
		final = floor
		b.FloorApplied = true
	}
	b.FinalPrice = final
	return b
}

func (c *Calculator) matchTier(p decimal.Decimal) (string, decimal.Decimal) {
	for _, t := range c.cfg.Tiers {
		if t.contains(p) {
			return t.String(), t.Margin
		}
	}
	return FlatTier, c.cfg.FlatMargin
}

func round(p decimal.Decimal, mode Rounding) decimal.Decimal {
	switch mode {
	case RoundWhole:
		return p.Ceil()
	case RoundHalf:
		return p.Mul(two).Round(0).Div(two)
	default:
		return p
	}
}

// ParseTiers reads "min:max:percent" triples separated by commas. An empty max is open-ended.
func ParseTiers(raw string) ([]Tier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var tiers []Tier
	for _, part := range strings.Split(raw, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("tier %q: want min:max:percent", part)
		}
		lo, err := decimal.NewFromString(fields[0])
		if err != nil {
			return nil, fmt.Errorf("tier %q: bad min: %w", part, err)
		}
		margin, err := decimal.NewFromString(fields[2])
		if err != nil {
			return nil, fmt.Errorf("tier %q: bad percent: %w", part, err)
		}
		t := Tier{Min: lo, Margin: margin}
		if fields[1] != "" {
			hi, err := decimal.NewFromString(fields[1])
			if err != nil {
				return nil, fmt.Errorf("tier %q: bad max: %w", part, err)
			}
			t.Max = &hi
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}
