package alert

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"catalogsync/internal/logger"
	"catalogsync/internal/pricing"
	"catalogsync/internal/reconcile"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAlert() reconcile.PriceAlert {
	return reconcile.PriceAlert{
		RunID:         "run-1",
		SKU:           "DD1391-100",
		VariationKey:  "DD1391-100-42",
		Size:          "42",
		OldPrice:      decimal.NewFromInt(50),
		NewPrice:      decimal.NewFromInt(111),
		ChangePercent: decimal.NewFromInt(122),
		Breakdown: pricing.Breakdown{
			MarketPrice: decimal.NewFromInt(82),
			Tier:        "[0,100)",
			Rounding:    pricing.RoundWhole,
		},
	}
}

func TestMailAlerter(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string

	a := NewMailAlerter("smtp.local:25", "sync@shop", "ops@shop, buyer@shop,")
	a.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	require.NoError(t, a.Alert(context.Background(), sampleAlert()))
	assert.Equal(t, "smtp.local:25", gotAddr)
	assert.Equal(t, "sync@shop", gotFrom)
	assert.Equal(t, []string{"ops@shop", "buyer@shop"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Price change 122.0% on DD1391-100 size 42\r\n")
	assert.Contains(t, gotMsg, "50.00 -> 111.00")
}

func TestMailAlerterWithoutRecipients(t *testing.T) {
	a := NewMailAlerter("smtp.local:25", "sync@shop", " ")
	assert.Error(t, a.Alert(context.Background(), sampleAlert()))
}

type countingAlerter struct {
	calls int
	err   error
}

func (c *countingAlerter) Alert(context.Context, reconcile.PriceAlert) error {
	c.calls++
	return c.err
}

func TestMultiTriesEveryAlerter(t *testing.T) {
	failing := &countingAlerter{err: errors.New("relay down")}
	ok := &countingAlerter{}

	m := NewMulti(logger.NewNop(), NewLogAlerter(logger.NewNop()), failing, ok)
	err := m.Alert(context.Background(), sampleAlert())

	assert.ErrorContains(t, err, "relay down")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)
}
