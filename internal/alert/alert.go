// Package alert delivers price alerts raised during price reconciliation.
package alert

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"catalogsync/internal/logger"
	"catalogsync/internal/reconcile"
)

// LogAlerter writes every alert to the log. It never fails.
type LogAlerter struct {
	logger *logger.Logger
}

func NewLogAlerter(logger *logger.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Alert(ctx context.Context, pa reconcile.PriceAlert) error {
	a.logger.Warnw("price alert",
		"run_id", pa.RunID,
		"sku", pa.SKU,
		"variation", pa.VariationKey,
		"old_price", pa.OldPrice.StringFixed(2),
		"new_price", pa.NewPrice.StringFixed(2),
		"change_percent", pa.ChangePercent.StringFixed(1),
		"tier", pa.Breakdown.Tier,
	)
	return nil
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// MailAlerter sends one plain-text mail per alert through an SMTP relay.
type MailAlerter struct {
	addr     string
	from     string
	to       []string
	sendMail sendMailFunc
}

// NewMailAlerter builds a mail alerter. to is a comma-separated address list.
func NewMailAlerter(addr, from, to string) *MailAlerter {
	var rcpts []string
	for _, r := range strings.Split(to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			rcpts = append(rcpts, r)
		}
	}
	return &MailAlerter{addr: addr, from: from, to: rcpts, sendMail: smtp.SendMail}
}

func (a *MailAlerter) Alert(ctx context.Context, pa reconcile.PriceAlert) error {
	if len(a.to) == 0 {
		return errors.New("mail alerter has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", a.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(a.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", pa.Subject())
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(pa.Message(), "\n", "\r\n"))
	b.WriteString("\r\n")

	if err := a.sendMail(a.addr, nil, a.from, a.to, []byte(b.String())); err != nil {
		return fmt.Errorf("failed to send alert mail: %w", err)
	}
	return nil
}

// Multi fans an alert out to every alerter. Every alerter is tried; the
// failures are joined.
type Multi struct {
	alerters []reconcile.Alerter
	logger   *logger.Logger
}

func NewMulti(logger *logger.Logger, alerters ...reconcile.Alerter) *Multi {
	return &Multi{alerters: alerters, logger: logger}
}

func (m *Multi) Alert(ctx context.Context, pa reconcile.PriceAlert) error {
	var errs []error
	for _, a := range m.alerters {
		if err := a.Alert(ctx, pa); err != nil {
			m.logger.Error("Failed to deliver price alert for %s: %v", pa.VariationKey, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
