package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"catalogsync/internal/apperr"
	"catalogsync/internal/models"
)

// resources are the qualifiers a topic may carry. Order, coupon and customer
// events share the action names but never touch the catalog.
var resources = map[string]bool{
	"product":   true,
	"variation": true,
	"price":     true,
}

// ParseTopic accepts a bare action ("updated") or one qualified by a catalog
// resource ("product.updated") and returns the closed-set topic it names.
func ParseTopic(raw string) (models.WebhookTopic, error) {
	action := strings.ToLower(strings.TrimSpace(raw))
	if resource, rest, ok := strings.Cut(action, "."); ok {
		if !resources[resource] {
			return "", &apperr.UnsupportedTopicError{Topic: raw}
		}
		action = rest
	}
	switch t := models.WebhookTopic(action); t {
	case models.WebhookTopicCreated, models.WebhookTopicUpdated,
		models.WebhookTopicDeleted, models.WebhookTopicRestored:
		return t, nil
	}
	return "", &apperr.UnsupportedTopicError{Topic: raw}
}

// Sign returns the base64 HMAC-SHA256 of body under secret, the form the
// remote catalog puts in its signature header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the raw body in constant time.
// An empty secret or signature never verifies.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return apperr.ErrSignatureMismatch
	}
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return apperr.ErrSignatureMismatch
	}
	return nil
}
