// Package webhook authenticates and decodes payment gateway callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body
const SignatureHeader = "X-Gateway-Signature"

// ErrInvalidSignature is returned when a callback fails verification
var ErrInvalidSignature = errors.New("invalid gateway signature")

// Verifier handles webhook verification
type Verifier struct {
	secret []byte
	logger *zap.Logger
}

// NewVerifier creates a new webhook verifier. With an empty secret every
// signature is rejected.
func NewVerifier(secret string, logger *zap.Logger) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		logger: logger,
	}
}

// Sign returns the signature header value for body
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the HMAC of body. An optional
// "sha256=" prefix is accepted.
func (v *Verifier) VerifySignature(signature string, body []byte) bool {
	if len(v.secret) == 0 {
		v.logger.Warn("Gateway webhook secret not configured, rejecting callback")
		return false
	}

	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	given, err := hex.DecodeString(signature)
	if err != nil || len(given) != sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hmac.Equal(given, mac.Sum(nil))
}

// ParseEvent verifies and decodes a callback body
func (v *Verifier) ParseEvent(signature string, body []byte) (port.GatewayEvent, error) {
	var evt port.GatewayEvent

	if !v.VerifySignature(signature, body) {
		return evt, ErrInvalidSignature
	}
	if err := json.Unmarshal(body, &evt); err != nil {
		return evt, fmt.Errorf("failed to parse gateway event: %v: %w", err, entity.ErrValidation)
	}
	if !ValidateEventType(evt.Type) {
		return evt, fmt.Errorf("unsupported gateway event type %q: %w", evt.Type, entity.ErrValidation)
	}
	return evt, nil
}

// ValidateEventType checks if the event type is one the reconciler handles
func ValidateEventType(eventType port.GatewayEventType) bool {
	switch eventType {
	case port.GatewayPaymentCompleted, port.GatewayPaymentFailed, port.GatewayRefundCompleted:
		return true
	}
	return false
}
