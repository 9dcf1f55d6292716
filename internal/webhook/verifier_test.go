package webhook

import (
	"errors"
	"testing"

	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestVerifier_VerifySignature(t *testing.T) {
	v := NewVerifier("whsec_test", zap.NewNop())
	body := []byte(`{"type":"payment.completed","reference":"ch_1","invoice_id":3,"amount":"50.00"}`)
	sig := v.Sign(body)

	tests := []struct {
		name      string
		signature string
		body      []byte
		want      bool
	}{
		{"valid", sig, body, true},
		{"valid with prefix", "sha256=" + sig, body, true},
		{"tampered body", sig, append([]byte{' '}, body...), false},
		{"wrong secret", NewVerifier("other", zap.NewNop()).Sign(body), body, false},
		{"not hex", "zz", body, false},
		{"truncated", sig[:10], body, false},
		{"empty", "", body, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.VerifySignature(tt.signature, tt.body))
		})
	}
}

func TestVerifier_NoSecretRejects(t *testing.T) {
	v := NewVerifier("", zap.NewNop())
	body := []byte(`{}`)
	assert.False(t, v.VerifySignature(v.Sign(body), body))
}

func TestVerifier_ParseEvent(t *testing.T) {
	v := NewVerifier("whsec_test", zap.NewNop())

	body := []byte(`{"type":"refund.completed","reference":"ch_1","refund_id":"re_1","invoice_id":3,"amount":"20"}`)
	evt, err := v.ParseEvent(v.Sign(body), body)
	require.NoError(t, err)
	assert.Equal(t, port.GatewayRefundCompleted, evt.Type)
	assert.Equal(t, "re_1", evt.RefundID)
	assert.Equal(t, int64(3), evt.InvoiceID)
	assert.Equal(t, "20", evt.Amount.String())

	_, err = v.ParseEvent("deadbeef", body)
	assert.True(t, errors.Is(err, ErrInvalidSignature))

	unknown := []byte(`{"type":"charge.disputed","reference":"ch_1"}`)
	_, err = v.ParseEvent(v.Sign(unknown), unknown)
	assert.True(t, errors.Is(err, entity.ErrValidation))

	garbage := []byte(`{not json`)
	_, err = v.ParseEvent(v.Sign(garbage), garbage)
	assert.True(t, errors.Is(err, entity.ErrValidation))
}
