package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelhq/trackwise-backend/pkg/config"
	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	"github.com/parcelhq/trackwise-backend/pkg/outbox"
	"github.com/parcelhq/trackwise-backend/pkg/outbox/payloads"
)

func testRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{BillingTopic: "billing-alerts"})
	require.NoError(t, err)
	return reg
}

func encodeEnvelope(t *testing.T, data any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}
	payload, err := json.Marshal(envelope)
	require.NoError(t, err)
	return payload
}

func TestNewEventRegistryRequiresBillingTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{})
	require.Error(t, err)
}

func TestResolveDecodesTypedPayload(t *testing.T) {
	reg := testRegistry(t)
	purchaseID := uuid.New()
	customerID := uuid.New()

	event := models.OutboxEvent{
		EventType:     enums.OutboxEventPurchaseCompleted,
		AggregateType: enums.OutboxAggregatePurchase,
		AggregateID:   purchaseID,
		Payload: encodeEnvelope(t, payloads.PurchaseCompletedEvent{
			CustomerID:    customerID,
			PurchaseID:    purchaseID,
			CreditsAmount: 250,
		}),
	}

	resolved, err := reg.Resolve(event)
	require.NoError(t, err)
	assert.Equal(t, "billing-alerts", resolved.Descriptor.Topic)

	payload, ok := resolved.Payload.(*payloads.PurchaseCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, 250, payload.CreditsAmount)
	assert.Equal(t, customerID, payload.CustomerID)
}

func TestResolveRejectsUnknownEventType(t *testing.T) {
	reg := testRegistry(t)

	_, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.OutboxEventType("billing.unknown"),
		AggregateType: enums.OutboxAggregateCustomer,
		AggregateID:   uuid.New(),
	})
	require.Error(t, err)

	var nonRetryable NonRetryableError
	require.True(t, errors.As(err, &nonRetryable))
}

func TestResolveRejectsAggregateMismatch(t *testing.T) {
	reg := testRegistry(t)

	_, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.OutboxEventPurchaseCompleted,
		AggregateType: enums.OutboxAggregateCustomer,
		AggregateID:   uuid.New(),
		Payload:       encodeEnvelope(t, payloads.PurchaseCompletedEvent{}),
	})
	require.Error(t, err)

	var nonRetryable NonRetryableError
	require.True(t, errors.As(err, &nonRetryable))
}

func TestResolveRejectsEmptyPayload(t *testing.T) {
	reg := testRegistry(t)

	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage("null"),
	})
	require.NoError(t, err)

	_, err = reg.Resolve(models.OutboxEvent{
		EventType:     enums.OutboxEventAutoRechargeFailed,
		AggregateType: enums.OutboxAggregateCustomer,
		AggregateID:   uuid.New(),
		Payload:       envelope,
	})
	require.Error(t, err)
}
