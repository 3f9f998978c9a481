package stripe

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v84"
	"github.com/stretchr/testify/require"

	"github.com/parcelhq/trackwise-backend/pkg/config"
)

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     config.StripeConfig
		wantErr string
	}{
		{
			name:    "missing api key",
			cfg:     config.StripeConfig{Secret: "whsec_123", Env: "test"},
			wantErr: "api key is required",
		},
		{
			name:    "missing webhook secret",
			cfg:     config.StripeConfig{APIKey: "sk_test_abc", Env: "test"},
			wantErr: "webhook secret is required",
		},
		{
			name:    "unknown environment",
			cfg:     config.StripeConfig{APIKey: "sk_test_abc", Secret: "whsec_123", Env: "staging"},
			wantErr: "stripe environment",
		},
		{
			name:    "live env rejects test key",
			cfg:     config.StripeConfig{APIKey: "sk_test_abc", Secret: "whsec_123", Env: "live"},
			wantErr: "live secret key",
		},
		{
			name:    "test env rejects live key",
			cfg:     config.StripeConfig{APIKey: "sk_live_abc", Secret: "whsec_123", Env: "test"},
			wantErr: "test secret key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(ctx, tt.cfg, nil)
			require.Error(t, err)
			require.Nil(t, client)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewClientAcceptsMatchingKeys(t *testing.T) {
	ctx := context.Background()

	client, err := NewClient(ctx, config.StripeConfig{
		APIKey: "sk_test_abc",
		Secret: "whsec_123",
		Env:    "TEST",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "test", client.Environment())
	require.Equal(t, "whsec_123", client.SigningSecret())
	require.NotNil(t, client.API())

	client, err = NewClient(ctx, config.StripeConfig{
		APIKey: "rk_live_abc",
		Secret: "whsec_456",
		Env:    "live",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "live", client.Environment())
}

func TestNewClientDefaultsToTestEnv(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{
		APIKey: "sk_test_abc",
		Secret: "whsec_123",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "test", client.Environment())
}

func TestDoRetriesNetworkErrorsOnce(t *testing.T) {
	ctx := context.Background()
	networkErr := &stripe.Error{Type: stripe.ErrorType("api_connection_error")}

	calls := 0
	err := Do(ctx, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return networkErr
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	calls = 0
	err = Do(ctx, func(ctx context.Context) error {
		calls++
		return networkErr
	})
	require.Error(t, err)
	require.Equal(t, 2, calls)
}

func TestDoDoesNotRetryCardDeclines(t *testing.T) {
	declined := &stripe.Error{Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeCardDeclined}

	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return declined
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.True(t, IsCardDeclined(err))
	require.False(t, IsNetworkError(err))
}

func TestErrorClassifiers(t *testing.T) {
	require.False(t, IsNetworkError(nil))
	require.False(t, IsNetworkError(errors.New("plain")))
	require.False(t, IsCardDeclined(errors.New("plain")))
	require.True(t, IsNetworkError(&stripe.Error{Type: stripe.ErrorType("api_connection_error")}))
}
