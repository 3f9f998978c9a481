package redis

import (
	"testing"

	"github.com/parcelhq/trackwise-backend/pkg/config"
)

func TestBuildKeySkipsEmptyParts(t *testing.T) {
	c := &Client{}
	if got := c.IdempotencyKey("stripe", "evt_123"); got != "tw:idempotency:stripe:evt_123" {
		t.Fatalf("unexpected idempotency key %q", got)
	}
	if got := c.LockKey("auto-recharge", ""); got != "tw:lock:auto-recharge" {
		t.Fatalf("unexpected lock key %q", got)
	}
	if got := c.CounterKey("  consume  "); got != "tw:counter:consume" {
		t.Fatalf("unexpected counter key %q", got)
	}
}

func TestOptionsFromConfigRequiresTarget(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error when neither url nor address is set")
	}
}

func TestOptionsFromConfigParsesURL(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://:pw@localhost:6380/2", PoolSize: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "localhost:6380" {
		t.Fatalf("unexpected addr %q", opts.Addr)
	}
	if opts.DB != 2 {
		t.Fatalf("unexpected db %d", opts.DB)
	}
	if opts.PoolSize != 7 {
		t.Fatalf("expected pool size fallback, got %d", opts.PoolSize)
	}
}
