//go:build integration

package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/ports"
	"github.com/seu-repo/voice-gateway/internal/testutil"
)

func TestRedisCache_Operations(t *testing.T) {
	client := testutil.Redis(t)
	ctx := context.Background()
	client.FlushDB(ctx)

	c := NewRedisCacheFromClient(client, zap.NewNop())

	t.Run("Miss", func(t *testing.T) {
		if _, err := c.Get(ctx, "nope"); !errors.Is(err, ports.ErrCacheMiss) {
			t.Fatalf("expected ErrCacheMiss, got %v", err)
		}
	})

	t.Run("BinaryRoundTrip", func(t *testing.T) {
		audio := []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0xff}
		if err := c.Set(ctx, "tts:x", audio, time.Minute); err != nil {
			t.Fatal(err)
		}
		v, err := c.Get(ctx, "tts:x")
		if err != nil {
			t.Fatal(err)
		}
		if v != string(audio) {
			t.Errorf("audio bytes changed")
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		c.Set(ctx, "short", "v", 100*time.Millisecond)
		time.Sleep(150 * time.Millisecond)
		if _, err := c.Get(ctx, "short"); !errors.Is(err, ports.ErrCacheMiss) {
			t.Errorf("key should have expired")
		}
	})

	t.Run("DeletePrefix", func(t *testing.T) {
		for i := 0; i < 1200; i++ {
			c.Set(ctx, fmt.Sprintf("intent:%04d", i), "x", time.Minute)
		}
		c.Set(ctx, "tts:keep", "x", time.Minute)

		n, err := c.DeletePrefix(ctx, "intent:")
		if err != nil {
			t.Fatal(err)
		}
		if n != 1200 {
			t.Errorf("expected 1200 removed, got %d", n)
		}
		if _, err := c.Get(ctx, "tts:keep"); err != nil {
			t.Errorf("unrelated key removed: %v", err)
		}
	})
}
