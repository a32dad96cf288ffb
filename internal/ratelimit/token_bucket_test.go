package ratelimit

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewRedisTokenBucketValidation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	if _, err := NewRedisTokenBucket(nil, 10, time.Minute, ""); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewRedisTokenBucket(client, 0, time.Minute, ""); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if _, err := NewRedisTokenBucket(client, 10, 0, ""); err == nil {
		t.Fatal("expected error for zero window")
	}

	limiter, err := NewRedisTokenBucket(client, 60, time.Minute, "")
	if err != nil {
		t.Fatalf("NewRedisTokenBucket returned error: %v", err)
	}
	if limiter.keyPrefix != DefaultKeyPrefix {
		t.Fatalf("unexpected default key prefix %q", limiter.keyPrefix)
	}
	if limiter.refillPerMS != 0.001 {
		t.Fatalf("expected refill 0.001 tokens/ms, got %v", limiter.refillPerMS)
	}
	if limiter.ttl != 2*time.Minute {
		t.Fatalf("expected ttl 2m, got %s", limiter.ttl)
	}
}

func TestParseDecision(t *testing.T) {
	decision, err := parseDecision([]any{int64(0), int64(3), int64(1500)})
	if err != nil {
		t.Fatalf("parseDecision returned error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected rejection")
	}
	if decision.Remaining != 3 {
		t.Fatalf("expected 3 remaining, got %d", decision.Remaining)
	}
	if decision.RetryAfter != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s retry-after, got %s", decision.RetryAfter)
	}

	decision, err = parseDecision([]any{"1", 9.0, 0})
	if err != nil {
		t.Fatalf("parseDecision returned error: %v", err)
	}
	if !decision.Allowed || decision.Remaining != 9 {
		t.Fatalf("unexpected decision %+v", decision)
	}

	if _, err := parseDecision([]any{int64(1)}); err == nil {
		t.Fatal("expected error for short response")
	}
	if _, err := parseDecision([]any{true, int64(1), int64(0)}); err == nil {
		t.Fatal("expected error for unsupported value type")
	}
}

func TestBucketKeys(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	limiter, err := NewRedisTokenBucket(client, 10, time.Minute, " tenant-a: ")
	if err != nil {
		t.Fatalf("NewRedisTokenBucket returned error: %v", err)
	}

	cases := map[string]string{
		"":                               "tenant-a:anonymous",
		"  ":                             "tenant-a:anonymous",
		"User-42:/v1/jobs":               "tenant-a:user-42:/v1/jobs",
		" Jane  Doe :/v1/images/preview": "tenant-a:jane_doe_:/v1/images/preview",
	}
	for subject, want := range cases {
		if got := limiter.key(subject); got != want {
			t.Fatalf("key(%q) = %q, want %q", subject, got, want)
		}
	}
}
