package kv

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
)

type record struct {
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
}

func TestMemoryStoreJSON(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var got record
	found, err := GetJSON(ctx, s, "wallet", &got)
	if err != nil || found {
		t.Fatalf("absent key: found=%v err=%v", found, err)
	}

	if err := SetJSON(ctx, s, "wallet", record{Address: "0xabc", Connected: true}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	found, err = GetJSON(ctx, s, "wallet", &got)
	if err != nil || !found {
		t.Fatalf("present key: found=%v err=%v", found, err)
	}
	if got.Address != "0xabc" || !got.Connected {
		t.Errorf("got %+v", got)
	}

	if err := s.Delete(ctx, "wallet"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Has("wallet") {
		t.Error("key should be gone")
	}
	if err := s.Delete(ctx, "wallet"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestGetJSONCorrupt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "session", []byte("{not json"))

	var got record
	found, err := GetJSON(ctx, s, "session", &got)
	if found {
		t.Error("corrupt value must not be reported as found")
	}
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	buf := []byte("abc")
	_ = s.Set(ctx, "k", buf)
	buf[0] = 'x'

	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value changed through caller slice: %q", got)
	}
}

func TestNamespace(t *testing.T) {
	if got := Namespace("tab-1"); got != "healthdash:tab-1:" {
		t.Errorf("Namespace = %q", got)
	}
	if got := Namespace(""); got != "healthdash:default:" {
		t.Errorf("Namespace(empty) = %q", got)
	}
}

// Runs only when KV_TEST_REDIS_URL points at a disposable redis.
func TestRedisStore(t *testing.T) {
	url := os.Getenv("KV_TEST_REDIS_URL")
	if url == "" {
		t.Skip("KV_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	s := NewRedisStore(client, "kv-test")
	defer s.Delete(ctx, "wallet")

	if _, err := s.Get(ctx, "wallet"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get absent: %v", err)
	}
	if err := SetJSON(ctx, s, "wallet", record{Address: "0xdef", Connected: true}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	raw, err := client.Get(ctx, "healthdash:kv-test:wallet").Result()
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if raw == "" {
		t.Error("value not stored under namespaced key")
	}
}
