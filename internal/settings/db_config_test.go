package settings

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIntParsesSupportedShapes(t *testing.T) {
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })
	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		"number":  json.RawMessage(`42`),
		"float":   json.RawMessage(`7.0`),
		"string":  json.RawMessage(`" 15 "`),
		"wrapped": json.RawMessage(`{"value": 9}`),
		"bad":     json.RawMessage(`"abc"`),
		"frac":    json.RawMessage(`1.5`),
	})

	cases := []struct {
		key  string
		want int
	}{
		{"number", 42},
		{"float", 7},
		{"string", 15},
		{"wrapped", 9},
		{"bad", -1},
		{"frac", -1},
		{"missing", -1},
	}
	for _, tc := range cases {
		if got := Int(tc.key, -1); got != tc.want {
			t.Fatalf("Int(%q) = %d, want %d", tc.key, got, tc.want)
		}
	}
}

func TestSecondsRejectsNonPositive(t *testing.T) {
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })
	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		PolicyLockTTLSecondsKey:        json.RawMessage(`0`),
		AdminContactCacheTTLSecondsKey: json.RawMessage(`120`),
	})

	if got := Seconds(PolicyLockTTLSecondsKey, DefaultPolicyLockTTLSeconds); got != 300*time.Second {
		t.Fatalf("expected fallback ttl, got %s", got)
	}
	if got := Seconds(AdminContactCacheTTLSecondsKey, DefaultAdminContactCacheTTLSeconds); got != 2*time.Minute {
		t.Fatalf("expected 2m, got %s", got)
	}
}

func TestDBConfigValueReturnsCopy(t *testing.T) {
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })
	StoreDBConfig(time.Now(), map[string]json.RawMessage{"k": json.RawMessage(`1`)})

	raw, ok := DBConfigValue("k")
	if !ok {
		t.Fatalf("expected key present")
	}
	raw[0] = '9'
	if again, _ := DBConfigValue("k"); string(again) != "1" {
		t.Fatalf("snapshot mutated through returned slice: %s", again)
	}
}
