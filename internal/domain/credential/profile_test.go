package credential

import (
	"bytes"
	"testing"
)

func TestQuotaRemaining(t *testing.T) {
	cases := []struct {
		name string
		q    Quota
		want int64
	}{
		{"normal", Quota{Used: 30, Limit: 100}, 70},
		{"exhausted", Quota{Used: 120, Limit: 100}, 0},
		{"unknown limit", Quota{Used: 50}, 1<<62 - 1},
	}
	for _, tc := range cases {
		if got := tc.q.Remaining(); got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestSelectAlternateMostRemainingQuota(t *testing.T) {
	profiles := []Profile{
		{ID: "active", IsAuthenticated: true, Quota: Quota{Used: 0, Limit: 100}},
		{ID: "low", IsAuthenticated: true, Quota: Quota{Used: 90, Limit: 100}},
		{ID: "high", IsAuthenticated: true, Quota: Quota{Used: 10, Limit: 100}},
	}
	got := SelectAlternate(profiles, "active", "")
	if got == nil || got.ID != "high" {
		t.Fatalf("expected high, got %+v", got)
	}
}

func TestSelectAlternatePreferred(t *testing.T) {
	profiles := []Profile{
		{ID: "active", IsAuthenticated: true},
		{ID: "low", IsAuthenticated: true, Quota: Quota{Used: 90, Limit: 100}},
		{ID: "high", IsAuthenticated: true, Quota: Quota{Used: 10, Limit: 100}},
	}
	got := SelectAlternate(profiles, "active", "low")
	if got == nil || got.ID != "low" {
		t.Fatalf("expected preferred low, got %+v", got)
	}
}

func TestSelectAlternateSkipsUnauthenticated(t *testing.T) {
	profiles := []Profile{
		{ID: "active", IsAuthenticated: true},
		{ID: "stale", IsAuthenticated: false, Quota: Quota{Used: 0, Limit: 100}},
	}
	if got := SelectAlternate(profiles, "active", ""); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestSelectAlternateNone(t *testing.T) {
	profiles := []Profile{{ID: "only", IsAuthenticated: true}}
	if got := SelectAlternate(profiles, "only", ""); got != nil {
		t.Fatalf("expected nil when no alternates, got %+v", got)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	key := DeriveKey("test-secret")
	plaintext := []byte("sk-test-token-12345")

	ct, err := EncryptToken(plaintext, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(ct, plaintext) {
		t.Fatal("ciphertext contains plaintext")
	}

	got, err := DecryptToken(ct, key)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestDecryptTokenWrongKey(t *testing.T) {
	ct, err := EncryptToken([]byte("secret"), DeriveKey("key-a"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptToken(ct, DeriveKey("key-b")); err == nil {
		t.Fatal("expected error with wrong key")
	}
}

func TestDecryptTokenTooShort(t *testing.T) {
	if _, err := DecryptToken([]byte("short"), DeriveKey("k")); err == nil {
		t.Fatal("expected error for short ciphertext")
	}
}
