package entity

import "testing"

func TestSecretBoxRoundTrips(t *testing.T) {
	box, err := NewSecretBox([]byte("01234567890123456789012345678901"))
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}
	sealed, err := box.Seal([]byte("api-key-value"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(opened) != "api-key-value" {
		t.Fatalf("got %q, want api-key-value", opened)
	}
}

func TestSecretBoxRejectsShortKey(t *testing.T) {
	if _, err := NewSecretBox([]byte("too-short")); err == nil {
		t.Fatal("expected error for short key")
	}
}
