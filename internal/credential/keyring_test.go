package credential

import (
	"testing"

	"github.com/99designs/keyring"
)

func TestResolvePrefersConfiguredValue(t *testing.T) {
	r := NewResolver(keyring.NewArrayKeyring([]keyring.Item{{Key: TelegramToken, Data: []byte("from-ring")}}))
	got, err := r.Resolve("from-config", TelegramToken)
	if err != nil || got != "from-config" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
}

func TestResolveFallsBackToEnvThenKeyring(t *testing.T) {
	r := NewResolver(keyring.NewArrayKeyring([]keyring.Item{{Key: TelegramToken, Data: []byte("from-ring")}}))

	t.Setenv("PIVOTFLOW_TELEGRAM_TOKEN", "from-env")
	if got, _ := r.Resolve("", TelegramToken); got != "from-env" {
		t.Fatalf("Resolve = %q, want from-env", got)
	}

	t.Setenv("PIVOTFLOW_TELEGRAM_TOKEN", "")
	if got, _ := r.Resolve("", TelegramToken); got != "from-ring" {
		t.Fatalf("Resolve = %q, want from-ring", got)
	}
}

func TestResolveMissingSecret(t *testing.T) {
	r := NewResolver(keyring.NewArrayKeyring(nil))
	if _, err := r.Resolve("", JWTSecret); err == nil {
		t.Fatal("expected error for missing keyring item")
	}
}

func TestSetThenGet(t *testing.T) {
	r := NewResolver(keyring.NewArrayKeyring(nil))
	if err := r.Set(JWTSecret, "s3cret"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := r.Get(JWTSecret); err != nil || got != "s3cret" {
		t.Fatalf("Get = %q, %v", got, err)
	}
}
