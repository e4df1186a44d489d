// Package credential resolves secrets that are left out of the config file.
package credential

import (
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

const defaultService = "pivotflow"

// Known keyring item keys.
const (
	TelegramToken = "telegram-token"
	JWTSecret     = "api-jwt-secret"
)

type Config struct {
	Service string
	// FileDir holds the encrypted file backend used when no OS keyring exists.
	FileDir string
}

// Resolver looks up secrets in the environment first, then the keyring.
type Resolver struct {
	ring keyring.Keyring
}

func Open(cfg Config) (*Resolver, error) {
	service := strings.TrimSpace(cfg.Service)
	if service == "" {
		service = defaultService
	}
	dir := cfg.FileDir
	if dir == "" {
		dir = "~/.config/" + service + "/credentials"
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Resolver{ring: ring}, nil
}

// NewResolver wraps an existing keyring.
func NewResolver(ring keyring.Keyring) *Resolver { return &Resolver{ring: ring} }

func (r *Resolver) Get(key string) (string, error) {
	item, err := r.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

func (r *Resolver) Set(key, value string) error {
	if err := r.ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Resolve returns current when it is non-empty. Otherwise it tries the
// environment variable PIVOTFLOW_<KEY> and then the keyring item key.
func (r *Resolver) Resolve(current, key string) (string, error) {
	if strings.TrimSpace(current) != "" {
		return current, nil
	}
	if v := os.Getenv(envName(key)); v != "" {
		return v, nil
	}
	if r == nil || r.ring == nil {
		return "", nil
	}
	return r.Get(key)
}

func envName(key string) string {
	return "PIVOTFLOW_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}
