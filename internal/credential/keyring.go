package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

// ErrNoCredential reports that neither the environment nor the keyring holds a token.
var ErrNoCredential = errors.New("no credential")

// Options configures the keyring backing a Resolver.
type Options struct {
	ServiceName string
	Backends    []string
	FileDir     string
}

// OpenKeyring returns a configured keyring instance.
func OpenKeyring(opts Options) (keyring.Keyring, error) {
	service := strings.TrimSpace(opts.ServiceName)
	if service == "" {
		service = "witcopier"
	}
	backends := make([]keyring.BackendType, 0, len(opts.Backends))
	for _, b := range opts.Backends {
		backends = append(backends, keyring.BackendType(strings.ToLower(strings.TrimSpace(b))))
	}
	if len(backends) == 0 {
		backends = []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		}
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              service,
		AllowedBackends:          backends,
		FileDir:                  opts.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return ring, nil
}

// Resolver finds the personal access token for a collection address.
// An environment variable wins over keyring entries; keyring entries keyed by
// address win over the default user entry.
type Resolver struct {
	ring   keyring.Keyring
	user   string
	env    string
	getenv func(string) string
}

// NewResolver constructs a resolver. ring and getenv may be nil.
func NewResolver(ring keyring.Keyring, user, envName string, getenv func(string) string) *Resolver {
	return &Resolver{
		ring:   ring,
		user:   strings.TrimSpace(user),
		env:    strings.TrimSpace(envName),
		getenv: getenv,
	}
}

// Token returns the token for address.
func (r *Resolver) Token(address string) (string, error) {
	if r.env != "" && r.getenv != nil {
		if v := strings.TrimSpace(r.getenv(r.env)); v != "" {
			return v, nil
		}
	}
	if r.ring == nil {
		return "", ErrNoCredential
	}
	for _, key := range r.keys(address) {
		item, err := r.ring.Get(key)
		if err == nil {
			return strings.TrimSpace(string(item.Data)), nil
		}
		if !errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("get credential %q: %w", key, err)
		}
	}
	return "", fmt.Errorf("%w for %q", ErrNoCredential, address)
}

// Set stores a token for address, or for the default user when address is empty.
func (r *Resolver) Set(address, token string) error {
	if r.ring == nil {
		return errors.New("keyring is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is required")
	}
	key := r.user
	if a := normalizeAddress(address); a != "" {
		key = a
	}
	if key == "" {
		return errors.New("credential key is required")
	}
	if err := r.ring.Set(keyring.Item{Key: key, Label: "witcopier " + key, Data: []byte(token)}); err != nil {
		return fmt.Errorf("set credential %q: %w", key, err)
	}
	return nil
}

// Delete removes the token stored for address.
func (r *Resolver) Delete(address string) error {
	if r.ring == nil {
		return errors.New("keyring is not configured")
	}
	key := r.user
	if a := normalizeAddress(address); a != "" {
		key = a
	}
	if err := r.ring.Remove(key); err != nil {
		return fmt.Errorf("delete credential %q: %w", key, err)
	}
	return nil
}

// keys lists lookup keys from most to least specific.
func (r *Resolver) keys(address string) []string {
	out := make([]string, 0, 2)
	if a := normalizeAddress(address); a != "" {
		out = append(out, a)
	}
	if r.user != "" {
		out = append(out, r.user)
	}
	return out
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(address), "/"))
}
