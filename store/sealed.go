package store

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"filippo.io/age"
)

// SealedPrefix marks a password field that holds age ciphertext.
const SealedPrefix = "age:"

// IdentityFileName is the default age identity file inside AppDir.
const IdentityFileName = "identity.txt"

// ErrSealed indicates a sealed password could not be opened.
var ErrSealed = errors.New("store: sealed password")

// Sealer encrypts passwords before they are written and decrypts them on
// load.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// IsSealed reports whether a persisted password is sealed.
func IsSealed(password string) bool {
	return strings.HasPrefix(password, SealedPrefix)
}

// AgeSealer seals passwords to a single age X25519 identity.
type AgeSealer struct {
	identity *age.X25519Identity
}

// NewAgeSealer returns a Sealer for identity.
func NewAgeSealer(identity *age.X25519Identity) *AgeSealer {
	return &AgeSealer{identity: identity}
}

// Recipient returns the public key passwords are sealed to.
func (a *AgeSealer) Recipient() string {
	return a.identity.Recipient().String()
}

// Seal encrypts plaintext and returns SealedPrefix followed by base64
// ciphertext.
func (a *AgeSealer) Seal(plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, a.identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("%w: encrypt: %w", ErrSealed, err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("%w: encrypt: %w", ErrSealed, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: finalize: %w", ErrSealed, err)
	}
	return SealedPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Open reverses Seal.
func (a *AgeSealer) Open(sealed string) (string, error) {
	if !IsSealed(sealed) {
		return "", fmt.Errorf("%w: missing %q prefix", ErrSealed, SealedPrefix)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: decode: %w", ErrSealed, err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), a.identity)
	if err != nil {
		return "", fmt.Errorf("%w: decrypt: %w", ErrSealed, err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: read: %w", ErrSealed, err)
	}
	return string(plain), nil
}

// LoadOrCreateIdentity reads the age identity at path, generating and
// writing a new one with mode 0600 if the file does not exist.
func LoadOrCreateIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return parseIdentity(path, data)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: read identity: %w", ErrStore, err)
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("%w: generate identity: %w", ErrStore, err)
	}
	body := fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
		time.Now().UTC().Format(time.RFC3339), id.Recipient(), id)
	if err := writeAtomic(path, []byte(body)); err != nil {
		return nil, fmt.Errorf("%w: write identity: %w", ErrStore, err)
	}
	return id, nil
}

func parseIdentity(path string, data []byte) (*age.X25519Identity, error) {
	ids, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: parse identity %s: %w", ErrStore, path, err)
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("%w: %s holds no X25519 identity", ErrStore, path)
}
