// Package secret implements the envelope encryption scheme user secrets
// (env vars, API keys handed to a sandbox) are stored under (C17).
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/forgeplatform/forge/pkg/apierr"
	"github.com/forgeplatform/forge/pkg/config"
)

const (
	envelopePrefix = "enc:v1:"
	ivSize         = 12
	keySizeBytes   = 32
)

// Envelope encrypts/decrypts secret values for at-rest storage, reading
// its key material from the environment variable config.SecretConfig
// names (no AES SDK appears anywhere in the retrieval pack, so this
// uses crypto/aes + crypto/cipher directly — the same standard-library
// AES-GCM idiom the pack's own vanducng-goclaw protocol package reaches
// for, adapted from a fixed nonce size to a random 12-byte IV per call).
type Envelope struct {
	key []byte
}

// New resolves the encryption key from cfg.EncryptionKeyEnv.
func New(cfg config.SecretConfig) (*Envelope, error) {
	hexKey := os.Getenv(cfg.EncryptionKeyEnv)
	if hexKey == "" {
		return nil, apierr.New(apierr.KindInternal, fmt.Sprintf("environment variable %s is not set", cfg.EncryptionKeyEnv))
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "encryption key is not valid hex", err)
	}
	if len(key) != keySizeBytes {
		return nil, apierr.New(apierr.KindInternal, fmt.Sprintf("encryption key must decode to %d bytes, got %d", keySizeBytes, len(key)))
	}
	return &Envelope{key: key}, nil
}

// IsSecretEnvelope reports whether v is already in "enc:v1:..." form.
func IsSecretEnvelope(v string) bool {
	return strings.HasPrefix(v, envelopePrefix)
}

// Encrypt produces "enc:v1:" + base64(iv || ciphertext || authTag) for
// plaintext v. AES-GCM's Seal appends the auth tag to the ciphertext and
// the body keeps that order, so the tag follows the ciphertext; it does not
// sit between the iv and the ciphertext.
func (e *Envelope) Encrypt(v string) (string, error) {
	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(v), nil)
	body := append(iv, sealed...)
	return envelopePrefix + base64.StdEncoding.EncodeToString(body), nil
}

// Decrypt reverses Encrypt. Per spec §4.17, a value that is not already
// enveloped is returned unchanged — a migration path for secrets
// written before this scheme existed.
func (e *Envelope) Decrypt(v string) (string, error) {
	if !IsSecretEnvelope(v) {
		return v, nil
	}

	encoded := strings.TrimPrefix(v, envelopePrefix)
	body, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInvalidArgument, "malformed secret envelope", err)
	}
	if len(body) < ivSize {
		return "", apierr.New(apierr.KindInvalidArgument, "secret envelope too short")
	}

	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}

	iv, ciphertext := body[:ivSize], body[ivSize:]
	plain, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInvalidArgument, "secret envelope authentication failed", err)
	}
	return string(plain), nil
}

func (e *Envelope) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}
