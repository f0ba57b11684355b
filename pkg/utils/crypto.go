package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	apiKeyPrefix     = "pk_"
	deviceCodePrefix = "dc_"
	secretRandBytes  = 24
	displayPrefixLen = 10
	gcmTagSize       = 16
)

// ErrDecryptionFailed indicates a malformed blob, a tampered ciphertext, or a
// changed encryption key. Callers must treat it as corrupted storage, never as
// recoverable input error.
var ErrDecryptionFailed = errors.New("decryption failed")

var encryptionKey []byte

// ConfigureTokenEncryption derives the AES-256 key used for tokens at rest.
// A 64-character hex secret is used as the raw key; anything else is hashed
// to key length. An empty secret is a startup error, not a degraded mode.
func ConfigureTokenEncryption(secret string) error {
	if secret == "" {
		return errors.New("token encryption key is not set")
	}
	if len(secret) == 64 {
		if raw, err := hex.DecodeString(secret); err == nil {
			encryptionKey = raw
			return nil
		}
	}
	sum := sha256.Sum256([]byte(secret))
	encryptionKey = sum[:]
	return nil
}

// EncryptToken seals plaintext with AES-256-GCM under a fresh random nonce.
// Output format: nonceHex:tagHex:ciphertextHex — self-describing, no state
// needed to decrypt beyond the configured key.
func EncryptToken(plaintext string) (string, error) {
	if encryptionKey == nil {
		return "", errors.New("token encryption not configured")
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	), nil
}

// DecryptToken reverses EncryptToken. It fails closed with
// ErrDecryptionFailed on any malformed blob or authentication failure.
func DecryptToken(blob string) (string, error) {
	if encryptionKey == nil {
		return "", errors.New("token encryption not configured")
	}

	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 segments, got %d", ErrDecryptionFailed, len(parts))
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: bad nonce encoding", ErrDecryptionFailed)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: bad tag encoding", ErrDecryptionFailed)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() || len(tag) != gcmTagSize {
		return "", fmt.Errorf("%w: bad segment length", ErrDecryptionFailed)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

// HashOpaqueSecret is the deterministic one-way digest shared by API keys and
// device codes: equality lookup without storing the secret.
func HashOpaqueSecret(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// GeneratedSecret carries the three faces of a freshly minted opaque secret:
// the plaintext handed to the caller exactly once, the display prefix, and
// the hash that gets persisted.
type GeneratedSecret struct {
	Plaintext string
	Prefix    string
	Hash      string
}

// GenerateAPIKey mints a pk_-tagged high-entropy API key.
func GenerateAPIKey() (GeneratedSecret, error) {
	return generateSecret(apiKeyPrefix)
}

// GenerateDeviceCode mints a dc_-tagged high-entropy device code.
func GenerateDeviceCode() (GeneratedSecret, error) {
	return generateSecret(deviceCodePrefix)
}

func generateSecret(tag string) (GeneratedSecret, error) {
	raw := make([]byte, secretRandBytes)
	if _, err := rand.Read(raw); err != nil {
		return GeneratedSecret{}, err
	}
	plaintext := tag + base64.RawURLEncoding.EncodeToString(raw)
	return GeneratedSecret{
		Plaintext: plaintext,
		Prefix:    plaintext[:displayPrefixLen],
		Hash:      HashOpaqueSecret(plaintext),
	}, nil
}
