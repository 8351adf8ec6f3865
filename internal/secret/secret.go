// Package secret seals chat payloads with a symmetric key derived from
// the room id. Both peers of a room derive the same key; nobody else,
// the relay included, ever sees one.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/dkeye/Vision/internal/domain"
)

var ErrDecrypt = errors.New("decryption failed")

func deriveKey(roomID domain.RoomID) []byte {
	sum := sha256.Sum256([]byte(roomID))
	return sum[:]
}

// Encrypt seals plaintext under the room key with AES-256-GCM and
// returns base64(nonce || ciphertext).
func Encrypt(plaintext string, roomID domain.RoomID) (string, error) {
	block, err := aes.NewCipher(deriveKey(roomID))
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a sealed payload. A bad key or corrupt payload yields
// ErrDecrypt; callers drop the message and keep the session alive.
func Decrypt(ciphertext string, roomID domain.RoomID) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	block, err := aes.NewCipher(deriveKey(roomID))
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrDecrypt
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}
