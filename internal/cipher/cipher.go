// Package cipher provides the authenticated symmetric encryption used for
// message payloads at rest.
//
// Ciphertext layout: version byte, key id byte, 24 byte XChaCha20 nonce,
// sealed payload. The key id lets rows written under a retired key stay
// readable after rotation.
package cipher

import (
	stdcipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	formatVersion = 1
	headerSize    = 2
)

var (
	ErrMalformed  = errors.New("malformed ciphertext")
	ErrUnknownKey = errors.New("unknown key id")
	ErrAuthFailed = errors.New("message authentication failed")
)

// DecodeError reports a payload that could not be decrypted. It is local to
// one row: readers substitute a placeholder and continue.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Cipher encrypts and decrypts message payloads
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Keyring is a Cipher with one primary key used for encryption and any number
// of retired keys accepted for decryption.
type Keyring struct {
	primary uint8
	aeads   map[uint8]stdcipher.AEAD
}

// NewKeyring builds a keyring from raw 32 byte keys
func NewKeyring(primaryID uint8, primary []byte, retired map[uint8][]byte) (*Keyring, error) {
	k := &Keyring{
		primary: primaryID,
		aeads:   make(map[uint8]stdcipher.AEAD, len(retired)+1),
	}

	if err := k.add(primaryID, primary); err != nil {
		return nil, err
	}
	for id, key := range retired {
		if id == primaryID {
			return nil, fmt.Errorf("key id %d used for both primary and retired key", id)
		}
		if err := k.add(id, key); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// NewKeyringFromBase64 builds a keyring from base64 encoded keys as they
// appear in the configuration file
func NewKeyringFromBase64(primaryID uint8, primary string, retired map[uint8]string) (*Keyring, error) {
	raw, err := base64.StdEncoding.DecodeString(primary)
	if err != nil {
		return nil, fmt.Errorf("failed to decode primary key: %w", err)
	}

	rawRetired := make(map[uint8][]byte, len(retired))
	for id, s := range retired {
		key, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("failed to decode retired key %d: %w", id, err)
		}
		rawRetired[id] = key
	}

	return NewKeyring(primaryID, raw, rawRetired)
}

func (k *Keyring) add(id uint8, key []byte) error {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("invalid key %d: %w", id, err)
	}
	k.aeads[id] = aead
	return nil
}

// Encrypt seals plaintext under the primary key with a fresh random nonce
func (k *Keyring) Encrypt(plaintext []byte) ([]byte, error) {
	aead := k.aeads[k.primary]

	out := make([]byte, headerSize+aead.NonceSize(), headerSize+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = formatVersion
	out[1] = k.primary

	nonce := out[headerSize:]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(out, nonce, plaintext, out[:headerSize]), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Every failure is returned
// as a *DecodeError.
func (k *Keyring) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < headerSize+chacha20poly1305.NonceSizeX || ciphertext[0] != formatVersion {
		return nil, &DecodeError{Err: ErrMalformed}
	}

	aead, ok := k.aeads[ciphertext[1]]
	if !ok {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %d", ErrUnknownKey, ciphertext[1])}
	}

	nonceEnd := headerSize + aead.NonceSize()
	plaintext, err := aead.Open(nil, ciphertext[headerSize:nonceEnd], ciphertext[nonceEnd:], ciphertext[:headerSize])
	if err != nil {
		return nil, &DecodeError{Err: ErrAuthFailed}
	}
	return plaintext, nil
}

// GenerateKey returns a random key suitable for NewKeyring
func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
