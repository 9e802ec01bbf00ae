// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package vault provides encrypted at-rest storage for provider credentials.

The vault is a single file holding a JSON map of secret names to values,
encrypted with AES-256-GCM under a key derived from a user passphrase via
PBKDF2-HMAC-SHA256 (600,000 iterations, 32-byte salt). The file layout is:

	{
	  "version": 1,
	  "salt": "<base64>",
	  "nonce": "<base64>",
	  "ciphertext": "<base64>"
	}

# Security Context

This is a CRITICAL-RISK component: it holds the API keys and bot tokens for
every channel and model provider the gateway talks to. Improper handling
leads directly to credential exposure.

# Security Features

  - Zero Value Logging: secret values are never logged, even at debug level
  - Single Failure Message: a wrong passphrase and a corrupted file produce
    the same error, so an attacker cannot distinguish the two
  - Fresh Nonce Per Write: every mutation rewrites the whole file with a
    newly drawn random nonce; nonces are never reused under the same key
  - Guarded Key Memory: the derived key lives in a memguard.LockedBuffer
    (mlocked, canary-protected) rather than a garbage-collected byte slice
  - Restrictive Permissions: the vault file and its directory are created
    0600/0700

# Thread Safety

Vault is safe for concurrent use. A single mutex serializes mutations;
reads of the decrypted map take the same lock because mutations replace
the map wholesale.
*/
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/pbkdf2"
)

// -----------------------------------------------------------------------------
// Error Sentinel Values
// -----------------------------------------------------------------------------

// ErrVaultExists is returned by Create when a vault file is already present.
var ErrVaultExists = errors.New("vault already exists")

// ErrVaultNotFound is returned by Open when no vault file is present.
var ErrVaultNotFound = errors.New("vault not found")

// ErrWrongPassphrase is returned when decryption fails. GCM authentication
// cannot distinguish a wrong passphrase from a tampered or corrupted file,
// and the message deliberately does not try to.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted vault")

// ErrSecretNotFound is returned when a requested secret name has no entry.
var ErrSecretNotFound = errors.New("secret not found")

// ErrInvalidName is returned for empty or malformed secret names.
var ErrInvalidName = errors.New("invalid secret name")

// ErrUnsupportedVersion is returned when the vault file declares a format
// version this build does not understand.
var ErrUnsupportedVersion = errors.New("unsupported vault version")

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	// fileVersion is the on-disk format version written by this build.
	fileVersion = 1

	// pbkdf2Iterations follows the 2023 OWASP recommendation for
	// PBKDF2-HMAC-SHA256.
	pbkdf2Iterations = 600_000

	// saltSize is the random salt length in bytes.
	saltSize = 32

	// keySize selects AES-256.
	keySize = 32

	// nonceSize is the standard GCM nonce length in bytes.
	nonceSize = 12

	// maxNameLength bounds secret names; names are map keys and appear in
	// logs and CLI output, so they stay short and printable.
	maxNameLength = 256
)

// DefaultPath returns the standard vault location,
// ~/.opencrust/credentials/vault.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".opencrust", "credentials", "vault.json"), nil
}

// -----------------------------------------------------------------------------
// File Format
// -----------------------------------------------------------------------------

// vaultFile is the on-disk representation. All binary fields are base64.
type vaultFile struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// -----------------------------------------------------------------------------
// Vault
// -----------------------------------------------------------------------------

// Vault is an open, decrypted credential store backed by an encrypted file.
//
// Obtain one via Create or Open. Call Destroy when finished to wipe the
// derived key from memory.
type Vault struct {
	path string

	mu      sync.Mutex
	key     *memguard.LockedBuffer
	salt    []byte
	secrets map[string]string
}

// Exists reports whether a vault file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Create initializes a new empty vault at path, encrypted under passphrase.
//
// # Inputs
//
//   - path: vault file location; parent directories are created 0700
//   - passphrase: user passphrase; never stored, only fed to the KDF
//
// # Outputs
//
//   - *Vault: an open vault ready for Set/Get
//   - error: ErrVaultExists if a file is already present, or I/O errors
//
// # Limitations
//
//   - Does not enforce passphrase strength; that is the CLI's concern
func Create(path, passphrase string) (*Vault, error) {
	if Exists(path) {
		return nil, ErrVaultExists
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	v := &Vault{
		path:    path,
		key:     deriveKey(passphrase, salt),
		salt:    salt,
		secrets: make(map[string]string),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		v.Destroy()
		return nil, fmt.Errorf("create vault directory: %w", err)
	}
	if err := v.persistLocked(); err != nil {
		v.Destroy()
		return nil, err
	}
	return v, nil
}

// Open loads and decrypts an existing vault.
//
// # Outputs
//
//   - *Vault: the decrypted store
//   - error: ErrVaultNotFound, ErrWrongPassphrase, ErrUnsupportedVersion,
//     or I/O errors
func Open(path, passphrase string) (*Vault, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrVaultNotFound
		}
		return nil, fmt.Errorf("read vault file: %w", err)
	}

	var file vaultFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, ErrWrongPassphrase
	}
	if file.Version != fileVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, file.Version)
	}
	if len(file.Salt) != saltSize || len(file.Nonce) != nonceSize {
		return nil, ErrWrongPassphrase
	}

	key := deriveKey(passphrase, file.Salt)

	plaintext, err := decrypt(key, file.Nonce, file.Ciphertext)
	if err != nil {
		key.Destroy()
		return nil, ErrWrongPassphrase
	}
	defer wipe(plaintext)

	secrets := make(map[string]string)
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		key.Destroy()
		return nil, ErrWrongPassphrase
	}

	return &Vault{
		path:    path,
		key:     key,
		salt:    file.Salt,
		secrets: secrets,
	}, nil
}

// Get returns the value stored under name.
func (v *Vault) Get(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	value, ok := v.secrets[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

// Has reports whether name has an entry, without returning the value.
func (v *Vault) Has(name string) bool {
	if validateName(name) != nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.secrets[name]
	return ok
}

// Set stores value under name and rewrites the vault file. The rewrite uses
// a fresh random nonce; on write failure the in-memory map is rolled back
// so memory and disk stay consistent.
func (v *Vault) Set(name, value string) error {
	if err := validateName(name); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	previous, existed := v.secrets[name]
	v.secrets[name] = value
	if err := v.persistLocked(); err != nil {
		if existed {
			v.secrets[name] = previous
		} else {
			delete(v.secrets, name)
		}
		return err
	}
	return nil
}

// Remove deletes the entry for name and rewrites the vault file.
func (v *Vault) Remove(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	previous, ok := v.secrets[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	delete(v.secrets, name)
	if err := v.persistLocked(); err != nil {
		v.secrets[name] = previous
		return err
	}
	return nil
}

// Keys returns the sorted secret names. Values are never included.
func (v *Vault) Keys() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	names := make([]string, 0, len(v.secrets))
	for name := range v.secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path returns the vault file location.
func (v *Vault) Path() string {
	return v.path
}

// Destroy wipes the derived key and clears the decrypted map. The vault is
// unusable afterwards; the file on disk is untouched. Safe to call twice.
func (v *Vault) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key != nil {
		v.key.Destroy()
		v.key = nil
	}
	for name := range v.secrets {
		delete(v.secrets, name)
	}
}

// persistLocked encrypts the current map and atomically replaces the vault
// file. Caller must hold v.mu.
func (v *Vault) persistLocked() error {
	if v.key == nil {
		return errors.New("vault is destroyed")
	}

	plaintext, err := json.Marshal(v.secrets)
	if err != nil {
		return fmt.Errorf("encode secrets: %w", err)
	}
	defer wipe(plaintext)

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext, err := encrypt(v.key, nonce, plaintext)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(vaultFile{
		Version:    fileVersion,
		Salt:       v.salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	})
	if err != nil {
		return fmt.Errorf("encode vault file: %w", err)
	}

	// Write-then-rename so a crash mid-write never leaves a truncated
	// vault behind.
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("write vault file: %w", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace vault file: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Crypto Primitives
// -----------------------------------------------------------------------------

// deriveKey runs the PBKDF2 KDF and moves the result straight into guarded
// memory.
func deriveKey(passphrase string, salt []byte) *memguard.LockedBuffer {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
	// NewBufferFromBytes wipes the source slice.
	return memguard.NewBufferFromBytes(key)
}

func encrypt(key *memguard.LockedBuffer, nonce, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func decrypt(key *memguard.LockedBuffer, nonce, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key *memguard.LockedBuffer) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init GCM: %w", err)
	}
	return gcm, nil
}

// wipe zeroes a byte slice holding plaintext secret material.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// validateName accepts non-empty printable names up to maxNameLength with
// no control characters or path separators.
func validateName(name string) error {
	if name == "" || len(name) > maxNameLength {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\\x00\n\r\t") {
		return ErrInvalidName
	}
	return nil
}
