// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// Keypair holds an age x25519 keypair.
type Keypair struct {
	// PrivateKey is the secret key in AGE-SECRET-KEY-1... format. Must
	// never be logged or passed on a command line.
	PrivateKey string

	// PublicKey is the corresponding public key in age1... format.
	PublicKey string
}

// GenerateKeypair generates a new age x25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}
	return &Keypair{
		PrivateKey: identity.String(),
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Identity is a set of age identities able to decrypt, plus the
// recipients matching them for sealing.
type Identity struct {
	identities []age.Identity
	recipients []age.Recipient
	publicKeys []string
}

// LoadIdentity reads an age identity file: one AGE-SECRET-KEY-1 line
// per key, with # comments allowed, as written by age-keygen.
func LoadIdentity(path string) (*Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening identity file: %w", err)
	}
	defer file.Close()
	identity, err := parseIdentities(file)
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
	}
	return identity, nil
}

// ParseIdentity parses a single AGE-SECRET-KEY-1 private key.
func ParseIdentity(privateKey string) (*Identity, error) {
	identity, err := parseIdentities(strings.NewReader(privateKey))
	if err != nil {
		return nil, fmt.Errorf("invalid age private key: %w", err)
	}
	return identity, nil
}

func parseIdentities(r io.Reader) (*Identity, error) {
	identities, err := age.ParseIdentities(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	result := &Identity{identities: identities}
	for _, identity := range identities {
		x25519, ok := identity.(*age.X25519Identity)
		if !ok {
			continue
		}
		recipient := x25519.Recipient()
		result.recipients = append(result.recipients, recipient)
		result.publicKeys = append(result.publicKeys, recipient.String())
	}
	if len(result.recipients) == 0 {
		return nil, fmt.Errorf("no x25519 identity found")
	}
	return result, nil
}

// PublicKeys returns the age1... public keys of the identity.
func (i *Identity) PublicKeys() []string {
	return append([]string(nil), i.publicKeys...)
}

// Encrypt encrypts plaintext to one or more recipients given as age
// public key strings (age1... format) and returns armored ciphertext.
func Encrypt(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	return encrypt(plaintext, recipients)
}

func encrypt(plaintext []byte, recipients []age.Recipient) ([]byte, error) {
	var ciphertext bytes.Buffer
	armored := armor.NewWriter(&ciphertext)
	writer, err := age.Encrypt(armored, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Seal encrypts plaintext to the identity's own recipients.
func (i *Identity) Seal(plaintext []byte) ([]byte, error) {
	return encrypt(plaintext, i.recipients)
}

// Open decrypts armored or binary age ciphertext.
func (i *Identity) Open(ciphertext []byte) ([]byte, error) {
	var source io.Reader = bytes.NewReader(ciphertext)
	if bytes.HasPrefix(bytes.TrimSpace(ciphertext), []byte(armor.Header)) {
		source = armor.NewReader(bytes.NewReader(bytes.TrimSpace(ciphertext)))
	}
	reader, err := age.Decrypt(source, i.identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}

// WriteFile seals plaintext and writes it to path with mode 0600. The
// file is replaced atomically, so a crash never leaves a truncated
// credential behind.
func (i *Identity) WriteFile(path string, plaintext []byte) error {
	ciphertext, err := i.Seal(plaintext)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, ciphertext)
}

// ReadFile reads and decrypts a sealed file.
func (i *Identity) ReadFile(path string) ([]byte, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	plaintext, err := i.Open(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plaintext, nil
}

// WriteFileAtomic writes data to path with mode 0600 via a temporary
// file in the same directory and a rename.
func WriteFileAtomic(path string, data []byte) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	defer os.Remove(temporary.Name())

	if err := temporary.Chmod(0600); err != nil {
		temporary.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// ParsePublicKey validates an age public key string.
func ParsePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}
