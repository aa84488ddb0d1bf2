// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age/armor"
)

func mustIdentity(t *testing.T) (*Keypair, *Identity) {
	t.Helper()
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	identity, err := ParseIdentity(keypair.PrivateKey)
	if err != nil {
		t.Fatalf("ParseIdentity() error: %v", err)
	}
	return keypair, identity
}

func TestGenerateKeypair(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	if !strings.HasPrefix(keypair.PrivateKey, "AGE-SECRET-KEY-1") {
		t.Errorf("PrivateKey has wrong prefix")
	}
	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want prefix age1", keypair.PublicKey)
	}

	other, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	if keypair.PrivateKey == other.PrivateKey {
		t.Error("two generated keypairs have identical private keys")
	}
}

func TestParseIdentityPublicKeys(t *testing.T) {
	keypair, identity := mustIdentity(t)

	keys := identity.PublicKeys()
	if len(keys) != 1 || keys[0] != keypair.PublicKey {
		t.Errorf("PublicKeys() = %v, want [%s]", keys, keypair.PublicKey)
	}
}

func TestParseIdentity_Invalid(t *testing.T) {
	if _, err := ParseIdentity("not-a-key"); err == nil {
		t.Error("expected error for invalid private key")
	}
}

func TestSealOpen(t *testing.T) {
	_, identity := mustIdentity(t)

	plaintext := []byte(`{"accountId":"a","deviceId":"d","secret":"s"}`)
	ciphertext, err := identity.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if !bytes.HasPrefix(ciphertext, []byte(armor.Header)) {
		t.Errorf("ciphertext is not armored: %q", ciphertext[:32])
	}
	if bytes.Contains(ciphertext, []byte("secret")) {
		t.Error("ciphertext contains plaintext")
	}

	decrypted, err := identity.Open(ciphertext)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Open() = %q, want %q", decrypted, plaintext)
	}
}

func TestEncrypt_MultipleRecipients(t *testing.T) {
	first, firstIdentity := mustIdentity(t)
	second, secondIdentity := mustIdentity(t)

	ciphertext, err := Encrypt([]byte("shared"), []string{first.PublicKey, second.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	for name, identity := range map[string]*Identity{"first": firstIdentity, "second": secondIdentity} {
		plaintext, err := identity.Open(ciphertext)
		if err != nil {
			t.Fatalf("%s Open() error: %v", name, err)
		}
		if string(plaintext) != "shared" {
			t.Errorf("%s Open() = %q", name, plaintext)
		}
	}
}

func TestOpen_WrongIdentity(t *testing.T) {
	_, identity := mustIdentity(t)
	_, other := mustIdentity(t)

	ciphertext, err := identity.Seal([]byte("private"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if _, err := other.Open(ciphertext); err == nil {
		t.Error("expected error decrypting with the wrong identity")
	}
}

func TestOpen_Corrupted(t *testing.T) {
	_, identity := mustIdentity(t)

	if _, err := identity.Open([]byte("garbage")); err == nil {
		t.Error("expected error for corrupted ciphertext")
	}
}

func TestEncrypt_NoRecipients(t *testing.T) {
	if _, err := Encrypt([]byte("x"), nil); err == nil {
		t.Error("expected error with no recipients")
	}
}

func TestEncrypt_InvalidRecipientKey(t *testing.T) {
	if _, err := Encrypt([]byte("x"), []string{"age1invalid"}); err == nil {
		t.Error("expected error for invalid recipient key")
	}
}

func TestLoadIdentity(t *testing.T) {
	keypair, _ := mustIdentity(t)
	path := filepath.Join(t.TempDir(), "identity.txt")
	content := "# created: 2026-03-01T12:00:00Z\n# public key: " + keypair.PublicKey + "\n" + keypair.PrivateKey + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing identity: %v", err)
	}

	identity, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity() error: %v", err)
	}
	if keys := identity.PublicKeys(); len(keys) != 1 || keys[0] != keypair.PublicKey {
		t.Errorf("PublicKeys() = %v", keys)
	}
}

func TestLoadIdentity_Missing(t *testing.T) {
	if _, err := LoadIdentity(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing identity file")
	}
}

func TestWriteFileReadFile(t *testing.T) {
	_, identity := mustIdentity(t)
	path := filepath.Join(t.TempDir(), "device_auth.age")

	if err := identity.WriteFile(path, []byte("first")); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if err := identity.WriteFile(path, []byte("second")); err != nil {
		t.Fatalf("WriteFile() replace error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %o, want 0600", info.Mode().Perm())
	}

	plaintext, err := identity.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(plaintext) != "second" {
		t.Errorf("ReadFile() = %q, want second", plaintext)
	}

	// No temporary files are left next to the target.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestParsePublicKey(t *testing.T) {
	keypair, _ := mustIdentity(t)
	if err := ParsePublicKey(keypair.PublicKey); err != nil {
		t.Errorf("ParsePublicKey(valid) error: %v", err)
	}
	if err := ParsePublicKey("age1bogus"); err == nil {
		t.Error("ParsePublicKey(invalid) returned nil")
	}
}
