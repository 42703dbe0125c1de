package cipher_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gregbrowndev/eventsourcing/cipher"
)

func TestRoundTrip(t *testing.T) {
	key, err := cipher.NewDefaultKey()
	if err != nil {
		t.Fatal(err)
	}
	c, err := cipher.NewAESGCM(key)
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("the dinosaurs came first")
	ciphertext, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(ciphertext, []byte("dinosaurs")) {
		t.Fatal("ciphertext leaks the plaintext")
	}

	back, err := c.Decrypt(ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plaintext, back) {
		t.Fatal("round trip changed the bytes")
	}
}

func TestNoncesDiffer(t *testing.T) {
	key, _ := cipher.NewDefaultKey()
	c, _ := cipher.NewAESGCM(key)

	first, err := c.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(first, second) {
		t.Fatal("two encryptions of the same input must not produce the same ciphertext")
	}
}

func TestTamperingDetected(t *testing.T) {
	key, _ := cipher.NewDefaultKey()
	c, _ := cipher.NewAESGCM(key)

	ciphertext, err := c.Encrypt([]byte("trucks"))
	if err != nil {
		t.Fatal(err)
	}
	ciphertext[len(ciphertext)-1] ^= 0x01

	_, err = c.Decrypt(ciphertext)
	if !errors.Is(err, cipher.ErrAuthentication) {
		t.Fatal("expected authentication error, got", err)
	}
}

func TestShortCiphertext(t *testing.T) {
	key, _ := cipher.NewDefaultKey()
	c, _ := cipher.NewAESGCM(key)

	_, err := c.Decrypt([]byte("short"))
	if !errors.Is(err, cipher.ErrAuthentication) {
		t.Fatal("expected authentication error, got", err)
	}
}

func TestWrongKey(t *testing.T) {
	key, _ := cipher.NewDefaultKey()
	c, _ := cipher.NewAESGCM(key)
	other, _ := cipher.NewDefaultKey()
	c2, _ := cipher.NewAESGCM(other)

	ciphertext, err := c.Encrypt([]byte("internet"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c2.Decrypt(ciphertext); !errors.Is(err, cipher.ErrAuthentication) {
		t.Fatal("expected authentication error with the wrong key, got", err)
	}
}

func TestNewKeySize(t *testing.T) {
	key, err := cipher.NewKey(16)
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != 16 {
		t.Fatal("expected 16 bytes got", len(key))
	}

	key, err = cipher.NewDefaultKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != cipher.DefaultKeySize {
		t.Fatal("expected the default key size got", len(key))
	}
}

func TestInvalidKeySize(t *testing.T) {
	if _, err := cipher.NewAESGCM([]byte("too short")); err == nil {
		t.Fatal("expected error on invalid key size")
	}
}

func TestLookup(t *testing.T) {
	key, _ := cipher.NewDefaultKey()
	c, err := cipher.Lookup("cipher:aesgcm", key)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("expected a cipher")
	}
	if _, err := cipher.Lookup("cipher:unknown", key); err == nil {
		t.Fatal("expected error for unregistered topic")
	}
}
