package vault

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestNew_KeySize(t *testing.T) {
	tests := []struct {
		name    string
		keyLen  int
		wantErr bool
	}{
		{name: "32 bytes", keyLen: 32, wantErr: false},
		{name: "16 bytes", keyLen: 16, wantErr: true},
		{name: "empty", keyLen: 0, wantErr: true},
		{name: "33 bytes", keyLen: 33, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(bytes.Repeat([]byte{0x01}, tt.keyLen))
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVault_RoundTrip(t *testing.T) {
	v, err := New(testKey())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	plaintexts := []string{
		"",
		"sk-abc123",
		"sk-" + strings.Repeat("x", 200),
		"unicode éèê and bytes \x00\x01\x02",
	}

	for _, pt := range plaintexts {
		blob, err := v.Encrypt(pt)
		if err != nil {
			t.Fatalf("Encrypt(%q) error = %v", pt, err)
		}

		got, err := v.Decrypt(blob)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if got != pt {
			t.Errorf("round trip = %q, want %q", got, pt)
		}
	}
}

func TestVault_EncryptIsNonDeterministic(t *testing.T) {
	v, _ := New(testKey())

	a, _ := v.Encrypt("same input")
	b, _ := v.Encrypt("same input")
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical blobs")
	}
}

func TestVault_Decrypt_Tampered(t *testing.T) {
	v, _ := New(testKey())

	blob, err := v.Encrypt("sk-secret")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(blob)
	raw[len(raw)-1] ^= 0x01 // flip one bit in the tag
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := v.Decrypt(tampered); !errors.Is(err, ErrDecryption) {
		t.Errorf("Decrypt(tampered) error = %v, want ErrDecryption", err)
	}
}

func TestVault_Decrypt_Malformed(t *testing.T) {
	v, _ := New(testKey())

	tests := []string{
		"not base64 at all!!!",
		base64.StdEncoding.EncodeToString([]byte("short")),
		"",
	}

	for _, blob := range tests {
		if _, err := v.Decrypt(blob); !errors.Is(err, ErrDecryption) {
			t.Errorf("Decrypt(%q) error = %v, want ErrDecryption", blob, err)
		}
	}
}

func TestVault_Decrypt_WrongKey(t *testing.T) {
	v1, _ := New(testKey())
	v2, _ := New(bytes.Repeat([]byte{0x24}, 32))

	blob, _ := v1.Encrypt("sk-secret")
	if _, err := v2.Decrypt(blob); !errors.Is(err, ErrDecryption) {
		t.Errorf("Decrypt with wrong key error = %v, want ErrDecryption", err)
	}
}

func TestGenerateSyntheticKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := GenerateSyntheticKey()
		if err != nil {
			t.Fatalf("GenerateSyntheticKey() error = %v", err)
		}
		if !strings.HasPrefix(key, "sk-proxy-") {
			t.Fatalf("key %q missing sk-proxy- prefix", key)
		}
		if len(key) != len("sk-proxy-")+48 {
			t.Fatalf("key length = %d, want %d", len(key), len("sk-proxy-")+48)
		}
		if seen[key] {
			t.Fatalf("duplicate synthetic key generated: %q", key)
		}
		seen[key] = true
	}
}
