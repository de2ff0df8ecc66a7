package cryptoutil

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestSealOpen(t *testing.T) {
	for _, alg := range []Algorithm{AES256GCM, SM4GCM} {
		t.Run(string(alg), func(t *testing.T) {
			s, err := New(alg, 1000)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			env, err := s.Seal([]byte("correct horse"), []byte("hibp api key"))
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			got, err := s.Open([]byte("correct horse"), env)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if string(got) != "hibp api key" {
				t.Fatalf("got %q", got)
			}
			if _, err := s.Open([]byte("wrong"), env); !errors.Is(err, ErrDecrypt) {
				t.Fatalf("expected ErrDecrypt, got %v", err)
			}
		})
	}
}

func TestSealIsRandomized(t *testing.T) {
	s, _ := New(AES256GCM, 1000)
	a, _ := s.Seal([]byte("pw"), []byte("same"))
	b, _ := s.Seal([]byte("pw"), []byte("same"))
	if a == b {
		t.Fatalf("two seals of the same plaintext must differ")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	s, _ := New(AES256GCM, 1000)
	env, _ := s.Seal([]byte("pw"), []byte("secret"))
	raw, _ := base64.StdEncoding.DecodeString(env)

	flipped := append([]byte(nil), raw...)
	flipped[len(flipped)-1] ^= 0x01
	if _, err := s.Open([]byte("pw"), base64.StdEncoding.EncodeToString(flipped)); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("tampered ciphertext: %v", err)
	}

	header := append([]byte(nil), raw...)
	header[2] ^= 0x01
	if _, err := s.Open([]byte("pw"), base64.StdEncoding.EncodeToString(header)); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("tampered salt: %v", err)
	}

	for _, bad := range []string{"%%%", base64.StdEncoding.EncodeToString([]byte{9, 1}), base64.StdEncoding.EncodeToString(raw[:headerLen+2])} {
		if _, err := s.Open([]byte("pw"), bad); !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected ErrMalformed for %q, got %v", bad, err)
		}
	}
}

func TestParseAlgorithm(t *testing.T) {
	if a, err := ParseAlgorithm(""); err != nil || a != AES256GCM {
		t.Fatalf("default: %v %v", a, err)
	}
	if _, err := ParseAlgorithm("des"); err == nil {
		t.Fatalf("expected error for unknown algorithm")
	}
}

func TestEmptyPassphrase(t *testing.T) {
	s, _ := New(SM4GCM, 1000)
	if _, err := s.Seal(nil, []byte("x")); err == nil {
		t.Fatalf("expected error for empty passphrase")
	}
}
