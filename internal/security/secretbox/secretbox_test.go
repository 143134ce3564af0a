package secretbox

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testKey() string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	box, err := New(testKey())
	if err != nil {
		t.Fatalf("New err: %v", err)
	}

	msg := "hola mundo ✓ — secreto"
	ct, err := box.Seal(msg)
	if err != nil {
		t.Fatalf("Seal err: %v", err)
	}
	if ct == msg {
		t.Fatalf("ciphertext igual al plaintext")
	}
	pt, err := box.Open(ct)
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	if pt != msg {
		t.Fatalf("plaintext mismatch: got %q want %q", pt, msg)
	}
}

func TestOpen_DetectsTamper(t *testing.T) {
	box, err := New(testKey())
	if err != nil {
		t.Fatalf("New err: %v", err)
	}

	ct, err := box.Seal("top secret")
	if err != nil {
		t.Fatalf("Seal err: %v", err)
	}
	parts := strings.Split(ct, "|")
	if len(parts) != 2 {
		t.Fatalf("unexpected ct format: %q", ct)
	}
	bs, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatal(err)
	}
	bs[0] ^= 0xFF
	tampered := parts[0] + "|" + base64.StdEncoding.EncodeToString(bs)

	if _, err := box.Open(tampered); err == nil {
		t.Fatalf("Open aceptó ciphertext corrupto")
	}
}

func TestNew_RejectsBadKey(t *testing.T) {
	if _, err := New("no-es-base64!!"); err == nil {
		t.Fatalf("New aceptó clave no base64")
	}
	short := base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := New(short); err == nil {
		t.Fatalf("New aceptó clave corta")
	}
}
