package pg

import (
	"encoding/base64"
	"testing"

	"github.com/kalpesh05/omniad-ads-backend/internal/config"
	"github.com/kalpesh05/omniad-ads-backend/internal/security/secretbox"
)

// El wiring del binario arma Config directo desde los campos de la app config;
// este test fija que los tipos sigan alineados (la duración viaja como string
// y se parsea recién en New).
func TestConfig_FromAppConfig(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load err: %v", err)
	}

	pc := Config{
		MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
		MinConns:        cfg.Storage.Postgres.MinConns,
		ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
	}
	if pc.MaxOpenConns < 0 || pc.MinConns < 0 {
		t.Fatalf("defaults de pool negativos: %+v", pc)
	}
}

func testBox(t *testing.T) *secretbox.Box {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	box, err := secretbox.New(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("secretbox.New err: %v", err)
	}
	return box
}

func TestSealOpen_RoundTripAndPassthrough(t *testing.T) {
	s := &Store{box: testBox(t)}

	ct, err := s.seal("ya29.secreto")
	if err != nil {
		t.Fatalf("seal err: %v", err)
	}
	if ct == "ya29.secreto" {
		t.Fatalf("secreto sin cifrar con box configurado")
	}
	pt, err := s.open(ct)
	if err != nil {
		t.Fatalf("open err: %v", err)
	}
	if pt != "ya29.secreto" {
		t.Fatalf("round trip: %q", pt)
	}

	// "" nunca se sella (refresh token ausente queda ausente en la DB).
	if v, err := s.seal(""); err != nil || v != "" {
		t.Fatalf("seal vacío: %q %v", v, err)
	}

	// Sin box los valores pasan en claro (modo dev).
	plain := &Store{}
	if v, err := plain.seal("x"); err != nil || v != "x" {
		t.Fatalf("passthrough sin box: %q %v", v, err)
	}
	if v, err := plain.open("x"); err != nil || v != "x" {
		t.Fatalf("open sin box: %q %v", v, err)
	}
}
