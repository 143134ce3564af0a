package platform

import (
	"errors"
	"testing"
)

func testCreds() Credentials {
	return Credentials{
		GoogleClientID:     "g-id",
		GoogleClientSecret: "g-secret",
		GoogleRedirectURI:  "https://app.example.com/cb/google",
		FacebookAppID:      "fb-id",
		FacebookAppSecret:  "fb-secret",
		FacebookRedirect:   "https://app.example.com/cb/facebook",
	}
}

func TestConfig_UnknownPlatform(t *testing.T) {
	r := New(testCreds())
	if _, err := r.Config("tiktok"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("esperaba ErrUnknown, got %v", err)
	}
}

func TestConfig_MissingCredentials(t *testing.T) {
	r := New(Credentials{GoogleClientID: "g-id"}) // sin secret ni redirect
	_, err := r.Config(Google)
	if err == nil {
		t.Fatalf("credenciales faltantes no reportadas")
	}
	if errors.Is(err, ErrUnknown) {
		t.Fatalf("faltan credenciales pero reportó ErrUnknown")
	}
}

func TestConfig_MetaFamilySharesFacebookCreds(t *testing.T) {
	r := New(testCreds())
	for _, p := range []string{Facebook, Meta, Instagram} {
		c, err := r.Config(p)
		if err != nil {
			t.Fatalf("Config(%s) err: %v", p, err)
		}
		if c.ClientID != "fb-id" || c.ClientSecret != "fb-secret" {
			t.Fatalf("%s no comparte credenciales de facebook", p)
		}
	}
}

func TestCasePlatforms(t *testing.T) {
	r := New(testCreds())

	ps, err := r.CasePlatforms("SOCIAL_MEDIA_SUITE")
	if err != nil {
		t.Fatalf("CasePlatforms err: %v", err)
	}
	want := []string{Facebook, Instagram, Google}
	if len(ps) != len(want) {
		t.Fatalf("got %v want %v", ps, want)
	}
	for i := range want {
		if ps[i] != want[i] {
			t.Fatalf("got %v want %v", ps, want)
		}
	}

	if _, err := r.CasePlatforms("NOPE"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("auth case inexistente no reportó ErrUnknown: %v", err)
	}
}

func TestTokenPlatform_Canonicalization(t *testing.T) {
	cases := map[string]string{
		Google:    Google,
		Facebook:  Facebook,
		Meta:      Facebook,
		Instagram: Facebook,
		"other":   "other",
	}
	for in, want := range cases {
		if got := TokenPlatform(in); got != want {
			t.Fatalf("TokenPlatform(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestIsMetaFamily(t *testing.T) {
	if IsMetaFamily(Google) {
		t.Fatalf("google no es familia meta")
	}
	for _, p := range []string{Facebook, Meta, Instagram} {
		if !IsMetaFamily(p) {
			t.Fatalf("%s debería ser familia meta", p)
		}
	}
}

func TestOverrideEndpoints(t *testing.T) {
	r := New(testCreds())
	r.OverrideEndpoints(Google, "", "http://127.0.0.1:9999/token")
	c, err := r.Config(Google)
	if err != nil {
		t.Fatalf("Config err: %v", err)
	}
	if c.TokenURL != "http://127.0.0.1:9999/token" {
		t.Fatalf("override no aplicado: %s", c.TokenURL)
	}
	if c.AuthURL == "" {
		t.Fatalf("authURL borrada por override vacío")
	}
}
