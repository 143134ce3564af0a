package migrations

import (
	"sort"
	"strings"
	"testing"
)

// El runner aplica los .sql en orden lexicográfico; acá se fija el contrato:
// prefijo numérico, contenido no vacío e idempotencia via IF NOT EXISTS.
func TestEmbeddedMigrations(t *testing.T) {
	entries, err := FS.ReadDir(".")
	if err != nil {
		t.Fatalf("ReadDir err: %v", err)
	}

	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	if len(names) < 2 {
		t.Fatalf("faltan migraciones embebidas: %v", names)
	}
	if !sort.StringsAreSorted(names) {
		t.Fatalf("ReadDir no viene ordenado: %v", names)
	}

	for _, name := range names {
		if name[0] < '0' || name[0] > '9' {
			t.Fatalf("migración sin prefijo numérico: %s", name)
		}
		b, err := FS.ReadFile(name)
		if err != nil {
			t.Fatalf("ReadFile %s: %v", name, err)
		}
		sql := string(b)
		if strings.TrimSpace(sql) == "" {
			t.Fatalf("migración vacía: %s", name)
		}
		if !strings.Contains(sql, "IF NOT EXISTS") {
			t.Fatalf("%s no es idempotente (falta IF NOT EXISTS)", name)
		}
	}

	if names[0] != "0001_ads_tokens.sql" {
		t.Fatalf("la tabla de tokens debe ir primero, got %s", names[0])
	}
}
