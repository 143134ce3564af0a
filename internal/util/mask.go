package util

// MaskSecret trunca un secreto para logs: primeros 4 + "…" + últimos 4.
// Nunca loguear access/refresh tokens completos.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "…" + s[len(s)-4:]
}
