package util

import "strings"

// MaskID deja ver solo los extremos de un identificador para los logs.
func MaskID(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "***"
	case len(s) <= 8:
		return s[:1] + "…" + s[len(s)-1:]
	}
	return s[:3] + "…" + s[len(s)-2:]
}
