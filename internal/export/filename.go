package export

import "strings"

// Filename derives the artifact name from a request number. Characters outside
// [A-Za-z0-9._-] become "_".
func Filename(number string) string {
	var b strings.Builder
	b.WriteString("request-")
	for _, r := range number {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	b.WriteString(".pdf")
	return b.String()
}
