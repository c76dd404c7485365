package attachments

import (
	"net/url"
	"strings"
)

// ContentDisposition builds an attachment Content-Disposition header value
// with both the ASCII fallback filename and the RFC 5987 encoded form, so
// non-ASCII file names survive every client.
func ContentDisposition(fileName string) string {
	fallback := asciiFallback(fileName)
	encoded := url.PathEscape(fileName)
	return `attachment; filename="` + fallback + `"; filename*=UTF-8''` + encoded
}

func asciiFallback(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('_')
		case r >= 0x20 && r < 0x7f:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}
