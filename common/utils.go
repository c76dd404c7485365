package common

import (
	"crypto/rand"
	"encoding/base64"
	"regexp"
	"strings"
)

// RandomToken generates an opaque, URL-safe random token of n bytes of
// entropy. Tokens are stored verbatim; they carry no structure. A failing
// system entropy source leaves nothing sensible to do, so it panics.
func RandomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("failed to read system entropy: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9-]+`)
var slugDashes = regexp.MustCompile(`-{2,}`)

// Slugify derives a stream-id slug from a display name.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = slugInvalid.ReplaceAllString(s, "")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
