package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomToken(t *testing.T) {
	a := RandomToken(24)
	b := RandomToken(24)

	assert.NotEqual(t, a, b)
	// 24 bytes of entropy, base64url without padding.
	assert.Len(t, a, 32)
	assert.NotContains(t, a, "=")
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Heart Rate":       "heart-rate",
		"  Trimmed  ":      "trimmed",
		"Déjà Vu!":         "dj-vu",
		"many   spaces":    "many-spaces",
		"--dashed--":       "dashed",
		"UPPER":            "upper",
		"already-slugged":  "already-slugged",
		"sym&bols#removed": "symbolsremoved",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
}
