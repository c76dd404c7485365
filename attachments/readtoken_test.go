package attachments

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTokenRoundTrip(t *testing.T) {
	token := BuildReadToken("acc-1", "secret-token", "file-1", "server-secret")

	accessID, mac, ok := ParseReadToken(token)
	require.True(t, ok)
	// The access id contains a dash; the split must be on the last one.
	assert.Equal(t, "acc-1", accessID)
	assert.Len(t, mac, 64)

	assert.True(t, VerifyReadToken(token, "acc-1", "secret-token", "file-1", "server-secret"))
}

func TestVerifyReadTokenRejectsMismatches(t *testing.T) {
	token := BuildReadToken("acc-1", "secret-token", "file-1", "server-secret")

	assert.False(t, VerifyReadToken(token, "acc-2", "secret-token", "file-1", "server-secret"))
	assert.False(t, VerifyReadToken(token, "acc-1", "other-token", "file-1", "server-secret"))
	assert.False(t, VerifyReadToken(token, "acc-1", "secret-token", "file-2", "server-secret"))
	assert.False(t, VerifyReadToken(token, "acc-1", "secret-token", "file-1", "other-secret"))
}

func TestParseReadTokenMalformed(t *testing.T) {
	for _, raw := range []string{"", "nodash", "-leading", "trailing-"} {
		_, _, ok := ParseReadToken(raw)
		assert.False(t, ok, raw)
	}
}

func TestContentDisposition(t *testing.T) {
	d := ContentDisposition("report.pdf")
	assert.Equal(t, `attachment; filename="report.pdf"; filename*=UTF-8''report.pdf`, d)

	d = ContentDisposition("mesure poids été.csv")
	assert.True(t, strings.HasPrefix(d, `attachment; filename="`))
	assert.Contains(t, d, "filename*=UTF-8''")
	// The quoted fallback must stay plain ASCII.
	for _, r := range d[:strings.Index(d, "filename*")] {
		assert.Less(t, r, rune(128))
	}
}
