package attachments

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// BuildReadToken derives the per-attachment read token handed out on event
// responses: the id of the access joined with an HMAC binding the file to
// that access's token. Possession of the read token proves possession of
// the access without exposing it in file URLs.
func BuildReadToken(accessID, accessToken, fileID, secret string) string {
	return accessID + "-" + readTokenHMAC(accessToken, fileID, secret)
}

// ParseReadToken splits a read token into the access id and the HMAC part.
// The access id itself may contain dashes, so the split is on the last one.
func ParseReadToken(token string) (accessID, mac string, ok bool) {
	i := strings.LastIndex(token, "-")
	if i <= 0 || i == len(token)-1 {
		return "", "", false
	}
	return token[:i], token[i+1:], true
}

// VerifyReadToken checks a read token against the resolved access in
// constant time.
func VerifyReadToken(token, accessID, accessToken, fileID, secret string) bool {
	gotID, gotMAC, ok := ParseReadToken(token)
	if !ok || gotID != accessID {
		return false
	}
	want := readTokenHMAC(accessToken, fileID, secret)
	return subtle.ConstantTimeCompare([]byte(gotMAC), []byte(want)) == 1
}

func readTokenHMAC(accessToken, fileID, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(fileID + accessToken))
	return hex.EncodeToString(h.Sum(nil))
}
