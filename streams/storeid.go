package streams

import "strings"

// LocalStoreID is the default store for unprefixed stream ids.
const LocalStoreID = "local"

// ParseStoreID splits a stream id into its store id and store-local id.
// Prefixed ids look like ":dummy:streamId" or ":_audit:streamId"; anything
// else belongs to the local store.
func ParseStoreID(id string) (storeID, localID string) {
	if len(id) < 2 || id[0] != ':' {
		return LocalStoreID, id
	}
	rest := id[1:]
	sep := strings.Index(rest, ":")
	if sep < 0 {
		return LocalStoreID, id
	}
	return rest[:sep], rest[sep+1:]
}
