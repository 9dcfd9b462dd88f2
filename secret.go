package cmc

import "crypto/subtle"

// compareSecrets reports whether the submitted shared secret equals the
// expected one in constant time. Both buffers are zeroed before it returns,
// whatever the outcome. Empty secrets never match.
func compareSecrets(submitted, expected []byte) bool {
	defer clear(expected)
	defer clear(submitted)

	if len(submitted) == 0 || len(expected) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(submitted, expected) == 1
}
