// Package cachekey builds composite store keys that namespace build ids by server.
package cachekey

import (
	"errors"
	"fmt"
	"hash/fnv"
)

const (
	idBits = 48

	// MaxID is the largest build id that fits in a composite key.
	MaxID = int64(1)<<idBits - 1
)

// ErrIDOutOfRange is returned when a build id cannot be packed next to a server mask.
var ErrIDOutOfRange = errors.New("build id out of range")

// Compose packs a server mask and a build id into one key.
// Distinct (mask, id) pairs always produce distinct keys.
func Compose(mask uint16, id int64) (int64, error) {
	if id < 0 || id > MaxID {
		return 0, fmt.Errorf("%w: %d", ErrIDOutOfRange, id)
	}
	return int64(mask)<<idBits | id, nil
}

// MustCompose is Compose for ids already known to be in range.
func MustCompose(mask uint16, id int64) int64 {
	key, err := Compose(mask, id)
	if err != nil {
		panic(err)
	}
	return key
}

// Split reverses Compose.
func Split(key int64) (mask uint16, id int64) {
	return uint16(uint64(key) >> idBits), key & MaxID
}

// ID strips the server mask from a key.
func ID(key int64) int64 {
	return key & MaxID
}

// ServerMask derives a non-zero mask from a server identifier.
func ServerMask(serverID string) uint16 {
	h := fnv.New32a()
	h.Write([]byte(serverID))
	sum := h.Sum32()
	mask := uint16(sum>>16) ^ uint16(sum)
	if mask == 0 {
		mask = 1
	}
	return mask
}
