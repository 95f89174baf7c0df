package synapse

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// hashUserID maps a user id to a stable 64-bit value used to route it to
// one of P partitions (spec §4.6: hash(user_id) mod P). blake2b gives a
// fast, well-distributed, non-cryptographically-sensitive hash; P is
// expected to be a power of two (default 8, growable to 16/32).
func hashUserID(userID string) uint64 {
	sum := blake2b.Sum256([]byte(userID))
	return binary.LittleEndian.Uint64(sum[:8])
}
