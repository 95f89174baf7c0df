package synapse

import "testing"

func TestHashUserIDIsDeterministic(t *testing.T) {
	a := hashUserID("user-123")
	b := hashUserID("user-123")
	if a != b {
		t.Errorf("expected the same user id to hash identically, got %d vs %d", a, b)
	}
}

func TestHashUserIDDistributesDifferentUsers(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		h := hashUserID(string(rune('a'+i%26)) + string(rune(i)))
		seen[h] = true
	}
	if len(seen) < 90 {
		t.Errorf("expected near-unique hashes across distinct user ids, got %d unique out of 100", len(seen))
	}
}

func TestHashUserIDModuloPartitionCount(t *testing.T) {
	const partitions = 8
	counts := make(map[uint64]int)
	for i := 0; i < 1000; i++ {
		id := "user-" + string(rune(i))
		p := hashUserID(id) % partitions
		counts[p]++
	}
	if len(counts) == 0 {
		t.Fatal("expected at least one partition to receive traffic")
	}
}
