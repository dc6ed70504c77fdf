package cachekey

import (
	"errors"
	"testing"
)

func TestCompose_Injective(t *testing.T) {
	masks := []uint16{1, 2, 0x7fff, 0xffff}
	ids := []int64{0, 1, 42, 1 << 20, MaxID}

	seen := make(map[int64][2]int64)
	for _, m := range masks {
		for _, id := range ids {
			key, err := Compose(m, id)
			if err != nil {
				t.Fatalf("Compose(%d, %d) unexpected error: %v", m, id, err)
			}
			if prev, dup := seen[key]; dup {
				t.Fatalf("Compose(%d, %d) collides with %v", m, id, prev)
			}
			seen[key] = [2]int64{int64(m), id}

			gotMask, gotID := Split(key)
			if gotMask != m || gotID != id {
				t.Errorf("Split(Compose(%d, %d)) = (%d, %d)", m, id, gotMask, gotID)
			}
		}
	}
}

func TestCompose_SameIDDifferentServers(t *testing.T) {
	a := MustCompose(ServerMask("github-main"), 1000)
	b := MustCompose(ServerMask("buildkite-main"), 1000)
	if a == b {
		t.Fatalf("keys for the same id on two servers must differ, both %d", a)
	}
	if ID(a) != 1000 || ID(b) != 1000 {
		t.Errorf("ID() = %d, %d, want 1000", ID(a), ID(b))
	}
}

func TestCompose_OutOfRange(t *testing.T) {
	tests := []struct {
		name string
		id   int64
	}{
		{"negative", -1},
		{"too large", MaxID + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compose(1, tt.id)
			if !errors.Is(err, ErrIDOutOfRange) {
				t.Errorf("Compose(1, %d) error = %v, want ErrIDOutOfRange", tt.id, err)
			}
		})
	}
}

func TestServerMask(t *testing.T) {
	if ServerMask("srv") != ServerMask("srv") {
		t.Error("ServerMask() is not stable")
	}
	for _, id := range []string{"", "a", "apache", "github-main"} {
		if ServerMask(id) == 0 {
			t.Errorf("ServerMask(%q) = 0", id)
		}
	}
}
