package cache

import "testing"

func TestNamespaceSeparation(t *testing.T) {
	if Hot.namespace() == Warm.namespace() {
		t.Fatal("hot and warm tiers must use distinct key namespaces")
	}
}

func TestBoundFor(t *testing.T) {
	m := &Manager{cfg: Config{HotPerUser: 3, WarmPerUser: 100}}
	if got := m.boundFor(Hot); got != 3 {
		t.Fatalf("hot bound = %d, want 3", got)
	}
	if got := m.boundFor(Warm); got != 100 {
		t.Fatalf("warm bound = %d, want 100", got)
	}
}

func TestEntryAndLRUKeysAreDistinctPerTier(t *testing.T) {
	if entryKey(Hot, "u1") == entryKey(Warm, "u1") {
		t.Fatal("entry keys must differ by tier")
	}
	if lruKey(Hot, "u1") == entryKey(Hot, "u1") {
		t.Fatal("lru key must differ from entry key")
	}
}
