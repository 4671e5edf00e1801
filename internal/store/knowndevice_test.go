package store

import "testing"

func TestKnownDevice_TableName(t *testing.T) {
	if (KnownDevice{}).TableName() != "known_devices" {
		t.Fatal("known device must bind to the known_devices migration table")
	}
}
