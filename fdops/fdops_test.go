package fdops

import (
	"testing"

	"simpleos/defs"
)

// stub is a backend that implements no operations at all, relying
// entirely on Base to satisfy Ops.
type stub struct{ Base }

func TestBaseOperationsAreUnsupported(t *testing.T) {
	var ops Ops = stub{}

	if _, err := ops.Read("/x", 0, nil); err != -defs.ENOSYS {
		t.Fatalf("Read err = %v, want -ENOSYS", err)
	}
	if err := ops.Create("/x"); err != -defs.ENOSYS {
		t.Fatalf("Create err = %v, want -ENOSYS", err)
	}
	if _, _, err := ops.Readdir("/x", 0); err != -defs.ENOSYS {
		t.Fatalf("Readdir err = %v, want -ENOSYS", err)
	}
	if err := ops.Truncate("/x", 10); err != -defs.ENOSYS {
		t.Fatalf("Truncate err = %v, want -ENOSYS", err)
	}
}
