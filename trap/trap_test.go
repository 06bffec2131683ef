package trap

import "testing"

func resetTable() {
	for i := range table {
		table[i] = nil
	}
}

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	resetTable()
	called := false
	Register(VectorSyscall, func(f *Frame) {
		called = true
		f.EAX = 42
	})

	f := &Frame{IntNo: VectorSyscall}
	Dispatch(f)

	if !called {
		t.Fatal("expected the registered handler to run")
	}
	if f.EAX != 42 {
		t.Fatalf("EAX = %d, want 42 (handler must be able to mutate the trap frame)", f.EAX)
	}
}

func TestDispatchPanicsOnUnhandledVector(t *testing.T) {
	resetTable()
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for an unregistered vector")
		}
	}()
	Dispatch(&Frame{IntNo: VectorPageFault})
}

func TestRegisterPanicsOutOfRange(t *testing.T) {
	resetTable()
	defer func() {
		if recover() == nil {
			t.Fatal("expected Register to panic for an out-of-range vector")
		}
	}()
	Register(NumVectors, func(*Frame) {})
}

func TestRegisterReplacesPreviousHandler(t *testing.T) {
	resetTable()
	var calls []int
	Register(VectorDivideError, func(*Frame) { calls = append(calls, 1) })
	Register(VectorDivideError, func(*Frame) { calls = append(calls, 2) })

	Dispatch(&Frame{IntNo: VectorDivideError})

	if len(calls) != 1 || calls[0] != 2 {
		t.Fatalf("expected only the latest handler to run, got %v", calls)
	}
}
