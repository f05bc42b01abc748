package pointers

import "testing"

func TestPtrReturnsAddressableCopy(t *testing.T) {
	p := Ptr(42)
	if p == nil || *p != 42 {
		t.Fatalf("Ptr(42) = %v, want pointer to 42", p)
	}
}

func TestTypedHelpersReturnExpectedValues(t *testing.T) {
	if got := Float64(3.5); got == nil || *got != 3.5 {
		t.Fatalf("Float64(3.5) = %v", got)
	}
	if got := Int(7); got == nil || *got != 7 {
		t.Fatalf("Int(7) = %v", got)
	}
	if got := String("x"); got == nil || *got != "x" {
		t.Fatalf("String(x) = %v", got)
	}
}
