package lumen

import (
	"errors"
	"math"
	"testing"
)

func Test_Alloc_NextHeapSize(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, MinHeapSize},
		{1, 233},
		{233, 233},
		{234, 377},
		{377, 377},
		{378, 610},
		{1000, 1597},
	}
	for _, c := range cases {
		if got := NextHeapSize(c.in); got != c.want {
			t.Errorf("NextHeapSize(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func Test_Alloc_NextHeapSize_BeyondLadder(t *testing.T) {
	big := NextHeapSize(heapLadderLimit * 3)
	if big < heapLadderLimit*3 {
		t.Fatalf("size %d does not cover the request", big)
	}
	if NextHeapSize(big) != big {
		t.Fatal("a ladder size should map to itself")
	}
}

func Test_Alloc_HeapAllocator(t *testing.T) {
	h, err := HeapAllocator{}.Allocate(377)
	if err != nil || h.Words() != 377 || len(h) != 0 {
		t.Fatalf("unbounded allocation failed: %v (words %d)", err, h.Words())
	}

	_, err = HeapAllocator{Max: 300}.Allocate(377)
	var ae *AllocError
	if !errors.As(err, &ae) || ae.Words != 377 || ae.Limit != 300 {
		t.Fatalf("want *AllocError for 377 > 300, got %v", err)
	}
	if !errors.Is(err, ErrHeapExhausted) {
		t.Fatal("AllocError should unwrap to ErrHeapExhausted")
	}

	if _, err := (HeapAllocator{}).Allocate(-1); err == nil {
		t.Fatal("negative size should fail")
	}
}

func Test_Alloc_NextHeapSize_Ceiling(t *testing.T) {
	if got := NextHeapSize(MaxHeapWords); got != MaxHeapWords {
		t.Fatalf("NextHeapSize(MaxHeapWords) = %d", got)
	}
	if got := NextHeapSize(MaxHeapWords - 1); got != MaxHeapWords {
		t.Fatalf("sizes just below the ceiling should round to it, got %d", got)
	}
	for _, words := range []int{MaxHeapWords + 1, math.MaxInt} {
		if got := NextHeapSize(words); got != words {
			t.Fatalf("NextHeapSize(%d) = %d, want it unchanged", words, got)
		}
	}
}

func Test_Alloc_HeapAllocator_Ceiling(t *testing.T) {
	for _, h := range []HeapAllocator{{}, {Max: math.MaxInt}} {
		_, err := h.Allocate(MaxHeapWords + 1)
		var ae *AllocError
		if !errors.As(err, &ae) || ae.Limit != MaxHeapWords {
			t.Fatalf("Max %d: want an AllocError at the ceiling, got %v", h.Max, err)
		}
	}
	if _, err := (HeapAllocator{Max: math.MaxInt}).Allocate(math.MaxInt); !errors.Is(err, ErrHeapExhausted) {
		t.Fatalf("want ErrHeapExhausted, got %v", err)
	}
}

func Test_MFA_ParseRoundTrip(t *testing.T) {
	for _, s := range []string{"init:start/0", "timer:sleep/1", "a.b:c:d/255"} {
		m, err := ParseMFA(s)
		if err != nil {
			t.Fatalf("ParseMFA(%q): %v", s, err)
		}
		if m.String() != s {
			t.Fatalf("ParseMFA(%q).String() = %q", s, m.String())
		}
	}
	m, _ := ParseMFA("a.b:c:d/255")
	if m.Module != "a.b" || m.Function != "c:d" || m.Arity != 255 {
		t.Fatalf("unexpected split %#v", m)
	}
}

func Test_MFA_ParseRejects(t *testing.T) {
	for _, s := range []string{"", "init", ":start/0", "init:/0", "init:start/", "init:start", "init:start/256", "init:start/x"} {
		if _, err := ParseMFA(s); err == nil {
			t.Errorf("ParseMFA(%q) should fail", s)
		}
	}
}
