package util

import (
	"slices"
	"testing"
)

func TestSet(t *testing.T) {
	s := Set[string]{}
	if !s.Add("b.h") || !s.Add("a.h") {
		t.Fatal("new members must report true")
	}
	if s.Add("a.h") {
		t.Error("duplicate member reported as new")
	}
	if !s.Has("b.h") || s.Has("c.h") {
		t.Error("Has disagrees with Add")
	}
	if got := s.Sorted(); !slices.Equal(got, []string{"a.h", "b.h"}) {
		t.Errorf("Sorted() = %v", got)
	}
}

func TestSortedKeys(t *testing.T) {
	got := SortedKeys(map[int64]bool{3: true, 1: false, 2: true})
	if !slices.Equal(got, []int64{1, 2, 3}) {
		t.Errorf("SortedKeys() = %v", got)
	}
	if got := SortedKeys(map[string]int{}); len(got) != 0 {
		t.Errorf("empty map gave %v", got)
	}
}
