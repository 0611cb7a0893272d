package sampler

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"tinman/internal/model"
)

func drain(s *Sampler) []int {
	var out []int
	for s.HasNext() {
		out = append(out, s.Next())
	}
	return out
}

func TestNewRequiresRandomSource(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected random source error")
	}
}

func TestResetVisitsEveryIndexOnce(t *testing.T) {
	s, err := New(rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, n := range []int{1, 2, 3, 10, 257} {
		if err := s.Resize(n); err != nil {
			t.Fatalf("resize %d: %v", n, err)
		}
		for round := 0; round < 3; round++ {
			s.Reset()
			got := drain(s)
			if len(got) != n {
				t.Fatalf("n=%d: visited %d indices", n, len(got))
			}
			slices.Sort(got)
			for i, v := range got {
				if v != i {
					t.Fatalf("n=%d: not a permutation: %v", n, got)
				}
			}
		}
	}
}

func TestResetChangesOrder(t *testing.T) {
	s, _ := New(rand.New(rand.NewSource(11)))
	if err := s.Resize(200); err != nil {
		t.Fatalf("resize: %v", err)
	}
	s.Reset()
	first := drain(s)
	s.Reset()
	second := drain(s)
	if slices.Equal(first, second) {
		t.Fatal("expected consecutive shuffles to differ")
	}
}

func TestResizeGrowsAndShrinksByBound(t *testing.T) {
	s, _ := New(rand.New(rand.NewSource(1)))
	if err := s.Resize(8); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if err := s.Resize(3); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if s.Len() != 3 || s.Cap() != 8 {
		t.Fatalf("unexpected bounds after shrink: len=%d cap=%d", s.Len(), s.Cap())
	}
	if got := drain(s); !slices.Equal(got, []int{0, 1, 2}) {
		t.Fatalf("unexpected identity order: %v", got)
	}
	if err := s.Resize(8); err != nil {
		t.Fatalf("regrow: %v", err)
	}
	if s.Len() != 8 || s.Cap() != 8 {
		t.Fatalf("unexpected bounds after regrow: len=%d cap=%d", s.Len(), s.Cap())
	}
}

func TestResizeRejectsEmpty(t *testing.T) {
	s, _ := New(rand.New(rand.NewSource(1)))
	err := s.Resize(0)
	if !errors.Is(err, ErrInvalidLength) || !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected ErrInvalidLength, got: %v", err)
	}
	if s.HasNext() {
		t.Fatal("empty sampler must not have a next index")
	}
}
