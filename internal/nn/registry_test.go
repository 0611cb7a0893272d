package nn

import (
	"errors"
	"sort"
	"testing"

	"tinman/internal/model"
)

func TestParseActivationRoundTrip(t *testing.T) {
	for code := 0; code < int(activationCount); code++ {
		act, err := ActivationFromCode(code)
		if err != nil {
			t.Fatalf("code %d: %v", code, err)
		}
		parsed, err := ParseActivation(act.String())
		if err != nil {
			t.Fatalf("parse %q: %v", act.String(), err)
		}
		if parsed != act {
			t.Fatalf("round trip mismatch: got=%v want=%v", parsed, act)
		}
	}
}

func TestParseActivationCodes(t *testing.T) {
	tests := []struct {
		name string
		want Activation
	}{
		{name: "default", want: Identity},
		{name: "identity", want: Identity},
		{name: "sigmoid", want: Sigmoid},
		{name: "logistic", want: Sigmoid},
		{name: "binary_step", want: BinaryStep},
		{name: "sqnl", want: SQNL},
		{name: "gelu", want: GELU},
		{name: "swish", want: Swish},
	}
	for _, tc := range tests {
		got, err := ParseActivation(tc.name)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got=%d want=%d", tc.name, got, tc.want)
		}
	}
}

func TestParseActivationNotFound(t *testing.T) {
	_, err := ParseActivation("relu6")
	if !errors.Is(err, ErrActivationNotFound) {
		t.Fatalf("expected ErrActivationNotFound, got: %v", err)
	}
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error class, got: %v", err)
	}
}

func TestActivationFromCodeOutOfRange(t *testing.T) {
	for _, code := range []int{-1, int(activationCount), 200} {
		if _, err := ActivationFromCode(code); !errors.Is(err, ErrActivationCode) {
			t.Fatalf("code %d: expected ErrActivationCode, got: %v", code, err)
		}
	}
	if Activation(99).Valid() {
		t.Fatal("expected code 99 to be invalid")
	}
	if got := Activation(99).String(); got != "activation(99)" {
		t.Fatalf("unexpected invalid name: %s", got)
	}
}

func TestListActivations(t *testing.T) {
	names := ListActivations()
	if len(names) != int(activationCount) {
		t.Fatalf("unexpected activation count: got=%d want=%d", len(names), activationCount)
	}
	if !sort.StringsAreSorted(names) {
		t.Fatalf("expected sorted names, got %v", names)
	}
}
