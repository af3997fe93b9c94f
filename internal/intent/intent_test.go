package intent

import (
	"sort"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusSucceeded, true},
		{StatusPending, StatusFailed, true},
		{StatusProcessing, StatusSucceeded, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusSucceeded, StatusFailed, false},
		{StatusSucceeded, StatusProcessing, false},
		{StatusSucceeded, StatusPending, false},
		{StatusFailed, StatusSucceeded, false},
		{StatusFailed, StatusPending, false},
		{StatusPending, StatusPending, false},
		{StatusPending, Status("refunded"), false},
		{Status("unknown"), StatusFailed, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestPriorStatuses(t *testing.T) {
	got := priorStatuses(StatusSucceeded)
	sort.Strings(got)
	want := []string{"pending", "processing"}
	if len(got) != len(want) {
		t.Fatalf("prior statuses for succeeded: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("prior statuses for succeeded: got %v, want %v", got, want)
		}
	}

	if got := priorStatuses(StatusProcessing); len(got) != 1 || got[0] != "pending" {
		t.Fatalf("prior statuses for processing: got %v, want [pending]", got)
	}
	if got := priorStatuses(StatusPending); len(got) != 0 {
		t.Fatalf("prior statuses for pending: got %v, want none", got)
	}
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus("  Succeeded ")
	if !ok || s != StatusSucceeded {
		t.Fatalf("parse succeeded: got %q ok=%v", s, ok)
	}
	if _, ok := ParseStatus("cancelled"); ok {
		t.Fatal("expected cancelled to be rejected")
	}
}

func TestDisplayAmount(t *testing.T) {
	it := Intent{AmountMinor: 10050}
	if got := it.DisplayAmount(); got != 100.50 {
		t.Fatalf("display amount: got %v, want 100.50", got)
	}
	it.AmountMinor = 7
	if got := it.DisplayAmount(); got != 0.07 {
		t.Fatalf("display amount: got %v, want 0.07", got)
	}
}

func TestTerminal(t *testing.T) {
	if !StatusSucceeded.Terminal() || !StatusFailed.Terminal() {
		t.Fatal("succeeded and failed must be terminal")
	}
	if StatusPending.Terminal() || StatusProcessing.Terminal() {
		t.Fatal("pending and processing must not be terminal")
	}
}
