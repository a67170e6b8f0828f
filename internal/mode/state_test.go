package mode

import "testing"

func TestState_NextTracksPhase(t *testing.T) {
	var s State

	if s.Unavailable() {
		t.Error("zero state should be available")
	}
	if s.Version() != 0 || s.Outstanding() != 0 {
		t.Errorf("zero state = v%d o%d, want v0 o0", s.Version(), s.Outstanding())
	}

	s = s.next(+1)
	if !s.Unavailable() || s.Outstanding() != 1 || s.Version() != 1 {
		t.Errorf("after +1: unavailable=%v o=%d v=%d", s.Unavailable(), s.Outstanding(), s.Version())
	}

	s = s.next(+1)
	if !s.Unavailable() || s.Outstanding() != 2 || s.Version() != 2 {
		t.Errorf("after +1+1: unavailable=%v o=%d v=%d", s.Unavailable(), s.Outstanding(), s.Version())
	}

	s = s.next(-1)
	if !s.Unavailable() {
		t.Error("still one hold outstanding, phase must stay unavailable")
	}

	s = s.next(-1)
	if s.Unavailable() || s.Outstanding() != 0 {
		t.Errorf("after balanced releases: unavailable=%v o=%d", s.Unavailable(), s.Outstanding())
	}
	if s.Version() != 4 {
		t.Errorf("version = %d, want exactly one bump per replacement (4)", s.Version())
	}
}

func TestState_PhaseEqualsOutstandingPositive(t *testing.T) {
	var s State
	for i := 0; i < 5; i++ {
		s = s.next(+1)
		if s.Unavailable() != (s.Outstanding() > 0) {
			t.Fatalf("phase/counter drift at o=%d", s.Outstanding())
		}
	}
	for i := 0; i < 5; i++ {
		s = s.next(-1)
		if s.Unavailable() != (s.Outstanding() > 0) {
			t.Fatalf("phase/counter drift at o=%d", s.Outstanding())
		}
	}
}
