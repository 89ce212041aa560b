package phase

import "testing"

func TestParse(t *testing.T) {
	for _, p := range All() {
		got, err := Parse(p.String())
		if err != nil {
			t.Errorf("Parse(%q) error = %v", p, err)
		}
		if got != p {
			t.Errorf("Parse(%q) = %q", p, got)
		}
	}

	if _, err := Parse("waiting_activation"); err == nil {
		t.Error("Parse should reject unknown phases")
	}
}

func TestAllOrder(t *testing.T) {
	all := All()
	if len(all) != 9 {
		t.Fatalf("expected 9 phases, got %d", len(all))
	}
	if all[0] != Idle || all[len(all)-1] != Error {
		t.Errorf("unexpected ordering: %v", all)
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		phase    Phase
		terminal bool
		capture  bool
		active   bool
	}{
		{Idle, false, false, false},
		{PairingRequest, false, false, true},
		{HelloHuman, false, false, true},
		{ScanPrompt, false, false, true},
		{QrDisplay, false, false, true},
		{HumanDetect, false, true, true},
		{Processing, false, true, true},
		{Complete, true, false, true},
		{Error, true, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			if got := tt.phase.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.phase.IsCapture(); got != tt.capture {
				t.Errorf("IsCapture() = %v, want %v", got, tt.capture)
			}
			if got := tt.phase.IsActive(); got != tt.active {
				t.Errorf("IsActive() = %v, want %v", got, tt.active)
			}
		})
	}
}
