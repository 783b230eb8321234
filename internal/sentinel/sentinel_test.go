package sentinel

import "testing"

func TestIsUnusableLabel(t *testing.T) {
	cases := map[string]bool{
		"":                   true,
		"12345":              true,
		"X1":                 true,
		"LOGICAL_VOLUME_ID":  true,
		"MOVIE_DISC_1":       true,
		"THE_MATRIX_RELOADED_DISC": true,
		"Inception":          false,
		"Breaking Bad S01":   false,
	}
	for label, want := range cases {
		if got := isUnusableLabel(label); got != want {
			t.Errorf("isUnusableLabel(%q) = %v, want %v", label, got, want)
		}
	}
}

func TestUsableLabelMasksGeneric(t *testing.T) {
	if got := UsableLabel("12345"); got != "" {
		t.Fatalf("UsableLabel(generic) = %q, want empty", got)
	}
	if got := UsableLabel("Inception"); got != "Inception" {
		t.Fatalf("UsableLabel(real title) = %q, want unchanged", got)
	}
}

func TestParseLSBLKLabelFSType(t *testing.T) {
	output := `LABEL="INCEPTION" FSTYPE="udf"` + "\n"
	label, fstype := parseLSBLKLabelFSType(output)
	if label != "INCEPTION" || fstype != "udf" {
		t.Fatalf("parseLSBLKLabelFSType() = (%q, %q)", label, fstype)
	}
}

func TestDriveStatusPresent(t *testing.T) {
	if !statusDiscOK.present() {
		t.Fatal("statusDiscOK should be present")
	}
	if statusNoDisc.present() || statusTrayOpen.present() || statusNotReady.present() {
		t.Fatal("only statusDiscOK should be present")
	}
}

func TestPollOnceCoalescesUnchangedState(t *testing.T) {
	s := &Sentinel{state: map[string]driveState{"/dev/sr0": {present: true, label: "INCEPTION"}}}

	s.mu.Lock()
	prev, known := s.state["/dev/sr0"]
	changed := !known || prev.present != true || prev.label != "INCEPTION"
	s.mu.Unlock()

	if changed {
		t.Fatal("expected no change for identical (present, label) pair")
	}
}
