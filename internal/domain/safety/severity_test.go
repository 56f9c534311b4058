package safety

import "testing"

func TestSeverityRankOrder(t *testing.T) {
	order := []Severity{SeverityLow, SeverityModerate, SeverityHigh, SeveritySevere}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s should rank above %s", order[i], order[i-1])
		}
	}
	if Severity("lethal").Rank() != -1 {
		t.Error("unknown severity should rank -1")
	}
}

func TestParseSeverity(t *testing.T) {
	s, err := ParseSeverity("moderate")
	if err != nil || s != SeverityModerate {
		t.Errorf("ParseSeverity(moderate) = %v, %v", s, err)
	}
	if _, err := ParseSeverity("critical"); err == nil {
		t.Error("unknown severity should not parse")
	}
}

func TestMaxSeverity(t *testing.T) {
	if got := MaxSeverity(SeverityLow, SeveritySevere); got != SeveritySevere {
		t.Errorf("MaxSeverity = %s, want severe", got)
	}
	if got := MaxSeverity(SeverityHigh, SeverityModerate); got != SeverityHigh {
		t.Errorf("MaxSeverity = %s, want high", got)
	}
}

func TestSuggestionInvasivenessOrder(t *testing.T) {
	if SuggestionTimeShift.Invasiveness() >= SuggestionSwapMedication.Invasiveness() {
		t.Error("time shift must be less invasive than a swap")
	}
	if SuggestionSwapMedication.Invasiveness() >= SuggestionDropDose.Invasiveness() {
		t.Error("a swap must be less invasive than dropping a dose")
	}
	if SuggestionKind("amputate").Valid() {
		t.Error("unknown kind should be invalid")
	}
}
