package analyzers

import "testing"

func TestMobileScoreCleanPage(t *testing.T) {
	if got := mobileScore(true, 0, 16); got != 100 {
		t.Errorf("expected 100, got %v", got)
	}
}

func TestMobileScoreNoViewport(t *testing.T) {
	if got := mobileScore(false, 0, 16); got != 60 {
		t.Errorf("expected 60, got %v", got)
	}
}

func TestMobileScoreUndersizedTargets(t *testing.T) {
	if got := mobileScore(true, 5, 16); got != 85 {
		t.Errorf("expected 85, got %v", got)
	}
}

func TestMobileScoreSmallFont(t *testing.T) {
	if got := mobileScore(true, 0, 12); got != 90 {
		t.Errorf("expected 90, got %v", got)
	}
}

func TestMobileScoreClampsAtZero(t *testing.T) {
	if got := mobileScore(false, 50, 10); got != 0 {
		t.Errorf("expected clamp to 0, got %v", got)
	}
}
