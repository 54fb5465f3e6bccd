package types

// Grade derives the canonical letter grade from a 0..100 score. This is the
// single implementation every analyzer and the Result Factory call; no
// other threshold table exists anywhere else in the tree.
func Grade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 50:
		return "D"
	default:
		return "F"
	}
}

// ClampScore keeps a computed score inside the valid [0,100] range.
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
