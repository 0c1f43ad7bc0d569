package location

// SelectBest folds next into the running best fix. A fix replaces the current
// best only when strictly more accurate, so ties keep the earliest one.
func SelectBest(best *Position, next Position) *Position {
	if best == nil || next.Accuracy < best.Accuracy {
		return &next
	}
	return best
}

// FoldBest returns the most accurate valid fix in order, or nil.
func FoldBest(fixes []Position) *Position {
	var best *Position
	for _, f := range fixes {
		if !f.Valid() {
			continue
		}
		best = SelectBest(best, f)
	}
	return best
}
