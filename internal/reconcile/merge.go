package reconcile

// Merge replaces the shot with the same ID in shots, or appends it when the
// shot is new. The input slice is not modified.
func Merge(shots []Shot, fresh Shot) []Shot {
	out := make([]Shot, len(shots), len(shots)+1)
	copy(out, shots)
	for i := range out {
		if out[i].ID == fresh.ID {
			out[i] = fresh
			return out
		}
	}
	return append(out, fresh)
}

// Find returns the shot with the given ID.
func Find(shots []Shot, id string) (Shot, bool) {
	for _, shot := range shots {
		if shot.ID == id {
			return shot, true
		}
	}
	return Shot{}, false
}
