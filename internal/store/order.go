package store

// Order arrays hold chapter ids; these helpers are the only place the arrays
// are manipulated.

func containsID(order []string, id string) bool {
	for _, existing := range order {
		if existing == id {
			return true
		}
	}
	return false
}

func removeID(order []string, id string) []string {
	out := make([]string, 0, len(order))
	for _, existing := range order {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// insertAt places id at index, clamping out-of-range indexes to the ends. A
// negative index appends.
func insertAt(order []string, id string, index int) []string {
	if index < 0 || index > len(order) {
		index = len(order)
	}
	out := make([]string, 0, len(order)+1)
	out = append(out, order[:index]...)
	out = append(out, id)
	out = append(out, order[index:]...)
	return out
}
