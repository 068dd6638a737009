package signage

// NextSlot returns one past the highest slot among keys whose base name is
// <side>_<N>.<ext>, or 1 when there is none. Keys without a numeric slot are
// ignored.
//
// Callers list keys and then write the new object in a separate step, with
// no lock in between. Two concurrent uploads to the same collection can
// compute the same slot and the later Put replaces the earlier object.
// Uploads are rare and human-triggered, so this is accepted.
func NextSlot(keys []string, side Side) int {
	max := 0
	for _, k := range keys {
		if n, ok := parseSlot(baseName(k), side); ok && n > max {
			max = n
		}
	}
	return max + 1
}
