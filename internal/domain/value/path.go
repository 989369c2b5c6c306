package value

// Lookup walks path through nested objects starting at v.
// The second result is false as soon as a segment is missing or an
// intermediate value is not an object. An empty path resolves to v.
func (v Value) Lookup(path []string) (Value, bool) {
	cur := v
	for _, seg := range path {
		next, ok := cur.Field(seg)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}
