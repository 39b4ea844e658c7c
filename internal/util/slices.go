package util

func FindFunc[E any](s []E, f func(E) bool) (e E, ok bool) {
	for _, e := range s {
		if f(e) {
			return e, true
		}
	}
	return e, false
}

// Remove returns s with every element equal to v removed, preserving
// order. The underlying array is reused.
func Remove[E comparable, S ~[]E](s S, v E) S {
	out := s[:0]
	for _, e := range s {
		if e != v {
			out = append(out, e)
		}
	}
	clear(s[len(out):])
	return out
}
