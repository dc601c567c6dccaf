package geometry

// Range is an inclusive [Min,Max] numeric interval, used e.g. for the
// acceptable prefix-ratio window in a LineLength rule.
type Range[T Number] struct {
	Min T `json:"min"`
	Max T `json:"max"`
}

// Contains reports whether v falls within [Min,Max].
func (r Range[T]) Contains(v T) bool {
	return v >= r.Min && v <= r.Max
}
