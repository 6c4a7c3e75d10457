package defaults

func Value[T any](value *T, def T) T {
	if value == nil {
		return def
	}
	return *value
}

func NonZero[T comparable](value T, def T) T {
	var zero T
	if value == zero {
		return def
	}
	return value
}
