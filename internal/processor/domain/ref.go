package domain

// Ref is an expandable processor reference: either a bare id or the id plus
// the expanded object. Callers narrow with Object instead of inspecting shape.
type Ref[T any] struct {
	id  string
	obj *T
}

func RefID[T any](id string) Ref[T] {
	return Ref[T]{id: id}
}

func Expanded[T any](id string, obj *T) Ref[T] {
	return Ref[T]{id: id, obj: obj}
}

func (r Ref[T]) ID() string { return r.id }

// Object returns the expanded object when the reference carries one.
func (r Ref[T]) Object() (*T, bool) {
	return r.obj, r.obj != nil
}

func (r Ref[T]) IsZero() bool {
	return r.id == "" && r.obj == nil
}
