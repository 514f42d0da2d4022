package ria

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/bits"
	"reflect"
	"strings"
)

// EntityKey is the identity of an entity: an ordered, immutable sequence of
// comparable components. The zero EntityKey has no components and is not a
// valid identity.
type EntityKey struct {
	components []any
}

// NewEntityKey builds a key from one or more components. Every component must
// be non-nil and comparable.
func NewEntityKey(values ...any) (EntityKey, error) {
	if len(values) == 0 {
		return EntityKey{}, fmt.Errorf("%w: at least one key component is required", ErrInvalidKey)
	}
	components := make([]any, len(values))
	for i, v := range values {
		if isNil(v) {
			return EntityKey{}, fmt.Errorf("%w: component %d is nil", ErrInvalidKey, i)
		}
		if !reflect.ValueOf(v).Comparable() {
			return EntityKey{}, fmt.Errorf("%w: component %d of type %T is not comparable", ErrInvalidKey, i, v)
		}
		components[i] = v
	}
	return EntityKey{components: components}, nil
}

// MustEntityKey is like NewEntityKey but panics on invalid input.
func MustEntityKey(values ...any) EntityKey {
	k, err := NewEntityKey(values...)
	if err != nil {
		panic(err)
	}
	return k
}

// Len returns the number of components.
func (k EntityKey) Len() int {
	return len(k.components)
}

// IsZero reports whether the key has no components.
func (k EntityKey) IsZero() bool {
	return len(k.components) == 0
}

// Components returns a copy of the key components.
func (k EntityKey) Components() []any {
	out := make([]any, len(k.components))
	copy(out, k.components)
	return out
}

// Equal reports whether both keys have the same arity and pairwise equal
// components. A NaN component equals a NaN of the same type.
func (k EntityKey) Equal(other EntityKey) bool {
	if len(k.components) != len(other.components) {
		return false
	}
	for i := range k.components {
		if !componentEqual(k.components[i], other.components[i]) {
			return false
		}
	}
	return true
}

func componentEqual(a, b any) bool {
	if a == b {
		return true
	}
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		return ok && math.IsNaN(x) && math.IsNaN(y)
	case float32:
		y, ok := b.(float32)
		return ok && math.IsNaN(float64(x)) && math.IsNaN(float64(y))
	}
	return false
}

// Hash combines the component hashes. Equal keys hash equally.
func (k EntityKey) Hash() uint64 {
	var h uint64
	for _, c := range k.components {
		ch := fnv.New64a()
		fmt.Fprintf(ch, "%T:%v", c, c)
		h = bits.RotateLeft64(h, 7) ^ ch.Sum64()
	}
	return h
}

// String renders the key as {v1,v2,...}.
func (k EntityKey) String() string {
	parts := make([]string, len(k.components))
	for i, c := range k.components {
		parts[i] = fmt.Sprint(c)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
