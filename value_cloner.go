package txcache

import (
	"bytes"
	"reflect"
)

// ValueCloner is an interface for cloning values.
// Stores clone values when an entry is committed and again when it is read,
// so callers never share memory with the committed view.
type ValueCloner[V ValueConstraint] interface {
	CloneValue(V) V
}

// ValueClonerFunc is a function type that implements the ValueCloner interface.
type ValueClonerFunc[V ValueConstraint] func(v V) V

// CloneValue calls the function.
func (f ValueClonerFunc[V]) CloneValue(v V) V {
	return f(v)
}

// NopValueCloner is a value cloner that does not clone values.
// It is used for immutable values such as strings and numbers.
type NopValueCloner[V ValueConstraint] struct{}

// CloneValue returns the input value.
func (NopValueCloner[V]) CloneValue(v V) V {
	return v
}

// DefaultValueCloner returns a default cloner for the given value type.
// Byte slices are copied, scalar kinds are not cloned at all, and any other type
// must implement a Clone or DeepCopy method returning the same type.
func DefaultValueCloner[V ValueConstraint]() ValueCloner[V] {
	var zero V
	return defaultValueClonerAny[V](zero)
}

func defaultValueClonerAny[V ValueConstraint](v any) ValueCloner[V] {
	type cloner interface {
		Clone() V
	}
	type deepCopier interface {
		DeepCopy() V
	}

	switch v.(type) {
	case []byte:
		return ValueClonerFunc[V](func(v V) V {
			var a any = v
			b := a.([]byte)
			if b == nil {
				return v
			}
			return any(bytes.Clone(b)).(V)
		})

	case cloner:
		return ValueClonerFunc[V](func(v V) V {
			var a any = v
			return a.(cloner).Clone()
		})

	case deepCopier:
		return ValueClonerFunc[V](func(v V) V {
			var a any = v
			return a.(deepCopier).DeepCopy()
		})

	default:
		return defaultValueClonerReflect[V](reflect.TypeFor[V]())
	}
}

func defaultValueClonerReflect[V ValueConstraint](typ reflect.Type) ValueCloner[V] {
	switch typ.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr, reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.String:
		return NopValueCloner[V]{}
	default:
		panic("value type " + typ.String() + " does not have Clone or DeepCopy method")
	}
}

// CloneEntry returns a copy of the entry with its value cloned.
func CloneEntry[K KeyConstraint, V ValueConstraint](cloner ValueCloner[V], e *CacheEntry[K, V]) *CacheEntry[K, V] {
	if e == nil {
		return nil
	}
	c := *e
	c.Value = cloner.CloneValue(e.Value)
	return &c
}
