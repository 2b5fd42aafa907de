package keyhash

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/goccy/go-reflect"
)

// Hasher can be implemented by key types to provide their own hash.
type Hasher interface {
	HashKey() uint64
}

// Func hashes a key into 64 bits.
// The result is stable for the life of the process and identical on every node built from the same binary.
type Func[K comparable] func(K) uint64

var (
	funcsMu sync.RWMutex
	funcs   = map[string]any{}
)

// For returns the hash function for the key type K.
// Functions are built once per type and cached.
func For[K comparable]() Func[K] {
	var zero K
	name := typeName(zero)

	funcsMu.RLock()
	f, ok := funcs[name]
	funcsMu.RUnlock()
	if ok {
		return f.(Func[K])
	}

	funcsMu.Lock()
	defer funcsMu.Unlock()
	if f, ok := funcs[name]; ok {
		return f.(Func[K])
	}
	h := build[K](zero)
	funcs[name] = h
	return h
}

// typeName returns the cache key of the type of v.
// Interface-typed keys have no dynamic type in their zero value and share the generic hasher.
func typeName(v any) string {
	if v == nil {
		return "<interface>"
	}
	return reflect.TypeOf(v).String()
}

func build[K comparable](zero K) Func[K] {
	if _, ok := any(zero).(Hasher); ok {
		return func(k K) uint64 {
			return mix(any(k).(Hasher).HashKey())
		}
	}

	switch any(zero).(type) {
	case string:
		return func(k K) uint64 {
			return mix(fnvString(any(k).(string)))
		}
	case int:
		return intHash[K](func(k K) uint64 { return uint64(any(k).(int)) })
	case int8:
		return intHash[K](func(k K) uint64 { return uint64(any(k).(int8)) })
	case int16:
		return intHash[K](func(k K) uint64 { return uint64(any(k).(int16)) })
	case int32:
		return intHash[K](func(k K) uint64 { return uint64(any(k).(int32)) })
	case int64:
		return intHash[K](func(k K) uint64 { return uint64(any(k).(int64)) })
	case uint:
		return intHash[K](func(k K) uint64 { return uint64(any(k).(uint)) })
	case uint8:
		return intHash[K](func(k K) uint64 { return uint64(any(k).(uint8)) })
	case uint16:
		return intHash[K](func(k K) uint64 { return uint64(any(k).(uint16)) })
	case uint32:
		return intHash[K](func(k K) uint64 { return uint64(any(k).(uint32)) })
	case uint64:
		return intHash[K](func(k K) uint64 { return any(k).(uint64) })
	case float32:
		return intHash[K](func(k K) uint64 { return uint64(math.Float32bits(any(k).(float32))) })
	case float64:
		return intHash[K](func(k K) uint64 { return math.Float64bits(any(k).(float64)) })
	case bool:
		return intHash[K](func(k K) uint64 {
			if any(k).(bool) {
				return 1
			}
			return 0
		})
	default:
		// arrays, structs and interface keys: hash the Go-syntax representation,
		// prefixed by the dynamic type so equal-looking values of different types differ.
		return func(k K) uint64 {
			return mix(fnvString(fmt.Sprintf("%T:%#v", k, k)))
		}
	}
}

func intHash[K comparable](bits func(K) uint64) Func[K] {
	return func(k K) uint64 {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], bits(k))
		return mix(fnvBytes(b[:]))
	}
}

// String hashes a string the same way a string key is hashed.
// It is used to place ring tokens.
func String(s string) uint64 {
	return mix(fnvString(s))
}

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

func fnvString(s string) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime64
	}
	return h
}

func fnvBytes(b []byte) uint64 {
	h := uint64(fnvOffset64)
	for _, c := range b {
		h ^= uint64(c)
		h *= fnvPrime64
	}
	return h
}

// mix is the murmur3 finalizer; FNV alone clusters short keys on a hash ring.
func mix(h uint64) uint64 {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}
