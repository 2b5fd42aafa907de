package txcache_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/karupanerura/txcache"
)

// Test structs with different cloning behaviors
type TestClonerStruct struct {
	Value int
}

func (s *TestClonerStruct) Clone() *TestClonerStruct {
	return &TestClonerStruct{
		Value: s.Value,
	}
}

type TestDeepCopyerStruct struct {
	Value int
}

func (s *TestDeepCopyerStruct) DeepCopy() *TestDeepCopyerStruct {
	return &TestDeepCopyerStruct{
		Value: s.Value,
	}
}

func TestDefaultClonerWithCloneMethod(t *testing.T) {
	t.Parallel()

	// Test with pointer type that has Clone method
	cloner := txcache.DefaultValueCloner[*TestClonerStruct]()
	original := &TestClonerStruct{Value: 42}
	cloned := cloner.CloneValue(original)

	if original == cloned {
		t.Error("Expected different pointer, got same pointer")
	}
	if original.Value != cloned.Value {
		t.Errorf("Expected same value, got original=%d, cloned=%d", original.Value, cloned.Value)
	}

	// Modify original to verify deep copy
	original.Value = 100
	if cloned.Value != 42 {
		t.Errorf("Expected cloned value to remain unchanged, got %d", cloned.Value)
	}
}

func TestDefaultClonerWithDeepCopyMethod(t *testing.T) {
	t.Parallel()

	// Test with pointer type that has DeepCopy method
	cloner := txcache.DefaultValueCloner[*TestDeepCopyerStruct]()
	original := &TestDeepCopyerStruct{Value: 42}
	cloned := cloner.CloneValue(original)

	if original == cloned {
		t.Error("Expected different pointer, got same pointer")
	}
	if original.Value != cloned.Value {
		t.Errorf("Expected same value, got original=%d, cloned=%d", original.Value, cloned.Value)
	}

	// Modify original to verify deep copy
	original.Value = 100
	if cloned.Value != 42 {
		t.Errorf("Expected cloned value to remain unchanged, got %d", cloned.Value)
	}
}

func TestDefaultClonerWithNoSpecialMethod(t *testing.T) {
	t.Parallel()

	// Test with pointer type that has no Clone or DeepCopy method
	type SimpleStruct struct {
		Value int
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for type with no special methods, but did not panic")
		}
	}()
	txcache.DefaultValueCloner[*SimpleStruct]()
}

func TestDefaultClonerImplementation(t *testing.T) {
	t.Parallel()

	// Verify the correct interface implementation is chosen
	clonerStruct := txcache.DefaultValueCloner[*TestClonerStruct]()
	deepCopyerStruct := txcache.DefaultValueCloner[*TestDeepCopyerStruct]()
	stringCloner := txcache.DefaultValueCloner[string]()
	intCloner := txcache.DefaultValueCloner[int]()

	// Check if the cloner is ValueClonerFunc
	_, ok := clonerStruct.(txcache.ValueClonerFunc[*TestClonerStruct])
	if !ok {
		t.Error("Expected ValueClonerFunc for type with Clone method")
	}

	// Check if the deep copier is ValueClonerFunc
	_, ok = deepCopyerStruct.(txcache.ValueClonerFunc[*TestDeepCopyerStruct])
	if !ok {
		t.Error("Expected ValueClonerFunc for type with DeepCopy method")
	}

	// Check if string gets NopValueCloner
	_, ok = stringCloner.(txcache.NopValueCloner[string])
	if !ok {
		t.Error("Expected NopValueCloner for type with no special methods")
	}

	// Check if int gets NopValueCloner
	_, ok = intCloner.(txcache.NopValueCloner[int])
	if !ok {
		t.Error("Expected NopValueCloner for type with no special methods")
	}
}

func TestDefaultClonerWithByteSlice(t *testing.T) {
	t.Parallel()

	cloner := txcache.DefaultValueCloner[[]byte]()
	original := []byte("value1")
	cloned := cloner.CloneValue(original)
	if !bytes.Equal(original, cloned) {
		t.Errorf("Expected same bytes, got original=%q, cloned=%q", original, cloned)
	}

	original[0] = 'X'
	if string(cloned) != "value1" {
		t.Errorf("Expected cloned bytes to remain unchanged, got %q", cloned)
	}

	if got := cloner.CloneValue(nil); got != nil {
		t.Errorf("Expected nil to stay nil, got %q", got)
	}
}

func TestCloneEntry(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	original := &txcache.CacheEntry[string, *TestClonerStruct]{
		Entry:    txcache.Entry[string, *TestClonerStruct]{Key: "k", Value: &TestClonerStruct{Value: 1}},
		Version:  3,
		Created:  now,
		LastUsed: now,
		Lifespan: time.Second,
	}
	cloned := txcache.CloneEntry(txcache.DefaultValueCloner[*TestClonerStruct](), original)
	if cloned == original || cloned.Value == original.Value {
		t.Fatal("Expected entry and value to be copied")
	}
	if cloned.Version != 3 || !cloned.Created.Equal(now) || cloned.Lifespan != time.Second || cloned.Value.Value != 1 {
		t.Errorf("Unexpected clone: %+v", cloned)
	}

	if txcache.CloneEntry[string](txcache.NopValueCloner[int]{}, nil) != nil {
		t.Error("Expected nil entry to stay nil")
	}
}
