// Package storage provides entry store adapters.
//
// AnnotatedStorage wraps any txcache.EntryStore so that its errors name the failed operation
// (ErrGet, ErrApply, ErrInstall, ErrRemoveVersion, ErrSnapshot), and FunctionsStorage builds
// an entry store out of function callbacks.
//
// The in-memory implementation lives in storage/memstorage and the conformance suite in storage/storagetest.
package storage
