// Package kvstore is the client-side persistence abstraction. Per §9 the
// crypto core needs nothing more than get/set/delete over a string-keyed
// opaque byte blob; the teacher's dynamic-dispatch storage interface
// (in-memory, filesystem, browser-local) is re-architected here as a
// tagged-variant Backend selected once at construction.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when key has no value.
var ErrNotFound = errors.New("kvstore: not found")

// Backend is the minimum persistence surface the crypto core requires.
// Identity, sender-chain, and receiver-chain state are all stored as
// opaque JSON blobs under namespaced keys (see identity.Store and
// senderchain.Manager for the key layout).
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns every key with the given prefix. Used to enumerate
	// a conversation's receiving chain state when it is destroyed.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Kind selects a Backend variant at construction (§9 — "tagged-variant
// storage backend selected at construction").
type Kind string

const (
	KindMemory Kind = "memory"
	KindFile   Kind = "file"
)

// Open constructs the requested Backend variant. dir is only meaningful
// for KindFile.
func Open(kind Kind, dir string) (Backend, error) {
	switch kind {
	case KindMemory, "":
		return NewMemory(), nil
	case KindFile:
		return NewFile(dir)
	default:
		return nil, errors.New("kvstore: unknown backend kind " + string(kind))
	}
}
