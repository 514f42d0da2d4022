package internal

import (
	"context"
	"errors"
	"fmt"
	"maps"
)

// Store errors. Apply reports them wrapped with the offending record.
var (
	ErrRecordNotFound  = errors.New("entity record not found")
	ErrRecordExists    = errors.New("entity record already exists")
	ErrVersionMismatch = errors.New("entity record version mismatch")
)

// EntityRecord is the persisted form of one entity: its type, the string
// form of its key, a row version and its plain member values.
type EntityRecord struct {
	TypeName string
	Key      string
	Version  int64
	Values   map[string]any
}

func (r *EntityRecord) clone() *EntityRecord {
	c := *r
	c.Values = maps.Clone(r.Values)
	return &c
}

func (r *EntityRecord) String() string {
	return fmt.Sprintf("%s%s@%d", r.TypeName, r.Key, r.Version)
}

// MutationKind is the write a Mutation performs.
type MutationKind int

const (
	MutationInsert MutationKind = iota
	MutationUpdate
	MutationDelete
)

func (k MutationKind) String() string {
	switch k {
	case MutationInsert:
		return "insert"
	case MutationUpdate:
		return "update"
	case MutationDelete:
		return "delete"
	default:
		return fmt.Sprintf("MutationKind(%d)", int(k))
	}
}

// Mutation is one write of a change set. Updates and deletes only apply when
// the stored version equals ExpectedVersion.
type Mutation struct {
	Kind            MutationKind
	Record          *EntityRecord
	ExpectedVersion int64
}

// EntityStore persists entity records for the domain service.
type EntityStore interface {
	// Get returns the record of typeName with key, or ErrRecordNotFound.
	Get(ctx context.Context, typeName, key string) (*EntityRecord, error)
	// List returns all records of typeName ordered by key.
	List(ctx context.Context, typeName string) ([]*EntityRecord, error)
	// Apply performs all mutations atomically: either every one is applied or
	// none is.
	Apply(ctx context.Context, mutations []Mutation) error
}
