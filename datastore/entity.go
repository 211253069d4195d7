// Package datastore defines the entity store the repository layer runs on.
//
// The store is a collaborator: this package only describes what the core
// needs from it (a per-type queryable source, staged add/attach/remove,
// transactions and a save that may report a concurrency conflict) plus the
// small pieces every implementation shares.
//
// Entity types are registered once on a [Schema] when the model is
// described:
//
//	schema := datastore.NewSchema()
//	studios := datastore.Register(schema, "studio", func() *Studio { return &Studio{} }).Archivable()
package datastore

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyExists is returned when inserting an entity whose key is already stored.
	ErrAlreadyExists = errors.New("arbor: entity already exists")

	// ErrUnknownType is returned when an entity type was never registered on the schema.
	ErrUnknownType = errors.New("arbor: unknown entity type")
)

// Entity is the base interface for all storable types.
type Entity interface {
	// EntityType returns the registered type name (e.g., "studio").
	EntityType() string

	// EntityID returns the identity key, unique within the type.
	EntityID() string
}

// SoftDeleter is implemented by archivable entities.
type SoftDeleter interface {
	// ArchiveDepth returns 0 for active entities and the number of
	// archive cascades currently covering the entity otherwise.
	ArchiveDepth() int
	SetArchiveDepth(depth int)
}

// Versioned is implemented by entities with an optimistic lock version.
type Versioned interface {
	EntityVersion() int64
	SetEntityVersion(v int64)
}

// Audited is implemented by entities with created/modified timestamps.
type Audited interface {
	Touch(created bool, now time.Time)
}

// Base carries the identity, audit, archive and version fields.
// Embed it in entity structs.
type Base struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	Deleted    int       `json:"deleted"`
	Version    int64     `json:"version"`
}

// NewID returns a new random identity key.
func NewID() string {
	return uuid.NewString()
}

func (b *Base) EntityID() string          { return b.ID }
func (b *Base) ArchiveDepth() int         { return b.Deleted }
func (b *Base) SetArchiveDepth(depth int) { b.Deleted = depth }
func (b *Base) EntityVersion() int64      { return b.Version }
func (b *Base) SetEntityVersion(v int64)  { b.Version = v }

// Touch updates the audit timestamps.
func (b *Base) Touch(created bool, now time.Time) {
	if created || b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.ModifiedAt = now
}

// Ref returns the type-qualified reference of an entity (e.g., "studio#uuid").
func Ref(e Entity) string {
	return e.EntityType() + "#" + e.EntityID()
}

// SoftDelete reads and writes the archive depth of an entity.
type SoftDelete struct {
	// Field is the persisted attribute holding the depth.
	Field string
	Get   func(Entity) int
	Set   func(Entity, int)
}

// DefaultSoftDelete uses the SoftDeleter methods and the "deleted" attribute.
func DefaultSoftDelete() SoftDelete {
	return SoftDelete{
		Field: "deleted",
		Get: func(e Entity) int {
			if sd, ok := e.(SoftDeleter); ok {
				return sd.ArchiveDepth()
			}
			return 0
		},
		Set: func(e Entity, depth int) {
			if sd, ok := e.(SoftDeleter); ok {
				sd.SetArchiveDepth(depth)
			}
		},
	}
}
