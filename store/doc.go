// Package store provides a request-validated repository layer over an
// entity store.
//
// A [Repository] sits between application request objects and a
// [datastore.Session]. Every write command runs the request's invariants
// and the entity's uniqueness check before anything is staged; every read
// command compiles the request's query options into a fixed pipeline.
//
// # Key Features
//
//   - Uniqueness checks that exclude the entity's own identity on update and restore
//   - Caller-declared invariants evaluated in order, stopping at the first failure
//   - Cascading soft delete with reference-counted archive depth
//   - Guarded hard delete (refused while active dependents exist)
//   - Paginated reads with a total count computed before pagination
//   - Optional strict mode turning empty results into a NoEntityFound issue
//
// # Entities
//
// Entities embed [datastore.Base] and are registered once on a
// [datastore.Schema]:
//
//	schema := datastore.NewSchema()
//	studios := datastore.Register(schema, "studio", func() *Studio { return &Studio{} }).Archivable()
//
// Entities with a uniqueness rule implement [Unique]:
//
//	func (s *Studio) Uniqueness() *store.Uniqueness[*Studio] {
//	    return &store.Uniqueness[*Studio]{
//	        Condition:   StudioName.Eq(s.Name),
//	        Description: "a studio with this name already exists",
//	    }
//	}
//
// # Configuration
//
// Use [DefaultConfig] and register the ownership relations to cascade along:
//
//	cfg := store.DefaultConfig()
//	cfg.Cascade.Registry.Register(cascade.Owns("studio", "title", TitleStudio))
//	repo := store.NewRepository(session, studios, cfg)
//
// # Errors
//
// Rejections are returned as [issue.Issue] values matching these sentinels:
//
//   - [ErrInvalidPagination] - page number or page size below 1
//   - [ErrUniquenessViolation] - a colliding live entity exists
//   - [ErrNoEntityFound] - strict read matched nothing
//   - [ErrCascadeDeleteBlocked] - hard delete refused by the guard
//   - [ErrInvariantViolation] - a request invariant failed
//   - [ErrConcurrencyConflict] - optimistic lock failed on save
//   - [ErrAmbiguousResult] - single-item read matched more than one entity
package store
