package ecs

import "github.com/rotisserie/eris"

// Error categories. Every sentinel below wraps exactly one of these, so callers can branch on the
// category with eris.Is without knowing the specific failure.
var (
	// ErrInvalidArgument reports malformed input: bad type lists, oversized types, reserved types.
	ErrInvalidArgument = eris.New("invalid argument")
	// ErrInvalidOperation reports a call made in a context that forbids it.
	ErrInvalidOperation = eris.New("invalid operation")
)

var (
	ErrNullComponentType   = eris.Wrap(ErrInvalidArgument, "null component type")
	ErrTypeNotRegistered   = eris.Wrap(ErrInvalidArgument, "component type is not registered")
	ErrTypeConflict        = eris.Wrap(ErrInvalidArgument, "conflicting component type registration")
	ErrTooManyTypes        = eris.Wrap(ErrInvalidArgument, "too many registered component types")
	ErrComponentTooLarge   = eris.Wrap(ErrInvalidArgument, "component type too large for a chunk")
	ErrArchetypeTooLarge   = eris.Wrap(ErrInvalidArgument, "archetype row does not fit in a chunk")
	ErrAllocationTooLarge  = eris.Wrap(ErrInvalidArgument, "allocation does not fit in one block")
	ErrTooManySharedTypes  = eris.Wrap(ErrInvalidArgument, "too many shared component types in archetype")
	ErrRemoveEntityType    = eris.Wrap(ErrInvalidArgument, "the entity type cannot be removed")
	ErrInvalidQuery        = eris.Wrap(ErrInvalidArgument, "invalid entity query")
	ErrWrongKind           = eris.Wrap(ErrInvalidArgument, "component type has the wrong kind for this operation")
	ErrNotEnableable       = eris.Wrap(ErrInvalidArgument, "component type is not enableable")
	ErrInstantiateCleanup  = eris.Wrap(ErrInvalidArgument, "cannot instantiate an entity pending cleanup")
	ErrEntityNotFound      = eris.Wrap(ErrInvalidArgument, "entity does not exist")
	ErrComponentNotPresent = eris.Wrap(ErrInvalidArgument, "entity does not have the component")
	ErrInvalidConfig       = eris.Wrap(ErrInvalidArgument, "invalid world configuration")

	ErrJobsOutstanding      = eris.Wrap(ErrInvalidOperation, "structural change while jobs are outstanding")
	ErrIterationInProgress  = eris.Wrap(ErrInvalidOperation, "structural change during query iteration")
	ErrNoStructuralBatch    = eris.Wrap(ErrInvalidOperation, "no structural change batch in progress")
	ErrEntityPendingCleanup = eris.Wrap(ErrInvalidOperation, "entity is pending cleanup")
	ErrWorldNotEmpty        = eris.Wrap(ErrInvalidOperation, "world is not empty")
	ErrWorldMismatch        = eris.Wrap(ErrInvalidOperation, "object belongs to a different world")
	ErrEntityLimit          = eris.Wrap(ErrInvalidOperation, "entity index exhausted")
)
