package kenobix

import "errors"

// Sentinel errors forming the engine's closed error taxonomy. Errors for
// the conditions below wrap one of these via %w, so callers can test
// with errors.Is; failures reported by the SQL driver itself are wrapped
// with operation context and returned without a sentinel.
var (
	// ErrInvalidDocument is returned when insert/update is given a value
	// that is not a mapping or cannot be serialized to JSON.
	ErrInvalidDocument = errors.New("kenobix: invalid document")

	// ErrInvalidField is returned for an empty/invalid field name, or a
	// nil value where one is disallowed.
	ErrInvalidField = errors.New("kenobix: invalid field")

	// ErrIndexSchemaMismatch is returned when a collection is reopened
	// with an indexed-field set different from its existing table.
	ErrIndexSchemaMismatch = errors.New("kenobix: index schema mismatch")

	// ErrInvalidTransactionState is returned by Begin when already in a
	// transaction, or by Commit/Rollback when idle.
	ErrInvalidTransactionState = errors.New("kenobix: invalid transaction state")

	// ErrDatabaseLocked is returned when the engine reports SQLITE_BUSY
	// after the retry/backoff policy is exhausted.
	ErrDatabaseLocked = errors.New("kenobix: database locked")

	// ErrDatabaseNotBound is returned by ODM operations when no database
	// has been bound via odm.Bind.
	ErrDatabaseNotBound = errors.New("kenobix: database not bound")

	// ErrUnsavedInstance is returned by Delete on a model instance with
	// no assigned ID.
	ErrUnsavedInstance = errors.New("kenobix: unsaved instance")

	// ErrMissingRelation is returned when a required ForeignKey target
	// is absent.
	ErrMissingRelation = errors.New("kenobix: missing relation")

	// ErrInvalidAssignment is returned when nil is assigned to a
	// required (non-optional) relationship.
	ErrInvalidAssignment = errors.New("kenobix: invalid assignment")

	// ErrUnknownLookup is returned for an unrecognized field__op lookup
	// suffix.
	ErrUnknownLookup = errors.New("kenobix: unknown lookup operator")

	// ErrMissingPredicate is returned by DeleteMany when called with no
	// filters.
	ErrMissingPredicate = errors.New("kenobix: missing predicate")

	// ErrSerializationError is returned when structural coercion between
	// a document map and a typed model fails.
	ErrSerializationError = errors.New("kenobix: serialization error")

	// ErrUnsupportedOperation is returned by writes and Begin on a
	// database opened with OpenReadOnly. Direct assignment to a
	// RelatedSet/ManyToMany field is not detected and does not return it.
	ErrUnsupportedOperation = errors.New("kenobix: unsupported operation")
)
