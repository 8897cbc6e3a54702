package store

import "errors"

// Sentinel errors returned by the connection layer and repositories to
// signal well-known failure conditions. Callers should use [errors.Is] to
// match against these values.
var (
	// ErrNotConnected is returned when a data method is invoked before
	// Connect has succeeded or after Close. The layer never silently
	// reconnects.
	ErrNotConnected = errors.New("database is not connected")

	// ErrConnectionFailed is returned when opening or pinging the
	// underlying resource fails.
	ErrConnectionFailed = errors.New("database connection failed")

	// ErrRecordNotFound is returned when a lookup expected to match one
	// record produces an empty result set. Soft-deleted rows count as
	// absent on every normal query path.
	ErrRecordNotFound = errors.New("record was not found")

	// ErrDuplicateKey is returned when an insert violates a unique
	// constraint (e.g. two users with the same telegram id).
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrMissingID is returned when an operation that requires a persisted
	// record (update, delete, restore) receives an entity without an
	// identifier.
	ErrMissingID = errors.New("entity has no identifier")
)

// Low-level database operation errors. These are returned (or wrapped) by
// repository methods when a SQL-level operation fails before any domain
// logic can be applied.
var (
	// ErrBuildingSQLQuery is returned when constructing a parameterised
	// SQL query fails.
	ErrBuildingSQLQuery = errors.New("error building sql query")

	// ErrExecutingQuery is returned when executing a SELECT or similar
	// read-only query against the database fails.
	ErrExecutingQuery = errors.New("error executing sql query")

	// ErrBeginningTransaction is returned when the database driver cannot
	// start a new transaction.
	ErrBeginningTransaction = errors.New("failed to begin transaction")

	// ErrCommitingTransaction is returned when committing an open
	// transaction fails. The transaction is considered rolled back at
	// this point.
	ErrCommitingTransaction = errors.New("failed to commit transaction")

	// ErrScanningRow is returned when scanning column values from a
	// single result row into a destination struct fails.
	ErrScanningRow = errors.New("failed to scan row")

	// ErrScanningRows is returned when scanning column values during
	// multi-row iteration fails, typically mid-result-set.
	ErrScanningRows = errors.New("failed to scan rows")
)
