package db

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplBTree  Implementation = "btree"
	ImplBadger Implementation = "badger"
)

// Mode represents the open mode of an engine as bit flags.
// The flags are passed through to the engine unchanged.
type Mode uint32

const (
	OReader   Mode = 1 << iota // open as a reader
	OWriter                    // open as a writer
	OCreate                    // create the repository if it does not exist (writer only)
	OTruncate                  // truncate the repository (writer only)
	OAutoTran                  // every update is its own transaction
	OAutoSync                  // synchronize after every update
	ONoLock                    // open without locking the repository
	OTryLock                   // fail instead of blocking if the repository is locked
	ONoRepair                  // do not repair a broken repository
)

// Has reports whether all bits of flag are set in m.
func (m Mode) Has(flag Mode) bool {
	return m&flag == flag
}

// Feature represents engine features as bit flags
type Feature uint64

const (
	FeatureGet         Feature = 1 << iota // Support for Get operations
	FeatureSet                             // Support for Set operations
	FeatureAdd                             // Support for Add operations
	FeatureReplace                         // Support for Replace operations
	FeatureRemove                          // Support for Remove operations
	FeatureGetBulk                         // Support for GetBulk operations
	FeatureTransaction                     // Support for Begin/EndTransaction
	FeatureAcceptBulk                      // Support for AcceptBulk (visitor) operations
	FeatureCursor                          // Support for ordered cursors
	FeaturePersistence                     // The engine can persist to a repository on disk
)

func (f Feature) String() string {
	switch f {
	case FeatureGet:
		return "Get"
	case FeatureSet:
		return "Set"
	case FeatureAdd:
		return "Add"
	case FeatureReplace:
		return "Replace"
	case FeatureRemove:
		return "Remove"
	case FeatureGetBulk:
		return "GetBulk"
	case FeatureTransaction:
		return "Transaction"
	case FeatureAcceptBulk:
		return "AcceptBulk"
	case FeatureCursor:
		return "Cursor"
	case FeaturePersistence:
		return "Persistence"
	default:
		return "Unknown"
	}
}

// FeaturesAll is the feature set every engine in this module provides.
const FeaturesAll = FeatureGet | FeatureSet | FeatureAdd | FeatureReplace | FeatureRemove |
	FeatureGetBulk | FeatureTransaction | FeatureAcceptBulk | FeatureCursor

type DatabaseInfo struct {
	Path              string         `json:"path"`
	Count             int            `json:"count"`
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Visitor
// --------------------------------------------------------------------------

type actionKind uint8

const (
	actionNop actionKind = iota
	actionReplace
	actionRemove
)

// Action is the outcome of a Visitor call.
type Action struct {
	kind  actionKind
	value []byte
}

// Nop leaves the visited record untouched.
func Nop() Action { return Action{kind: actionNop} }

// ReplaceWith stores value under the visited key, inserting the record if it was absent.
func ReplaceWith(value []byte) Action { return Action{kind: actionReplace, value: value} }

// Remove deletes the visited record. Removing an absent record is a no-op.
func Remove() Action { return Action{kind: actionRemove} }

// IsNop reports whether the action leaves the record untouched.
func (a Action) IsNop() bool { return a.kind == actionNop }

// IsRemove reports whether the action deletes the record.
func (a Action) IsRemove() bool { return a.kind == actionRemove }

// Value returns the replacement value and whether the action is a replacement.
func (a Action) Value() ([]byte, bool) { return a.value, a.kind == actionReplace }

// Visitor is called once per requested key by AcceptBulk. found is false if the key is absent,
// in which case value is nil. The visitor must not retain value after it returns.
type Visitor func(key, value []byte, found bool) Action

// --------------------------------------------------------------------------
// Engine Interface
// --------------------------------------------------------------------------

// Engine is the contract of an embedded ordered key-value engine.
// All failures are reported as Status values (see status.go) so callers can map
// them to their own error taxonomy.
//
// Thread-safety: implementations must allow concurrent calls from different goroutines.
// Transactions are exclusive: a second BeginTransaction blocks until the running one has ended.
type Engine interface {

	// --------------------------------------------------------------------------
	// Lifecycle
	// --------------------------------------------------------------------------

	// Open opens the repository at path with the given mode flags.
	Open(path string, mode Mode) (err error)

	// Close closes the repository. Every cursor created from the engine is invalidated.
	Close() (err error)

	// Synchronize flushes the engine state to durable storage.
	// hard requests a physical sync of the underlying files.
	Synchronize(hard bool) (err error)

	// --------------------------------------------------------------------------
	// Record Operations
	// --------------------------------------------------------------------------

	// Get returns a copy of the value stored for key or StatusNoRec.
	Get(key []byte) (value []byte, err error)

	// Set inserts or overwrites the record for key.
	Set(key, value []byte) (err error)

	// Add inserts the record for key, failing with StatusDupRec if it exists.
	Add(key, value []byte) (err error)

	// Replace overwrites the record for key, failing with StatusNoRec if it does not exist.
	Replace(key, value []byte) (err error)

	// Remove deletes the record for key, failing with StatusNoRec if it does not exist.
	Remove(key []byte) (err error)

	// GetBulk returns copies of all records found for keys. Missing keys are absent from the result.
	// atomic requests that all keys are read under one consistent snapshot.
	GetBulk(keys [][]byte, atomic bool) (records map[string][]byte, err error)

	// --------------------------------------------------------------------------
	// Transactions and Visitors
	// --------------------------------------------------------------------------

	// BeginTransaction starts a transaction. hard requests physical synchronization on commit.
	BeginTransaction(hard bool) (err error)

	// EndTransaction commits (commit=true) or rolls back (commit=false) the running transaction.
	EndTransaction(commit bool) (err error)

	// AcceptBulk calls visitor once per key (in the given order) and applies the returned actions.
	// atomic requests that the whole pass is applied as one unit. The number of visited keys is returned.
	AcceptBulk(keys [][]byte, visitor Visitor, atomic bool) (visited int, err error)

	// --------------------------------------------------------------------------
	// Iteration
	// --------------------------------------------------------------------------

	// Cursor creates a new unpositioned cursor.
	Cursor() Cursor

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the engine supports the specified feature(s).
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// Info returns information about the engine.
	Info() (info DatabaseInfo)
}

// Cursor is a stateful position inside an Engine's key order.
// A cursor is not safe for concurrent use.
type Cursor interface {
	// Jump positions the cursor at the first record.
	Jump() error
	// JumpTo positions the cursor at the first record whose key is >= key.
	JumpTo(key []byte) error
	// JumpBack positions the cursor at the last record.
	JumpBack() error
	// JumpBackTo positions the cursor at the last record whose key is <= key.
	JumpBackTo(key []byte) error
	// Step moves the cursor to the next record.
	Step() error
	// StepBack moves the cursor to the previous record.
	StepBack() error
	// Get returns copies of the key and value at the current position.
	// If advance is true the cursor steps forward afterwards.
	Get(advance bool) (key, value []byte, err error)
	// GetKey returns a copy of the key at the current position.
	GetKey(advance bool) (key []byte, err error)
	// GetValue returns a copy of the value at the current position.
	GetValue(advance bool) (value []byte, err error)
	// Close releases the cursor.
	Close() error
}
