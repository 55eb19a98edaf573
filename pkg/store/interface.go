package store

import "github.com/quillsign/signsync-go/pkg/types"

// ISignatureStore defines the interface for a signature document store tier.
// All implementations must be thread-safe as cache reconciliation runs
// lookups for both parties concurrently.
//
// The interface supports:
// - Signature record management (save, load, list, delete)
// - Workflow stage bookmarks (per-contract UX position)
// - Contract content blobs (draft text, used for stage gating)
// - Lifecycle management (close, health check)
//
// The same interface backs both the remote signature store (redis) and the
// local persistent cache (badger); the state cache reconciles the two tiers.
type ISignatureStore interface {
	// Signature Record Management

	// SaveSignature persists a signature record keyed by (contract, party).
	// A record for the same pair is overwritten entirely (no versioning).
	// Returns error only on storage failure.
	SaveSignature(record *types.SignatureRecord) error

	// LoadSignature retrieves the record for a (contract, party) pair.
	// Returns nil if no record exists, error only on storage failure.
	LoadSignature(contractID string, party types.Party) (*types.SignatureRecord, error)

	// ListSignatures returns all records for a contract in signing order
	// (designer first). Returns empty slice if none exist, error only on
	// storage failure.
	ListSignatures(contractID string) ([]*types.SignatureRecord, error)

	// DeleteSignature removes the record for a (contract, party) pair.
	// Idempotent - returns nil if no record exists.
	// Returns error only on storage failure.
	DeleteSignature(contractID string, party types.Party) error

	// Workflow Stage Bookmarks

	// SaveStage persists the workflow stage bookmark for a contract.
	// Overwrites any existing bookmark.
	SaveStage(contractID string, stage types.Stage) error

	// LoadStage retrieves the workflow stage bookmark for a contract.
	// Returns StageEdit if no bookmark exists (new contract), error only on
	// storage failure.
	LoadStage(contractID string) (types.Stage, error)

	// Contract Content Blobs

	// SaveContent persists the draft content blob for a contract.
	// The blob is opaque to this subsystem.
	SaveContent(contractID string, content string) error

	// LoadContent retrieves the draft content blob for a contract.
	// Returns empty string if none exists, error only on storage failure.
	LoadContent(contractID string) (string, error)

	// Lifecycle Management

	// Close cleanly shuts down the store tier.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations should return errors.
	Close() error

	// HealthCheck verifies the store tier is operational.
	// Returns nil if healthy, error describing the problem if not.
	HealthCheck() error
}
