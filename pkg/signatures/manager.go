package signatures

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quillsign/signsync-go/pkg/events"
	"github.com/quillsign/signsync-go/pkg/statecache"
	"github.com/quillsign/signsync-go/pkg/store"
	"github.com/quillsign/signsync-go/pkg/types"
)

// Manager is the signature command API: it writes signature records through
// the remote store, mirrors presence into the local persistent cache,
// invalidates the state cache, and publishes events for mounted consumers.
//
// Write failures are returned to the caller (user-visible) and never
// retried automatically; read-path degradation is handled by the cache.
type Manager struct {
	remote store.ISignatureStore
	local  store.ISignatureStore
	cache  *statecache.SignatureStateCache
	bus    *events.Bus
	logger *zap.Logger
}

// NewManager creates a signature command manager.
func NewManager(remote, local store.ISignatureStore, cache *statecache.SignatureStateCache, bus *events.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		remote: remote,
		local:  local,
		cache:  cache,
		bus:    bus,
		logger: logger,
	}
}

// SaveSignature records a party's signature on a contract. Any prior record
// for the same (contract, party) pair is overwritten entirely. SignedAt is
// set here and never mutated afterwards.
func (m *Manager) SaveSignature(contractID string, party types.Party, signatureImage, signerName, source string) (*types.SignatureRecord, error) {
	if contractID == "" {
		return nil, errors.New("contract ID cannot be empty")
	}
	if err := party.Validate(); err != nil {
		return nil, err
	}

	record := &types.SignatureRecord{
		ID:             uuid.NewString(),
		ContractID:     contractID,
		Party:          party,
		SignatureImage: signatureImage,
		SignerName:     signerName,
		SignedAt:       time.Now().UTC(),
	}

	if err := m.remote.SaveSignature(record); err != nil {
		return nil, errors.Wrapf(err, "failed to save %s signature for contract %s", party, contractID)
	}

	// Mirror into the local cache for offline-first reads. Best effort: the
	// remote write already succeeded, so a mirror failure only costs
	// fallback coverage.
	if err := m.local.SaveSignature(record); err != nil {
		m.logger.Sugar().Warnw("Failed to mirror signature to local cache",
			"contractId", contractID, "party", party, "error", err)
	}

	m.cache.Invalidate(contractID)

	state := m.cache.GetSignatureState(contractID)
	m.bus.Publish(events.SignatureStateChanged{
		ContractID:           contractID,
		HasDesignerSignature: state.HasDesignerSignature,
		HasClientSignature:   state.HasClientSignature,
		Source:               source,
	})

	m.logger.Sugar().Infow("Signature saved",
		"contractId", contractID, "party", party, "signer", signerName)

	return record, nil
}

// RemoveSignature deletes a party's signature record from both tiers,
// invalidates the cache, and publishes a removal event so subscribers drop
// their copies. Idempotent when no record exists.
func (m *Manager) RemoveSignature(contractID string, party types.Party, source string) error {
	if contractID == "" {
		return errors.New("contract ID cannot be empty")
	}
	if err := party.Validate(); err != nil {
		return err
	}

	if err := m.remote.DeleteSignature(contractID, party); err != nil {
		return errors.Wrapf(err, "failed to remove %s signature for contract %s", party, contractID)
	}

	if err := m.local.DeleteSignature(contractID, party); err != nil {
		m.logger.Sugar().Warnw("Failed to remove signature from local cache",
			"contractId", contractID, "party", party, "error", err)
	}

	m.cache.Invalidate(contractID)

	m.bus.Publish(events.SignatureRemoved{
		ContractID: contractID,
		Party:      string(party),
		Source:     source,
	})

	m.logger.Sugar().Infow("Signature removed", "contractId", contractID, "party", party)

	return nil
}

// GetSignature returns the stored record for a (contract, party) pair, nil
// when none exists. Reads the remote tier first, falling back to the local
// mirror when the remote store is unreachable.
func (m *Manager) GetSignature(contractID string, party types.Party) (*types.SignatureRecord, error) {
	if contractID == "" {
		return nil, nil
	}
	if err := party.Validate(); err != nil {
		return nil, err
	}

	record, err := m.remote.LoadSignature(contractID, party)
	if err != nil {
		m.logger.Sugar().Warnw("Remote signature read failed, trying local cache",
			"contractId", contractID, "party", party, "error", err)
		return m.local.LoadSignature(contractID, party)
	}

	return record, nil
}

// HasSignature reports whether a record exists for the pair, with the same
// fallback behavior as GetSignature.
func (m *Manager) HasSignature(contractID string, party types.Party) (bool, error) {
	record, err := m.GetSignature(contractID, party)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}
