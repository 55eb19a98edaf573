package memory

import (
	"fmt"
	"sync"

	"github.com/quillsign/signsync-go/pkg/types"
)

type pairKey struct {
	contractID string
	party      types.Party
}

// MemoryStore is an in-memory implementation of ISignatureStore.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies records to prevent external mutation.
type MemoryStore struct {
	mu sync.RWMutex

	// Signature storage: (contract, party) -> record
	signatures map[pairKey]*types.SignatureRecord

	// Stage bookmarks: contract -> stage
	stages map[string]types.Stage

	// Content blobs: contract -> content
	contents map[string]string

	// Failing simulates tier unavailability; every operation errors while set.
	// Used by tests to exercise fallback and fail-open paths.
	failing bool

	closed bool
}

// NewMemoryStore creates a new in-memory signature store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signatures: make(map[pairKey]*types.SignatureRecord),
		stages:     make(map[string]types.Stage),
		contents:   make(map[string]string),
	}
}

// SetFailing toggles simulated tier unavailability.
func (m *MemoryStore) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

func (m *MemoryStore) checkUsable() error {
	if m.closed {
		return fmt.Errorf("signature store is closed")
	}
	if m.failing {
		return fmt.Errorf("signature store is unavailable")
	}
	return nil
}

// SaveSignature persists a signature record.
func (m *MemoryStore) SaveSignature(record *types.SignatureRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil SignatureRecord")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkUsable(); err != nil {
		return err
	}

	// Deep copy to prevent external mutation
	m.signatures[pairKey{record.ContractID, record.Party}] = copyRecord(record)

	return nil
}

// LoadSignature retrieves the record for a (contract, party) pair.
func (m *MemoryStore) LoadSignature(contractID string, party types.Party) (*types.SignatureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkUsable(); err != nil {
		return nil, err
	}

	record, exists := m.signatures[pairKey{contractID, party}]
	if !exists {
		return nil, nil // Not found is not an error
	}

	return copyRecord(record), nil
}

// ListSignatures returns all records for a contract in signing order.
func (m *MemoryStore) ListSignatures(contractID string) ([]*types.SignatureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkUsable(); err != nil {
		return nil, err
	}

	result := make([]*types.SignatureRecord, 0, 2)
	for _, party := range types.Parties() {
		if record, exists := m.signatures[pairKey{contractID, party}]; exists {
			result = append(result, copyRecord(record))
		}
	}

	return result, nil
}

// DeleteSignature removes the record for a (contract, party) pair.
func (m *MemoryStore) DeleteSignature(contractID string, party types.Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkUsable(); err != nil {
		return err
	}

	delete(m.signatures, pairKey{contractID, party})
	return nil
}

// SaveStage persists the workflow stage bookmark for a contract.
func (m *MemoryStore) SaveStage(contractID string, stage types.Stage) error {
	if err := stage.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkUsable(); err != nil {
		return err
	}

	m.stages[contractID] = stage
	return nil
}

// LoadStage retrieves the workflow stage bookmark for a contract.
func (m *MemoryStore) LoadStage(contractID string) (types.Stage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkUsable(); err != nil {
		return "", err
	}

	stage, exists := m.stages[contractID]
	if !exists {
		return types.StageEdit, nil // New contracts start at edit
	}

	return stage, nil
}

// SaveContent persists the draft content blob for a contract.
func (m *MemoryStore) SaveContent(contractID string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkUsable(); err != nil {
		return err
	}

	m.contents[contractID] = content
	return nil
}

// LoadContent retrieves the draft content blob for a contract.
func (m *MemoryStore) LoadContent(contractID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkUsable(); err != nil {
		return "", err
	}

	return m.contents[contractID], nil
}

// Close shuts down the store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the store is operational.
func (m *MemoryStore) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.checkUsable()
}

func copyRecord(r *types.SignatureRecord) *types.SignatureRecord {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}
