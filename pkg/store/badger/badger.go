package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/quillsign/signsync-go/pkg/store"
	"github.com/quillsign/signsync-go/pkg/types"
)

// Key scheme mirrors the browser-local cache keys of the original product,
// so exported data stays recognizable across clients.
const (
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

func signatureKey(contractID string, party types.Party) string {
	return fmt.Sprintf("contract-%s-signature-%s", party, contractID)
}

func stageKey(contractID string) string {
	return fmt.Sprintf("contract-stage-%s", contractID)
}

func contentKey(contractID string) string {
	return fmt.Sprintf("contract-content-%s", contractID)
}

// BadgerStore is the local persistent cache tier backed by Badger.
// Provides durable, disk-based storage that survives restarts, used for
// offline-first reads when the remote signature store is unreachable.
type BadgerStore struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerStore creates a new Badger-backed local cache tier.
// The database is opened at the specified path with SyncWrites enabled for
// durability. A background goroutine is started for garbage collection.
func NewBadgerStore(dataPath string, logger *zap.Logger) (*BadgerStore, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true // Ensure durability (fsync on every write)
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1 // Overwrite semantics, no history

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bs := &BadgerStore{
		db:     db,
		logger: logger,
	}

	if err := bs.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bs.gcCancel = cancel
	bs.gcWg.Add(1)
	go bs.runGC(ctx)

	logger.Sugar().Infow("Badger signature store initialized", "path", absPath)

	return bs, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerStore) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			// First time setup - set schema version
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic garbage collection in the background
func (b *BadgerStore) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *BadgerStore) setKey(key string, value []byte) error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// getKey reads a key, returning nil data when the key does not exist.
func (b *BadgerStore) getKey(key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badgerdb.ErrKeyNotFound {
			return nil // Not found is not an error
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...) // Copy value
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// SaveSignature persists a signature record
func (b *BadgerStore) SaveSignature(record *types.SignatureRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil SignatureRecord")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("signature store is closed")
	}

	data, err := store.MarshalSignatureRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal SignatureRecord: %w", err)
	}

	return b.setKey(signatureKey(record.ContractID, record.Party), data)
}

// LoadSignature retrieves a signature record
func (b *BadgerStore) LoadSignature(contractID string, party types.Party) (*types.SignatureRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("signature store is closed")
	}

	data, err := b.getKey(signatureKey(contractID, party))
	if err != nil {
		return nil, fmt.Errorf("failed to load SignatureRecord: %w", err)
	}
	if data == nil {
		return nil, nil // Not found
	}

	record, err := store.UnmarshalSignatureRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal SignatureRecord: %w", err)
	}

	return record, nil
}

// ListSignatures returns all records for a contract in signing order
func (b *BadgerStore) ListSignatures(contractID string) ([]*types.SignatureRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("signature store is closed")
	}

	records := make([]*types.SignatureRecord, 0, 2)
	for _, party := range types.Parties() {
		data, err := b.getKey(signatureKey(contractID, party))
		if err != nil {
			return nil, fmt.Errorf("failed to list SignatureRecords: %w", err)
		}
		if data == nil {
			continue
		}

		record, err := store.UnmarshalSignatureRecord(data)
		if err != nil {
			b.logger.Sugar().Warnw("Failed to unmarshal SignatureRecord, skipping",
				"contractId", contractID, "party", party, "error", err)
			continue
		}

		records = append(records, record)
	}

	return records, nil
}

// DeleteSignature removes a signature record
func (b *BadgerStore) DeleteSignature(contractID string, party types.Party) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("signature store is closed")
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(signatureKey(contractID, party)))
	})
}

// SaveStage persists the workflow stage bookmark
func (b *BadgerStore) SaveStage(contractID string, stage types.Stage) error {
	if err := stage.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("signature store is closed")
	}

	return b.setKey(stageKey(contractID), []byte(stage))
}

// LoadStage retrieves the workflow stage bookmark
func (b *BadgerStore) LoadStage(contractID string) (types.Stage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return "", fmt.Errorf("signature store is closed")
	}

	data, err := b.getKey(stageKey(contractID))
	if err != nil {
		return "", fmt.Errorf("failed to load stage: %w", err)
	}
	if data == nil {
		return types.StageEdit, nil // New contracts start at edit
	}

	stage := types.Stage(data)
	if err := stage.Validate(); err != nil {
		return "", fmt.Errorf("corrupt stage bookmark: %w", err)
	}

	return stage, nil
}

// SaveContent persists the draft content blob
func (b *BadgerStore) SaveContent(contractID string, content string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("signature store is closed")
	}

	return b.setKey(contentKey(contractID), []byte(content))
}

// LoadContent retrieves the draft content blob
func (b *BadgerStore) LoadContent(contractID string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return "", fmt.Errorf("signature store is closed")
	}

	data, err := b.getKey(contentKey(contractID))
	if err != nil {
		return "", fmt.Errorf("failed to load content: %w", err)
	}

	return string(data), nil
}

// Close shuts down the store tier
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil // Already closed, idempotent
	}
	b.closed = true
	b.mu.Unlock()

	// Stop GC goroutine
	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger signature store closed")
	return nil
}

// HealthCheck verifies the store tier is operational
func (b *BadgerStore) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("signature store is closed")
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
