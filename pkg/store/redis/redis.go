package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quillsign/signsync-go/pkg/store"
	"github.com/quillsign/signsync-go/pkg/types"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixSignature   = "sign:sig:"
	keyPrefixStage       = "sign:stage:"
	keyPrefixContent     = "sign:content:"
	keySchemaVersion     = "sign:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Per-contract party index (Redis doesn't support prefix iteration natively)
	keyPrefixSigIndex = "sign:sigindex:"
)

// RedisStore is the remote signature store tier backed by Redis.
// This is the authoritative document store shared by all clients of a
// workspace; the local badger tier only mirrors it.
type RedisStore struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string // Custom prefix for all keys
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional static Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant
	// setups). If set, this prefix is prepended to all keys, e.g. "acme:"
	// results in keys like "acme:sign:sig:c1:designer". If empty, keys use
	// the default "sign:" prefix only.
	KeyPrefix string
	// CredentialsProvider optionally supplies rotating credentials (for
	// token-authenticated managed Redis). Takes precedence over Password.
	CredentialsProvider func() (username string, password string)
}

// NewRedisStore creates a new Redis-backed remote signature store.
func NewRedisStore(cfg *RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	opts := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.CredentialsProvider != nil {
		opts.CredentialsProvider = cfg.CredentialsProvider
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rs := &RedisStore{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rs.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.KeyPrefix != "" {
		logger.Sugar().Infow("Redis signature store initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)
	} else {
		logger.Sugar().Infow("Redis signature store initialized", "address", cfg.Address, "db", cfg.DB)
	}

	return rs, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisStore) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisStore) signatureKey(contractID string, party types.Party) string {
	return r.prefixKey(fmt.Sprintf("%s%s:%s", keyPrefixSignature, contractID, party))
}

func (r *RedisStore) sigIndexKey(contractID string) string {
	return r.prefixKey(keyPrefixSigIndex + contractID)
}

// initSchema initializes or validates the schema version
func (r *RedisStore) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		// First time setup - set schema version
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// SaveSignature persists a signature record
func (r *RedisStore) SaveSignature(record *types.SignatureRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil SignatureRecord")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("signature store is closed")
	}

	ctx := context.Background()

	data, err := store.MarshalSignatureRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal SignatureRecord: %w", err)
	}

	// Store using a pipeline so record and index stay consistent
	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.signatureKey(record.ContractID, record.Party), data, 0)
	pipe.SAdd(ctx, r.sigIndexKey(record.ContractID), string(record.Party))

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save SignatureRecord: %w", err)
	}

	return nil
}

// LoadSignature retrieves a signature record
func (r *RedisStore) LoadSignature(contractID string, party types.Party) (*types.SignatureRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("signature store is closed")
	}

	ctx := context.Background()

	data, err := r.client.Get(ctx, r.signatureKey(contractID, party)).Bytes()
	if err == redis.Nil {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load SignatureRecord: %w", err)
	}

	record, err := store.UnmarshalSignatureRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal SignatureRecord: %w", err)
	}

	return record, nil
}

// ListSignatures returns all records for a contract in signing order
func (r *RedisStore) ListSignatures(contractID string) ([]*types.SignatureRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("signature store is closed")
	}

	ctx := context.Background()
	indexKey := r.sigIndexKey(contractID)

	parties, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list signature parties: %w", err)
	}

	if len(parties) == 0 {
		return []*types.SignatureRecord{}, nil
	}

	present := make(map[types.Party]bool, len(parties))
	for _, p := range parties {
		present[types.Party(p)] = true
	}

	// Fetch in signing order (designer first) using MGET
	var order []types.Party
	var keys []string
	for _, party := range types.Parties() {
		if present[party] {
			order = append(order, party)
			keys = append(keys, r.signatureKey(contractID, party))
		}
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch SignatureRecords: %w", err)
	}

	records := make([]*types.SignatureRecord, 0, len(values))
	for i, val := range values {
		if val == nil {
			// Party was in index but record doesn't exist - clean up index
			r.client.SRem(ctx, indexKey, string(order[i]))
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for SignatureRecord", "key", keys[i])
			continue
		}

		record, err := store.UnmarshalSignatureRecord([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal SignatureRecord, skipping",
				"key", keys[i], "error", err)
			continue
		}

		records = append(records, record)
	}

	return records, nil
}

// DeleteSignature removes a signature record
func (r *RedisStore) DeleteSignature(contractID string, party types.Party) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("signature store is closed")
	}

	ctx := context.Background()

	// Delete using pipeline
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.signatureKey(contractID, party))
	pipe.SRem(ctx, r.sigIndexKey(contractID), string(party))

	_, err := pipe.Exec(ctx)
	return err
}

// SaveStage persists the workflow stage bookmark
func (r *RedisStore) SaveStage(contractID string, stage types.Stage) error {
	if err := stage.Validate(); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("signature store is closed")
	}

	ctx := context.Background()
	return r.client.Set(ctx, r.prefixKey(keyPrefixStage+contractID), string(stage), 0).Err()
}

// LoadStage retrieves the workflow stage bookmark
func (r *RedisStore) LoadStage(contractID string) (types.Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return "", fmt.Errorf("signature store is closed")
	}

	ctx := context.Background()

	data, err := r.client.Get(ctx, r.prefixKey(keyPrefixStage+contractID)).Result()
	if err == redis.Nil {
		return types.StageEdit, nil // New contracts start at edit
	}
	if err != nil {
		return "", fmt.Errorf("failed to load stage: %w", err)
	}

	stage := types.Stage(data)
	if err := stage.Validate(); err != nil {
		return "", fmt.Errorf("corrupt stage bookmark: %w", err)
	}

	return stage, nil
}

// SaveContent persists the draft content blob
func (r *RedisStore) SaveContent(contractID string, content string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("signature store is closed")
	}

	ctx := context.Background()
	return r.client.Set(ctx, r.prefixKey(keyPrefixContent+contractID), content, 0).Err()
}

// LoadContent retrieves the draft content blob
func (r *RedisStore) LoadContent(contractID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return "", fmt.Errorf("signature store is closed")
	}

	ctx := context.Background()

	data, err := r.client.Get(ctx, r.prefixKey(keyPrefixContent+contractID)).Result()
	if err == redis.Nil {
		return "", nil // No draft yet
	}
	if err != nil {
		return "", fmt.Errorf("failed to load content: %w", err)
	}

	return data, nil
}

// Close shuts down the store tier
func (r *RedisStore) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil // Already closed, idempotent
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis signature store closed")
	return nil
}

// HealthCheck verifies the store tier is operational
func (r *RedisStore) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("signature store is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	schemaKey := r.prefixKey(keySchemaVersion)
	_, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return fmt.Errorf("schema version not found - store may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}
