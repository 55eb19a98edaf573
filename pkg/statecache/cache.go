package statecache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quillsign/signsync-go/pkg/events"
	"github.com/quillsign/signsync-go/pkg/store"
	"github.com/quillsign/signsync-go/pkg/types"
)

const (
	// DefaultTTL is the cache freshness window before forced reconciliation.
	// Seconds-scale: stale enough to absorb bursts of UI queries, fresh
	// enough that cross-client changes show up quickly.
	DefaultTTL = 15 * time.Second

	// DefaultRemotePollRate bounds reconciliations against the remote store
	// across all auto-refresh watchers.
	DefaultRemotePollRate = rate.Limit(10)
	defaultRemotePollBurst = 20

	// EditLockedReason is the fixed message returned when editing is blocked.
	EditLockedReason = "This contract has been signed. Remove the signature before making changes."
)

// Clock abstracts time for TTL tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// PermissiveDefault is the named fail-open policy: when neither the remote
// store nor the local cache can be read, signature checks report "unsigned"
// so an infrastructure hiccup never locks a user out of editing.
func PermissiveDefault(contractID string, now time.Time) *types.SignatureState {
	return &types.SignatureState{
		ContractID:           contractID,
		HasDesignerSignature: false,
		HasClientSignature:   false,
		LastChecked:          now,
	}
}

// Config tunes the cache; zero values select defaults.
type Config struct {
	// TTL is the freshness window; entries older than this re-reconcile.
	TTL time.Duration
	// Clock overrides the time source (tests).
	Clock Clock
	// RemotePollRate / RemotePollBurst bound auto-refresh reconciliations.
	RemotePollRate  rate.Limit
	RemotePollBurst int
}

// SignatureStateCache maintains, per contract, the freshest known
// SignatureState, minimizing redundant remote-store calls while tolerating
// staleness. It reconciles the remote signature store and the local
// persistent cache into one authoritative-for-now snapshot.
//
// Merge policy: per party, a remote read error falls back to local presence;
// a remote miss is overridden by local presence (local wins if remote
// absent); total failure of both tiers degrades to PermissiveDefault.
type SignatureStateCache struct {
	remote store.ISignatureStore
	local  store.ISignatureStore
	logger *zap.Logger
	clock  Clock
	ttl    time.Duration

	limiter *rate.Limiter

	mu      sync.RWMutex
	entries map[string]*types.SignatureState
}

// NewSignatureStateCache creates a cache over the two store tiers.
func NewSignatureStateCache(remote, local store.ISignatureStore, logger *zap.Logger, cfg *Config) *SignatureStateCache {
	if cfg == nil {
		cfg = &Config{}
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}

	pollRate := cfg.RemotePollRate
	if pollRate <= 0 {
		pollRate = DefaultRemotePollRate
	}
	pollBurst := cfg.RemotePollBurst
	if pollBurst <= 0 {
		pollBurst = defaultRemotePollBurst
	}

	return &SignatureStateCache{
		remote:  remote,
		local:   local,
		logger:  logger,
		clock:   clock,
		ttl:     ttl,
		limiter: rate.NewLimiter(pollRate, pollBurst),
		entries: make(map[string]*types.SignatureState),
	}
}

// GetSignatureState returns the signature snapshot for a contract.
// A cached entry within the TTL window is returned without I/O; otherwise
// both party records are reconciled from the store tiers. An empty
// contractID returns the permissive default rather than an error, to keep
// UI consumers simple.
func (c *SignatureStateCache) GetSignatureState(contractID string) *types.SignatureState {
	if contractID == "" {
		return PermissiveDefault(contractID, c.clock.Now())
	}

	c.mu.RLock()
	entry, exists := c.entries[contractID]
	if exists && c.clock.Now().Sub(entry.LastChecked) < c.ttl {
		snapshot := *entry
		c.mu.RUnlock()
		return &snapshot
	}
	c.mu.RUnlock()

	return c.reconcile(contractID)
}

// Refresh forces reconciliation regardless of TTL and returns the fresh
// snapshot.
func (c *SignatureStateCache) Refresh(contractID string) *types.SignatureState {
	if contractID == "" {
		return PermissiveDefault(contractID, c.clock.Now())
	}
	return c.reconcile(contractID)
}

// reconcile queries both party records in parallel, merges the tiers, and
// installs the snapshot.
func (c *SignatureStateCache) reconcile(contractID string) *types.SignatureState {
	parties := types.Parties()
	presence := make([]bool, len(parties))

	var wg sync.WaitGroup
	for i, party := range parties {
		wg.Add(1)
		go func(i int, party types.Party) {
			defer wg.Done()
			presence[i] = c.lookupParty(contractID, party)
		}(i, party)
	}
	wg.Wait()

	state := &types.SignatureState{
		ContractID:           contractID,
		HasDesignerSignature: presence[0],
		HasClientSignature:   presence[1],
		LastChecked:          c.clock.Now(),
	}

	c.mu.Lock()
	c.entries[contractID] = state
	c.mu.Unlock()

	snapshot := *state
	return &snapshot
}

// lookupParty resolves one party's signature presence across the tiers.
func (c *SignatureStateCache) lookupParty(contractID string, party types.Party) bool {
	record, err := c.remote.LoadSignature(contractID, party)
	if err != nil {
		c.logger.Sugar().Warnw("Remote signature lookup failed, falling back to local cache",
			"contractId", contractID, "party", party, "error", err)

		local, lerr := c.local.LoadSignature(contractID, party)
		if lerr != nil {
			// Both tiers down: fail open.
			c.logger.Sugar().Warnw("Local signature lookup failed, applying permissive default",
				"contractId", contractID, "party", party, "error", lerr)
			return false
		}
		return local != nil
	}

	if record != nil {
		return true
	}

	// Remote reachable but absent: local wins if present. Covers writes that
	// reached the local mirror before remote replication caught up.
	local, lerr := c.local.LoadSignature(contractID, party)
	if lerr != nil {
		return false
	}
	return local != nil
}

// CanEditContract reports whether the contract may still be edited.
// Editing is gated solely by the designer's own signature; the client's
// signature never blocks the designer. Pure derivation from
// GetSignatureState.
func (c *SignatureStateCache) CanEditContract(contractID string) types.CanEditResult {
	state := c.GetSignatureState(contractID)
	if state.HasDesignerSignature {
		return types.CanEditResult{CanEdit: false, Reason: EditLockedReason}
	}
	return types.CanEditResult{CanEdit: true}
}

// Invalidate drops the cached entry for one contract. Idempotent; the next
// GetSignatureState is forced to re-reconcile.
func (c *SignatureStateCache) Invalidate(contractID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, contractID)
}

// InvalidateAll drops every cached entry.
func (c *SignatureStateCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*types.SignatureState)
}

// AttachBus subscribes the cache to the event bus: optimistic state-change
// notifications overwrite the cached snapshot, and removal notifications
// invalidate it. Returns the subscription ID.
func (c *SignatureStateCache) AttachBus(bus *events.Bus) string {
	return bus.Subscribe(func(event events.Event) {
		switch e := event.(type) {
		case events.SignatureStateChanged:
			c.applyChange(e)
		case events.SignatureRemoved:
			c.Invalidate(e.ContractID)
		}
	}, events.KindSignatureStateChanged, events.KindSignatureRemoved)
}

// applyChange installs an optimistic snapshot from a state-change event.
// Not authoritative: the next TTL expiry re-reconciles against the stores.
func (c *SignatureStateCache) applyChange(e events.SignatureStateChanged) {
	if e.ContractID == "" {
		return
	}

	state := &types.SignatureState{
		ContractID:           e.ContractID,
		HasDesignerSignature: e.HasDesignerSignature,
		HasClientSignature:   e.HasClientSignature,
		LastChecked:          c.clock.Now(),
	}

	c.mu.Lock()
	c.entries[e.ContractID] = state
	c.mu.Unlock()
}

// StartAutoRefresh re-reconciles a contract on a fixed interval until the
// context is cancelled, publishing a SignatureStateChanged event whenever
// the observed presence flips. Reconciliations are throttled by the shared
// rate limiter so many watched contracts cannot stampede the remote store.
func (c *SignatureStateCache) StartAutoRefresh(ctx context.Context, bus *events.Bus, contractID string, interval time.Duration) {
	if contractID == "" || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		previous := c.GetSignatureState(contractID)

		for {
			select {
			case <-ticker.C:
				if !c.limiter.Allow() {
					continue // Over the remote poll budget; try next tick
				}

				current := c.Refresh(contractID)
				if current.HasDesignerSignature != previous.HasDesignerSignature ||
					current.HasClientSignature != previous.HasClientSignature {
					bus.Publish(events.SignatureStateChanged{
						ContractID:           contractID,
						HasDesignerSignature: current.HasDesignerSignature,
						HasClientSignature:   current.HasClientSignature,
						Source:               "auto-refresh",
					})
				}
				previous = current
			case <-ctx.Done():
				return
			}
		}
	}()
}
