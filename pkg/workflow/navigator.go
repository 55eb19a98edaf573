package workflow

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quillsign/signsync-go/pkg/events"
	"github.com/quillsign/signsync-go/pkg/statecache"
	"github.com/quillsign/signsync-go/pkg/store"
	"github.com/quillsign/signsync-go/pkg/types"
)

var (
	// ErrEmptyContent blocks edit -> sign while the draft is empty.
	ErrEmptyContent = errors.New("contract content is empty; add content before signing")

	// ErrMissingDesignerSignature blocks sign -> send until the designer has
	// signed.
	ErrMissingDesignerSignature = errors.New("designer signature required before sending")

	// ErrContractSigned blocks sign -> edit while a designer signature
	// exists; the unsign prompt flow handles it.
	ErrContractSigned = errors.New("contract is signed; remove the signature to edit")

	// ErrTerminalStage is returned when advancing from send.
	ErrTerminalStage = errors.New("send is the final workflow stage")
)

// Navigator drives the linear edit -> sign -> send workflow for a contract.
// The stage is a client-side bookmark persisted in the local store; no
// server-side authority guards it. Signature gating goes through the
// signature state cache so navigation and edit-lock decisions always agree.
type Navigator struct {
	local  store.ISignatureStore
	cache  *statecache.SignatureStateCache
	bus    *events.Bus
	logger *zap.Logger
}

// NewNavigator creates a workflow navigator.
func NewNavigator(local store.ISignatureStore, cache *statecache.SignatureStateCache, bus *events.Bus, logger *zap.Logger) *Navigator {
	return &Navigator{
		local:  local,
		cache:  cache,
		bus:    bus,
		logger: logger,
	}
}

// Stage returns the current workflow stage for a contract.
// New contracts start at edit.
func (n *Navigator) Stage(contractID string) (types.Stage, error) {
	if contractID == "" {
		return types.StageEdit, nil
	}
	return n.local.LoadStage(contractID)
}

// Advance moves the contract one stage forward and persists the bookmark.
//
// Gates:
//   - edit -> sign requires a non-empty content blob
//   - sign -> send requires an existing designer signature
//   - send is terminal
func (n *Navigator) Advance(contractID string, source string) (types.Stage, error) {
	if contractID == "" {
		return types.StageEdit, errors.New("contract ID cannot be empty")
	}

	current, err := n.local.LoadStage(contractID)
	if err != nil {
		return "", errors.Wrapf(err, "failed to load stage for contract %s", contractID)
	}

	switch current {
	case types.StageEdit:
		content, err := n.local.LoadContent(contractID)
		if err != nil {
			return current, errors.Wrapf(err, "failed to load content for contract %s", contractID)
		}
		if content == "" {
			return current, ErrEmptyContent
		}
		return n.setStage(contractID, types.StageSign)

	case types.StageSign:
		state := n.cache.GetSignatureState(contractID)
		if !state.HasDesignerSignature {
			return current, ErrMissingDesignerSignature
		}
		return n.setStage(contractID, types.StageSend)

	case types.StageSend:
		return current, ErrTerminalStage

	default:
		return current, errors.Errorf("unknown workflow stage: %q", current)
	}
}

// Back moves the contract one stage backward.
//
// send -> sign is always permitted. sign -> edit is gated by the edit lock:
// if a designer signature exists, the transition is refused and a
// requestUnsignPrompt event is published so a UI layer can offer removal
// instead of silently failing. Back at edit is a no-op.
func (n *Navigator) Back(contractID string, source string) (types.Stage, error) {
	if contractID == "" {
		return types.StageEdit, errors.New("contract ID cannot be empty")
	}

	current, err := n.local.LoadStage(contractID)
	if err != nil {
		return "", errors.Wrapf(err, "failed to load stage for contract %s", contractID)
	}

	switch current {
	case types.StageSend:
		return n.setStage(contractID, types.StageSign)

	case types.StageSign:
		result := n.cache.CanEditContract(contractID)
		if !result.CanEdit {
			n.bus.Publish(events.RequestUnsignPrompt{
				ContractID: contractID,
				Source:     source,
			})
			n.logger.Sugar().Infow("Edit blocked by existing signature, unsign prompt requested",
				"contractId", contractID, "reason", result.Reason)
			return current, ErrContractSigned
		}
		return n.setStage(contractID, types.StageEdit)

	case types.StageEdit:
		return current, nil

	default:
		return current, errors.Errorf("unknown workflow stage: %q", current)
	}
}

func (n *Navigator) setStage(contractID string, stage types.Stage) (types.Stage, error) {
	if err := n.local.SaveStage(contractID, stage); err != nil {
		return stage, errors.Wrapf(err, "failed to persist stage for contract %s", contractID)
	}
	return stage, nil
}
