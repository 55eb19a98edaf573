package types

import (
	"fmt"
	"time"
)

// Party identifies which side of a contract a signature belongs to.
type Party string

const (
	// PartyDesigner is the contract preparer (first signing party).
	PartyDesigner Party = "designer"
	// PartyClient is the counter-party (second signing party).
	PartyClient Party = "client"
)

func (p Party) String() string {
	return string(p)
}

// Validate checks that the party is one of the two known roles.
func (p Party) Validate() error {
	switch p {
	case PartyDesigner, PartyClient:
		return nil
	default:
		return fmt.Errorf("unknown party: %q (expected %q or %q)", p, PartyDesigner, PartyClient)
	}
}

// Parties returns both signing parties in signing order.
func Parties() []Party {
	return []Party{PartyDesigner, PartyClient}
}

// SignatureRecord is one party's signature on one contract.
// At most one active record exists per (contract, party) pair; saving a new
// record for the same pair overwrites the prior one entirely.
type SignatureRecord struct {
	// ID is a unique identifier for this record (UUID string).
	ID string `json:"id"`

	// ContractID references the parent contract. The contract itself is not
	// owned by this subsystem.
	ContractID string `json:"contractId"`

	// Party is the signing role this record belongs to.
	Party Party `json:"party"`

	// SignatureImage is an opaque data-URI encoded image, possibly empty.
	SignatureImage string `json:"signatureImage,omitempty"`

	// SignerName is the display name entered by the signer.
	SignerName string `json:"signerName"`

	// SignedAt is set once when the record is created and never mutated.
	SignedAt time.Time `json:"signedAt"`
}

// Validate checks the fields required to store a record.
func (r *SignatureRecord) Validate() error {
	if r.ContractID == "" {
		return fmt.Errorf("signature record contract ID cannot be empty")
	}
	return r.Party.Validate()
}

// SignatureState is the derived, cached snapshot of signature presence for
// one contract. It is never persisted authoritatively; it is always
// reconstructable from SignatureRecord existence.
type SignatureState struct {
	ContractID string `json:"contractId"`

	// HasDesignerSignature is true iff a record exists for party=designer.
	HasDesignerSignature bool `json:"hasDesignerSignature"`

	// HasClientSignature is true iff a record exists for party=client.
	HasClientSignature bool `json:"hasClientSignature"`

	// LastChecked is the time of the last reconciliation with the stores.
	LastChecked time.Time `json:"lastChecked"`
}

// HasSignature reports presence for the given party.
func (s *SignatureState) HasSignature(party Party) bool {
	switch party {
	case PartyDesigner:
		return s.HasDesignerSignature
	case PartyClient:
		return s.HasClientSignature
	default:
		return false
	}
}

// CanEditResult is the answer to "may this contract still be edited".
type CanEditResult struct {
	CanEdit bool `json:"canEdit"`

	// Reason is a human-readable explanation, set only when CanEdit is false.
	Reason string `json:"reason,omitempty"`
}

// Stage is the per-contract workflow bookmark. It is advanced by explicit
// user navigation and is not guarded by any server-side authority.
type Stage string

const (
	StageEdit Stage = "edit"
	StageSign Stage = "sign"
	// StageSend is terminal; the navigator performs no automatic transitions
	// out of it.
	StageSend Stage = "send"
)

func (s Stage) String() string {
	return string(s)
}

// Validate checks that the stage is one of the three workflow stages.
func (s Stage) Validate() error {
	switch s {
	case StageEdit, StageSign, StageSend:
		return nil
	default:
		return fmt.Errorf("unknown workflow stage: %q", s)
	}
}
