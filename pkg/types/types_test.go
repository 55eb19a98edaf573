package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParty_Validate(t *testing.T) {
	require.NoError(t, PartyDesigner.Validate())
	require.NoError(t, PartyClient.Validate())

	err := Party("witness").Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown party")
}

func TestParties_SigningOrder(t *testing.T) {
	parties := Parties()
	require.Len(t, parties, 2)
	assert.Equal(t, PartyDesigner, parties[0])
	assert.Equal(t, PartyClient, parties[1])
}

func TestSignatureRecord_Validate(t *testing.T) {
	record := &SignatureRecord{
		ContractID: "c1",
		Party:      PartyDesigner,
		SignerName: "Ada",
		SignedAt:   time.Now(),
	}
	require.NoError(t, record.Validate())

	record.ContractID = ""
	require.Error(t, record.Validate())

	record.ContractID = "c1"
	record.Party = "nobody"
	require.Error(t, record.Validate())
}

func TestSignatureState_HasSignature(t *testing.T) {
	state := &SignatureState{
		ContractID:           "c1",
		HasDesignerSignature: true,
		HasClientSignature:   false,
	}

	assert.True(t, state.HasSignature(PartyDesigner))
	assert.False(t, state.HasSignature(PartyClient))
	assert.False(t, state.HasSignature(Party("witness")))
}

func TestStage_Validate(t *testing.T) {
	for _, stage := range []Stage{StageEdit, StageSign, StageSend} {
		require.NoError(t, stage.Validate())
	}

	err := Stage("review").Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown workflow stage")
}
