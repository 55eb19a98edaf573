package badger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsign/signsync-go/pkg/logger"
	"github.com/quillsign/signsync-go/pkg/types"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()

	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bs, err := NewBadgerStore(tmpDir, testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	return bs
}

func sampleRecord(contractID string, party types.Party) *types.SignatureRecord {
	return &types.SignatureRecord{
		ID:             "rec-" + contractID + "-" + string(party),
		ContractID:     contractID,
		Party:          party,
		SignatureImage: "data:image/png;base64,AAAA",
		SignerName:     "Ada",
		SignedAt:       time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

func TestBadgerStore_SaveAndLoadSignature(t *testing.T) {
	bs := newTestStore(t)

	record := sampleRecord("c1", types.PartyDesigner)
	require.NoError(t, bs.SaveSignature(record))

	loaded, err := bs.LoadSignature("c1", types.PartyDesigner)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, record, loaded)
}

func TestBadgerStore_LoadSignature_NotFound(t *testing.T) {
	bs := newTestStore(t)

	loaded, err := bs.LoadSignature("missing", types.PartyClient)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBadgerStore_SaveSignature_Nil(t *testing.T) {
	bs := newTestStore(t)

	err := bs.SaveSignature(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil SignatureRecord")
}

func TestBadgerStore_SaveSignature_Overwrites(t *testing.T) {
	bs := newTestStore(t)

	require.NoError(t, bs.SaveSignature(sampleRecord("c1", types.PartyDesigner)))

	second := sampleRecord("c1", types.PartyDesigner)
	second.ID = "rec-2"
	second.SignerName = "Grace"
	require.NoError(t, bs.SaveSignature(second))

	loaded, err := bs.LoadSignature("c1", types.PartyDesigner)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "rec-2", loaded.ID)
	assert.Equal(t, "Grace", loaded.SignerName)
}

func TestBadgerStore_DeleteSignature_Idempotent(t *testing.T) {
	bs := newTestStore(t)

	require.NoError(t, bs.SaveSignature(sampleRecord("c1", types.PartyDesigner)))
	require.NoError(t, bs.DeleteSignature("c1", types.PartyDesigner))

	loaded, err := bs.LoadSignature("c1", types.PartyDesigner)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Delete non-existent record (should not error)
	require.NoError(t, bs.DeleteSignature("c1", types.PartyDesigner))
}

func TestBadgerStore_ListSignatures(t *testing.T) {
	bs := newTestStore(t)

	require.NoError(t, bs.SaveSignature(sampleRecord("c1", types.PartyClient)))
	require.NoError(t, bs.SaveSignature(sampleRecord("c1", types.PartyDesigner)))
	require.NoError(t, bs.SaveSignature(sampleRecord("c2", types.PartyDesigner)))

	records, err := bs.ListSignatures("c1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Signing order: designer first
	assert.Equal(t, types.PartyDesigner, records[0].Party)
	assert.Equal(t, types.PartyClient, records[1].Party)
}

func TestBadgerStore_Stage_DefaultsToEdit(t *testing.T) {
	bs := newTestStore(t)

	stage, err := bs.LoadStage("new-contract")
	require.NoError(t, err)
	assert.Equal(t, types.StageEdit, stage)
}

func TestBadgerStore_Stage_SaveAndLoad(t *testing.T) {
	bs := newTestStore(t)

	require.NoError(t, bs.SaveStage("c1", types.StageSend))

	stage, err := bs.LoadStage("c1")
	require.NoError(t, err)
	assert.Equal(t, types.StageSend, stage)
}

func TestBadgerStore_Content_SaveAndLoad(t *testing.T) {
	bs := newTestStore(t)

	content, err := bs.LoadContent("c1")
	require.NoError(t, err)
	assert.Empty(t, content)

	require.NoError(t, bs.SaveContent("c1", "Deliverables and payment terms."))

	content, err = bs.LoadContent("c1")
	require.NoError(t, err)
	assert.Equal(t, "Deliverables and payment terms.", content)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bs, err := NewBadgerStore(tmpDir, testLogger)
	require.NoError(t, err)

	require.NoError(t, bs.SaveSignature(sampleRecord("c1", types.PartyDesigner)))
	require.NoError(t, bs.SaveStage("c1", types.StageSign))
	require.NoError(t, bs.Close())

	reopened, err := NewBadgerStore(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	loaded, err := reopened.LoadSignature("c1", types.PartyDesigner)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	stage, err := reopened.LoadStage("c1")
	require.NoError(t, err)
	assert.Equal(t, types.StageSign, stage)
}

func TestBadgerStore_Close_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bs, err := NewBadgerStore(tmpDir, testLogger)
	require.NoError(t, err)

	require.NoError(t, bs.Close())
	require.NoError(t, bs.Close())

	_, err = bs.LoadSignature("c1", types.PartyDesigner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestBadgerStore_HealthCheck(t *testing.T) {
	bs := newTestStore(t)
	require.NoError(t, bs.HealthCheck())

	require.NoError(t, bs.Close())
	require.Error(t, bs.HealthCheck())
}
