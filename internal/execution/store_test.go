package execution

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveGetList(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "actions.db"), filepath.Join(dir, "actions.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	action := NewAction(NewActionID(), "deposit", "eip155:1", Constraints{Simulate: true})
	action.Protocol = "erc4626"
	action.Steps = append(action.Steps, ActionStep{
		StepID:  "deposit",
		Type:    StepTypeDeposit,
		Status:  StepStatusPending,
		ChainID: "eip155:1",
		Target:  "0x0000000000000000000000000000000000000001",
		Data:    "0x",
		Value:   "0",
	})
	if err := store.Save(action); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(action.ActionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ActionID != action.ActionID || got.Protocol != "erc4626" {
		t.Fatalf("unexpected action: %+v", got)
	}

	got.Status = ActionStatusCompleted
	if err := store.Save(got); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}
	completed, err := store.List(string(ActionStatusCompleted), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(completed) != 1 {
		t.Fatalf("expected one completed action, got %d", len(completed))
	}
	planned, err := store.List(string(ActionStatusPlanned), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(planned) != 0 {
		t.Fatalf("expected upsert to replace planned row, got %d", len(planned))
	}
}

func TestStoreGetMissingAction(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "actions.db"), filepath.Join(dir, "actions.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if _, err := store.Get("missing"); err == nil {
		t.Fatal("expected missing action error")
	}
}

func TestPostgresStoreSave(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	action := NewAction("act_pg", "stake", "eip155:146", Constraints{})
	action.Protocol = "liquid-staking"

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO actions (action_id, intent_type, protocol, status, chain_id, created_at, updated_at, payload)")).
		WithArgs("act_pg", "stake", "liquid-staking", "planned", "eip155:146", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, store.Save(action))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetAndList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	payload, err := json.Marshal(Action{ActionID: "act_pg", IntentType: "swap", Status: ActionStatusProposed})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM actions WHERE action_id = $1")).
		WithArgs("act_pg").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
	got, err := store.Get("act_pg")
	require.NoError(t, err)
	assert.Equal(t, ActionStatusProposed, got.Status)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM actions WHERE status = $1 ORDER BY updated_at DESC LIMIT $2")).
		WithArgs("proposed", 5).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
	listed, err := store.List("proposed", 5)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM actions WHERE action_id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	_, err = store.Get("missing")
	assert.ErrorContains(t, err, "action not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}
