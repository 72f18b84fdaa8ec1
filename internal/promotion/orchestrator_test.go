package promotion

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineltrust/controlplane/internal/checkservice"
	"github.com/sentineltrust/controlplane/internal/multisig"
)

func sqlErrNoRows() error { return sql.ErrNoRows }

type recordingAudit struct {
	events []string
}

func (f *recordingAudit) Append(ctx context.Context, eventType string, payload map[string]interface{}) (string, string, time.Time, error) {
	f.events = append(f.events, eventType)
	return "evt-" + eventType, "hash-" + eventType, time.Now().UTC(), nil
}

type fakeChecker struct {
	decision checkservice.Decision
	err      error
}

func (f *fakeChecker) Check(ctx context.Context, req checkservice.Request) (checkservice.Decision, error) {
	return f.decision, f.err
}

type fakeAllocator struct {
	result AllocationResult
	err    error
	called bool
}

func (f *fakeAllocator) Allocate(ctx context.Context, req AllocationRequest) (AllocationResult, error) {
	f.called = true
	return f.result, f.err
}

type fakeMultisig struct {
	manifest *multisig.Manifest
	err      error
	called   bool
}

func (f *fakeMultisig) Submit(ctx context.Context, target multisig.Target, payload map[string]interface{}, requiredApprovals int, thresholdSet []string) (*multisig.Manifest, error) {
	f.called = true
	return f.manifest, f.err
}

func TestOrchestratorFailsLowScoreBeforeAllocating(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, artifact_ref, status").
		WillReturnError(sqlErrNoRows())
	mock.ExpectExec("INSERT INTO promotions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE promotions SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	checker := &fakeChecker{decision: checkservice.Decision{Allowed: true}}
	allocator := &fakeAllocator{result: AllocationResult{Accepted: true}}
	audit := &recordingAudit{}

	orch := NewOrchestrator(NewStore(db), audit, checker, allocator, nil, DefaultSentinelConfig(), 0.95, nil)
	p, err := orch.Promote(context.Background(), Candidate{
		ArtifactRef:    "artifact-1",
		Environment:    "staging",
		Evaluation:     Evaluation{Pool: "general", Delta: 0.1, Score: 0.5},
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)
	assert.False(t, allocator.called)
	assert.Equal(t, []string{"promotion.failed"}, audit.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestratorAcceptsHighScorePromotion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, artifact_ref, status").
		WillReturnError(sqlErrNoRows())
	mock.ExpectExec("INSERT INTO promotions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE promotions SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	checker := &fakeChecker{decision: checkservice.Decision{Allowed: true}}
	allocator := &fakeAllocator{result: AllocationResult{Accepted: true}}
	audit := &recordingAudit{}

	orch := NewOrchestrator(NewStore(db), audit, checker, allocator, nil, DefaultSentinelConfig(), 0.95, nil)
	p, err := orch.Promote(context.Background(), Candidate{
		ArtifactRef:    "artifact-1",
		Environment:    "staging",
		Evaluation:     Evaluation{Pool: "general", Delta: 0.1, Score: 0.9},
		IdempotencyKey: "key-2",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, p.Status)
	assert.True(t, allocator.called)
	assert.Equal(t, []string{"promotion.accepted"}, audit.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestratorReturnsExistingPromotionForDuplicateIdempotencyKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "artifact_ref", "status", "reason", "score", "evaluation", "idempotency_key", "event_id"}).
		AddRow("promo-1", "artifact-1", string(StatusAccepted), "", 0.9, []byte(`{}`), "key-3", "evt-1")
	mock.ExpectQuery("SELECT id, artifact_ref, status").WillReturnRows(rows)

	checker := &fakeChecker{}
	allocator := &fakeAllocator{}
	audit := &recordingAudit{}

	orch := NewOrchestrator(NewStore(db), audit, checker, allocator, nil, DefaultSentinelConfig(), 0.95, nil)
	p, err := orch.Promote(context.Background(), Candidate{IdempotencyKey: "key-3"})
	require.NoError(t, err)
	assert.Equal(t, "promo-1", p.ID)
	assert.False(t, allocator.called)
	assert.Empty(t, audit.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestratorRoutesThroughMultisigWhenScoreBelowCeiling(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, artifact_ref, status").WillReturnError(sqlErrNoRows())
	mock.ExpectExec("INSERT INTO promotions").WillReturnResult(sqlmock.NewResult(1, 1))

	checker := &fakeChecker{decision: checkservice.Decision{Allowed: true}}
	allocator := &fakeAllocator{result: AllocationResult{Accepted: true}}
	ms := &fakeMultisig{manifest: &multisig.Manifest{ID: "upg-1"}}
	audit := &recordingAudit{}

	orch := NewOrchestrator(NewStore(db), audit, checker, allocator, ms, DefaultSentinelConfig(), 0.95, nil)
	p, err := orch.Promote(context.Background(), Candidate{
		ArtifactRef:          "artifact-1",
		Environment:          "prod",
		Evaluation:           Evaluation{Pool: "general", Delta: 0.1, Score: 0.85},
		IdempotencyKey:       "key-4",
		MultisigThresholdSet: []string{"alice", "bob", "carol"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.True(t, ms.called)
	assert.False(t, allocator.called)
	assert.NoError(t, mock.ExpectationsWereMet())
}
