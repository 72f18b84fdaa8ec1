package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineltrust/controlplane/internal/config"
	"github.com/sentineltrust/controlplane/internal/logging"
	"github.com/sentineltrust/controlplane/internal/resilience"
)

func noRetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 1}
}

type stubSigner struct {
	signature []byte
	kid       string
	err       error
}

func (s *stubSigner) Sign(ctx context.Context, digest [32]byte) ([]byte, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return s.signature, s.kid, nil
}

func newTestChain(t *testing.T, s Signer) (*Chain, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logging.New("test", "error", "text")
	chain := NewChain(db, s, config.Testing, nil, logger, WithRetryConfig(noRetryConfig()))
	return chain, mock
}

func TestAppendSignsAndInsertsNewEvent(t *testing.T) {
	signer := &stubSigner{signature: []byte{0xde, 0xad, 0xbe, 0xef}, kid: "kid-1"}
	chain, mock := newTestChain(t, signer)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT hash FROM audit_chain_tail").
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow(nil))
	mock.ExpectQuery("SELECT id FROM audit_events WHERE hash").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE audit_chain_tail SET hash").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	id, hash, _, err := chain.Append(context.Background(), "test.one", map[string]interface{}{"foo": "bar"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NotEmpty(t, hash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendIsIdempotentOnDuplicateHash(t *testing.T) {
	signer := &stubSigner{signature: []byte{0x01}, kid: "kid-1"}
	chain, mock := newTestChain(t, signer)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT hash FROM audit_chain_tail").
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow(nil))
	mock.ExpectQuery("SELECT id FROM audit_events WHERE hash").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing-id"))
	mock.ExpectCommit()

	id, hash, _, err := chain.Append(context.Background(), "test.one", map[string]interface{}{"foo": "bar"})
	require.NoError(t, err)
	assert.Equal(t, "existing-id", id)
	assert.NotEmpty(t, hash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyDetectsBrokenChain(t *testing.T) {
	signer := &stubSigner{}
	chain, mock := newTestChain(t, signer)

	rows := sqlmock.NewRows([]string{"event_type", "payload", "prev_hash", "hash", "ts"}).
		AddRow("test.one", []byte(`{"foo":"bar"}`), "", "not-the-real-hash", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	mock.ExpectQuery("SELECT event_type, payload, COALESCE").
		WillReturnRows(rows)

	err := chain.Verify(context.Background())
	assert.Error(t, err)
}
