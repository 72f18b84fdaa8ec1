package eventconsumer

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineltrust/controlplane/internal/audit"
	"github.com/sentineltrust/controlplane/internal/config"
	"github.com/sentineltrust/controlplane/internal/logging"
)

type noopSigner struct{}

func (noopSigner) Sign(ctx context.Context, digest [32]byte) ([]byte, string, error) {
	return []byte{0x01}, "kid", nil
}

func newTestPollSource(t *testing.T) (*PollSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logging.New("test", "error", "text")
	chain := audit.NewChain(db, noopSigner{}, config.Testing, nil, logger)
	return NewPollSource(chain, time.Minute, logger), mock
}

func TestPollSourcePollDeliversNewEventsAndAdvancesLastSeen(t *testing.T) {
	src, mock := newTestPollSource(t)

	ts := src.lastSeen.Add(time.Second)
	rows := sqlmock.NewRows([]string{"id", "event_type", "payload", "prev_hash", "hash", "signature", "signer_kid", "ts", "retention_expires_at"}).
		AddRow("evt-1", "policy.decision", []byte(`{"allowed":true}`), "", "hash-1", "sig-1", "kid-1", ts, nil)
	mock.ExpectQuery("SELECT id, event_type, payload, COALESCE").WillReturnRows(rows)

	var delivered []RawEvent
	src.poll(context.Background(), func(e RawEvent) error {
		delivered = append(delivered, e)
		return nil
	})

	require.Len(t, delivered, 1)
	assert.Equal(t, "evt-1", delivered[0].ID)
	assert.Equal(t, ts, src.lastSeen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPollSourcePollSkipsEventsNotAfterLastSeen(t *testing.T) {
	src, mock := newTestPollSource(t)
	src.lastSeen = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "event_type", "payload", "prev_hash", "hash", "signature", "signer_kid", "ts", "retention_expires_at"}).
		AddRow("evt-1", "policy.decision", []byte(`{}`), "", "hash-1", "sig-1", "kid-1", src.lastSeen, nil)
	mock.ExpectQuery("SELECT id, event_type, payload, COALESCE").WillReturnRows(rows)

	var delivered []RawEvent
	src.poll(context.Background(), func(e RawEvent) error {
		delivered = append(delivered, e)
		return nil
	})

	assert.Empty(t, delivered)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHeaderValueFindsMatchingKey(t *testing.T) {
	headers := []kafka.Header{{Key: "event_type", Value: []byte("policy.decision")}, {Key: "other", Value: []byte("x")}}
	assert.Equal(t, "policy.decision", headerValue(headers, "event_type"))
}

func TestHeaderValueReturnsEmptyWhenMissing(t *testing.T) {
	headers := []kafka.Header{{Key: "other", Value: []byte("x")}}
	assert.Equal(t, "", headerValue(headers, "event_type"))
}
