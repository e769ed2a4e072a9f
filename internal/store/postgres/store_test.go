package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/monitor"
	"sitewatch/internal/store"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	st, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return st, mock
}

func TestNewStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewStoreWithPool(nil)
	require.Error(t, err)
}

func TestNewStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewStore(context.Background(), Config{})
	require.Error(t, err)
}

func TestGetTaskWithPhrases(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)

	lastRun := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, name, site_id").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "site_id", "channel", "target", "active", "last_run_at", "last_status",
		}).AddRow(int64(7), "subsidy watch", int64(3), "email", "ops@example.com", true, &lastRun, "success"))

	mock.ExpectQuery("SELECT tp.task_id, p.id").
		WithArgs([]int64{7}).
		WillReturnRows(pgxmock.NewRows([]string{"task_id", "id", "category_id", "text"}).
			AddRow(int64(7), int64(100), int64(1), "solar subsidy").
			AddRow(int64(7), int64(101), int64(1), "wind rebate"))

	task, err := st.GetTask(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, "subsidy watch", task.Name)
	require.Equal(t, monitor.ChannelEmail, task.Channel)
	require.Equal(t, monitor.RunStatusSuccess, task.LastStatus)
	require.Len(t, task.Phrases, 2)
	require.Equal(t, "wind rebate", task.Phrases[1].Text)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, site_id").
		WithArgs(int64(404)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "site_id", "channel", "target", "active", "last_run_at", "last_status",
		}))

	_, err := st.GetTask(context.Background(), 404)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveTasksEmpty(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, site_id").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "site_id", "channel", "target", "active", "last_run_at", "last_status",
		}))

	tasks, err := st.ListActiveTasks(context.Background())
	require.NoError(t, err)
	require.Empty(t, tasks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSnapshotMissingReturnsEmpty(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT payload FROM site_snapshots").
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}))

	payload, err := st.GetSnapshot(context.Background(), 3)
	require.NoError(t, err)
	require.Empty(t, payload)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutSnapshotUpserts(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)

	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO site_snapshots").
		WithArgs(int64(3), `{"version":2}`, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.PutSnapshot(context.Background(), 3, `{"version":2}`, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)

	runID := uuid.New()
	started := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	finished := started.Add(30 * time.Second)

	mock.ExpectExec("INSERT INTO run_logs").
		WithArgs(runID, int64(7), started, "running", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE run_logs").
		WithArgs(finished, "success", "2 matches", runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.CreateRun(context.Background(), monitor.RunLog{
		ID:        runID,
		TaskID:    7,
		StartedAt: started,
		Status:    monitor.RunStatusRunning,
	}))
	require.NoError(t, st.FinishRun(context.Background(), runID, finished, monitor.RunStatusSuccess, "2 matches"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunUnknownRun(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)

	runID := uuid.New()
	mock.ExpectExec("UPDATE run_logs").
		WithArgs(pgxmock.AnyArg(), "failed", "boom", runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.FinishRun(context.Background(), runID, time.Now(), monitor.RunStatusFailed, "boom")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHasRunningRun(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	running, err := st.HasRunningRun(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, running)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailStaleRunning(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)

	cutoff := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE run_logs").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	swept, err := st.FailStaleRunning(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, 2, swept)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDetailsAfterSeq(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)

	runID := uuid.New()
	ts := time.Date(2025, 6, 1, 9, 0, 1, 0, time.UTC)
	mock.ExpectQuery("SELECT run_id, seq, ts, level, message").
		WithArgs(runID, 2).
		WillReturnRows(pgxmock.NewRows([]string{"run_id", "seq", "ts", "level", "message"}).
			AddRow(runID, 3, ts, "info", "fetched main page").
			AddRow(runID, 4, ts, "success", "matched 1 phrase"))

	details, err := st.ListDetails(context.Background(), runID, 2)
	require.NoError(t, err)
	require.Len(t, details, 2)
	require.Equal(t, 3, details[0].Seq)
	require.Equal(t, "matched 1 phrase", details[1].Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordMatchAndNotification(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)

	at := time.Date(2025, 6, 1, 9, 0, 5, 0, time.UTC)
	mock.ExpectExec("INSERT INTO match_results").
		WithArgs(int64(7), int64(3), int64(100), "https://example.com/post/1",
			"Solar subsidy announced", 0.82, "summary", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO notification_log").
		WithArgs("email", "ops@example.com", true, "sent", `{"items":1}`, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.RecordMatch(context.Background(), monitor.MatchResult{
		TaskID:    7,
		SiteID:    3,
		PhraseID:  100,
		URL:       "https://example.com/post/1",
		Title:     "Solar subsidy announced",
		Score:     0.82,
		Summary:   "summary",
		CreatedAt: at,
	}))
	require.NoError(t, st.RecordNotification(context.Background(), monitor.NotificationLogEntry{
		Channel: monitor.ChannelEmail,
		Target:  "ops@example.com",
		Success: true,
		Message: "sent",
		Payload: `{"items":1}`,
		At:      at,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailSettingsMissingRow(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT smtp_host, smtp_port").
		WillReturnRows(pgxmock.NewRows([]string{
			"smtp_host", "smtp_port", "smtp_username", "smtp_password",
			"smtp_sender", "smtp_encrypt", "smtp_force_starttls",
		}))

	settings, err := st.EmailSettings(context.Background())
	require.NoError(t, err)
	require.Empty(t, settings.Host)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveProxies(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, active, http_url, https_url").
		WillReturnRows(pgxmock.NewRows([]string{"id", "active", "http_url", "https_url"}).
			AddRow(int64(1), true, "http://proxy1:8080", "http://proxy1:8080"))

	proxies, err := st.ListActiveProxies(context.Background())
	require.NoError(t, err)
	require.Len(t, proxies, 1)
	require.Equal(t, "http://proxy1:8080", proxies[0].HTTPURL)
	require.NoError(t, mock.ExpectationsWereMet())
}
