// Package postgres provides the Postgres-backed store implementation.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sitewatch/internal/monitor"
	"sitewatch/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool querier
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewStoreWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// GetTask loads a task with its watch phrases.
func (s *Store) GetTask(ctx context.Context, taskID int64) (monitor.Task, error) {
	const query = `
		SELECT id, name, site_id, channel, target, active, last_run_at, last_status
		FROM monitor_tasks
		WHERE id = $1;
	`
	task, err := scanTask(s.pool.QueryRow(ctx, query, taskID))
	if err != nil {
		return monitor.Task{}, err
	}
	phrases, err := s.taskPhrases(ctx, []int64{taskID})
	if err != nil {
		return monitor.Task{}, err
	}
	task.Phrases = phrases[taskID]
	return task, nil
}

// ListActiveTasks returns every task with the active flag set, with phrases.
func (s *Store) ListActiveTasks(ctx context.Context) ([]monitor.Task, error) {
	const query = `
		SELECT id, name, site_id, channel, target, active, last_run_at, last_status
		FROM monitor_tasks
		WHERE active
		ORDER BY id;
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()

	var tasks []monitor.Task
	var ids []int64
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
		ids = append(ids, task.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	if len(ids) == 0 {
		return tasks, nil
	}

	phrases, err := s.taskPhrases(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].Phrases = phrases[tasks[i].ID]
	}
	return tasks, nil
}

func (s *Store) taskPhrases(ctx context.Context, taskIDs []int64) (map[int64][]monitor.WatchPhrase, error) {
	const query = `
		SELECT tp.task_id, p.id, p.category_id, p.text
		FROM task_phrases tp
		JOIN watch_phrases p ON p.id = tp.phrase_id
		WHERE tp.task_id = ANY($1)
		ORDER BY tp.task_id, p.id;
	`
	rows, err := s.pool.Query(ctx, query, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("load task phrases: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]monitor.WatchPhrase)
	for rows.Next() {
		var taskID int64
		var phrase monitor.WatchPhrase
		if err := rows.Scan(&taskID, &phrase.ID, &phrase.CategoryID, &phrase.Text); err != nil {
			return nil, fmt.Errorf("scan watch phrase: %w", err)
		}
		out[taskID] = append(out[taskID], phrase)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load task phrases: %w", err)
	}
	return out, nil
}

// GetSite loads one site configuration.
func (s *Store) GetSite(ctx context.Context, siteID int64) (monitor.Site, error) {
	const query = `
		SELECT id, name, url, fetch_subpages, interval_minutes, use_proxy,
		       title_selectors, body_selectors, is_json_api,
		       api_list_path, api_title_path, api_url_path, api_url_template, api_detail_base
		FROM monitor_sites
		WHERE id = $1;
	`
	var site monitor.Site
	err := s.pool.QueryRow(ctx, query, siteID).Scan(
		&site.ID, &site.Name, &site.URL, &site.FetchSubpages, &site.IntervalMinutes,
		&site.UseProxy, &site.TitleSelectors, &site.BodySelectors, &site.IsJSONAPI,
		&site.APIListPath, &site.APITitlePath, &site.APIURLPath, &site.APIURLTemplate, &site.APIDetailBase,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Site{}, store.ErrNotFound
	}
	if err != nil {
		return monitor.Site{}, fmt.Errorf("load site %d: %w", siteID, err)
	}
	return site, nil
}

// UpdateTaskRun records lastRunAt/lastStatus after a run.
func (s *Store) UpdateTaskRun(ctx context.Context, taskID int64, at time.Time, status monitor.RunStatus) error {
	const query = `
		UPDATE monitor_tasks
		SET last_run_at = $1, last_status = $2
		WHERE id = $3;
	`
	tag, err := s.pool.Exec(ctx, query, at, string(status), taskID)
	if err != nil {
		return fmt.Errorf("update task run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetSnapshot returns the stored payload, or "" when never fetched.
func (s *Store) GetSnapshot(ctx context.Context, siteID int64) (string, error) {
	const query = `SELECT payload FROM site_snapshots WHERE site_id = $1;`
	var payload string
	err := s.pool.QueryRow(ctx, query, siteID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load snapshot: %w", err)
	}
	return payload, nil
}

// PutSnapshot replaces the stored payload wholesale.
func (s *Store) PutSnapshot(ctx context.Context, siteID int64, payload string, fetchedAt time.Time) error {
	const query = `
		INSERT INTO site_snapshots (site_id, payload, fetched_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (site_id) DO UPDATE
		SET payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at;
	`
	if _, err := s.pool.Exec(ctx, query, siteID, payload, fetchedAt); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// CreateRun inserts a new run log row.
func (s *Store) CreateRun(ctx context.Context, run monitor.RunLog) error {
	const query = `
		INSERT INTO run_logs (id, task_id, started_at, status, summary)
		VALUES ($1, $2, $3, $4, $5);
	`
	if _, err := s.pool.Exec(ctx, query, run.ID, run.TaskID, run.StartedAt, string(run.Status), run.Summary); err != nil {
		return fmt.Errorf("create run log: %w", err)
	}
	return nil
}

// FinishRun sets the terminal status and summary.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status monitor.RunStatus, summary string) error {
	const query = `
		UPDATE run_logs
		SET finished_at = $1, status = $2, summary = $3
		WHERE id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, finishedAt, string(status), summary, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun loads one run log.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (monitor.RunLog, error) {
	const query = `
		SELECT id, task_id, started_at, finished_at, status, summary
		FROM run_logs
		WHERE id = $1;
	`
	var run monitor.RunLog
	var status string
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID, &run.TaskID, &run.StartedAt, &run.FinishedAt, &status, &run.Summary,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.RunLog{}, store.ErrNotFound
	}
	if err != nil {
		return monitor.RunLog{}, fmt.Errorf("load run: %w", err)
	}
	run.Status = monitor.RunStatus(status)
	return run, nil
}

// HasRunningRun reports whether the task has a run still marked running.
func (s *Store) HasRunningRun(ctx context.Context, taskID int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM run_logs WHERE task_id = $1 AND status = 'running');`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, taskID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check running run: %w", err)
	}
	return exists, nil
}

// FailStaleRunning marks runs left running before the cutoff as failed.
func (s *Store) FailStaleRunning(ctx context.Context, before time.Time) (int, error) {
	const query = `
		UPDATE run_logs
		SET status = 'failed', finished_at = now(), summary = 'swept: stuck in running'
		WHERE status = 'running' AND started_at < $1;
	`
	tag, err := s.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("sweep stale runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// AppendDetail appends one narration entry.
func (s *Store) AppendDetail(ctx context.Context, detail monitor.RunDetail) error {
	const query = `
		INSERT INTO run_details (run_id, seq, ts, level, message)
		VALUES ($1, $2, $3, $4, $5);
	`
	if _, err := s.pool.Exec(ctx, query, detail.RunID, detail.Seq, detail.TS, detail.Level, detail.Message); err != nil {
		return fmt.Errorf("append run detail: %w", err)
	}
	return nil
}

// ListDetails returns entries with Seq > afterSeq in Seq order.
func (s *Store) ListDetails(ctx context.Context, runID uuid.UUID, afterSeq int) ([]monitor.RunDetail, error) {
	const query = `
		SELECT run_id, seq, ts, level, message
		FROM run_details
		WHERE run_id = $1 AND seq > $2
		ORDER BY seq;
	`
	rows, err := s.pool.Query(ctx, query, runID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("list run details: %w", err)
	}
	defer rows.Close()

	var out []monitor.RunDetail
	for rows.Next() {
		var d monitor.RunDetail
		if err := rows.Scan(&d.RunID, &d.Seq, &d.TS, &d.Level, &d.Message); err != nil {
			return nil, fmt.Errorf("scan run detail: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run details: %w", err)
	}
	return out, nil
}

// RecordMatch inserts one confirmed match result.
func (s *Store) RecordMatch(ctx context.Context, match monitor.MatchResult) error {
	const query = `
		INSERT INTO match_results (task_id, site_id, phrase_id, url, title, score, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err := s.pool.Exec(ctx, query,
		match.TaskID, match.SiteID, match.PhraseID, match.URL,
		match.Title, match.Score, match.Summary, match.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record match: %w", err)
	}
	return nil
}

// RecordNotification appends one delivery audit entry.
func (s *Store) RecordNotification(ctx context.Context, entry monitor.NotificationLogEntry) error {
	const query = `
		INSERT INTO notification_log (channel, target, success, message, payload, at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := s.pool.Exec(ctx, query,
		string(entry.Channel), entry.Target, entry.Success, entry.Message, entry.Payload, entry.At,
	)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

// EmailSettings returns the stored SMTP settings; a missing row yields the
// zero value, which the notifier treats as not configured.
func (s *Store) EmailSettings(ctx context.Context) (monitor.EmailSettings, error) {
	const query = `
		SELECT smtp_host, smtp_port, smtp_username, smtp_password, smtp_sender,
		       smtp_encrypt, smtp_force_starttls
		FROM notification_settings
		WHERE id = 1;
	`
	var settings monitor.EmailSettings
	err := s.pool.QueryRow(ctx, query).Scan(
		&settings.Host, &settings.Port, &settings.Username, &settings.Password,
		&settings.Sender, &settings.Encrypt, &settings.ForceSTARTTLS,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.EmailSettings{}, nil
	}
	if err != nil {
		return monitor.EmailSettings{}, fmt.Errorf("load email settings: %w", err)
	}
	return settings, nil
}

// WebhookURL returns the stored group-bot webhook URL, "" when unset.
func (s *Store) WebhookURL(ctx context.Context) (string, error) {
	const query = `SELECT webhook_url FROM notification_settings WHERE id = 1;`
	var url string
	err := s.pool.QueryRow(ctx, query).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load webhook url: %w", err)
	}
	return url, nil
}

// ListActiveProxies returns the reloadable proxy pool entries.
func (s *Store) ListActiveProxies(ctx context.Context) ([]monitor.ProxyEndpoint, error) {
	const query = `
		SELECT id, active, http_url, https_url
		FROM proxy_endpoints
		WHERE active
		ORDER BY id;
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	defer rows.Close()

	var out []monitor.ProxyEndpoint
	for rows.Next() {
		var p monitor.ProxyEndpoint
		if err := rows.Scan(&p.ID, &p.Active, &p.HTTPURL, &p.HTTPSURL); err != nil {
			return nil, fmt.Errorf("scan proxy: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	return out, nil
}

func scanTask(row pgx.Row) (monitor.Task, error) {
	var task monitor.Task
	var channel, status string
	err := row.Scan(
		&task.ID, &task.Name, &task.SiteID, &channel, &task.Target,
		&task.Active, &task.LastRunAt, &status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Task{}, store.ErrNotFound
	}
	if err != nil {
		return monitor.Task{}, fmt.Errorf("scan task: %w", err)
	}
	task.Channel = monitor.Channel(channel)
	task.LastStatus = monitor.RunStatus(status)
	return task, nil
}
