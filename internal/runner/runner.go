// Package runner executes the fetch-detect-match-notify pipeline for one
// task at a time, narrating progress into the run log and honoring
// cooperative cancellation between network operations.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitewatch/internal/diff"
	"sitewatch/internal/extract"
	"sitewatch/internal/fetch"
	"sitewatch/internal/match"
	"sitewatch/internal/metrics"
	"sitewatch/internal/monitor"
	"sitewatch/internal/notify"
	"sitewatch/internal/publish"
	"sitewatch/internal/snapshot"
	"sitewatch/internal/store"
)

const runCompletedTopic = "run.completed"

// defaultMaxSubpages bounds how many newly discovered links one run fetches.
const defaultMaxSubpages = 50

// Fetcher retrieves one URL with the transport fallback strategy.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts fetch.Options) (string, error)
}

// Notifier delivers a digest over the task's channel.
type Notifier interface {
	Notify(ctx context.Context, task monitor.Task, digest notify.Digest) error
}

// Config tunes the runner.
type Config struct {
	MaxSubpages int
	// StaleRunAge is how old a `running` RunLog must be before the startup
	// sweep marks it failed.
	StaleRunAge time.Duration
}

// Service owns run execution. One Service is shared by the scheduler and
// the manual trigger API.
type Service struct {
	store       store.Store
	fetcher     Fetcher
	extractor   *extract.Extractor
	matcher     *match.Matcher
	notifier    Notifier
	publisher   publish.Publisher
	registry    *Registry
	clock       monitor.Clock
	logger      *zap.Logger
	maxSubpages int
	staleRunAge time.Duration
}

// NewService wires the pipeline stages together.
func NewService(cfg Config, st store.Store, fetcher Fetcher, extractor *extract.Extractor, matcher *match.Matcher, notifier Notifier, publisher publish.Publisher, clock monitor.Clock, logger *zap.Logger) *Service {
	if cfg.MaxSubpages <= 0 {
		cfg.MaxSubpages = defaultMaxSubpages
	}
	if cfg.StaleRunAge <= 0 {
		cfg.StaleRunAge = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Service{
		store:       st,
		fetcher:     fetcher,
		extractor:   extractor,
		matcher:     matcher,
		notifier:    notifier,
		publisher:   publisher,
		registry:    NewRegistry(),
		clock:       clock,
		logger:      logger,
		maxSubpages: cfg.MaxSubpages,
		staleRunAge: cfg.StaleRunAge,
	}
}

// RequestStop signals a running task to cancel. Reports whether one was found.
func (s *Service) RequestStop(taskID int64) bool {
	return s.registry.RequestStop(taskID)
}

// IsRunning reports whether the task has an active run in this process.
func (s *Service) IsRunning(taskID int64) bool {
	return s.registry.IsRunning(taskID)
}

// RunningTasks lists task ids with active runs.
func (s *Service) RunningTasks() []int64 {
	return s.registry.RunningTasks()
}

// SweepStaleRuns marks RunLogs left in running by a crash as failed. Called
// once at startup before the scheduler begins.
func (s *Service) SweepStaleRuns(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.staleRunAge)
	swept, err := s.store.FailStaleRunning(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep stale runs: %w", err)
	}
	if swept > 0 {
		s.logger.Warn("swept stale running runs", zap.Int("count", swept))
	}
	return swept, nil
}

// RunTask executes one run for the task and blocks until it reaches a
// terminal state. A second concurrent call for the same task returns
// ErrAlreadyRunning. The returned RunLog carries the terminal status; run
// failures are reported there, not as an error.
func (s *Service) RunTask(ctx context.Context, taskID int64) (monitor.RunLog, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return monitor.RunLog{}, fmt.Errorf("load task %d: %w", taskID, err)
	}
	site, err := s.store.GetSite(ctx, task.SiteID)
	if err != nil {
		return monitor.RunLog{}, fmt.Errorf("load site %d: %w", task.SiteID, err)
	}

	runID := uuid.New()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.registry.acquire(taskID, runID, cancel); err != nil {
		return monitor.RunLog{}, err
	}
	defer s.registry.release(taskID)

	if busy, err := s.store.HasRunningRun(ctx, taskID); err != nil {
		return monitor.RunLog{}, fmt.Errorf("check running run: %w", err)
	} else if busy {
		return monitor.RunLog{}, ErrAlreadyRunning
	}

	startedAt := s.clock.Now()
	run := monitor.RunLog{ID: runID, TaskID: taskID, StartedAt: startedAt, Status: monitor.RunStatusRunning}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return monitor.RunLog{}, fmt.Errorf("create run log: %w", err)
	}

	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	details := &detailWriter{store: s.store, runID: runID, clock: s.clock, logger: s.logger}
	outcome := s.execute(runCtx, task, site, details)

	// Finalization must survive cancellation: a cancelled run still needs
	// its terminal RunLog row.
	finCtx := context.WithoutCancel(ctx)
	finishedAt := s.clock.Now()
	if err := s.store.FinishRun(finCtx, runID, finishedAt, outcome.status, outcome.summary); err != nil {
		s.logger.Error("finish run failed", zap.Stringer("run_id", runID), zap.Error(err))
	}
	if err := s.store.UpdateTaskRun(finCtx, taskID, finishedAt, outcome.status); err != nil {
		s.logger.Error("update task bookkeeping failed", zap.Int64("task_id", taskID), zap.Error(err))
	}

	metrics.ObserveRun(string(outcome.status), finishedAt.Sub(startedAt))
	s.publishCompletion(finCtx, publish.RunCompleted{
		RunID:      runID,
		TaskID:     taskID,
		SiteID:     site.ID,
		Status:     outcome.status,
		Matches:    outcome.matches,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	})

	run.Status = outcome.status
	run.Summary = outcome.summary
	run.FinishedAt = &finishedAt
	return run, nil
}

type runOutcome struct {
	status  monitor.RunStatus
	summary string
	matches int
}

func (s *Service) execute(ctx context.Context, task monitor.Task, site monitor.Site, details *detailWriter) (outcome runOutcome) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("run panicked: %v", r)
			details.write(monitor.DetailError, msg)
			s.logger.Error("run panicked", zap.Int64("task_id", task.ID), zap.Any("panic", r))
			outcome = runOutcome{status: monitor.RunStatusFailed, summary: msg}
		}
	}()

	hits, snap, err := s.crawl(ctx, task, site, details)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Partial snapshot is discarded, not persisted.
			details.write(monitor.DetailWarning, "run cancelled, discarding partial snapshot")
			return runOutcome{status: monitor.RunStatusCancelled, summary: "run cancelled"}
		}
		details.write(monitor.DetailError, err.Error())
		return runOutcome{status: monitor.RunStatusFailed, summary: err.Error()}
	}

	payload, err := snapshot.Build(snap)
	if err != nil {
		details.write(monitor.DetailError, err.Error())
		return runOutcome{status: monitor.RunStatusFailed, summary: err.Error()}
	}
	if err := s.store.PutSnapshot(ctx, site.ID, payload, s.clock.Now()); err != nil {
		msg := fmt.Sprintf("persist snapshot: %v", err)
		details.write(monitor.DetailError, msg)
		return runOutcome{status: monitor.RunStatusFailed, summary: msg}
	}

	merged := mergeHits(hits)
	confirmed := 0
	for _, page := range merged {
		confirmed += len(page.phrases)
		best := page.best()
		result := monitor.MatchResult{
			TaskID:    task.ID,
			SiteID:    site.ID,
			PhraseID:  best.Phrase.ID,
			URL:       page.url,
			Title:     page.title,
			Score:     best.Score,
			Summary:   page.summary,
			CreatedAt: s.clock.Now(),
		}
		if err := s.store.RecordMatch(ctx, result); err != nil {
			details.write(monitor.DetailWarning, fmt.Sprintf("record match for %s failed: %v", page.url, err))
		}
	}
	metrics.ObserveMatches(site.URL, confirmed)

	if len(merged) > 0 {
		digest := buildDigest(task, site, merged, s.clock.Now())
		if err := s.notifier.Notify(ctx, task, digest); err != nil {
			details.write(monitor.DetailWarning, fmt.Sprintf("notification failed: %v", err))
			metrics.ObserveDelivery(string(task.Channel), "error")
		} else {
			details.write(monitor.DetailInfo, fmt.Sprintf("notification sent via %s", task.Channel))
			metrics.ObserveDelivery(string(task.Channel), "success")
		}
	}

	if len(merged) > 0 {
		summary := fmt.Sprintf("%d page(s) matched %d phrase hit(s)", len(merged), confirmed)
		details.write(monitor.DetailSuccess, "run finished: "+summary)
		return runOutcome{status: monitor.RunStatusSuccess, summary: summary, matches: len(merged)}
	}
	details.write(monitor.DetailSuccess, "run finished: no matches")
	return runOutcome{status: monitor.RunStatusCompleted, summary: "no matches"}
}

// crawl fetches the main page and branches into subpage, single-page or
// JSON API mode. It returns the confirmed page hits plus the snapshot to
// persist. Context cancellation surfaces as context.Canceled.
func (s *Service) crawl(ctx context.Context, task monitor.Task, site monitor.Site, details *detailWriter) ([]pageHit, snapshot.Snapshot, error) {
	prior, err := s.store.GetSnapshot(ctx, site.ID)
	if err != nil {
		return nil, snapshot.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	old := snapshot.Parse(prior, s.extractFn(site))
	hadSnapshot := prior != "" && !old.Empty

	details.write(monitor.DetailInfo, "fetching main page "+site.URL)
	body, err := s.fetcher.Fetch(ctx, site.URL, fetch.Options{UseProxy: site.UseProxy, SkipRender: site.IsJSONAPI})
	if err != nil {
		metrics.ObserveFetch(site.URL, "error")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, snapshot.Snapshot{}, context.Canceled
		}
		return nil, snapshot.Snapshot{}, fmt.Errorf("fetch main page: %w", err)
	}
	metrics.ObserveFetch(site.URL, "success")
	details.write(monitor.DetailInfo, "main page fetched")
	if ctx.Err() != nil {
		return nil, snapshot.Snapshot{}, context.Canceled
	}

	switch {
	case site.IsJSONAPI:
		return s.crawlAPI(ctx, task, site, old, body, details)
	case site.FetchSubpages:
		return s.crawlSubpages(ctx, task, site, old, body, details)
	default:
		return s.crawlSinglePage(task, site, old, body, hadSnapshot, details)
	}
}

func (s *Service) crawlSubpages(ctx context.Context, task monitor.Task, site monitor.Site, old snapshot.Snapshot, body string, details *detailWriter) ([]pageHit, snapshot.Snapshot, error) {
	cfg := siteConfig(site)
	content := s.extractor.Extract(body, cfg)
	if content.Title != "" {
		details.write(monitor.DetailInfo, "title detected: "+content.Title)
	}
	snap := snapshot.Snapshot{MainHTML: body, MainTitle: content.Title, MainText: content.Body}

	newLinks := diff.NewLinks(old.MainHTML, body, site.URL)
	details.write(monitor.DetailInfo, fmt.Sprintf("discovered %d new link(s)", len(newLinks)))
	if len(newLinks) > s.maxSubpages {
		details.write(monitor.DetailWarning, fmt.Sprintf("limiting crawl to first %d of %d new links", s.maxSubpages, len(newLinks)))
		newLinks = newLinks[:s.maxSubpages]
	}

	var hits []pageHit
	for _, link := range newLinks {
		if ctx.Err() != nil {
			return nil, snapshot.Snapshot{}, context.Canceled
		}
		sub, err := s.fetcher.Fetch(ctx, link, fetch.Options{UseProxy: site.UseProxy})
		if err != nil {
			if ctx.Err() != nil {
				return nil, snapshot.Snapshot{}, context.Canceled
			}
			metrics.ObserveFetch(link, "error")
			details.write(monitor.DetailWarning, fmt.Sprintf("fetch %s failed: %v", link, err))
			continue
		}
		metrics.ObserveFetch(link, "success")

		subContent := s.extractor.Extract(sub, cfg)
		title := subContent.Title
		if site.TitleSelectors == "" && title == "" {
			title = extract.MainIdea(subContent.Body, subContent.Title)
		}
		snap.Subpages = append(snap.Subpages, snapshot.Subpage{URL: link, HTML: sub, Title: title, Text: subContent.Body})

		if hit := s.scorePage(task, link, title, subContent.Summary, subContent.ImageURL, details); hit != nil {
			hits = append(hits, *hit)
		}
	}
	return hits, snap, nil
}

func (s *Service) crawlSinglePage(task monitor.Task, site monitor.Site, old snapshot.Snapshot, body string, hadSnapshot bool, details *detailWriter) ([]pageHit, snapshot.Snapshot, error) {
	content := s.extractor.Extract(body, siteConfig(site))
	if content.Title != "" {
		details.write(monitor.DetailInfo, "title detected: "+content.Title)
	}
	snap := snapshot.Snapshot{MainHTML: body, MainTitle: content.Title, MainText: content.Body}

	// First-ever fetch counts as changed so the baseline still gets scored.
	if !diff.TextChanged(hadSnapshot, old.MainText, content.Body) {
		details.write(monitor.DetailInfo, "content unchanged")
		return nil, snap, nil
	}
	details.write(monitor.DetailInfo, "content changed")

	title := content.Title
	if site.TitleSelectors == "" && title == "" {
		title = extract.MainIdea(content.Body, content.Title)
	}
	var hits []pageHit
	if hit := s.scorePage(task, site.URL, title, content.Summary, content.ImageURL, details); hit != nil {
		hits = append(hits, *hit)
	}
	return hits, snap, nil
}

func (s *Service) crawlAPI(ctx context.Context, task monitor.Task, site monitor.Site, old snapshot.Snapshot, body string, details *detailWriter) ([]pageHit, snapshot.Snapshot, error) {
	items, err := extract.ExtractAPIItems(body, extract.APIConfig{
		ListPath:    site.APIListPath,
		TitlePath:   site.APITitlePath,
		URLPath:     site.APIURLPath,
		URLTemplate: site.APIURLTemplate,
		DetailBase:  site.APIDetailBase,
	})
	if err != nil {
		return nil, snapshot.Snapshot{}, fmt.Errorf("parse api payload: %w", err)
	}

	known := make(map[string]bool, len(old.Subpages))
	for _, sub := range old.Subpages {
		known[sub.URL] = true
	}
	var fresh []extract.APIItem
	for _, item := range items {
		if item.URL != "" && !known[item.URL] {
			fresh = append(fresh, item)
		}
	}
	details.write(monitor.DetailInfo, fmt.Sprintf("api listed %d item(s), %d new", len(items), len(fresh)))
	if len(fresh) > s.maxSubpages {
		details.write(monitor.DetailWarning, fmt.Sprintf("limiting crawl to first %d of %d new items", s.maxSubpages, len(fresh)))
		fresh = fresh[:s.maxSubpages]
	}

	cfg := siteConfig(site)
	fetched := make(map[string]snapshot.Subpage, len(fresh))
	var hits []pageHit
	for _, item := range fresh {
		if ctx.Err() != nil {
			return nil, snapshot.Snapshot{}, context.Canceled
		}
		title, summary, image := item.Title, "", ""
		page, err := s.fetcher.Fetch(ctx, item.URL, fetch.Options{UseProxy: site.UseProxy})
		if err != nil {
			if ctx.Err() != nil {
				return nil, snapshot.Snapshot{}, context.Canceled
			}
			metrics.ObserveFetch(item.URL, "error")
			details.write(monitor.DetailWarning, fmt.Sprintf("fetch %s failed: %v, matching on title only", item.URL, err))
		} else {
			metrics.ObserveFetch(item.URL, "success")
			content := s.extractor.Extract(page, cfg)
			summary = content.Summary
			image = content.ImageURL
			if title == "" {
				title = content.Title
			}
			fetched[item.URL] = snapshot.Subpage{URL: item.URL, HTML: page, Title: title, Text: content.Body}
		}

		if hit := s.scorePage(task, item.URL, title, summary, image, details); hit != nil {
			hits = append(hits, *hit)
		}
	}

	// The snapshot mirrors the current API listing so next run's diff sees
	// exactly what the endpoint advertises today.
	snap := snapshot.Snapshot{MainHTML: body}
	for _, item := range items {
		if item.URL == "" {
			continue
		}
		if sub, ok := fetched[item.URL]; ok {
			snap.Subpages = append(snap.Subpages, sub)
			continue
		}
		snap.Subpages = append(snap.Subpages, snapshot.Subpage{URL: item.URL, Title: item.Title})
	}
	return hits, snap, nil
}

func (s *Service) scorePage(task monitor.Task, url, title, summary, image string, details *detailWriter) *pageHit {
	scores := s.matcher.Score(title, summary, task.Phrases)
	confirmed := s.matcher.Confirmed(scores)
	if len(confirmed) == 0 {
		return nil
	}
	details.write(monitor.DetailSuccess, fmt.Sprintf("matched %d phrase(s) on %s", len(confirmed), url))
	return &pageHit{url: url, title: title, summary: summary, image: image, scores: confirmed}
}

func (s *Service) extractFn(site monitor.Site) snapshot.Extractor {
	cfg := siteConfig(site)
	return func(html string) (string, string) {
		c := s.extractor.Extract(html, cfg)
		return c.Title, c.Body
	}
}

func (s *Service) publishCompletion(ctx context.Context, event publish.RunCompleted) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.Publish(ctx, runCompletedTopic, event); err != nil {
		s.logger.Warn("publish run completion failed",
			zap.Stringer("run_id", event.RunID),
			zap.Error(err),
		)
	}
}

func siteConfig(site monitor.Site) extract.Config {
	return extract.Config{TitleRules: site.TitleSelectors, BodyRules: site.BodySelectors}
}

// pageHit is one page with its confirmed phrase scores.
type pageHit struct {
	url     string
	title   string
	summary string
	image   string
	scores  []match.PhraseScore
}

// mergedPage unions every confirmed phrase for one URL, keeping the best
// score per phrase and the first non-empty title/summary.
type mergedPage struct {
	url     string
	title   string
	summary string
	image   string
	phrases map[int64]match.PhraseScore
	order   []int64
}

func (p *mergedPage) best() match.PhraseScore {
	var out match.PhraseScore
	for _, id := range p.order {
		if ps := p.phrases[id]; ps.Score > out.Score {
			out = ps
		}
	}
	return out
}

func mergeHits(hits []pageHit) []*mergedPage {
	byURL := make(map[string]*mergedPage)
	var order []*mergedPage
	for _, hit := range hits {
		page, ok := byURL[hit.url]
		if !ok {
			page = &mergedPage{url: hit.url, phrases: make(map[int64]match.PhraseScore)}
			byURL[hit.url] = page
			order = append(order, page)
		}
		if page.title == "" {
			page.title = hit.title
		}
		if page.summary == "" {
			page.summary = hit.summary
		}
		if page.image == "" {
			page.image = hit.image
		}
		for _, ps := range hit.scores {
			existing, seen := page.phrases[ps.Phrase.ID]
			if !seen {
				page.order = append(page.order, ps.Phrase.ID)
			}
			if !seen || ps.Score > existing.Score {
				page.phrases[ps.Phrase.ID] = ps
			}
		}
	}
	return order
}

func buildDigest(task monitor.Task, site monitor.Site, pages []*mergedPage, at time.Time) notify.Digest {
	digest := notify.Digest{
		TaskName:    task.Name,
		SiteName:    site.Name,
		SiteURL:     site.URL,
		GeneratedAt: at,
	}
	for _, page := range pages {
		item := notify.Item{
			Title:    page.title,
			URL:      page.url,
			Summary:  digestSnippet(page.summary),
			ImageURL: page.image,
			Score:    page.best().Score,
		}
		for _, id := range page.order {
			item.Phrases = append(item.Phrases, page.phrases[id].Phrase.Text)
		}
		digest.Items = append(digest.Items, item)
	}
	return digest
}

// digestSnippetLen bounds per-item summaries in notification payloads.
const digestSnippetLen = 200

func digestSnippet(summary string) string {
	runes := []rune(summary)
	if len(runes) <= digestSnippetLen {
		return summary
	}
	return string(runes[:digestSnippetLen]) + "\u2026"
}

// detailWriter appends sequenced narration entries to the run log. Appends
// use a detached context so a cancelled run can still record its epilogue.
type detailWriter struct {
	store  store.RunStore
	runID  uuid.UUID
	clock  monitor.Clock
	logger *zap.Logger
	seq    int
}

func (d *detailWriter) write(level, message string) {
	d.seq++
	detail := monitor.RunDetail{
		RunID:   d.runID,
		Seq:     d.seq,
		TS:      d.clock.Now(),
		Level:   level,
		Message: message,
	}
	if err := d.store.AppendDetail(context.Background(), detail); err != nil {
		d.logger.Warn("append run detail failed",
			zap.Stringer("run_id", d.runID),
			zap.Int("seq", d.seq),
			zap.Error(err),
		)
	}
}
