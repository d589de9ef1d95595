package backfill

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const postTimeout = 60 * time.Second

// Config holds runner settings. DefaultConfig returns the values the
// CLI flags default to.
type Config struct {
	DatabaseURL         string
	OrchestratorURL     string
	CursorFile          string
	Concurrency         int
	BatchSize           int
	RequestsPerSecond   float64
	DryRun              bool
	EmbedderOverrideURL string
	FromDate            time.Time
	ToDate              time.Time
}

func DefaultConfig() Config {
	return Config{
		CursorFile:        "cursor.json",
		Concurrency:       4,
		BatchSize:         40,
		RequestsPerSecond: 10,
	}
}

// article is one row of the backend articles table.
type article struct {
	ID        string
	Title     string
	URL       string
	Body      string
	CreatedAt time.Time
}

// articleSource pages articles in (created_at, id) order.
type articleSource interface {
	NextPage(ctx context.Context, cur Cursor, limit int) ([]article, error)
}

// pgArticleSource reads the backend articles table via database/sql.
// The pgx stdlib driver must be registered by the importing binary.
type pgArticleSource struct {
	db   *sql.DB
	from time.Time
	to   time.Time
}

func (s *pgArticleSource) NextPage(ctx context.Context, cur Cursor, limit int) ([]article, error) {
	query := `
		SELECT id, COALESCE(title, ''), COALESCE(url, ''), content, created_at
		FROM articles
		WHERE content IS NOT NULL AND content != ''`
	args := []interface{}{}

	if !cur.IsEmpty() {
		args = append(args, cur.LastCreatedAt, cur.LastID)
		query += fmt.Sprintf(" AND (created_at, id) > ($%d, $%d::uuid)", len(args)-1, len(args))
	}
	if !s.from.IsZero() {
		args = append(args, s.from)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !s.to.IsZero() {
		// --to names a day, so the bound is the start of the next one.
		args = append(args, s.to.AddDate(0, 0, 1))
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at, id LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var page []article
	for rows.Next() {
		var a article
		if err := rows.Scan(&a.ID, &a.Title, &a.URL, &a.Body, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		page = append(page, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}

	return page, nil
}

// Runner pages articles out of the backend database and posts them to
// the orchestrator's backfill endpoint. The cursor advances only after
// a page is fully posted, so an interrupted run replays at most one
// page on resume; upsert dedup in the orchestrator makes the replay
// harmless.
type Runner struct {
	cfg     Config
	db      *sql.DB
	source  articleSource
	cursor  *CursorManager
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewRunner(cfg Config, logger *slog.Logger) (*Runner, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 40
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Concurrency)
	}

	return &Runner{
		cfg:     cfg,
		db:      db,
		source:  &pgArticleSource{db: db, from: cfg.FromDate, to: cfg.ToDate},
		cursor:  NewCursorManager(cfg.CursorFile),
		client:  &http.Client{Timeout: postTimeout},
		limiter: limiter,
		logger:  logger,
	}, nil
}

func (r *Runner) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// GetCursor loads the cursor without taking the run lock.
func (r *Runner) GetCursor() (Cursor, error) {
	return r.cursor.Load()
}

func (r *Runner) ResetCursor() error {
	return r.cursor.Reset()
}

// Run processes all matching articles page by page until the source is
// exhausted or the context is canceled. A canceled run returns
// context.Canceled with the cursor pointing at the last complete page.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.cursor.Lock(); err != nil {
		return err
	}
	defer r.cursor.Unlock()

	cur, err := r.cursor.Load()
	if err != nil {
		return err
	}

	if !cur.IsEmpty() {
		r.logger.Info("resuming from cursor",
			slog.Time("last_created_at", cur.LastCreatedAt),
			slog.String("last_id", cur.LastID),
			slog.Int("processed_count", cur.ProcessedCount),
		)
	}

	dryRunCount := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		page, err := r.source.NextPage(ctx, cur, r.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch page: %w", err)
		}
		if len(page) == 0 {
			if r.cfg.DryRun {
				r.logger.Info("dry run complete", slog.Int("would_process", dryRunCount))
			} else {
				r.logger.Info("backfill complete", slog.Int("processed_count", cur.ProcessedCount))
			}
			return nil
		}

		last := page[len(page)-1]

		if r.cfg.DryRun {
			for _, a := range page {
				r.logger.Debug("dry run: would index",
					slog.String("article_id", a.ID),
					slog.String("title", a.Title),
				)
			}
			dryRunCount += len(page)
			r.logger.Info("dry run: page scanned",
				slog.Int("count", len(page)),
				slog.Time("last_created_at", last.CreatedAt),
			)
			// Advance in memory only; a dry run must not move the real cursor.
			cur.LastCreatedAt = last.CreatedAt
			cur.LastID = last.ID
			continue
		}

		if err := r.postPage(ctx, page); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("post page: %w", err)
		}

		cur.LastCreatedAt = last.CreatedAt
		cur.LastID = last.ID
		cur.CurrentDate = last.CreatedAt.Format("2006-01-02")
		cur.ProcessedCount += len(page)
		if err := r.cursor.Save(cur); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}

		r.logger.Info("page processed",
			slog.Int("count", len(page)),
			slog.Int("processed_count", cur.ProcessedCount),
			slog.Time("last_created_at", last.CreatedAt),
		)
	}
}

func (r *Runner) postPage(ctx context.Context, page []article) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, a := range page {
		g.Go(func() error {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
			return r.postArticle(ctx, a)
		})
	}

	return g.Wait()
}

func (r *Runner) postArticle(ctx context.Context, a article) error {
	payload := map[string]string{
		"article_id": a.ID,
		"title":      a.Title,
		"body":       a.Body,
		"url":        a.URL,
	}
	if r.cfg.EmbedderOverrideURL != "" {
		// Tells the orchestrator to embed with the hyper-boost container
		// instead of its default embedder.
		payload["embedder_url"] = r.cfg.EmbedderOverrideURL
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal article %s: %w", a.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.cfg.OrchestratorURL+"/internal/rag/backfill", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request for article %s: %w", a.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post article %s: %w", a.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post article %s: status %d: %s", a.ID, resp.StatusCode, string(body))
	}

	return nil
}
