package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/article-tracker/internal/tracker"
)

const articleColumns = `id, url, normalizer, base_interval_ms, interval_ms, next_due_at, status,
	consecutive_failures, last_hash, last_crawled_at, last_error, created_at`

// CreateArticle inserts a new article row.
func (s *Store) CreateArticle(ctx context.Context, a tracker.Article) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		s.articles, articleColumns)
	_, err := s.pool.Exec(ctx, query,
		a.ID,
		a.URL,
		a.Normalizer,
		a.BaseInterval.Milliseconds(),
		a.Interval.Milliseconds(),
		a.NextDue,
		string(a.Status),
		a.ConsecutiveFailures,
		a.LastHash,
		nullableTime(a.LastCrawledAt),
		a.LastError,
		a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create article %s: %w", a.URL, tracker.ErrDuplicateArticle)
		}
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

// GetArticle fetches one article.
func (s *Store) GetArticle(ctx context.Context, id string) (tracker.Article, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, articleColumns, s.articles)
	a, err := scanArticle(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tracker.Article{}, fmt.Errorf("article %s: %w", id, tracker.ErrNotFound)
		}
		return tracker.Article{}, fmt.Errorf("select article: %w", err)
	}
	return a, nil
}

// ListArticles returns all articles ordered by creation time then ID.
func (s *Store) ListArticles(ctx context.Context) ([]tracker.Article, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at, id`, articleColumns, s.articles)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	out := []tracker.Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return out, nil
}

// UpdateSchedule writes the scheduler-owned columns.
func (s *Store) UpdateSchedule(ctx context.Context, id string, sch tracker.Schedule) error {
	query := fmt.Sprintf(`UPDATE %s SET base_interval_ms = $1, interval_ms = $2, next_due_at = $3,
	status = $4, consecutive_failures = $5 WHERE id = $6`, s.articles)
	tag, err := s.pool.Exec(ctx, query,
		sch.BaseInterval.Milliseconds(),
		sch.Interval.Milliseconds(),
		sch.NextDue,
		string(sch.Status),
		sch.ConsecutiveFailures,
		id,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("article %s: %w", id, tracker.ErrNotFound)
	}
	return nil
}

// RecordCrawl writes the coordinator-owned columns. An empty hash or zero
// time keeps the stored value.
func (s *Store) RecordCrawl(ctx context.Context, id string, rec tracker.CrawlRecord) error {
	query := fmt.Sprintf(`UPDATE %s SET last_hash = COALESCE(NULLIF($1, ''), last_hash),
	last_crawled_at = COALESCE($2, last_crawled_at), last_error = $3 WHERE id = $4`, s.articles)
	tag, err := s.pool.Exec(ctx, query, rec.LastHash, nullableTime(rec.CrawledAt), rec.LastError, id)
	if err != nil {
		return fmt.Errorf("record crawl: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("article %s: %w", id, tracker.ErrNotFound)
	}
	return nil
}

func scanArticle(row scanner) (tracker.Article, error) {
	var (
		a            tracker.Article
		status       string
		baseMs       int64
		intervalMs   int64
		lastCrawled  *time.Time
		nextDue      time.Time
		createdAt    time.Time
		consecutive  int
		lastHash     string
		lastErrorMsg string
	)
	if err := row.Scan(
		&a.ID,
		&a.URL,
		&a.Normalizer,
		&baseMs,
		&intervalMs,
		&nextDue,
		&status,
		&consecutive,
		&lastHash,
		&lastCrawled,
		&lastErrorMsg,
		&createdAt,
	); err != nil {
		return tracker.Article{}, err
	}
	a.BaseInterval = time.Duration(baseMs) * time.Millisecond
	a.Interval = time.Duration(intervalMs) * time.Millisecond
	a.NextDue = nextDue.UTC()
	a.Status = tracker.ArticleStatus(status)
	a.ConsecutiveFailures = consecutive
	a.LastHash = lastHash
	if lastCrawled != nil {
		a.LastCrawledAt = lastCrawled.UTC()
	}
	a.LastError = lastErrorMsg
	a.CreatedAt = createdAt.UTC()
	return a, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
