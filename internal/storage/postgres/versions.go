package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/article-tracker/internal/tracker"
)

const versionColumns = `article_id, sequence, content_hash, title, topline, body, published_at, fetched_at, diff, raw_uri`

// Append writes the next version inside a transaction that locks the article
// row, so appends for one article are serialized even across processes.
func (s *Store) Append(ctx context.Context, draft tracker.VersionDraft) (tracker.Version, error) {
	if draft.ArticleID == "" {
		return tracker.Version{}, fmt.Errorf("append version: article id is required")
	}
	diffJSON, err := json.Marshal(draft.Diff)
	if err != nil {
		return tracker.Version{}, fmt.Errorf("marshal diff: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return tracker.Version{}, fmt.Errorf("begin append: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var lockedID string
	lockQuery := fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, s.articles)
	if err := tx.QueryRow(ctx, lockQuery, draft.ArticleID).Scan(&lockedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tracker.Version{}, fmt.Errorf("article %s: %w", draft.ArticleID, tracker.ErrNotFound)
		}
		return tracker.Version{}, fmt.Errorf("lock article: %w", err)
	}

	var (
		current     int
		currentHash string
	)
	latestQuery := fmt.Sprintf(
		`SELECT sequence, content_hash FROM %s WHERE article_id = $1 ORDER BY sequence DESC LIMIT 1`,
		s.versions,
	)
	err = tx.QueryRow(ctx, latestQuery, draft.ArticleID).Scan(&current, &currentHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return tracker.Version{}, fmt.Errorf("select latest sequence: %w", err)
	}
	if current != draft.PrevSequence {
		return tracker.Version{}, fmt.Errorf(
			"append version %s: expected latest %d, found %d: %w",
			draft.ArticleID, draft.PrevSequence, current, tracker.ErrConcurrentWriteConflict,
		)
	}
	if current > 0 && currentHash == draft.Hash {
		return tracker.Version{}, fmt.Errorf(
			"append version %s: duplicate consecutive hash: %w",
			draft.ArticleID, tracker.ErrConcurrentWriteConflict,
		)
	}

	v := tracker.Version{
		ArticleID: draft.ArticleID,
		Sequence:  current + 1,
		Hash:      draft.Hash,
		Content:   draft.Content,
		Diff:      draft.Diff,
		FetchedAt: draft.FetchedAt,
		RawURI:    draft.RawURI,
	}
	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, s.versions, versionColumns)
	if _, err := tx.Exec(ctx, insert,
		v.ArticleID,
		v.Sequence,
		v.Hash,
		v.Content.Title,
		v.Content.Topline,
		v.Content.Body,
		v.Content.PublishedAt,
		v.FetchedAt,
		diffJSON,
		v.RawURI,
	); err != nil {
		if isUniqueViolation(err) {
			return tracker.Version{}, fmt.Errorf("insert version %s/%d: %w",
				v.ArticleID, v.Sequence, tracker.ErrConcurrentWriteConflict)
		}
		return tracker.Version{}, fmt.Errorf("insert version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return tracker.Version{}, fmt.Errorf("commit append: %w", err)
	}
	committed = true
	return v, nil
}

// Latest returns the highest-sequence version of an article.
func (s *Store) Latest(ctx context.Context, articleID string) (tracker.Version, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE article_id = $1 ORDER BY sequence DESC LIMIT 1`,
		versionColumns, s.versions)
	v, err := scanVersion(s.pool.QueryRow(ctx, query, articleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tracker.Version{}, fmt.Errorf("latest version %s: %w", articleID, tracker.ErrNotFound)
		}
		return tracker.Version{}, fmt.Errorf("select latest version: %w", err)
	}
	return v, nil
}

// History pages through versions in ascending sequence order.
func (s *Store) History(ctx context.Context, articleID string, page tracker.Page) ([]tracker.Version, error) {
	page = page.Normalize()
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE article_id = $1 AND sequence > $2 ORDER BY sequence ASC LIMIT $3`,
		versionColumns, s.versions)
	return s.queryVersions(ctx, query, articleID, page.AfterSequence, page.Limit)
}

// Search returns the most recent matching version per article.
func (s *Store) Search(ctx context.Context, keyword string) ([]tracker.Version, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return []tracker.Version{}, nil
	}
	query := fmt.Sprintf(`SELECT DISTINCT ON (article_id) %s FROM %s
	WHERE title ILIKE $1 OR topline ILIKE $1 OR body ILIKE $1
	ORDER BY article_id, sequence DESC`, versionColumns, s.versions)
	return s.queryVersions(ctx, query, "%"+escapeLike(keyword)+"%")
}

func (s *Store) queryVersions(ctx context.Context, query string, args ...any) ([]tracker.Version, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	out := []tracker.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return out, nil
}

func scanVersion(row scanner) (tracker.Version, error) {
	var (
		v         tracker.Version
		published *time.Time
		fetchedAt time.Time
		diffJSON  []byte
	)
	if err := row.Scan(
		&v.ArticleID,
		&v.Sequence,
		&v.Hash,
		&v.Content.Title,
		&v.Content.Topline,
		&v.Content.Body,
		&published,
		&fetchedAt,
		&diffJSON,
		&v.RawURI,
	); err != nil {
		return tracker.Version{}, err
	}
	if published != nil {
		ts := published.UTC()
		v.Content.PublishedAt = &ts
	}
	v.FetchedAt = fetchedAt.UTC()
	if len(diffJSON) > 0 {
		if err := json.Unmarshal(diffJSON, &v.Diff); err != nil {
			return tracker.Version{}, fmt.Errorf("unmarshal diff: %w", err)
		}
	}
	return v, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
