package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/article-tracker/internal/tracker"
)

// VersionStore keeps append-only article histories in memory. Appends are
// serialized per article; readers never block appends to other articles.
type VersionStore struct {
	mu        sync.RWMutex
	histories map[string]*history
}

type history struct {
	mu       sync.RWMutex
	versions []tracker.Version
}

// NewVersionStore constructs a VersionStore.
func NewVersionStore() *VersionStore {
	return &VersionStore{histories: make(map[string]*history)}
}

func (s *VersionStore) historyFor(articleID string, create bool) *history {
	s.mu.RLock()
	h, ok := s.histories[articleID]
	s.mu.RUnlock()
	if ok || !create {
		return h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.histories[articleID]; !ok {
		h = &history{}
		s.histories[articleID] = h
	}
	return h
}

// Append assigns the next sequence number and stores the version.
func (s *VersionStore) Append(_ context.Context, draft tracker.VersionDraft) (tracker.Version, error) {
	if draft.ArticleID == "" {
		return tracker.Version{}, fmt.Errorf("append version: article id is required")
	}
	h := s.historyFor(draft.ArticleID, true)
	h.mu.Lock()
	defer h.mu.Unlock()

	current := len(h.versions)
	if current != draft.PrevSequence {
		return tracker.Version{}, fmt.Errorf(
			"append version %s: expected latest %d, found %d: %w",
			draft.ArticleID, draft.PrevSequence, current, tracker.ErrConcurrentWriteConflict,
		)
	}
	if current > 0 && h.versions[current-1].Hash == draft.Hash {
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
	h.versions = append(h.versions, v)
	return v, nil
}

// Latest returns the highest-sequence version.
func (s *VersionStore) Latest(_ context.Context, articleID string) (tracker.Version, error) {
	h := s.historyFor(articleID, false)
	if h == nil {
		return tracker.Version{}, fmt.Errorf("latest version %s: %w", articleID, tracker.ErrNotFound)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.versions) == 0 {
		return tracker.Version{}, fmt.Errorf("latest version %s: %w", articleID, tracker.ErrNotFound)
	}
	return h.versions[len(h.versions)-1], nil
}

// History returns versions after page.AfterSequence in ascending order.
func (s *VersionStore) History(_ context.Context, articleID string, page tracker.Page) ([]tracker.Version, error) {
	page = page.Normalize()
	h := s.historyFor(articleID, false)
	if h == nil {
		return []tracker.Version{}, nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	// sequence n lives at index n-1
	start := min(page.AfterSequence, len(h.versions))
	end := start + min(page.Limit, len(h.versions)-start)
	out := make([]tracker.Version, end-start)
	copy(out, h.versions[start:end])
	return out, nil
}

// Search returns the latest version per article whose title, topline or body
// contains keyword (case-insensitive), ordered by article ID.
func (s *VersionStore) Search(_ context.Context, keyword string) ([]tracker.Version, error) {
	needle := strings.ToLower(strings.TrimSpace(keyword))
	if needle == "" {
		return []tracker.Version{}, nil
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.histories))
	for id := range s.histories {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	out := []tracker.Version{}
	for _, id := range ids {
		h := s.historyFor(id, false)
		h.mu.RLock()
		for i := len(h.versions) - 1; i >= 0; i-- {
			if matches(h.versions[i].Content, needle) {
				out = append(out, h.versions[i])
				break
			}
		}
		h.mu.RUnlock()
	}
	return out, nil
}

func matches(c tracker.Content, needle string) bool {
	return strings.Contains(strings.ToLower(c.Title), needle) ||
		strings.Contains(strings.ToLower(c.Topline), needle) ||
		strings.Contains(strings.ToLower(c.Body), needle)
}
