package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LeventeLantos/social-publisher/internal/model"
)

// MemoryStore is an in-process Store. It keeps a log of every write so
// callers can assert on the order of side effects.
type MemoryStore struct {
	mu       sync.Mutex
	contents map[int64]model.ContentItem
	targets  map[int64]model.Target
	accounts map[int64]model.Account
	writes   []string
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contents: make(map[int64]model.ContentItem),
		targets:  make(map[int64]model.Target),
		accounts: make(map[int64]model.Account),
	}
}

func (s *MemoryStore) id(v int64) int64 {
	if v != 0 {
		if v > s.nextID {
			s.nextID = v
		}
		return v
	}
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) PutAccount(a model.Account) model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id(a.ID)
	s.accounts[a.ID] = a
	return a
}

func (s *MemoryStore) PutContent(c model.ContentItem) model.ContentItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id(c.ID)
	if c.Status == "" {
		c.Status = model.ContentDraft
	}
	s.contents[c.ID] = c
	return c
}

func (s *MemoryStore) PutTarget(t model.Target) model.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id(t.ID)
	if t.Status == "" {
		t.Status = model.TargetPending
	}
	s.targets[t.ID] = t
	return t
}

func (s *MemoryStore) Account(id int64) (model.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	return a, ok
}

func (s *MemoryStore) Content(id int64) (model.ContentItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contents[id]
	return c, ok
}

func (s *MemoryStore) Target(id int64) (model.Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	return t, ok
}

// Writes returns the write log, one "Method:id" entry per call.
func (s *MemoryStore) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func (s *MemoryStore) logWrite(method string, id int64) {
	s.writes = append(s.writes, fmt.Sprintf("%s:%d", method, id))
}

func (s *MemoryStore) LoadPublication(_ context.Context, contentID int64) (Publication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contents[contentID]
	if !ok {
		return Publication{}, fmt.Errorf("content %d: %w", contentID, ErrNotFound)
	}
	pub := Publication{Content: c, Accounts: make(map[int64]model.Account)}
	for _, t := range s.targets {
		if t.ContentID != contentID {
			continue
		}
		a, ok := s.accounts[t.AccountID]
		if !ok {
			return Publication{}, fmt.Errorf("account %d: %w", t.AccountID, ErrNotFound)
		}
		pub.Targets = append(pub.Targets, t)
		pub.Accounts[a.ID] = a
	}
	sort.Slice(pub.Targets, func(i, j int) bool { return pub.Targets[i].ID < pub.Targets[j].ID })
	return pub, nil
}

func (s *MemoryStore) updateContent(method string, id int64, fn func(*model.ContentItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contents[id]
	if !ok {
		return ErrNotFound
	}
	fn(&c)
	c.UpdatedAt = time.Now().UTC()
	s.contents[id] = c
	s.logWrite(method, id)
	return nil
}

func (s *MemoryStore) updateTarget(method string, id int64, fn func(*model.Target)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return ErrNotFound
	}
	fn(&t)
	s.targets[id] = t
	s.logWrite(method, id)
	return nil
}

func (s *MemoryStore) MarkContentPublishing(_ context.Context, contentID int64) error {
	return s.updateContent("MarkContentPublishing", contentID, func(c *model.ContentItem) {
		c.Status = model.ContentPublishing
		c.LastError = nil
	})
}

func (s *MemoryStore) MarkTargetPublished(_ context.Context, targetID int64, postID string, at time.Time) error {
	return s.updateTarget("MarkTargetPublished", targetID, func(t *model.Target) {
		at := at.UTC()
		t.Status = model.TargetPublished
		t.PlatformPostID = &postID
		t.ErrorMessage = nil
		t.PublishedAt = &at
	})
}

func (s *MemoryStore) MarkTargetFailed(_ context.Context, targetID int64, reason string) error {
	return s.updateTarget("MarkTargetFailed", targetID, func(t *model.Target) {
		t.Status = model.TargetFailed
		t.ErrorMessage = &reason
	})
}

func (s *MemoryStore) MarkContentPublished(_ context.Context, contentID int64, at time.Time) error {
	return s.updateContent("MarkContentPublished", contentID, func(c *model.ContentItem) {
		at := at.UTC()
		c.Status = model.ContentPublished
		c.PublishedAt = &at
		c.LastError = nil
	})
}

func (s *MemoryStore) MarkContentFailed(_ context.Context, contentID int64, reason string) error {
	return s.updateContent("MarkContentFailed", contentID, func(c *model.ContentItem) {
		c.Status = model.ContentFailed
		c.PublishedAt = nil
		c.LastError = &reason
	})
}

func (s *MemoryStore) UpdateAccountCredential(_ context.Context, accountID int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.AccessToken = accessToken
	a.RefreshToken = refreshToken
	if expiresAt != nil {
		exp := expiresAt.UTC()
		a.ExpiresAt = &exp
	} else {
		a.ExpiresAt = nil
	}
	s.accounts[accountID] = a
	s.logWrite("UpdateAccountCredential", accountID)
	return nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []model.ContentItem
	for _, c := range s.contents {
		if c.Status == model.ContentScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(*due[j].ScheduledAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledAt.Before(*due[j].ScheduledAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	var ids []int64
	for _, c := range due {
		c.Status = model.ContentPublishing
		c.UpdatedAt = now.UTC()
		s.contents[c.ID] = c
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (s *MemoryStore) ReleaseClaimed(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		c, ok := s.contents[id]
		if !ok || c.Status != model.ContentPublishing {
			continue
		}
		c.Status = model.ContentScheduled
		s.contents[id] = c
		s.logWrite("ReleaseClaimed", id)
	}
	return nil
}

func (s *MemoryStore) ListPublished(_ context.Context, limit, offset int) ([]model.ContentItem, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ContentItem
	for _, c := range s.contents {
		if c.Status == model.ContentPublished {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].PublishedAt, out[j].PublishedAt
		if pi == nil || pj == nil || pi.Equal(*pj) {
			return out[i].ID > out[j].ID
		}
		return pi.After(*pj)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
