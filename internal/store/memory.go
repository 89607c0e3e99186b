package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/canopylabs/cropclass/internal/apperr"
	"github.com/canopylabs/cropclass/internal/model"
)

// MemoryStore is an in-memory Store for tests and single-process use.
// All methods are safe for concurrent callers; the results slice per
// session preserves append order.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	results  map[string][]*model.ClassificationResult
	byID     map[string]*model.ClassificationResult
	uploads  map[string]*model.Upload
	now      func() time.Time
}

// NewMemory creates an empty MemoryStore. A nil clock defaults to time.Now.
func NewMemory(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
		results:  make(map[string][]*model.ClassificationResult),
		byID:     make(map[string]*model.ClassificationResult),
		uploads:  make(map[string]*model.Upload),
		now:      now,
	}
}

func (s *MemoryStore) CreateSession(_ context.Context) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := &model.Session{ID: uuid.NewString(), CreatedAt: s.now().UTC()}
	s.sessions[session.ID] = session
	return session, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return apperr.Newf(apperr.KindNotFound, "session %s not found", sessionID)
	}
	for _, r := range s.results[sessionID] {
		delete(s.byID, r.ID)
	}
	delete(s.results, sessionID)
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) AppendResult(_ context.Context, sessionID string, result *model.ClassificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return apperr.Newf(apperr.KindNotFound, "session %s not found", sessionID)
	}
	stored := cloneResult(result)
	s.results[sessionID] = append(s.results[sessionID], stored)
	s.byID[stored.ID] = stored
	return nil
}

func (s *MemoryStore) ListResults(_ context.Context, sessionID string) ([]*model.ClassificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.ClassificationResult, len(s.results[sessionID]))
	for i, r := range s.results[sessionID] {
		out[i] = cloneResult(r)
	}
	return out, nil
}

func (s *MemoryStore) GetResult(_ context.Context, resultID string) (*model.ClassificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[resultID]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "result %s not found", resultID)
	}
	return cloneResult(r), nil
}

// cloneResult copies a result so callers cannot mutate stored state.
func cloneResult(r *model.ClassificationResult) *model.ClassificationResult {
	cp := *r
	if r.Coordinates != nil {
		coords := *r.Coordinates
		cp.Coordinates = &coords
	}
	if r.Outcome.Probabilities != nil {
		probs := make(map[model.ClassLabel]float64, len(r.Outcome.Probabilities))
		for label, p := range r.Outcome.Probabilities {
			probs[label] = p
		}
		cp.Outcome.Probabilities = probs
	}
	return &cp
}

func (s *MemoryStore) PutUpload(_ context.Context, filename, mimeType string, data []byte, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	ref := uuid.NewString()
	blob := make([]byte, len(data))
	copy(blob, data)
	s.uploads[ref] = &model.Upload{
		Ref:       ref,
		Filename:  filename,
		MIMEType:  mimeType,
		Data:      blob,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	return ref, nil
}

func (s *MemoryStore) GetUpload(_ context.Context, ref string) (*model.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[ref]
	if !ok || !u.ExpiresAt.After(s.now().UTC()) {
		return nil, apperr.Newf(apperr.KindNotFound, "upload %s not found", ref)
	}
	cp := *u
	cp.Data = make([]byte, len(u.Data))
	copy(cp.Data, u.Data)
	return &cp, nil
}

func (s *MemoryStore) DeleteExpiredUploads(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	n := 0
	for ref, u := range s.uploads {
		if !u.ExpiresAt.After(now) {
			delete(s.uploads, ref)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
