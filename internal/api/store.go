package api

import (
	"sync"

	"github.com/samcharles93/tuner/internal/infer"
)

// DefaultStoreLimit bounds how many result sets are kept for GET.
const DefaultStoreLimit = 64

// ResultStore keeps recent result sets by id, evicting the oldest once
// the limit is reached.
type ResultStore struct {
	mu      sync.Mutex
	limit   int
	order   []string
	results map[string]ResultsResponse
}

func NewResultStore(limit int) *ResultStore {
	if limit <= 0 {
		limit = DefaultStoreLimit
	}
	return &ResultStore{
		limit:   limit,
		results: make(map[string]ResultsResponse),
	}
}

func (s *ResultStore) Put(id string, createdAt int64, res *infer.Results) ResultsResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := ResultsResponse{ID: id, CreatedAt: createdAt, Result: res.Result}
	if _, ok := s.results[id]; !ok {
		s.order = append(s.order, id)
	}
	s.results[id] = resp
	for len(s.order) > s.limit {
		delete(s.results, s.order[0])
		s.order = s.order[1:]
	}
	return resp
}

func (s *ResultStore) Get(id string) (ResultsResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.results[id]
	return resp, ok
}

func (s *ResultStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[id]; !ok {
		return false
	}
	delete(s.results, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *ResultStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}
