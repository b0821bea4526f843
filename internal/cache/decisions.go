package cache

import (
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gouthelper-server/internal/domain"
)

// DecisionCache keeps the most recent prophylaxis decision per subject
// in process memory, so repeated reads between writes skip
// re-evaluation. Any write for a subject must call Invalidate.
type DecisionCache struct {
	lru *lru.Cache[uuid.UUID, *domain.PpxDecision]
}

// NewDecisionCache creates an LRU-bounded decision cache.
func NewDecisionCache(size int) (*DecisionCache, error) {
	if size <= 0 {
		size = 128
	}
	inner, err := lru.New[uuid.UUID, *domain.PpxDecision](size)
	if err != nil {
		return nil, err
	}
	return &DecisionCache{lru: inner}, nil
}

// Get returns the cached decision for a subject, or a miss.
func (c *DecisionCache) Get(subjectID uuid.UUID) (*domain.PpxDecision, bool) {
	return c.lru.Get(subjectID)
}

// Set stores the latest decision for a subject.
func (c *DecisionCache) Set(decision *domain.PpxDecision) {
	c.lru.Add(decision.SubjectID, decision)
}

// Invalidate drops the cached decision for a subject.
func (c *DecisionCache) Invalidate(subjectID uuid.UUID) {
	c.lru.Remove(subjectID)
}

// Len reports the number of cached decisions.
func (c *DecisionCache) Len() int {
	return c.lru.Len()
}
