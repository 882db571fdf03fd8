// Package roster provides the peer reviewer pool consulted when a secondary review is created.
package roster

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/spine-review-engine/internal/domain"
)

const allCandidatesKey = "candidates:all"

// CachedProvider serves the roster from an expiring in-process cache in front of a slower provider
type CachedProvider struct {
	source domain.RosterProvider
	cache  *expirable.LRU[string, []domain.Candidate]
	log    *logrus.Logger
}

// NewCachedProvider wraps source. A non-positive size or ttl falls back to 16 entries and one minute.
func NewCachedProvider(source domain.RosterProvider, size int, ttl time.Duration, logger *logrus.Logger) *CachedProvider {
	if size <= 0 {
		size = 16
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedProvider{
		source: source,
		cache:  expirable.NewLRU[string, []domain.Candidate](size, nil, ttl),
		log:    logger,
	}
}

// ListCandidates returns the cached roster, loading it from the source on a miss
func (p *CachedProvider) ListCandidates(ctx context.Context) ([]domain.Candidate, error) {
	if cached, ok := p.cache.Get(allCandidatesKey); ok {
		p.log.WithField("count", len(cached)).Debug("Roster cache hit")
		return copyCandidates(cached), nil
	}

	candidates, err := p.source.ListCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading roster: %w", err)
	}
	p.cache.Add(allCandidatesKey, copyCandidates(candidates))

	p.log.WithFields(logrus.Fields{
		"count": len(candidates),
	}).Debug("Roster cache refreshed")
	return candidates, nil
}

// Invalidate drops the cached roster so the next call reads the source
func (p *CachedProvider) Invalidate() {
	p.cache.Remove(allCandidatesKey)
}

func copyCandidates(in []domain.Candidate) []domain.Candidate {
	out := make([]domain.Candidate, len(in))
	for i, c := range in {
		c.Specialties = append([]string(nil), c.Specialties...)
		out[i] = c
	}
	return out
}

var _ domain.RosterProvider = (*CachedProvider)(nil)
