package secondary

import (
	"crypto/rand"
	"encoding/binary"
	"strings"

	"github.com/spine-review-engine/internal/domain"
)

// RandomSource yields uniform integers in [0, n).
type RandomSource interface {
	Intn(n int) int
}

// CryptoSource draws from crypto/rand.
type CryptoSource struct{}

// Intn returns a uniform value in [0, n) using rejection sampling over 64-bit draws.
func (CryptoSource) Intn(n int) int {
	if n <= 1 {
		return 0
	}
	bound := uint64(n)
	limit := ^uint64(0) - (^uint64(0) % bound)
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			panic("crypto/rand unavailable: " + err.Error())
		}
		v := binary.BigEndian.Uint64(buf[:])
		if v < limit {
			return int(v % bound)
		}
	}
}

// SequenceSource replays a fixed sequence, wrapping around. Each value is reduced modulo n.
type SequenceSource struct {
	Values []int
	pos    int
}

// Intn returns the next value of the sequence modulo n.
func (s *SequenceSource) Intn(n int) int {
	if n <= 1 || len(s.Values) == 0 {
		return 0
	}
	v := s.Values[s.pos%len(s.Values)]
	s.pos++
	if v < 0 {
		v = -v
	}
	return v % n
}

// PeerCriteria constrains which candidates may be invited as peers.
type PeerCriteria struct {
	ExcludeOrgID           string
	ExcludeUserIDs         []string
	RequireExpertCertified bool
	// Specialties, when non-empty, requires at least one shared specialty.
	Specialties []string
}

// CriteriaFor builds the peer criteria for a case under the given policy. The case's
// organization and the excluded users never receive an invitation.
func CriteriaFor(c *domain.Case, exclude []string, policy domain.Policy) PeerCriteria {
	criteria := PeerCriteria{
		ExcludeOrgID:           c.OrgID,
		ExcludeUserIDs:         exclude,
		RequireExpertCertified: policy.RequireExpertCertified,
	}
	if policy.RequireSpecialtyMatch {
		criteria.Specialties = c.Specialties
	}
	return criteria
}

// Eligible reports whether a single candidate passes the criteria.
func (pc PeerCriteria) Eligible(c domain.Candidate) bool {
	for _, id := range pc.ExcludeUserIDs {
		if id == c.UserID {
			return false
		}
	}
	if pc.ExcludeOrgID != "" && c.OrgID == pc.ExcludeOrgID {
		return false
	}
	if pc.RequireExpertCertified && (!c.ExpertCertified || c.Role != domain.RoleExpertReviewer) {
		return false
	}
	if len(pc.Specialties) > 0 && !overlaps(pc.Specialties, c.Specialties) {
		return false
	}
	return true
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(x, y) {
				return true
			}
		}
	}
	return false
}

// SelectPeers filters the candidates and samples up to count of them uniformly without
// replacement. Candidates are deduplicated by user id and the result is in sample order.
func SelectPeers(candidates []domain.Candidate, count int, criteria PeerCriteria, rng RandomSource) []string {
	if count <= 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var pool []string
	for _, c := range candidates {
		if _, dup := seen[c.UserID]; dup || c.UserID == "" {
			continue
		}
		if !criteria.Eligible(c) {
			continue
		}
		seen[c.UserID] = struct{}{}
		pool = append(pool, c.UserID)
	}

	if count > len(pool) {
		count = len(pool)
	}
	// Partial Fisher-Yates: the first count slots become the sample.
	for i := 0; i < count; i++ {
		j := i + rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:count]
}
