// Package matcher pairs equivalent listings across venues by cosine similarity
// of their embedding vectors.
package matcher

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// DefaultFloor is the minimum similarity accepted when Options.Floor is unset.
const DefaultFloor = 0.80

// maxCandidates caps the number of candidates kept per venue-A record.
const maxCandidates = 100

// ErrDimensionMismatch is returned when two vectors differ in length.
var ErrDimensionMismatch = errors.New("matcher: embedding dimension mismatch")

// opportunityNamespace seeds the deterministic opportunity identifiers.
var opportunityNamespace = uuid.MustParse("6f1f7c1e-4d0b-5c57-9a53-3b8f0a2e9c41")

// Options tunes Match.
type Options struct {
	Floor      float64   // minimum cosine similarity, in (0,1]
	Candidates int       // candidates kept per A record, best included; <=1 keeps only the best
	Now        time.Time // eligibility instant; zero means time.Now()
}

func (o Options) withDefaults() Options {
	if o.Floor <= 0 || o.Floor > 1 {
		o.Floor = DefaultFloor
	}
	if o.Candidates < 1 {
		o.Candidates = 1
	}
	if o.Candidates > maxCandidates {
		o.Candidates = maxCandidates
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// Cosine returns the cosine similarity of a and b in [-1,1]. A zero vector has
// similarity 0 with everything.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Rounding can push identical vectors just past 1.
	return math.Max(-1, math.Min(1, s)), nil
}

// OpportunityID returns the stable identifier of the (a, b) pair.
func OpportunityID(aID, bID string) string {
	return uuid.NewSHA1(opportunityNamespace, []byte(string(domain.VenuePolymarket)+":"+aID+"|"+string(domain.VenueKalshi)+":"+bID)).String()
}

type candidate struct {
	b   *domain.MarketRecord
	sim float64
}

// better orders candidates by similarity descending, then venue-B id ascending.
func better(x, y candidate) bool {
	if x.sim != y.sim {
		return x.sim > y.sim
	}
	return x.b.ID < y.b.ID
}

// Match finds, for every eligible venue-A record, the venue-B record with the
// highest similarity at or above the floor. Records are eligible when open at
// opts.Now and embedded. Empty input on either side yields an empty result.
// Vectors whose dimension differs from the A record, or that yield a NaN
// similarity, are skipped.
//
// The returned slice holds, per A record in input order, its best match first
// followed by up to Candidates-1 runners-up.
func Match(runID string, as, bs []domain.MarketRecord, opts Options) []domain.MarketMatch {
	opts = opts.withDefaults()
	out := make([]domain.MarketMatch, 0)

	eligibleB := make([]*domain.MarketRecord, 0, len(bs))
	for i := range bs {
		if eligible(bs[i], opts.Now) {
			eligibleB = append(eligibleB, &bs[i])
		}
	}
	if len(eligibleB) == 0 {
		return out
	}

	for i := range as {
		a := &as[i]
		if !eligible(*a, opts.Now) {
			continue
		}

		var cands []candidate
		for _, b := range eligibleB {
			sim, err := Cosine(a.Embedding, b.Embedding)
			if err != nil || math.IsNaN(sim) || sim < opts.Floor {
				continue
			}
			cands = append(cands, candidate{b: b, sim: sim})
		}
		if len(cands) == 0 {
			continue
		}
		sort.Slice(cands, func(x, y int) bool { return better(cands[x], cands[y]) })
		if len(cands) > opts.Candidates {
			cands = cands[:opts.Candidates]
		}

		for rank, c := range cands {
			out = append(out, domain.MarketMatch{
				RunID:         runID,
				OpportunityID: OpportunityID(a.ID, c.b.ID),
				AID:           a.ID,
				BID:           c.b.ID,
				Similarity:    c.sim,
				BestMatch:     rank == 0,
				CreatedAt:     opts.Now,
			})
		}
	}
	return out
}

// Best filters matches down to those flagged as best.
func Best(matches []domain.MarketMatch) []domain.MarketMatch {
	out := make([]domain.MarketMatch, 0, len(matches))
	for _, m := range matches {
		if m.BestMatch {
			out = append(out, m)
		}
	}
	return out
}

func eligible(r domain.MarketRecord, now time.Time) bool {
	return len(r.Embedding) > 0 && r.OpenAt(now)
}
