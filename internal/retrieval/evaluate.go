package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/shape.search/internal/monitoring"
)

// ClassMetrics are mean retrieval scores over the queries of one class.
type ClassMetrics struct {
	Category     string  `json:"category"`
	Queries      int     `json:"queries"`
	PrecisionAtK float64 `json:"precision_at_k"`
	RecallAtK    float64 `json:"recall_at_k"`
	MAP          float64 `json:"map"`
	FirstTier    float64 `json:"first_tier"`
}

// EvaluationRun is the result of a leave-one-out evaluation: every indexed
// shape is used as a query against the rest of the database, and its own
// class is the ground truth.
type EvaluationRun struct {
	RunID        string         `json:"run_id"`
	K            int            `json:"k"`
	IndexKind    string         `json:"index_kind"`
	ConfigHash   string         `json:"config_hash"`
	Queries      int            `json:"queries"`
	Skipped      int            `json:"skipped"` // shapes alone in their class
	PrecisionAtK float64        `json:"precision_at_k"`
	RecallAtK    float64        `json:"recall_at_k"`
	MAP          float64        `json:"map"`
	FirstTier    float64        `json:"first_tier"`
	PerClass     []ClassMetrics `json:"per_class"`
	CreatedAt    time.Time      `json:"created_at"`
	Duration     time.Duration  `json:"duration_ns"`
}

// queryScore holds the metrics of one query.
type queryScore struct {
	category  string
	precision float64
	recall    float64
	ap        float64
	firstTier float64
}

// Evaluate runs leave-one-out retrieval over every indexed shape and scores
// the top k results. k <= 0 uses the configured k.
func Evaluate(ctx context.Context, e *Engine, k int) (*EvaluationRun, error) {
	start := e.clock.Now()
	if k <= 0 {
		k = e.cfg.GetK()
	}
	ds := e.Descriptors()
	if len(ds) == 0 {
		return nil, ErrEmptyIndex
	}

	classSize := make(map[string]int)
	for _, d := range ds {
		classSize[d.Category]++
	}

	scores := make([]*queryScore, len(ds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.GetWorkers())
	for i, d := range ds {
		relevant := classSize[d.Category] - 1
		if relevant == 0 {
			continue
		}
		g.Go(func() error {
			ranking, err := e.QueryByID(gctx, d.ShapeID, len(ds))
			if err != nil {
				return fmt.Errorf("query %s: %w", d.ShapeID, err)
			}
			s := scoreRanking(ranking, d.Category, relevant, k)
			scores[i] = &s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	run := &EvaluationRun{
		RunID:      uuid.New().String(),
		K:          k,
		IndexKind:  e.cfg.GetIndexKind(),
		ConfigHash: e.extractor.ConfigHash(),
		CreatedAt:  start.UTC(),
	}

	perClass := make(map[string]*ClassMetrics)
	for _, s := range scores {
		if s == nil {
			run.Skipped++
			continue
		}
		run.Queries++
		run.PrecisionAtK += s.precision
		run.RecallAtK += s.recall
		run.MAP += s.ap
		run.FirstTier += s.firstTier

		cm := perClass[s.category]
		if cm == nil {
			cm = &ClassMetrics{Category: s.category}
			perClass[s.category] = cm
		}
		cm.Queries++
		cm.PrecisionAtK += s.precision
		cm.RecallAtK += s.recall
		cm.MAP += s.ap
		cm.FirstTier += s.firstTier
	}

	if run.Queries > 0 {
		n := float64(run.Queries)
		run.PrecisionAtK /= n
		run.RecallAtK /= n
		run.MAP /= n
		run.FirstTier /= n
	}
	for _, cm := range perClass {
		n := float64(cm.Queries)
		cm.PrecisionAtK /= n
		cm.RecallAtK /= n
		cm.MAP /= n
		cm.FirstTier /= n
		run.PerClass = append(run.PerClass, *cm)
	}
	sort.Slice(run.PerClass, func(i, j int) bool { return run.PerClass[i].Category < run.PerClass[j].Category })

	run.Duration = e.clock.Since(start)
	monitoring.Logf("evaluation %s: %d queries, P@%d=%.3f mAP=%.3f first-tier=%.3f",
		run.RunID, run.Queries, k, run.PrecisionAtK, run.MAP, run.FirstTier)
	return run, nil
}

// scoreRanking scores a full ranking for a query of class category with
// relevant other members in the database.
func scoreRanking(ranking []Match, category string, relevant, k int) queryScore {
	s := queryScore{category: category}
	var hits, hitsAtK, hitsInTier int
	var apSum float64
	for i, m := range ranking {
		if m.Category != category {
			continue
		}
		hits++
		apSum += float64(hits) / float64(i+1)
		if i < k {
			hitsAtK++
		}
		if i < relevant {
			hitsInTier++
		}
	}
	s.precision = float64(hitsAtK) / float64(k)
	s.recall = float64(hitsAtK) / float64(relevant)
	s.ap = apSum / float64(relevant)
	s.firstTier = float64(hitsInTier) / float64(relevant)
	return s
}
