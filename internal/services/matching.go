package services

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/kerjalink/backend/internal/models"
)

const (
	DefaultMatchLimit = 5
	MaxMatchLimit     = 20
)

// Component weights. The five components carry 20% each with a 5%
// reliability bonus layered on top, so totals can reach 1.05. The headroom
// is intentional skew favoring proven workers, kept from the product's
// original tuning; do not renormalize without flagging the ranking change.
const (
	componentWeight   = 0.20
	reliabilityWeight = 0.05
)

// CandidateRepo supplies the worker-candidate pool: verified workers with
// complete profiles, excluding the requesting poster.
type CandidateRepo interface {
	FindCandidates(ctx context.Context, category string, excludeUser uuid.UUID) ([]*models.User, error)
	FindCandidatesAnyCategory(ctx context.Context, excludeUser uuid.UUID) ([]*models.User, error)
}

// Embedder computes text embeddings. Failures are non-fatal: matching
// proceeds with semanticScore degraded to 0.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Score is the per-candidate breakdown, computed fresh per request and never
// persisted. Every component is in [0,1]; Total is in [0,1.05].
type Score struct {
	Worker      *models.User `json:"worker"`
	Semantic    float64      `json:"semantic_score"`
	Category    float64      `json:"category_score"`
	Distance    float64      `json:"distance_score"`
	Rating      float64      `json:"rating_score"`
	Experience  float64      `json:"experience_score"`
	Reliability float64      `json:"reliability_score"`
	Total       float64      `json:"total_score"`
}

// Matcher ranks candidate workers against a task. Read-only and
// side-effect-free; safe to cancel via ctx at any point.
type Matcher struct {
	Workers  CandidateRepo
	Embedder Embedder
	Logger   *slog.Logger
}

func NewMatcher(workers CandidateRepo, embedder Embedder, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{Workers: workers, Embedder: embedder, Logger: logger}
}

// Match returns the top candidates for the task, sorted by total score
// descending with worker id as the deterministic tie-break.
func (m *Matcher) Match(ctx context.Context, task *models.Task, limit int) ([]Score, error) {
	if limit <= 0 {
		limit = DefaultMatchLimit
	}
	if limit > MaxMatchLimit {
		limit = MaxMatchLimit
	}

	pool, err := m.Workers.FindCandidates(ctx, task.Category, task.PosterID)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		// Relax the category filter rather than returning nothing.
		pool, err = m.Workers.FindCandidatesAnyCategory(ctx, task.PosterID)
		if err != nil {
			return nil, err
		}
	}
	if len(pool) == 0 {
		return nil, nil
	}

	var taskVec []float32
	if m.Embedder != nil {
		taskVec, err = m.Embedder.Embed(ctx, task.Title+"\n"+task.Description)
		if err != nil {
			m.Logger.Warn("task embedding failed, semantic score degraded to 0",
				"task_id", task.ID, "error", err)
			taskVec = nil
		}
	}

	scores := make([]Score, 0, len(pool))
	for _, w := range pool {
		scores = append(scores, ScoreCandidate(task, taskVec, w))
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Total != scores[j].Total {
			return scores[i].Total > scores[j].Total
		}
		return scores[i].Worker.ID.String() < scores[j].Worker.ID.String()
	})

	if len(scores) > limit {
		scores = scores[:limit]
	}
	return scores, nil
}

// ScoreCandidate computes the full breakdown for one worker.
func ScoreCandidate(task *models.Task, taskVec []float32, w *models.User) Score {
	s := Score{
		Worker:     w,
		Semantic:   semanticScore(taskVec, w.Embedding),
		Category:   categoryScore(task.Category, w.Categories),
		Distance:   distanceScore(task, w),
		Rating:     ratingScore(w.Rating, w.RatingCount),
		Experience: experienceScore(w.CompletedTasks),
	}
	s.Reliability = 0.7*s.Rating + 0.3*s.Experience
	s.Total = componentWeight*(s.Semantic+s.Category+s.Distance+s.Rating+s.Experience) +
		reliabilityWeight*s.Reliability
	return s
}

// semanticScore is cosine similarity floored at 0; absent vectors score 0.
func semanticScore(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if cos < 0 {
		return 0
	}
	if cos > 1 {
		return 1
	}
	return cos
}

// categoryScore is 1.0 on a category match plus 0.1 per additional category
// held, clamped to 1.0; 0 without a match.
func categoryScore(taskCategory string, workerCategories []string) float64 {
	matched := false
	extra := 0
	for _, c := range workerCategories {
		if c == taskCategory {
			matched = true
		} else {
			extra++
		}
	}
	if !matched {
		return 0
	}
	score := 1.0 + 0.1*float64(extra)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// ratingScore normalizes rating/5 with bonuses for strong ratings and a
// penalty below 3.0. Unrated workers get 0.3 so newcomers are not
// permanently excluded.
func ratingScore(rating float64, ratingCount int) float64 {
	if ratingCount == 0 || rating <= 0 {
		return 0.3
	}
	score := rating / 5
	switch {
	case rating >= 4.5:
		score += 0.10
	case rating >= 4.0:
		score += 0.05
	}
	if rating < 3.0 {
		score *= 0.7
	}
	if score > 1 {
		score = 1
	}
	return score
}

// experienceScore grows logarithmically with completed tasks, saturating
// around 100, with tier bonuses at 10/20/50. Zero history scores 0.2.
func experienceScore(completed int) float64 {
	if completed <= 0 {
		return 0.2
	}
	score := math.Log(float64(completed)+1) / math.Log(101)
	switch {
	case completed >= 50:
		score += 0.15
	case completed >= 20:
		score += 0.10
	case completed >= 10:
		score += 0.05
	}
	if score > 1 {
		score = 1
	}
	return score
}

// distanceScore uses great-circle distance when both sides have coordinates
// and falls back to free-text location comparison otherwise.
func distanceScore(task *models.Task, w *models.User) float64 {
	if task.Latitude != nil && task.Longitude != nil && w.Latitude != nil && w.Longitude != nil {
		km := haversineKm(*task.Latitude, *task.Longitude, *w.Latitude, *w.Longitude)
		switch {
		case km <= 2:
			return 1.0
		case km <= 5:
			return 0.9
		case km <= 10:
			return 0.8
		case km <= 20:
			return 0.6
		case km <= 50:
			return 0.4
		default:
			return 0.2
		}
	}
	return locationTextScore(task.Location, w.Location)
}

// locationTextScore grades case-insensitive text overlap between location
// strings into [0.2, 0.8].
func locationTextScore(taskLoc, workerLoc string) float64 {
	taskLoc = strings.ToLower(strings.TrimSpace(taskLoc))
	workerLoc = strings.ToLower(strings.TrimSpace(workerLoc))

	switch {
	case taskLoc == "" && workerLoc == "":
		return 0.4
	case workerLoc == "":
		return 0.2
	case taskLoc == "":
		return 0.5
	}

	if taskLoc == workerLoc {
		return 0.8
	}
	if strings.Contains(taskLoc, workerLoc) || strings.Contains(workerLoc, taskLoc) {
		return 0.7
	}

	a := strings.Fields(taskLoc)
	b := strings.Fields(workerLoc)
	set := make(map[string]bool, len(a))
	for _, tok := range a {
		set[tok] = true
	}
	shared := 0
	for _, tok := range b {
		if set[tok] {
			shared++
		}
	}
	min := len(a)
	if len(b) < min {
		min = len(b)
	}
	if min == 0 {
		return 0.2
	}
	return 0.2 + 0.6*float64(shared)/float64(min)
}

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance between two points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}
