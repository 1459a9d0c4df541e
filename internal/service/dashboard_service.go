package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/trainer-ledger-api/internal/ledger"
	"github.com/noah-isme/trainer-ledger-api/internal/models"
	appErrors "github.com/noah-isme/trainer-ledger-api/pkg/errors"
)

const (
	dashboardCacheKey     = "dashboard:summary"
	dashboardCachePattern = "dashboard:*"
	// Kept outside dashboardCachePattern so invalidation never resets it.
	dashboardGenerationKey = "ledger:dashboard:generation"
	recentStudentsLimit    = 5
)

// dashboardCacheEntry stamps a cached summary with the write generation it was built under.
type dashboardCacheEntry struct {
	Generation int64                   `json:"generation"`
	Summary    models.DashboardSummary `json:"summary"`
}

type studentLister interface {
	ListStudents(ctx context.Context) ([]models.Student, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL time.Duration
}

// DashboardService composes the trainer dashboard from the student list.
type DashboardService struct {
	students studentLister
	engine   *ledger.Engine
	cache    *CacheService
	logger   *zap.Logger
	cfg      DashboardServiceConfig
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Students studentLister
	Engine   *ledger.Engine
	Cache    *CacheService
	Logger   *zap.Logger
	Config   DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	engine := params.Engine
	if engine == nil {
		engine = ledger.NewEngine(ledger.Config{})
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		students: params.Students,
		engine:   engine,
		cache:    params.Cache,
		logger:   logger,
		cfg:      cfg,
	}
}

// Summary returns the dashboard and whether it was served from cache.
// A summary is cached only when no write landed while it was being built.
func (s *DashboardService) Summary(ctx context.Context) (*models.DashboardSummary, bool, error) {
	generation, cacheable := s.cache.Generation(ctx, dashboardGenerationKey)
	if cacheable {
		if summary, hit := s.tryCache(ctx, generation); hit {
			return summary, true, nil
		}
	}

	students, err := s.students.ListStudents(ctx)
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to load students")
	}
	summary := s.FromStudents(students)
	if cacheable {
		s.persistCache(ctx, generation, &summary)
	}
	return &summary, false, nil
}

// FromStudents recomputes the dashboard from a student snapshot.
func (s *DashboardService) FromStudents(students []models.Student) models.DashboardSummary {
	recent := make([]models.Student, len(students))
	copy(recent, students)
	sort.SliceStable(recent, func(i, j int) bool {
		if !recent[i].CreatedAt.Equal(recent[j].CreatedAt) {
			return recent[i].CreatedAt.After(recent[j].CreatedAt)
		}
		return recent[i].ID > recent[j].ID
	})
	if len(recent) > recentStudentsLimit {
		recent = recent[:recentStudentsLimit]
	}

	return models.DashboardSummary{
		Stats:          s.engine.ComputeDashboard(students),
		Attention:      s.engine.ComputeAttentionList(students),
		RecentStudents: recent,
	}
}

// Invalidate drops the cached summary.
func (s *DashboardService) Invalidate(ctx context.Context) {
	invalidateDashboard(ctx, s.cache, s.logger)
}

// invalidateDashboard bumps the generation before deleting, so a summary built from reads
// taken before the write is rejected even if it is stored after the delete.
func invalidateDashboard(ctx context.Context, cache *CacheService, logger *zap.Logger) {
	if err := cache.BumpGeneration(ctx, dashboardGenerationKey); err != nil {
		logger.Warn("dashboard cache generation bump failed", zap.Error(err))
	}
	if err := cache.Invalidate(ctx, dashboardCachePattern); err != nil {
		logger.Warn("dashboard cache invalidation failed", zap.Error(err))
	}
}

func (s *DashboardService) tryCache(ctx context.Context, generation int64) (*models.DashboardSummary, bool) {
	var entry dashboardCacheEntry
	hit, err := s.cache.Get(ctx, dashboardCacheKey, &entry)
	if err != nil || !hit {
		return nil, false
	}
	if entry.Generation != generation {
		s.logger.Debug("stale dashboard cache entry ignored",
			zap.Int64("cached_generation", entry.Generation), zap.Int64("generation", generation))
		return nil, false
	}
	return &entry.Summary, true
}

func (s *DashboardService) persistCache(ctx context.Context, generation int64, summary *models.DashboardSummary) {
	if current, ok := s.cache.Generation(ctx, dashboardGenerationKey); !ok || current != generation {
		s.logger.Debug("dashboard changed while loading, not caching", zap.Int64("generation", generation))
		return
	}
	entry := dashboardCacheEntry{Generation: generation, Summary: *summary}
	if err := s.cache.Set(ctx, dashboardCacheKey, entry, s.cfg.CacheTTL); err != nil {
		s.logger.Debug("dashboard cache store failed", zap.Error(err))
	}
}
