// Package api exposes a read-only HTTP inspection surface over a loaded
// dataset: health, length statistics, and dry-run pack plans for arbitrary
// world sizes. It never mutates the dataset and holds no training state.
package api

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/multipack/internal/dataset"
	"github.com/samcharles93/multipack/internal/logger"
	"github.com/samcharles93/multipack/internal/packing"
	"github.com/samcharles93/multipack/internal/version"
)

type Server struct {
	lengths []int
	cfg     packing.Config
	log     logger.Logger
	runID   string
	started time.Time
	clock   func() time.Time
}

// NewServer resolves the dataset's length table once and serves every
// request from it.
func NewServer(ds dataset.Dataset, cfg packing.Config, log logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.Default()
	}
	lengths, err := dataset.Lengths(ds)
	if err != nil {
		return nil, err
	}
	return &Server{
		lengths: lengths,
		cfg:     cfg,
		log:     log,
		runID:   uuid.NewString(),
		started: time.Now(),
		clock:   time.Now,
	}, nil
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/stats", s.handleStats)
	e.GET("/v1/plan", s.handlePlan)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       version.String(),
		RunID:         s.runID,
		UptimeSeconds: int64(s.clock().Sub(s.started).Seconds()),
		Examples:      len(s.lengths),
	})
}

func (s *Server) handleStats(c *echo.Context) error {
	if len(s.lengths) == 0 {
		return writeError(c, http.StatusServiceUnavailable, "empty_dataset", "dataset has no examples")
	}

	sorted := slices.Clone(s.lengths)
	slices.Sort(sorted)

	total := 0
	for _, n := range sorted {
		total += n
	}
	resp := StatsResponse{
		RunID:       s.runID,
		Examples:    len(sorted),
		TotalTokens: total,
		MinLen:      sorted[0],
		MaxLen:      sorted[len(sorted)-1],
		MeanLen:     float64(total) / float64(len(sorted)),
		P50Len:      percentile(sorted, 0.50),
		P90Len:      percentile(sorted, 0.90),
		P99Len:      percentile(sorted, 0.99),
		Histogram:   histogram(sorted, s.cfg.BatchMaxLen),
	}
	return c.JSON(http.StatusOK, resp)
}

// handlePlan materializes a full epoch plan for the requested world size and
// reports the per-rank shards. Expensive on purpose: it runs the real packer
// so the numbers match what training would see.
func (s *Server) handlePlan(c *echo.Context) error {
	world, err := queryInt(c, "world", 1)
	if err != nil || world <= 0 {
		return writeBadRequest(c, "world must be a positive integer")
	}
	epoch, err := queryInt(c, "epoch", 0)
	if err != nil || epoch < 0 {
		return writeBadRequest(c, "epoch must be a non-negative integer")
	}
	seed, err := queryInt(c, "seed", 0)
	if err != nil {
		return writeBadRequest(c, "seed must be an integer")
	}

	cfg := s.cfg
	if v := c.QueryParam("drop_last"); v != "" {
		dropLast, perr := strconv.ParseBool(v)
		if perr != nil {
			return writeBadRequest(c, "drop_last must be a boolean")
		}
		cfg.DropLast = dropLast
	}

	packer, err := packing.NewPacker(s.lengths, cfg)
	if err != nil {
		if errors.Is(err, packing.ErrLengthExceedsBudget) {
			return writeBadRequest(c, err.Error())
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	perm := packing.EpochPermutation(packer.Len(), int64(seed), epoch)
	plan := packer.PackAll(perm)
	s.log.Debug("plan computed",
		"epoch", epoch, "world", world, "packs", len(plan))

	resp := PlanResponse{
		RunID:      s.runID,
		Epoch:      epoch,
		WorldSize:  world,
		TotalPacks: len(plan),
		Estimated:  packer.EstimateTotalPacks(),
		Efficiency: packer.Efficiency(plan),
		Ranks:      make([]RankPlan, world),
	}
	for rank := range world {
		sampler, serr := packing.NewShardedSampler(packer, rank, world, int64(seed))
		if serr != nil {
			return writeError(c, http.StatusInternalServerError, "server_error", serr.Error())
		}
		local, serr := sampler.Epoch(epoch)
		if serr != nil {
			if errors.Is(serr, packing.ErrUnevenShard) {
				return writeError(c, http.StatusConflict, "uneven_shard", serr.Error())
			}
			return writeError(c, http.StatusInternalServerError, "server_error", serr.Error())
		}
		tokens := 0
		for _, pk := range local {
			tokens += packer.PackTokens(pk)
		}
		resp.Ranks[rank] = RankPlan{
			Rank:   rank,
			Steps:  len(local),
			Tokens: tokens,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// percentile returns the nearest-rank percentile of an ascending slice.
func percentile(sorted []int, p float64) int {
	idx := int(p*float64(len(sorted))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// histogram buckets lengths into eight equal-width bins over [0, budget].
// A zero budget falls back to the observed maximum.
func histogram(sorted []int, budget int) []HistogramBucket {
	limit := budget
	if limit <= 0 {
		limit = sorted[len(sorted)-1]
	}
	if limit <= 0 {
		limit = 1
	}
	const bins = 8
	width := (limit + bins - 1) / bins
	if width == 0 {
		width = 1
	}
	buckets := make([]HistogramBucket, bins)
	for b := range buckets {
		buckets[b].Lo = b * width
		buckets[b].Hi = (b + 1) * width
	}
	for _, n := range sorted {
		b := n / width
		if b >= bins {
			b = bins - 1
		}
		buckets[b].Count++
	}
	return buckets
}

func queryInt(c *echo.Context, name string, fallback int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
