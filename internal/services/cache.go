package services

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/power-forecaster/internal/models"
)

type CacheItem struct {
	RunID     string                 `json:"run_id"`
	Batch     models.PredictionBatch `json:"batch"`
	ExpiresAt time.Time              `json:"expires_at"`
}

// PredictionCache keeps the prediction batches of the last few runs, keyed by
// run ID, for the API. Entries expire after defaultDuration.
type PredictionCache struct {
	mu              sync.Mutex
	items           *lru.Cache[string, CacheItem]
	latestID        string
	logger          *zap.Logger
	defaultDuration time.Duration
	maxSize         int
	hits            int
	misses          int
	now             func() time.Time
}

func NewPredictionCache(defaultDuration time.Duration, maxSize int, logger *zap.Logger) (*PredictionCache, error) {
	if defaultDuration <= 0 {
		defaultDuration = 24 * time.Hour
	}
	if maxSize <= 0 {
		maxSize = 7
	}
	items, err := lru.New[string, CacheItem](maxSize)
	if err != nil {
		return nil, err
	}
	return &PredictionCache{
		items:           items,
		logger:          logger,
		defaultDuration: defaultDuration,
		maxSize:         maxSize,
		now:             time.Now,
	}, nil
}

func (c *PredictionCache) Set(runID string, batch models.PredictionBatch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.defaultDuration)
	if evicted := c.items.Add(runID, CacheItem{RunID: runID, Batch: batch, ExpiresAt: expiresAt}); evicted {
		c.logger.Debug("Evicted oldest predictions from cache")
	}
	c.latestID = runID

	c.logger.Debug("Predictions cached",
		zap.String("run_id", runID),
		zap.Int("points", len(batch.Points)),
		zap.Time("expires_at", expiresAt))
}

// Latest returns the batch of the most recent successful run.
func (c *PredictionCache) Latest() (CacheItem, bool) {
	c.mu.Lock()
	id := c.latestID
	c.mu.Unlock()
	if id == "" {
		c.miss()
		return CacheItem{}, false
	}
	return c.Get(id)
}

// Get returns the batch written by runID unless it has expired.
func (c *PredictionCache) Get(runID string) (CacheItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items.Get(runID)
	if !ok {
		c.misses++
		return CacheItem{}, false
	}
	if c.now().After(item.ExpiresAt) {
		c.logger.Debug("Cached predictions expired", zap.String("run_id", runID))
		c.items.Remove(runID)
		c.misses++
		return CacheItem{}, false
	}
	c.hits++
	return item, true
}

func (c *PredictionCache) miss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func (c *PredictionCache) GetStats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	return map[string]interface{}{
		"items":            c.items.Len(),
		"max_size":         c.maxSize,
		"hits":             c.hits,
		"misses":           c.misses,
		"latest_run_id":    c.latestID,
		"default_duration": c.defaultDuration.String(),
	}
}
