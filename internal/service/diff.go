package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/ReviewForge/internal/adapter/otel"
	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/domain/diff"
	"github.com/Strob0t/ReviewForge/internal/port/cache"
)

// DiffOptionsFrom converts the diff section of the configuration.
func DiffOptionsFrom(c config.Diff) diff.Options {
	return diff.Options{
		Granularity:     diff.Granularity(c.Granularity),
		MaxUnits:        c.MaxUnits,
		ModifyThreshold: c.ModifyThreshold,
		MinorThreshold:  c.MinorThreshold,
	}
}

// DiffService computes diffs through the engine, memoizing results in an
// optional cache. Concurrent requests for the same pair share one
// computation.
type DiffService struct {
	engine *diff.Engine
	cache  cache.Cache
	ttl    time.Duration
	group  singleflight.Group
}

// NewDiffService creates a DiffService. c may be nil to disable caching.
func NewDiffService(engine *diff.Engine, c cache.Cache, ttl time.Duration) *DiffService {
	if engine == nil {
		engine = diff.NewEngine(diff.Options{})
	}
	if c != nil {
		c = cache.Prefixed(c, "diff")
	}
	return &DiffService{engine: engine, cache: c, ttl: ttl}
}

// Options returns the effective engine options.
func (s *DiffService) Options() diff.Options { return s.engine.Options() }

// Compute returns the change list turning before into after.
func (s *DiffService) Compute(ctx context.Context, before, after string) (diff.Result, error) {
	opts := s.engine.Options()
	ctx, span := otel.StartDiffSpan(ctx, string(opts.Granularity), len(before), len(after))
	defer span.End()

	key := s.key(before, after)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err != nil {
			slog.Warn("diff cache get", "error", err)
		} else if ok {
			var res diff.Result
			if err := json.Unmarshal(data, &res); err == nil {
				return res, nil
			}
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		res, err := s.engine.Compute(before, after)
		if err != nil {
			return diff.Result{}, err
		}
		if s.cache != nil {
			if data, err := json.Marshal(res); err == nil {
				if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
					slog.Warn("diff cache set", "error", err)
				}
			}
		}
		return res, nil
	})
	if err != nil {
		span.RecordError(err)
		return diff.Result{}, fmt.Errorf("compute diff: %w", err)
	}
	return v.(diff.Result), nil
}

// key hashes both sides with the options that influence the result.
func (s *DiffService) key(before, after string) string {
	opts := s.engine.Options()
	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "%s|%d|%g|%g|%d|", opts.Granularity, opts.MaxUnits, opts.ModifyThreshold, opts.MinorThreshold, len(before))
	h.Write([]byte(before))
	h.Write([]byte(after))
	return hex.EncodeToString(h.Sum(nil))
}
