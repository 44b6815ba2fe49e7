package heat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/ogulcanaydogan/heatwatch/pkg/retry"
	"github.com/ogulcanaydogan/heatwatch/pkg/rules"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownGrid is returned when a source has no reading for a grid.
var ErrUnknownGrid = errors.New("unknown grid")

// Reading is a heat-stress observation for one grid cell.
type Reading struct {
	Grid       string          `json:"grid" yaml:"grid"`
	WBGT       float64         `json:"wbgt" yaml:"wbgt"`
	Level      model.HeatLevel `json:"level" yaml:"level"`
	ObservedAt time.Time       `json:"observed_at" yaml:"observed_at"`
}

// normalise fills Level from WBGT when the source did not supply one.
func (r Reading) normalise() Reading {
	if r.Level == "" {
		r.Level = rules.LevelFromWBGT(r.WBGT)
	}
	return r
}

// Source provides heat readings per grid.
type Source interface {
	Reading(ctx context.Context, grid string) (Reading, error)
}

// HTTPSource fetches readings from a heat-index API. Concurrent lookups of the
// same grid share one request.
type HTTPSource struct {
	client *resty.Client
	group  singleflight.Group
}

// HTTPConfig configures an HTTPSource.
type HTTPConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// NewHTTPSource creates an HTTP heat source.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "HeatWatch/1.0")
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}
	return &HTTPSource{client: client}
}

func (s *HTTPSource) Reading(ctx context.Context, grid string) (Reading, error) {
	v, err, _ := s.group.Do(grid, func() (interface{}, error) {
		return s.fetch(ctx, grid)
	})
	if err != nil {
		return Reading{}, err
	}
	return v.(Reading), nil
}

func (s *HTTPSource) fetch(ctx context.Context, grid string) (Reading, error) {
	var out Reading
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("grid", grid).
		SetResult(&out).
		Get("/wbgt")
	if err != nil {
		return Reading{}, fmt.Errorf("fetch heat reading for %s: %w", grid, err)
	}
	if resp.StatusCode() == 404 {
		return Reading{}, retry.Terminal(fmt.Errorf("grid %s: %w", grid, ErrUnknownGrid))
	}
	if resp.IsError() {
		return Reading{}, &retry.StatusError{Provider: "heat", StatusCode: resp.StatusCode(), Message: resp.String()}
	}
	if out.Grid == "" {
		out.Grid = grid
	}
	return out.normalise(), nil
}

// Static serves fixed readings. It is safe for concurrent use.
type Static struct {
	mu       sync.RWMutex
	readings map[string]Reading
}

// NewStatic creates a source from the given readings.
func NewStatic(readings ...Reading) *Static {
	s := &Static{readings: make(map[string]Reading)}
	for _, r := range readings {
		s.Set(r)
	}
	return s
}

// Set replaces the reading for r.Grid.
func (s *Static) Set(r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[r.Grid] = r.normalise()
}

func (s *Static) Reading(_ context.Context, grid string) (Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.readings[grid]
	if !ok {
		return Reading{}, retry.Terminal(fmt.Errorf("grid %s: %w", grid, ErrUnknownGrid))
	}
	return r, nil
}
