// Package sentiment supplies an optional market sentiment score that the
// signal generator uses as a confidence modifier. The engine works fine
// with no sentiment source at all.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Provider returns a sentiment score on a 0-100 scale, 0 extreme fear and
// 100 extreme greed. ok is false when no fresh score is available.
type Provider interface {
	Score(ctx context.Context) (score float64, ok bool)
}

// Config for the fear-and-greed provider.
type Config struct {
	Enabled        bool          `json:"enabled"`
	URL            string        `json:"url"`
	UpdateInterval time.Duration `json:"update_interval"`
	Staleness      time.Duration `json:"staleness"`
}

// DefaultConfig points at the public alternative.me index.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		URL:            "https://api.alternative.me/fng/?limit=1",
		UpdateInterval: 15 * time.Minute,
		Staleness:      time.Hour,
	}
}

type fearGreedResponse struct {
	Data []struct {
		Value               string `json:"value"`
		ValueClassification string `json:"value_classification"`
	} `json:"data"`
}

// FearGreedProvider polls the fear-and-greed index in the background and
// serves the last fetched value. Fetch failures keep the previous score
// until it goes stale.
type FearGreedProvider struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger

	mu        sync.RWMutex
	score     float64
	fetchedAt time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewFearGreedProvider builds the provider without starting it.
func NewFearGreedProvider(cfg Config, logger zerolog.Logger) *FearGreedProvider {
	return &FearGreedProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("component", "sentiment").Logger(),
		stopChan:   make(chan struct{}),
	}
}

// Start begins background refresh. No-op when disabled.
func (p *FearGreedProvider) Start() {
	if !p.cfg.Enabled {
		return
	}
	go p.refresh()
	go func() {
		ticker := time.NewTicker(p.cfg.UpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.refresh()
			case <-p.stopChan:
				return
			}
		}
	}()
}

// Stop halts background refresh.
func (p *FearGreedProvider) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
}

// Score returns the last fetched index value while it is fresh.
func (p *FearGreedProvider) Score(_ context.Context) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.fetchedAt.IsZero() || time.Since(p.fetchedAt) > p.cfg.Staleness {
		return 0, false
	}
	return p.score, true
}

func (p *FearGreedProvider) refresh() {
	score, err := p.fetch()
	if err != nil {
		p.logger.Warn().Err(err).Msg("sentiment fetch failed")
		return
	}
	p.mu.Lock()
	p.score = score
	p.fetchedAt = time.Now()
	p.mu.Unlock()
	p.logger.Debug().Float64("score", score).Msg("sentiment updated")
}

func (p *FearGreedProvider) fetch() (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("index returned status %d", resp.StatusCode)
	}

	var payload fearGreedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Data) == 0 {
		return 0, fmt.Errorf("index returned no data")
	}
	value, err := strconv.ParseFloat(payload.Data[0].Value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse value %q: %w", payload.Data[0].Value, err)
	}
	if value < 0 || value > 100 {
		return 0, fmt.Errorf("value %v out of range", value)
	}
	return value, nil
}

// StaticProvider always returns a fixed score. Used in tests and dry-run.
type StaticProvider struct {
	Value float64
}

// Score returns the fixed value.
func (s StaticProvider) Score(context.Context) (float64, bool) {
	return s.Value, true
}
