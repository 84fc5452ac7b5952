package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"

	"github.com/tunogya/fractal/pkg/metrics"
	"github.com/tunogya/fractal/pkg/model"
)

// FeatureStore accepts ML feature rows keyed by window id
type FeatureStore interface {
	UpsertWindow(ctx context.Context, meta model.WindowMeta, features model.WindowFeatures, prediction model.Prediction, label *model.Label) error
}

// ErrClosed is returned by Submit after Stop
var ErrClosed = errors.New("dispatcher closed")

// ErrQueueFull is returned by Submit when the queue has no room
var ErrQueueFull = errors.New("persist queue full")

// Config holds dispatcher settings
type Config struct {
	Workers         int           `yaml:"workers" default:"2" validate:"gte=1"`
	QueueSize       int           `yaml:"queue_size" default:"256" validate:"gte=1"`
	MaxRetries      uint64        `yaml:"max_retries" default:"3"`
	BaseDelay       time.Duration `yaml:"base_delay" default:"200ms"`
	MaxDelay        time.Duration `yaml:"max_delay" default:"5s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	BreakerFailures uint32        `yaml:"breaker_failures" default:"5"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" default:"30s"`
}

// DefaultConfig returns default dispatcher settings
func DefaultConfig() Config {
	return Config{
		Workers:         2,
		QueueSize:       256,
		MaxRetries:      3,
		BaseDelay:       200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		WriteTimeout:    10 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Dispatcher writes feature records on background workers, detached from the
// request that produced them. Each write is retried with capped exponential
// backoff and guarded by a circuit breaker. Failures are logged and counted only.
type Dispatcher struct {
	store   FeatureStore
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Recorder
	breaker *gobreaker.CircuitBreaker

	mu     sync.RWMutex
	closed bool
	queue  chan model.FeatureRecord

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Start before submitting.
func NewDispatcher(store FeatureStore, cfg Config, log zerolog.Logger, rec *metrics.Recorder) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}

	log = log.With().Str("component", "persist").Logger()

	st := gobreaker.Settings{
		Name:    "feature-store",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state changed")
		},
	}

	return &Dispatcher{
		store:   store,
		cfg:     cfg,
		log:     log,
		metrics: rec,
		breaker: gobreaker.NewCircuitBreaker(st),
		queue:   make(chan model.FeatureRecord, cfg.QueueSize),
	}
}

// Start launches the worker goroutines
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.worker(i)
		}
		d.log.Info().Int("workers", d.cfg.Workers).Int("queue_size", d.cfg.QueueSize).Msg("persist dispatcher started")
	})
}

// Submit enqueues rec without blocking. A full queue drops the record.
func (d *Dispatcher) Submit(rec model.FeatureRecord) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- rec:
		d.metrics.SetQueueDepth(len(d.queue))
		return nil
	default:
		d.metrics.RecordPersist("dropped")
		d.log.Warn().
			Str("window_id", rec.Meta.WindowID).
			Str("symbol", rec.Meta.Symbol).
			Msg("persist queue full, dropping feature record")
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for queued records to drain or ctx to end
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info().Msg("persist dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("persist drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for rec := range d.queue {
		d.metrics.SetQueueDepth(len(d.queue))
		if err := d.write(rec); err != nil {
			d.log.Error().
				Err(err).
				Int("worker", id).
				Str("window_id", rec.Meta.WindowID).
				Str("symbol", rec.Meta.Symbol).
				Msg("failed to persist feature record")
			continue
		}
		d.metrics.RecordPersist("ok")
	}
}

// write performs one upsert with retry. An open breaker fails immediately.
func (d *Dispatcher) write(rec model.FeatureRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()

	b := retry.NewExponential(d.cfg.BaseDelay)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(d.cfg.MaxDelay, b)
	b = retry.WithMaxRetries(d.cfg.MaxRetries, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		_, err := d.breaker.Execute(func() (interface{}, error) {
			return nil, d.store.UpsertWindow(ctx, rec.Meta, rec.Features, rec.Prediction, rec.Label)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			d.metrics.RecordPersist("rejected")
			return err
		default:
			d.metrics.RecordPersist("error")
			return retry.RetryableError(err)
		}
	})
}

// Discard is a FeatureStore that accepts and drops every record
type Discard struct{}

// UpsertWindow implements FeatureStore
func (Discard) UpsertWindow(context.Context, model.WindowMeta, model.WindowFeatures, model.Prediction, *model.Label) error {
	return nil
}
