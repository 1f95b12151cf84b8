package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// APIError represents an error from the progress REST endpoint.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("progress api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// TaskSnapshot is the REST representation of a task's current progress.
type TaskSnapshot struct {
	TaskID   uuid.UUID      `json:"task_id"`
	Progress ProgressUpdate `json:"progress"`
	Tools    []ToolStatus   `json:"tools"`
}

// FallbackSource reports whether degraded mode is active. Satisfied by
// *connection.Manager.
type FallbackSource interface {
	IsFallbackActive() bool
}

// PollerConfig holds poller configuration.
type PollerConfig struct {
	BaseURL      string        // REST base URL (e.g., https://host/api)
	AuthToken    string        // Bearer token, optional
	Interval     time.Duration // Poll interval (default: 10s)
	Timeout      time.Duration // Per-request timeout (default: 10s)
	Concurrency  int           // Max concurrent requests (default: 4)
	MaxRetries   int           // Retries per request (default: 3)
	RetryBackoff time.Duration // Base retry delay (default: 500ms)
}

// DefaultPollerConfig returns sensible defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:     10 * time.Second,
		Timeout:      10 * time.Second,
		Concurrency:  4,
		MaxRetries:   3,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// Poller periodically fetches task snapshots via REST while the live
// stream is down. Cycles are skipped entirely whenever the source
// reports that fallback is not active.
type Poller struct {
	cfg     PollerConfig
	source  FallbackSource
	handler EventHandler
	client  *http.Client
	logger  *slog.Logger

	taskMu sync.Mutex
	tasks  map[uuid.UUID]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a new Poller.
func NewPoller(cfg PollerConfig, source FallbackSource, handler EventHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}

	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		tasks:   make(map[uuid.UUID]struct{}),
	}
}

// Track adds a task to the poll set.
func (p *Poller) Track(taskID uuid.UUID) {
	p.taskMu.Lock()
	defer p.taskMu.Unlock()
	p.tasks[taskID] = struct{}{}
}

// Untrack removes a task from the poll set.
func (p *Poller) Untrack(taskID uuid.UUID) {
	p.taskMu.Lock()
	defer p.taskMu.Unlock()
	delete(p.tasks, taskID)
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("fallback poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("fallback poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if !p.source.IsFallbackActive() {
				continue
			}
			p.pollAll()
		}
	}
}

// pollAll fetches snapshots for all tracked tasks concurrently.
func (p *Poller) pollAll() {
	start := time.Now()

	p.taskMu.Lock()
	tasks := make([]uuid.UUID, 0, len(p.tasks))
	for id := range p.tasks {
		tasks = append(tasks, id)
	}
	p.taskMu.Unlock()

	if len(tasks) == 0 {
		p.logger.Debug("no tracked tasks to poll")
		return
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	for _, id := range tasks {
		g.Go(func() error {
			if err := p.pollTask(id); err != nil {
				p.logger.Warn("failed to poll task",
					"task_id", id,
					"error", err,
				)
			}
			return nil
		})
	}
	g.Wait()

	p.logger.Info("poll cycle complete",
		"tasks", len(tasks),
		"duration", time.Since(start),
	)
}

// pollTask fetches and handles a single task's snapshot.
func (p *Poller) pollTask(taskID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	snap, err := p.fetchSnapshot(ctx, taskID)
	if err != nil {
		return err
	}

	p.handler.HandleProgress(snap.Progress)
	for _, tool := range snap.Tools {
		p.handler.HandleToolStatus(tool)
	}

	return nil
}

// fetchSnapshot performs the GET with exponential backoff retry.
func (p *Poller) fetchSnapshot(ctx context.Context, taskID uuid.UUID) (*TaskSnapshot, error) {
	var lastErr error
	backoff := p.cfg.RetryBackoff

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			p.logger.Debug("retrying snapshot fetch",
				"attempt", attempt,
				"backoff", jitter,
				"task_id", taskID,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		snap, err := p.doFetch(ctx, taskID)
		if err == nil {
			return snap, nil
		}

		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (p *Poller) doFetch(ctx context.Context, taskID uuid.UUID) (*TaskSnapshot, error) {
	url := fmt.Sprintf("%s/tasks/%s/progress", p.cfg.BaseURL, taskID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if p.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.AuthToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	var snap TaskSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}
