package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"frais/internal/log"
)

// Task is one periodic job run by the Poller.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

// Poller runs tasks on their own tickers until stopped. Each task also runs
// once at startup.
type Poller struct {
	tasks  []Task
	logger *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewPoller(tasks ...Task) *Poller {
	return &Poller{
		tasks:  tasks,
		logger: log.Default(log.ComponentWorker),
	}
}

// ExportTask drains the export backlog of w every interval.
func ExportTask(w *ExportWorker, interval time.Duration) Task {
	return Task{Name: "ledger_export", Interval: interval, Run: w.ProcessPending}
}

// StaleCloser closes sheets left open after their month ended.
// *services.AccountingService implements it.
type StaleCloser interface {
	CloseStaleSheets(ctx context.Context) (int, error)
}

// StaleSheetTask closes past-month sheets every interval.
func StaleSheetTask(c StaleCloser, interval time.Duration) Task {
	return Task{Name: "close_stale_sheets", Interval: interval, Run: c.CloseStaleSheets}
}

// Start begins the processing loops. Returns an error if already running.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller is already running")
	}
	for _, t := range p.tasks {
		if t.Interval <= 0 {
			p.mu.Unlock()
			return fmt.Errorf("task %s: interval must be positive", t.Name)
		}
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stop, done := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stop, done)

	p.logger.InfoContext(ctx, "Poller started", "tasks", len(p.tasks))
	return nil
}

// Stop signals the loops and waits for them to return. Only the first of
// concurrent calls waits; the others return at once.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stop, done := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stop)

	select {
	case <-done:
		p.logger.InfoContext(ctx, "Poller stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Poller stop timed out")
		return ctx.Err()
	}
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) runLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var wg sync.WaitGroup
	for _, t := range p.tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			p.runTask(ctx, stop, t)
		}(t)
	}
	wg.Wait()
}

func (p *Poller) runTask(ctx context.Context, stop <-chan struct{}, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	p.tick(ctx, t)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, t)
		}
	}
}

func (p *Poller) tick(ctx context.Context, t Task) {
	n, err := t.Run(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Periodic task failed", "task", t.Name, "processed", n, log.FieldError, err)
		return
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "Periodic task completed", "task", t.Name, "processed", n)
	}
}
