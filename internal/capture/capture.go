// Package capture pulls raw trace bytes from a source and spools them to
// rotating segment files on disk. The pump never parses what it moves;
// decoding is the analyzer's job, after the fact.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashiato-rt/ashiato/internal/telemetry"
)

const (
	readChunkSize = 32 << 10

	defaultQueueCapacity = 1024
	defaultFlushInterval = time.Second

	finalFlushTimeout = 10 * time.Second
)

// errSourceDone unwinds the errgroup when the source reaches EOF.
var errSourceDone = errors.New("capture: source ended")

// PumpConfig holds configuration for a capture pump.
type PumpConfig struct {
	Spool         SpoolConfig
	QueueCapacity int           // Chunks held between reader and spool. Default: 1024.
	FlushInterval time.Duration // How often buffered bytes reach the OS. Default: 1s.
}

// PumpStats is a point-in-time snapshot of pump counters.
type PumpStats struct {
	BytesRead     uint64
	BytesSpooled  uint64
	DroppedChunks uint64
	DroppedBytes  uint64
}

// Pump copies bytes from a source into a Spool through a bounded queue.
// When the spool cannot keep up the queue fills and new chunks are
// dropped and counted rather than stalling the source read.
type Pump struct {
	src    io.ReadCloser
	spool  *Spool
	logger *slog.Logger

	queueCap   int
	flushEvery time.Duration

	mu     sync.Mutex
	chunks [][]byte

	flushCh chan struct{}

	bytesRead     atomic.Uint64
	bytesSpooled  atomic.Uint64
	droppedChunks atomic.Uint64
	droppedBytes  atomic.Uint64
}

// NewPump creates a pump reading from src. The pump owns src and closes
// it when Run returns.
func NewPump(logger *slog.Logger, src io.ReadCloser, cfg PumpConfig) (*Pump, error) {
	if src == nil {
		return nil, fmt.Errorf("capture: source is required")
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	spool, err := NewSpool(logger, cfg.Spool)
	if err != nil {
		return nil, err
	}

	return &Pump{
		src:        src,
		spool:      spool,
		logger:     logger,
		queueCap:   cfg.QueueCapacity,
		flushEvery: cfg.FlushInterval,
		flushCh:    make(chan struct{}, 1),
	}, nil
}

// Run pumps until the source ends or ctx is canceled, then drains the
// queue and closes the spool. A source read error is returned; plain EOF
// and cancellation are not errors.
func (p *Pump) Run(ctx context.Context) error {
	p.registerMetrics()

	g, gctx := errgroup.WithContext(ctx)

	// A blocked Read only returns once the source is closed.
	stop := context.AfterFunc(gctx, func() { _ = p.src.Close() })
	defer stop()

	g.Go(func() error { return p.readLoop(gctx) })
	g.Go(func() error { return p.spoolLoop(gctx) })

	err := g.Wait()
	if errors.Is(err, errSourceDone) || errors.Is(err, context.Canceled) {
		err = nil
	}

	// gctx is done here; drain on a fresh deadline.
	drainCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	p.drain(drainCtx)

	if cErr := p.spool.Close(); cErr != nil && err == nil {
		err = cErr
	}
	_ = p.src.Close()

	p.logger.Info("capture: pump stopped",
		"bytes_read", p.bytesRead.Load(),
		"bytes_spooled", p.bytesSpooled.Load(),
		"dropped_chunks", p.droppedChunks.Load())
	return err
}

// Stats returns a snapshot of the pump counters.
func (p *Pump) Stats() PumpStats {
	return PumpStats{
		BytesRead:     p.bytesRead.Load(),
		BytesSpooled:  p.bytesSpooled.Load(),
		DroppedChunks: p.droppedChunks.Load(),
		DroppedBytes:  p.droppedBytes.Load(),
	}
}

// Spool exposes the underlying spool, read-only use after Run returns.
func (p *Pump) Spool() *Spool { return p.spool }

func (p *Pump) readLoop(ctx context.Context) error {
	buf := make([]byte, readChunkSize)
	for {
		n, err := p.src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.enqueue(chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return errSourceDone
			}
			return fmt.Errorf("capture: read source: %w", err)
		}
	}
}

// enqueue appends a chunk to the queue, dropping it when the queue is at
// capacity. The read side never blocks on disk.
func (p *Pump) enqueue(chunk []byte) {
	p.bytesRead.Add(uint64(len(chunk)))

	p.mu.Lock()
	if len(p.chunks) >= p.queueCap {
		p.mu.Unlock()
		p.droppedChunks.Add(1)
		p.droppedBytes.Add(uint64(len(chunk)))
		p.logger.Warn("capture: queue full, dropping chunk",
			"chunk_bytes", len(chunk),
			"dropped_total", p.droppedChunks.Load())
		return
	}
	p.chunks = append(p.chunks, chunk)
	signal := len(p.chunks) >= p.queueCap/2
	p.mu.Unlock()

	if signal {
		select {
		case p.flushCh <- struct{}{}:
		default:
		}
	}
}

func (p *Pump) spoolLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.flush(); err != nil {
				return err
			}
		case <-p.flushCh:
			if err := p.flush(); err != nil {
				return err
			}
		}
	}
}

// flush moves every queued chunk into the spool and pushes buffered
// bytes to the OS.
func (p *Pump) flush() error {
	p.mu.Lock()
	if len(p.chunks) == 0 {
		p.mu.Unlock()
		return nil
	}
	batch := p.chunks
	p.chunks = nil
	p.mu.Unlock()

	start := time.Now()
	var written int
	for _, chunk := range batch {
		n, err := p.spool.Write(chunk)
		written += n
		if err != nil {
			return fmt.Errorf("capture: spool batch: %w", err)
		}
	}
	if err := p.spool.Flush(); err != nil {
		return err
	}
	p.bytesSpooled.Add(uint64(written))

	p.logger.Debug("capture: batch spooled",
		"chunks", len(batch),
		"bytes", written,
		"duration", time.Since(start))
	return nil
}

// drain flushes whatever the loops left queued. Tail loss here is real
// loss, so a failure is logged loudly rather than returned to a caller
// that is already shutting down.
func (p *Pump) drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.flush(); err != nil {
			p.logger.Error("capture: final flush failed", "error", err)
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("capture: drain timed out, tail bytes may be lost")
	}
}

func (p *Pump) registerMetrics() {
	meter := telemetry.Meter("ashiato/capture")

	_, _ = meter.Int64ObservableGauge("ashiato.capture.queue_depth",
		metric.WithDescription("Chunks waiting between reader and spool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			p.mu.Lock()
			depth := len(p.chunks)
			p.mu.Unlock()
			o.Observe(int64(depth))
			return nil
		}))

	_, _ = meter.Int64ObservableCounter("ashiato.capture.bytes_read_total",
		metric.WithDescription("Bytes read from the capture source"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(p.bytesRead.Load()))
			return nil
		}))

	_, _ = meter.Int64ObservableCounter("ashiato.capture.dropped_chunks_total",
		metric.WithDescription("Chunks dropped because the queue was full"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(p.droppedChunks.Load()))
			return nil
		}))
}
