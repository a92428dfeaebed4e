// ABOUTME: Ingestion worker bridging driver frame callbacks to the sample buffer
// ABOUTME: Flushes each completed second of samples to the session's storage sink
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/harper/biosignal-recorder/internal/domain"
	"github.com/harper/biosignal-recorder/internal/infrastructure/ring"
)

type Config struct {
	SamplingRate int
	Sources      []domain.Source
}

// Stats is a point-in-time view of worker counters.
type Stats struct {
	Filename       string `json:"filename,omitempty"`
	FramesReceived int64  `json:"frames_received"`
	FramesDropped  int64  `json:"frames_dropped"`
	RowsPersisted  int64  `json:"rows_persisted"`
	FlushFailures  int64  `json:"flush_failures"`
	RowsLost       int64  `json:"rows_lost"`
}

// Worker owns one session's producer side. The driver calls the frame
// handler sequentially from a single goroutine; everything except the
// stop flag and counters is touched only from that goroutine.
type Worker struct {
	driver       domain.Driver
	sinks        domain.SinkFactory
	buffer       *ring.Buffer
	logger       *slog.Logger
	samplingRate int
	sources      []domain.Source
	arity        int // channels the sources enable, 0 when unknown
	now          func() time.Time

	stopping atomic.Bool

	sink   domain.Sink
	cursor int64 // last persisted seq
	fatal  error

	filename       atomic.Pointer[string]
	framesReceived atomic.Int64
	framesDropped  atomic.Int64
	rowsPersisted  atomic.Int64
	flushFailures  atomic.Int64
	rowsLost       atomic.Int64
}

func New(cfg Config, driver domain.Driver, sinks domain.SinkFactory, buffer *ring.Buffer, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	arity := 0
	for _, src := range cfg.Sources {
		arity += src.ChannelCount()
	}
	return &Worker{
		arity:        arity,
		driver:       driver,
		sinks:        sinks,
		buffer:       buffer,
		logger:       logger.With("component", "ingest"),
		samplingRate: cfg.SamplingRate,
		sources:      cfg.Sources,
		now:          time.Now,
	}
}

// Run registers the frame handler and blocks for the duration of the
// driver's acquisition loop. Pending rows are persisted before it returns.
func (w *Worker) Run() error {
	if w.samplingRate <= 0 {
		return fmt.Errorf("%w: sampling rate %d", domain.ErrConfiguration, w.samplingRate)
	}

	w.driver.OnFrame(w.handleFrame)
	acqErr := w.driver.Acquire(w.samplingRate, w.sources)

	w.buffer.Close()
	w.endSession()

	if w.fatal != nil {
		return w.fatal
	}
	if acqErr != nil {
		return fmt.Errorf("%w: acquisition: %v", domain.ErrDriver, acqErr)
	}
	return nil
}

// Stop asks the driver loop to end at the next frame boundary. It does not wait.
func (w *Worker) Stop() {
	w.stopping.Store(true)
}

func (w *Worker) Stopping() bool {
	return w.stopping.Load()
}

// Filename returns the current session's storage key, empty before the first frame.
func (w *Worker) Filename() string {
	if p := w.filename.Load(); p != nil {
		return *p
	}
	return ""
}

func (w *Worker) Stats() Stats {
	return Stats{
		Filename:       w.Filename(),
		FramesReceived: w.framesReceived.Load(),
		FramesDropped:  w.framesDropped.Load(),
		RowsPersisted:  w.rowsPersisted.Load(),
		FlushFailures:  w.flushFailures.Load(),
		RowsLost:       w.rowsLost.Load(),
	}
}

func (w *Worker) handleFrame(seq int64, channels []float64) bool {
	if w.stopping.Load() || w.fatal != nil {
		return true
	}
	w.framesReceived.Add(1)

	if w.arity > 0 && len(channels) != w.arity {
		w.fatal = fmt.Errorf("%w: frame %d has %d channels, sources enable %d",
			domain.ErrConfiguration, seq, len(channels), w.arity)
		w.logger.Error("frame rejected, aborting session", "seq", seq, "error", w.fatal)
		return true
	}

	switch {
	case w.sink == nil || seq == 0:
		if err := w.beginSession(seq); err != nil {
			w.fatal = err
			w.logger.Error("session start failed", "error", err)
			return true
		}
	case seq%int64(w.samplingRate) == 0:
		// seq opens a new second; persist the one it completes
		w.flush(seq)
	}

	err := w.buffer.Append(domain.Sample{Seq: seq, Channels: channels})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrOutOfOrder):
		w.framesDropped.Add(1)
		w.logger.Debug("frame dropped", "seq", seq, "error", err)
	default:
		w.fatal = err
		w.logger.Error("frame rejected, aborting session", "seq", seq, "error", err)
		return true
	}

	return w.stopping.Load()
}

// beginSession opens a new storage artifact. A reset to seq 0 in the middle
// of a run closes out the previous session first.
func (w *Worker) beginSession(seq int64) error {
	if w.sink != nil {
		w.endSession()
		w.buffer.Reset()
	}

	sink, err := w.sinks.Open(w.now())
	if err != nil {
		return err
	}
	w.sink = sink
	w.cursor = seq - 1

	name := sink.Name()
	w.filename.Store(&name)
	w.logger.Info("session started", "filename", name, "sampling_rate", w.samplingRate)
	return nil
}

func (w *Worker) endSession() {
	if w.sink == nil {
		return
	}

	w.flush(math.MaxInt64)
	if pending := len(w.buffer.Since(w.cursor)); pending > 0 {
		w.rowsLost.Add(int64(pending))
		w.logger.Error("rows not persisted at session end", "filename", w.sink.Name(), "rows", pending)
	}

	if err := w.sink.Close(); err != nil {
		w.logger.Warn("close storage", "filename", w.sink.Name(), "error", err)
	}
	w.sink = nil
}

// flush persists buffered rows after the cursor and before boundary.
// On failure the cursor stays put and the next flush retries the same rows.
func (w *Worker) flush(boundary int64) {
	rows := w.buffer.Since(w.cursor)
	for len(rows) > 0 && rows[len(rows)-1].Seq >= boundary {
		rows = rows[:len(rows)-1]
	}
	if len(rows) == 0 {
		return
	}

	if gap := rows[0].Seq - w.cursor - 1; gap > 0 {
		// evicted from the window before they could be written
		w.rowsLost.Add(gap)
		w.cursor = rows[0].Seq - 1
		w.logger.Error("rows evicted before persist", "filename", w.sink.Name(), "rows", gap)
	}

	if err := w.sink.Append(rows, w.samplingRate); err != nil {
		w.flushFailures.Add(1)
		w.logger.Warn("flush failed, will retry", "filename", w.sink.Name(), "rows", len(rows), "error", err)
		return
	}

	w.cursor = rows[len(rows)-1].Seq
	w.rowsPersisted.Add(int64(len(rows)))
}
