// ABOUTME: Bounded circular buffer holding the rolling window of samples
// ABOUTME: Evicts the oldest sample on overflow, readers get consistent copies
package ring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/harper/biosignal-recorder/internal/domain"
)

// Buffer keeps at most Cap() samples ordered by sequence number.
// One goroutine may append while any number of goroutines read.
type Buffer struct {
	buf    []domain.Sample
	w      int // index of the oldest sample
	n      int // samples stored
	arity  int // channel count, 0 until the first append
	closed bool
	mu     sync.RWMutex
}

// New returns an empty buffer holding up to capacity samples.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{buf: make([]domain.Sample, capacity)}
}

// Capacity is the window size for a sampling rate and retention in seconds.
func Capacity(samplingRate, retentionSeconds int) int {
	return samplingRate * retentionSeconds
}

// Append adds s at the tail, evicting the oldest sample when full.
// The first append fixes the channel arity for the buffer's lifetime.
func (b *Buffer) Append(s domain.Sample) error {
	channels := make([]float64, len(s.Channels))
	copy(channels, s.Channels)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return domain.ErrBufferClosed
	}
	if len(channels) == 0 {
		return fmt.Errorf("%w: frame %d has no channels", domain.ErrConfiguration, s.Seq)
	}
	if b.arity != 0 && len(channels) != b.arity {
		return fmt.Errorf("%w: frame %d has %d channels, want %d",
			domain.ErrConfiguration, s.Seq, len(channels), b.arity)
	}
	if b.n > 0 && s.Seq <= b.at(b.n-1).Seq {
		return fmt.Errorf("%w: frame %d after %d", domain.ErrOutOfOrder, s.Seq, b.at(b.n-1).Seq)
	}

	b.arity = len(channels)
	b.buf[(b.w+b.n)%len(b.buf)] = domain.Sample{Seq: s.Seq, Channels: channels}
	if b.n == len(b.buf) {
		b.w = (b.w + 1) % len(b.buf)
	} else {
		b.n++
	}
	return nil
}

// Snapshot returns a copy of the buffered samples, oldest first.
// Channel slices are shared and must be treated as read-only.
func (b *Buffer) Snapshot() []domain.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.Sample, b.n)
	for i := range out {
		out[i] = b.at(i)
	}
	return out
}

// Since returns the buffered samples with a sequence number above cursor.
func (b *Buffer) Since(cursor int64) []domain.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	first := sort.Search(b.n, func(i int) bool { return b.at(i).Seq > cursor })
	out := make([]domain.Sample, b.n-first)
	for i := range out {
		out[i] = b.at(first + i)
	}
	return out
}

// Oldest returns the sequence number at the head of the buffer.
func (b *Buffer) Oldest() (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.n == 0 {
		return 0, false
	}
	return b.at(0).Seq, true
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.n
}

func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Arity returns the channel count, or 0 before the first append.
func (b *Buffer) Arity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.arity
}

// Reset drops all samples and the arity so a new session can start.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.buf)
	b.w, b.n, b.arity = 0, 0, 0
}

// Close rejects further appends. Reads keep working.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *Buffer) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// at returns the i-th oldest sample. Caller holds mu.
func (b *Buffer) at(i int) domain.Sample {
	return b.buf[(b.w+i)%len(b.buf)]
}
