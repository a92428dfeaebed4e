// ABOUTME: Core value types for acquisition frames and sessions
// ABOUTME: Sample rows, source descriptors, and catalog records
package domain

import "time"

// Sample is one acquisition frame. Channels must not be modified once the
// sample has been handed to a buffer.
type Sample struct {
	Seq      int64
	Channels []float64
}

// Elapsed returns the device-time offset of the sample in seconds.
func (s Sample) Elapsed(samplingRate int) float64 {
	if samplingRate <= 0 {
		return 0
	}
	return float64(s.Seq) / float64(samplingRate)
}

// Source describes one physical channel group handed to the driver.
type Source struct {
	Port        int    `json:"port"`
	FreqDivisor int    `json:"freq_divisor"`
	Bits        int    `json:"n_bits"`
	ChannelMask uint32 `json:"ch_mask"`
}

// ChannelCount returns the number of channels enabled in the mask.
func (s Source) ChannelCount() int {
	n := 0
	for m := s.ChannelMask; m != 0; m &= m - 1 {
		n++
	}
	return n
}

// SessionStatus is the terminal state recorded for a run.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// SessionRecord is the catalog entry for one acquisition run.
type SessionRecord struct {
	ID            string        `json:"id"`
	Filename      string        `json:"filename"`
	MACAddress    string        `json:"mac_address"`
	SamplingRate  int           `json:"sampling_rate"`
	Channels      int           `json:"channels"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	RowsPersisted int64         `json:"rows_persisted"`
	FlushFailures int64         `json:"flush_failures"`
	Status        SessionStatus `json:"status"`
	Error         string        `json:"error,omitempty"`
}
