// ABOUTME: Append-only delimited file sink, one file per acquisition session
// ABOUTME: Each batch is written with a single write and rolled back on failure
package storage

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/harper/biosignal-recorder/internal/domain"
)

// maxNameAttempts bounds the search for a free millisecond filename.
const maxNameAttempts = 1000

type file interface {
	io.Writer
	Truncate(size int64) error
	Close() error
}

// CSVSink appends [elapsedSeconds, ch1..chN] rows without a header.
type CSVSink struct {
	name string
	f    file
	size int64
}

// Name returns the session filename key (milliseconds since epoch).
func (s *CSVSink) Name() string {
	return s.name
}

// Append writes rows as one batch. On a failed or short write the file is
// truncated back to its previous size so a retry never duplicates rows.
func (s *CSVSink) Append(rows []domain.Sample, samplingRate int) error {
	if len(rows) == 0 {
		return nil
	}

	var batch bytes.Buffer
	w := csv.NewWriter(&batch)
	record := make([]string, 0, len(rows[0].Channels)+1)
	for _, row := range rows {
		record = record[:0]
		record = append(record, formatFloat(row.Elapsed(samplingRate)))
		for _, v := range row.Channels {
			record = append(record, formatFloat(v))
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("%w: encode row %d: %v", domain.ErrPersistence, row.Seq, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: encode batch: %v", domain.ErrPersistence, err)
	}

	n, err := s.f.Write(batch.Bytes())
	if err == nil && n != batch.Len() {
		err = io.ErrShortWrite
	}
	if err != nil {
		if n > 0 {
			if terr := s.f.Truncate(s.size); terr != nil {
				return fmt.Errorf("%w: write %s: %v (rollback: %v)", domain.ErrPersistence, s.name, err, terr)
			}
		}
		return fmt.Errorf("%w: write %s: %v", domain.ErrPersistence, s.name, err)
	}

	s.size += int64(n)
	return nil
}

func (s *CSVSink) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Factory opens CSV sinks inside a data directory.
type Factory struct {
	dir string
}

// NewFactory creates dir if it does not exist.
func NewFactory(dir string) (*Factory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Factory{dir: dir}, nil
}

func (f *Factory) Dir() string {
	return f.dir
}

// Open creates <millis>.csv for a session starting at start. If that name is
// taken, the next free millisecond is used so runs never share a file.
func (f *Factory) Open(start time.Time) (domain.Sink, error) {
	ms := start.UnixMilli()
	for i := 0; i < maxNameAttempts; i++ {
		name := strconv.FormatInt(ms+int64(i), 10)
		path := filepath.Join(f.dir, name+".csv")

		fh, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", domain.ErrPersistence, path, err)
		}
		return &CSVSink{name: name, f: fh}, nil
	}
	return nil, fmt.Errorf("%w: no free filename near %d", domain.ErrPersistence, ms)
}
