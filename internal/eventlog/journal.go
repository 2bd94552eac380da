// Package eventlog keeps an append-only, zstd-compressed JSONL journal of
// fleet events and tick reports, rotated hourly.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"fleet_traffic/internal/domain"
)

type Writer struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewWriter(baseDir, prefix string) *Writer {
	return &Writer{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Write appends v as one JSON line. It stays in the encoder until Flush.
func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush pushes buffered lines through the encoder so a reader sees a
// complete zstd block.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *Writer) closeLocked() error {
	var err error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Journal splits fleet events and tick reports into sibling directories.
type Journal struct {
	events *Writer
	ticks  *Writer
}

func NewJournal(dir string) *Journal {
	return &Journal{
		events: NewWriter(filepath.Join(dir, "events"), "events"),
		ticks:  NewWriter(filepath.Join(dir, "ticks"), "ticks"),
	}
}

func (j *Journal) WriteEvents(events []domain.Event) error {
	for _, evt := range events {
		if err := j.events.Write(evt); err != nil {
			return err
		}
	}
	return j.events.Flush()
}

func (j *Journal) WriteTick(report domain.TickReport) error {
	if err := j.ticks.Write(report); err != nil {
		return err
	}
	return j.ticks.Flush()
}

func (j *Journal) Close() error {
	err := j.events.Close()
	if tickErr := j.ticks.Close(); err == nil {
		err = tickErr
	}
	return err
}

// ReadEvents decodes every event file under dir/events in name order.
func ReadEvents(dir string) ([]domain.Event, error) {
	var out []domain.Event
	err := readDir(filepath.Join(dir, "events"), func(line []byte) error {
		var evt domain.Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return err
		}
		out = append(out, evt)
		return nil
	})
	return out, err
}

func ReadTicks(dir string) ([]domain.TickReport, error) {
	var out []domain.TickReport
	err := readDir(filepath.Join(dir, "ticks"), func(line []byte) error {
		var report domain.TickReport
		if err := json.Unmarshal(line, &report); err != nil {
			return err
		}
		out = append(out, report)
		return nil
	})
	return out, err
}

func readDir(dir string, fn func(line []byte) error) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.jsonl.zst"))
	if err != nil {
		return err
	}
	sort.Strings(paths)
	for _, path := range paths {
		if err := readFile(path, fn); err != nil {
			return err
		}
	}
	return nil
}

func readFile(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}
