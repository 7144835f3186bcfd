package record

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pcie-sim/pcie-sim/sim"
)

// Writer appends TransferRecords to a CSV session log.
//
// Layout: the header row, then "# "-prefixed session comment lines
// (start time, session id, configuration, columns), then one row per
// record, then the closing comment lines (end time, duration, record
// count, summary).
//
// Thread-safety: safe for concurrent use.
type Writer struct {
	mu        sync.Mutex
	buf       *bufio.Writer
	csv       *csv.Writer
	closer    io.Closer
	now       func() time.Time
	start     time.Time
	sessionID uuid.UUID
	count     uint64
	closed    bool
}

// NewWriter writes the header and session-start lines to w.
func NewWriter(w io.Writer, config string) (*Writer, error) {
	return newWriter(w, nil, config, time.Now)
}

// Create truncates path and starts a session in it. Close closes the file.
func Create(path, config string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating record log: %w", err)
	}
	w, err := newWriter(f, f, config, time.Now)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func newWriter(w io.Writer, closer io.Closer, config string, now func() time.Time) (*Writer, error) {
	buf := bufio.NewWriter(w)
	rw := &Writer{
		buf:       buf,
		csv:       csv.NewWriter(buf),
		closer:    closer,
		now:       now,
		start:     now(),
		sessionID: uuid.New(),
	}
	if err := rw.csv.Write(Columns); err != nil {
		return nil, fmt.Errorf("writing record header: %w", err)
	}
	rw.comment("Session Start: %s", rw.start.Format(TimestampLayout))
	rw.comment("Session ID: %s", rw.sessionID)
	rw.comment("Configuration: %s", config)
	rw.comment("Columns: %s", strings.Join(Columns, ", "))
	if err := rw.flushLocked(); err != nil {
		return nil, fmt.Errorf("writing session start: %w", err)
	}
	return rw, nil
}

// comment writes one "# " line. Caller holds mu or owns rw exclusively.
func (w *Writer) comment(format string, args ...any) {
	w.csv.Flush()
	fmt.Fprintf(w.buf, "# "+format+"\n", args...)
}

func (w *Writer) row(r TransferRecord) []string {
	sessionMs := r.Timestamp.Sub(w.start).Milliseconds()
	return []string{
		r.Timestamp.Format(TimestampLayout),
		strconv.FormatInt(sessionMs, 10),
		strconv.Itoa(r.DeviceID),
		strconv.Itoa(r.Size),
		strconv.FormatFloat(r.LatencyMicros(), 'f', 3, 64),
		strconv.FormatFloat(r.ThroughputMbps, 'f', 2, 64),
		r.Direction.String(),
		r.Status,
		strconv.Itoa(r.ThreadID),
	}
}

// Write appends one record.
func (w *Writer) Write(r TransferRecord) error {
	return w.WriteAll([]TransferRecord{r})
}

// WriteAll appends records in order.
func (w *Writer) WriteAll(records []TransferRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("record log session %s is closed", w.sessionID)
	}
	for _, r := range records {
		if err := w.csv.Write(w.row(r)); err != nil {
			return fmt.Errorf("writing record: %w", err)
		}
		w.count++
	}
	return nil
}

// Flush pushes buffered rows to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return err
	}
	return w.buf.Flush()
}

// Count returns the number of records written.
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// SessionID identifies this session in the log.
func (w *Writer) SessionID() string {
	return w.sessionID.String()
}

// Close writes the session-end lines and flushes. An empty summary is
// replaced by a record-count sentence. Closing twice is a no-op.
func (w *Writer) Close(summary string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	end := w.now()
	if summary == "" {
		summary = fmt.Sprintf("Session completed with %d transfers logged", w.count)
	}
	w.comment("Session End: %s", end.Format(TimestampLayout))
	w.comment("Duration: %d ms", end.Sub(w.start).Milliseconds())
	w.comment("Total Records: %d", w.count)
	w.comment("Summary: %s", summary)
	err := w.flushLocked()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("closing record log: %w", err)
	}
	return nil
}

// TimestampedName returns prefix_YYYYMMDD_HHMMSS+suffix.
func TimestampedName(prefix, suffix string, at time.Time) string {
	return prefix + "_" + at.Format("20060102_150405") + suffix
}

// Read parses the rows of a session log, skipping comment lines and the
// header. Timestamps are parsed in the local zone.
func Read(r io.Reader) ([]TransferRecord, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = len(Columns)
	var out []TransferRecord
	for line := 1; ; line++ {
		fields, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading record log: %w", err)
		}
		if fields[0] == Columns[0] {
			continue
		}
		rec, err := parseRow(fields)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", line, err)
		}
		out = append(out, rec)
	}
}

func parseRow(f []string) (TransferRecord, error) {
	var r TransferRecord
	var err error
	if r.Timestamp, err = time.ParseInLocation(TimestampLayout, f[0], time.Local); err != nil {
		return r, fmt.Errorf("timestamp: %w", err)
	}
	if r.DeviceID, err = strconv.Atoi(f[2]); err != nil {
		return r, fmt.Errorf("device_id: %w", err)
	}
	if r.Size, err = strconv.Atoi(f[3]); err != nil {
		return r, fmt.Errorf("transfer_size: %w", err)
	}
	us, err := strconv.ParseFloat(f[4], 64)
	if err != nil {
		return r, fmt.Errorf("latency_us: %w", err)
	}
	r.Latency = time.Duration(us * float64(time.Microsecond))
	if r.ThroughputMbps, err = strconv.ParseFloat(f[5], 64); err != nil {
		return r, fmt.Errorf("throughput_mbps: %w", err)
	}
	if r.Direction, err = sim.ParseDirection(f[6]); err != nil {
		return r, err
	}
	r.Status = f[7]
	if r.ThreadID, err = strconv.Atoi(f[8]); err != nil {
		return r, fmt.Errorf("thread_id: %w", err)
	}
	return r, nil
}
