package utils

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// defaultReportEvery is the byte interval between progress callbacks.
const defaultReportEvery = 10 * 1024 * 1024

// ProgressFunc receives the running byte count and time since the transfer began.
type ProgressFunc func(transferred int64, elapsed time.Duration)

// counter tracks bytes moved through a reader or writer and reports every
// reportEvery bytes.
type counter struct {
	total       atomic.Int64
	start       time.Time
	report      ProgressFunc
	reportEvery int64
}

func newCounter(report ProgressFunc) counter {
	return counter{
		start:       time.Now(),
		report:      report,
		reportEvery: defaultReportEvery,
	}
}

func (c *counter) add(n int) {
	if n <= 0 {
		return
	}
	total := c.total.Add(int64(n))
	if c.report != nil && total%c.reportEvery < int64(n) {
		c.report(total, time.Since(c.start))
	}
}

// Rate returns the average transfer rate in bytes per second.
func (c *counter) Rate() float64 {
	elapsed := time.Since(c.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(c.total.Load()) / elapsed
}

// ProgressReader wraps an io.Reader and counts bytes read.
type ProgressReader struct {
	counter
	reader io.Reader
}

// NewProgressReader creates a counting reader. report may be nil.
func NewProgressReader(reader io.Reader, report ProgressFunc) *ProgressReader {
	return &ProgressReader{counter: newCounter(report), reader: reader}
}

// Read implements io.Reader.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.add(n)
	return n, err
}

// BytesRead returns the total number of bytes read.
func (pr *ProgressReader) BytesRead() int64 {
	return pr.total.Load()
}

// ProgressWriter wraps an io.Writer and counts bytes written.
type ProgressWriter struct {
	counter
	writer io.Writer
}

// NewProgressWriter creates a counting writer. report may be nil.
func NewProgressWriter(writer io.Writer, report ProgressFunc) *ProgressWriter {
	return &ProgressWriter{counter: newCounter(report), writer: writer}
}

// Write implements io.Writer.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.add(n)
	return n, err
}

// BytesWritten returns the total number of bytes written.
func (pw *ProgressWriter) BytesWritten() int64 {
	return pw.total.Load()
}

// FormatBytes formats bytes in human-readable format.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatRate formats transfer rate in human-readable format.
func FormatRate(bytesPerSecond float64) string {
	return fmt.Sprintf("%s/s", FormatBytes(int64(bytesPerSecond)))
}
