// Package fastq reads and writes fastq records, transparently handling
// gzip compression for paths ending in .gz.
package fastq

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Record is one read.
type Record struct {
	Name     string
	Sequence string
	Quality  string
}

// Barcode returns the last colon-separated field of the read name, where
// demultiplexers record the observed index. Empty means no barcode.
func (r Record) Barcode() string {
	i := strings.LastIndexByte(r.Name, ':')
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(r.Name[i+1:])
}

// Reader yields records from a fastq stream.
type Reader struct {
	sc     *bufio.Scanner
	closer []io.Closer
	err    error
	rec    Record
}

// Open opens a fastq file, decompressing .gz files. Concatenated gzip
// members are read as one stream.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		r := NewReader(f)
		r.closer = append(r.closer, f)
		return r, nil
	}
	zr, err := gzip.NewReader(bufio.NewReaderSize(f, 1<<16))
	if err != nil {
		_ = f.Close()
		if errors.Is(err, io.EOF) {
			// Empty gzip file (zero bytes) holds no records.
			r := NewReader(strings.NewReader(""))
			return r, nil
		}
		return nil, fmt.Errorf("open gzip %s: %w", path, err)
	}
	r := NewReader(zr)
	r.closer = append(r.closer, zr, f)
	return r, nil
}

// NewReader reads records from r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &Reader{sc: sc}
}

func (r *Reader) line() (string, bool) {
	if !r.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(r.sc.Text()), true
}

// Next advances to the next complete record. It returns false at the end
// of input or on error; check Err.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	var lines [4]string
	for i := range lines {
		l, ok := r.line()
		if !ok {
			r.err = r.sc.Err()
			if r.err == nil && i > 0 {
				r.err = io.ErrUnexpectedEOF
			}
			return false
		}
		lines[i] = l
	}
	if !strings.HasPrefix(lines[0], "@") {
		r.err = fmt.Errorf("fastq: record name %q does not start with @", lines[0])
		return false
	}
	r.rec = Record{Name: lines[0], Sequence: lines[1], Quality: lines[3]}
	return true
}

// Record returns the current record.
func (r *Reader) Record() Record {
	return r.rec
}

func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) Close() error {
	var errs []error
	for _, c := range r.closer {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Writer writes records, gzip-compressing when created for a .gz path.
type Writer struct {
	bw     *bufio.Writer
	zw     *gzip.Writer
	f      *os.File
	closed bool
}

// Create creates or truncates a fastq file.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{f: f}
	if strings.HasSuffix(path, ".gz") {
		w.zw = gzip.NewWriter(f)
		w.bw = bufio.NewWriterSize(w.zw, 1<<16)
	} else {
		w.bw = bufio.NewWriterSize(f, 1<<16)
	}
	return w, nil
}

func (w *Writer) Write(rec Record) error {
	_, err := fmt.Fprintf(w.bw, "%s\n%s\n+\n%s\n", rec.Name, rec.Sequence, rec.Quality)
	return err
}

func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var errs []error
	errs = append(errs, w.bw.Flush())
	if w.zw != nil {
		errs = append(errs, w.zw.Close())
	}
	errs = append(errs, w.f.Close())
	return errors.Join(errs...)
}

// Count returns the number of records in a fastq file.
func Count(path string) (int64, error) {
	r, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()
	var n int64
	for r.Next() {
		n++
	}
	return n, r.Err()
}

// WriteEmptyGzip creates a valid gzip file holding no data.
func WriteEmptyGzip(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(f)
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
