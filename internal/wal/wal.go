// Package wal is an append-only file log of readings that could not be
// delivered. Records are length-prefixed JSON; a separate meta file holds
// the highest committed entry so replay resumes after a restart.
package wal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/chaz8081/sensor-gateway/internal/reading"
)

// entry format: [8 bytes id][4 bytes len][len bytes json]
const recordHeaderLen = 12

// ErrFull is returned by Append when the log has reached its size cap.
var ErrFull = errors.New("wal: size limit reached")

// EntryID identifies a record. IDs increase monotonically from 1.
type EntryID uint64

// Stats summarises the log.
type Stats struct {
	OldestUncommitted EntryID
	LatestAppended    EntryID
	Pending           uint64
	SizeBytes         int64
}

// FileWAL stores records in <dir>/wal.log and the commit mark in <dir>/wal.meta.
type FileWAL struct {
	mu        sync.Mutex
	dir       string
	path      string
	metaPath  string
	maxBytes  int64
	file      *os.File
	writer    *bufio.Writer
	nextID    EntryID
	committed EntryID
	sizeBytes int64
}

// Open opens or creates the log in dir. maxBytes <= 0 means unbounded.
func Open(dir string, maxBytes int64) (*FileWAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}
	w := &FileWAL{
		dir:      dir,
		path:     filepath.Join(dir, "wal.log"),
		metaPath: filepath.Join(dir, "wal.meta"),
		maxBytes: maxBytes,
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	if err := w.bootstrap(); err != nil {
		_ = w.file.Close()
		return nil, err
	}
	return w, nil
}

func (w *FileWAL) openFile() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open: %w", err)
	}
	w.file = f
	w.writer = bufio.NewWriterSize(f, 64<<10)
	return nil
}

func (w *FileWAL) bootstrap() error {
	if err := w.scanExisting(); err != nil {
		return err
	}
	if err := w.loadCommitted(); err != nil {
		return err
	}
	if w.nextID < w.committed {
		w.nextID = w.committed
	}
	return nil
}

// scanExisting finds the last complete record and truncates a torn tail.
func (w *FileWAL) scanExisting() error {
	rf, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("wal: scan: %w", err)
	}
	defer rf.Close()

	reader := bufio.NewReader(rf)
	var (
		offset int64
		lastID EntryID
	)
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(reader, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("wal: scan header: %w", err)
		}
		id := EntryID(binary.BigEndian.Uint64(hdr[0:8]))
		length := int64(binary.BigEndian.Uint32(hdr[8:12]))

		if _, err := io.CopyN(io.Discard, reader, length); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("wal: scan body: %w", err)
		}
		offset += recordHeaderLen + length
		lastID = id
	}

	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("wal: truncate torn tail: %w", err)
	}
	w.sizeBytes = offset
	w.nextID = lastID
	return nil
}

func (w *FileWAL) loadCommitted() error {
	data, err := os.ReadFile(w.metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("wal: read meta: %w", err)
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return fmt.Errorf("wal: meta parse: %w", err)
	}
	w.committed = EntryID(u)
	return nil
}

// Append writes r and returns its id. The record is buffered; Iterate and
// Flush make it visible on disk.
func (w *FileWAL) Append(r reading.Reading) (EntryID, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("wal: encode: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxBytes > 0 && w.sizeBytes+int64(len(b)+recordHeaderLen) > w.maxBytes {
		return 0, ErrFull
	}

	id := w.nextID + 1
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))

	if _, err := w.writer.Write(hdr[:]); err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}
	if _, err := w.writer.Write(b); err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}

	w.nextID = id
	w.sizeBytes += int64(len(b) + recordHeaderLen)
	return id, nil
}

// Flush writes buffered records to the file.
func (w *FileWAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writer.Flush()
}

// Iterate calls fn for each record with id >= from, in order. Iteration
// stops at the first error from fn, which is returned.
func (w *FileWAL) Iterate(from EntryID, fn func(id EntryID, r reading.Reading) error) error {
	w.mu.Lock()
	if err := w.writer.Flush(); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("wal: flush: %w", err)
	}
	f, err := os.Open(w.path)
	w.mu.Unlock()
	if err != nil {
		return fmt.Errorf("wal: iterate: %w", err)
	}
	defer f.Close()

	return readRecords(bufio.NewReader(f), func(id EntryID, b []byte) error {
		if id < from {
			return nil
		}
		var r reading.Reading
		if err := json.Unmarshal(b, &r); err != nil {
			return fmt.Errorf("wal: corrupt entry %d: %w", id, err)
		}
		return fn(id, r)
	})
}

func readRecords(r io.Reader, fn func(id EntryID, b []byte) error) error {
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("wal: truncated header: %w", err)
		}
		id := EntryID(binary.BigEndian.Uint64(hdr[0:8]))
		b := make([]byte, binary.BigEndian.Uint32(hdr[8:12]))
		if _, err := io.ReadFull(r, b); err != nil {
			return fmt.Errorf("wal: corrupt record %d: %w", id, err)
		}
		if err := fn(id, b); err != nil {
			return err
		}
	}
}

// Commit marks every record up to and including upto as delivered.
func (w *FileWAL) Commit(upto EntryID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if upto > w.committed {
		w.committed = upto
	}
	return w.persistMetaLocked()
}

// TruncateCommitted rewrites the log without committed records.
func (w *FileWAL) TruncateCommitted() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if w.sizeBytes == 0 {
		return nil
	}

	src, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	tmpPath := w.path + ".tmp"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		src.Close()
		return fmt.Errorf("wal: truncate: %w", err)
	}

	bw := bufio.NewWriter(dst)
	var kept int64
	err = readRecords(bufio.NewReader(src), func(id EntryID, b []byte) error {
		if id <= w.committed {
			return nil
		}
		var hdr [recordHeaderLen]byte
		binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
		binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))
		if _, err := bw.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := bw.Write(b); err != nil {
			return err
		}
		kept += int64(len(b) + recordHeaderLen)
		return nil
	})
	src.Close()
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = dst.Sync()
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("wal: truncate: %w", err)
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	w.sizeBytes = kept
	return w.openFile()
}

// Stats returns a snapshot of the log state.
func (w *FileWAL) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		OldestUncommitted: w.committed + 1,
		LatestAppended:    w.nextID,
		Pending:           uint64(w.nextID - w.committed),
		SizeBytes:         w.sizeBytes,
	}
}

// Close flushes and closes the log file.
func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("wal: flush: %w", err)
	}
	return w.file.Close()
}

func (w *FileWAL) persistMetaLocked() error {
	data := []byte(fmt.Sprintf("%d\n", w.committed))
	if err := os.WriteFile(w.metaPath, data, 0o644); err != nil {
		return fmt.Errorf("wal: write meta: %w", err)
	}
	return nil
}
