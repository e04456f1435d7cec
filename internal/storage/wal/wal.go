package wal

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/veloxdb/veloxdb/internal/obs"
	"github.com/veloxdb/veloxdb/internal/store"
)

// syncMaxRetries and syncBaseDelay bound the exponential backoff Append
// applies around fsync: only the sync step retries (a torn write is not
// something retrying fixes), and only up to a handful of times before
// giving up and letting the circuit breaker's own state carry the failure
// forward to the next call.
const (
	syncMaxRetries = 3
	syncBaseDelay  = 5 * time.Millisecond
)

// WAL implements write-ahead logging for durability
type WAL struct {
	mu      sync.RWMutex
	file    *os.File
	writer  *bufio.Writer
	path    string
	offset  int64
	closed  bool
	breaker *obs.CircuitBreaker
}

// Entry represents a single WAL entry
type Entry struct {
	Timestamp uint64
	Operation Operation
	ID        uint64
	Vector    []float32
	Metadata  *store.Metadata
}

// Operation defines the type of operation
type Operation uint8

const (
	OpInsert Operation = iota
	OpUpdate
	OpDelete
)

// New creates a new WAL instance
func New(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	// Get current file size
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat WAL file: %w", err)
	}

	wal := &WAL{
		file:    file,
		writer:  bufio.NewWriter(file),
		path:    path,
		offset:  stat.Size(),
		breaker: obs.NewCircuitBreaker(obs.DefaultCircuitBreakerConfig("wal-sync")),
	}

	return wal, nil
}

// Append adds a new entry to the WAL
func (w *WAL) Append(ctx context.Context, entry *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("WAL is closed")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Set timestamp if not provided
	if entry.Timestamp == 0 {
		entry.Timestamp = uint64(time.Now().UnixNano())
	}

	// Serialize entry
	data, err := w.serializeEntry(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize entry: %w", err)
	}

	// Write length prefix
	if err := binary.Write(w.writer, binary.LittleEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("failed to write entry length: %w", err)
	}

	// Write data
	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write entry data: %w", err)
	}

	// Flush to ensure durability
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}

	if err := w.syncWithRetry(ctx); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}

	w.offset += int64(4 + len(data))
	return nil
}

// syncWithRetry fsyncs the WAL file, retrying a bounded number of times with
// exponential backoff on failure (a cold disk or a contended fsync can fail
// transiently where the write itself already succeeded). The circuit breaker
// trips once failures pile up across calls, short-circuiting further sync
// attempts until its timeout elapses rather than retrying into an outage.
func (w *WAL) syncWithRetry(ctx context.Context) error {
	return w.breaker.Execute(ctx, func() error {
		var lastErr error
		delay := syncBaseDelay
		for attempt := 0; attempt <= syncMaxRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
				delay *= 2
			}
			if err := w.file.Sync(); err != nil {
				lastErr = err
				continue
			}
			return nil
		}
		return lastErr
	})
}

// Read reads all entries from the WAL for recovery
func (w *WAL) Read() ([]*Entry, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	// Open read-only file handle
	file, err := os.Open(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL for reading: %w", err)
	}
	defer file.Close()

	var entries []*Entry
	reader := bufio.NewReader(file)

	for {
		// Read length prefix
		var length uint32
		if err := binary.Read(reader, binary.LittleEndian, &length); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to read entry length: %w", err)
		}

		// Read entry data
		data := make([]byte, length)
		if _, err := io.ReadFull(reader, data); err != nil {
			return nil, fmt.Errorf("failed to read entry data: %w", err)
		}

		// Deserialize entry
		entry, err := w.deserializeEntry(data)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize entry: %w", err)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// Truncate removes all entries from the WAL
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("WAL is closed")
	}

	// Close current file
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close WAL file: %w", err)
	}

	// Recreate empty file
	file, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("failed to recreate WAL file: %w", err)
	}

	w.file = file
	w.writer = bufio.NewWriter(file)
	w.offset = 0

	return nil
}

// Close shuts down the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	var errs []error

	if err := w.writer.Flush(); err != nil {
		errs = append(errs, err)
	}

	if err := w.file.Sync(); err != nil {
		errs = append(errs, err)
	}

	if err := w.file.Close(); err != nil {
		errs = append(errs, err)
	}

	w.closed = true

	if len(errs) > 0 {
		return fmt.Errorf("errors during WAL close: %v", errs)
	}

	return nil
}

// serializeEntry encodes an entry as: [1B op][8B timestamp][8B id]
// [4B vectorLen][vectorLen*4B float32s][metadata blob]. This replaces the
// earlier JSON placeholder with a fixed binary layout matching the encoding
// style used throughout internal/store.
func (w *WAL) serializeEntry(entry *Entry) ([]byte, error) {
	vectorBytes := len(entry.Vector) * 4
	metaBytes := encodeMetadata(entry.Metadata)

	buf := make([]byte, 1+8+8+4+vectorBytes+len(metaBytes))
	pos := 0
	buf[pos] = byte(entry.Operation)
	pos++
	binary.LittleEndian.PutUint64(buf[pos:], entry.Timestamp)
	pos += 8
	binary.LittleEndian.PutUint64(buf[pos:], entry.ID)
	pos += 8
	binary.LittleEndian.PutUint32(buf[pos:], uint32(len(entry.Vector)))
	pos += 4
	for _, f := range entry.Vector {
		binary.LittleEndian.PutUint32(buf[pos:], math.Float32bits(f))
		pos += 4
	}
	copy(buf[pos:], metaBytes)

	return buf, nil
}

func (w *WAL) deserializeEntry(data []byte) (*Entry, error) {
	if len(data) < 21 {
		return nil, fmt.Errorf("WAL entry truncated: need at least 21 bytes, got %d", len(data))
	}
	entry := &Entry{}
	pos := 0
	entry.Operation = Operation(data[pos])
	pos++
	entry.Timestamp = binary.LittleEndian.Uint64(data[pos:])
	pos += 8
	entry.ID = binary.LittleEndian.Uint64(data[pos:])
	pos += 8
	vecLen := binary.LittleEndian.Uint32(data[pos:])
	pos += 4

	if vecLen > 0 {
		entry.Vector = make([]float32, vecLen)
	}
	for i := range entry.Vector {
		entry.Vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
	}

	meta, err := decodeMetadata(data[pos:])
	if err != nil {
		return nil, err
	}
	entry.Metadata = meta

	return entry, nil
}

// encodeMetadata serializes a store.Metadata (nil-able) as:
// [1B present][10B date][1B docType][3x (2B len + bytes) for source/asset/bias]
// [6x 8B float64, NaN sentineled][4B customCount][per-entry 4B keyLen+key+4B valLen+val]
func encodeMetadata(meta *store.Metadata) []byte {
	if meta == nil {
		return []byte{0}
	}

	var dateArr [10]byte
	copy(dateArr[:], meta.Date)

	size := 1 + 10 + 1
	size += 2 + len(meta.SourceFile)
	size += 2 + len(meta.Asset)
	size += 2 + len(meta.Bias)
	size += 8 * 6
	size += 4
	for k, v := range meta.Custom {
		size += 4 + len(k) + 4 + len(v)
	}

	buf := make([]byte, size)
	pos := 0
	buf[pos] = 1
	pos++
	copy(buf[pos:], dateArr[:])
	pos += 10
	buf[pos] = byte(meta.Type)
	pos++

	pos = putStringField(buf, pos, meta.SourceFile)
	pos = putStringField(buf, pos, meta.Asset)
	pos = putStringField(buf, pos, meta.Bias)

	pos = putOptionalFloat(buf, pos, meta.GoldPrice)
	pos = putOptionalFloat(buf, pos, meta.SilverPrice)
	pos = putOptionalFloat(buf, pos, meta.GSR)
	pos = putOptionalFloat(buf, pos, meta.DXY)
	pos = putOptionalFloat(buf, pos, meta.VIX)
	pos = putOptionalFloat(buf, pos, meta.Yield10Y)

	binary.LittleEndian.PutUint32(buf[pos:], uint32(len(meta.Custom)))
	pos += 4
	for k, v := range meta.Custom {
		binary.LittleEndian.PutUint32(buf[pos:], uint32(len(k)))
		pos += 4
		copy(buf[pos:], k)
		pos += len(k)
		binary.LittleEndian.PutUint32(buf[pos:], uint32(len(v)))
		pos += 4
		copy(buf[pos:], v)
		pos += len(v)
	}

	return buf
}

func decodeMetadata(data []byte) (*store.Metadata, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("WAL metadata blob empty")
	}
	if data[0] == 0 {
		return nil, nil
	}
	if len(data) < 1+10+1 {
		return nil, fmt.Errorf("WAL metadata blob truncated")
	}

	pos := 1
	meta := &store.Metadata{}
	meta.Date = trimTrailingZeros(data[pos : pos+10])
	pos += 10
	meta.Type = store.DocumentType(data[pos])
	pos++

	var err error
	meta.SourceFile, pos, err = getStringField(data, pos)
	if err != nil {
		return nil, err
	}
	meta.Asset, pos, err = getStringField(data, pos)
	if err != nil {
		return nil, err
	}
	meta.Bias, pos, err = getStringField(data, pos)
	if err != nil {
		return nil, err
	}

	meta.GoldPrice, pos = getOptionalFloat(data, pos)
	meta.SilverPrice, pos = getOptionalFloat(data, pos)
	meta.GSR, pos = getOptionalFloat(data, pos)
	meta.DXY, pos = getOptionalFloat(data, pos)
	meta.VIX, pos = getOptionalFloat(data, pos)
	meta.Yield10Y, pos = getOptionalFloat(data, pos)

	if pos+4 > len(data) {
		return nil, fmt.Errorf("WAL metadata blob truncated at custom count")
	}
	count := binary.LittleEndian.Uint32(data[pos:])
	pos += 4
	if count > 0 {
		meta.Custom = make(map[string]string, count)
		for i := uint32(0); i < count; i++ {
			var k, v string
			k, pos, err = getStringField32(data, pos)
			if err != nil {
				return nil, err
			}
			v, pos, err = getStringField32(data, pos)
			if err != nil {
				return nil, err
			}
			meta.Custom[k] = v
		}
	}

	return meta, nil
}

func putStringField(buf []byte, pos int, s string) int {
	binary.LittleEndian.PutUint16(buf[pos:], uint16(len(s)))
	pos += 2
	copy(buf[pos:], s)
	return pos + len(s)
}

func getStringField(data []byte, pos int) (string, int, error) {
	if pos+2 > len(data) {
		return "", pos, fmt.Errorf("WAL metadata blob truncated reading string length")
	}
	l := int(binary.LittleEndian.Uint16(data[pos:]))
	pos += 2
	if pos+l > len(data) {
		return "", pos, fmt.Errorf("WAL metadata blob truncated reading string value")
	}
	return string(data[pos : pos+l]), pos + l, nil
}

func getStringField32(data []byte, pos int) (string, int, error) {
	if pos+4 > len(data) {
		return "", pos, fmt.Errorf("WAL metadata blob truncated reading custom key/value length")
	}
	l := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if pos+l > len(data) {
		return "", pos, fmt.Errorf("WAL metadata blob truncated reading custom key/value")
	}
	return string(data[pos : pos+l]), pos + l, nil
}

func putOptionalFloat(buf []byte, pos int, p *float64) int {
	v := math.NaN()
	if p != nil {
		v = *p
	}
	binary.LittleEndian.PutUint64(buf[pos:], math.Float64bits(v))
	return pos + 8
}

func getOptionalFloat(data []byte, pos int) (*float64, int) {
	v := math.Float64frombits(binary.LittleEndian.Uint64(data[pos:]))
	newPos := pos + 8
	if math.IsNaN(v) {
		return nil, newPos
	}
	out := v
	return &out, newPos
}

func trimTrailingZeros(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
