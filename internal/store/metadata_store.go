package store

import (
	"encoding/binary"
	"math"
	"os"
	"sync"

	"github.com/veloxdb/veloxdb/internal/errs"
	"github.com/veloxdb/veloxdb/internal/memory"
)

const (
	metaStoreMagic   uint32 = 0x56444246 // "VDBF"
	metaStoreVersion uint32 = 1
	metaHeaderSize          = 32
	metaRecordSize          = 128
	defaultInitialMetaRows  = 1024
	dateFieldLen            = 10 // "YYYY-MM-DD"
)

// record layout within metaRecordSize bytes.
const (
	mrDeleted      = 0  // uint32
	mrDate         = 4  // [10]byte, zero-padded
	mrDocType      = 14 // uint8
	mrSourceOffset = 16 // uint64
	mrSourceLen    = 24 // uint32
	mrAssetOffset  = 28 // uint64
	mrAssetLen     = 36 // uint32
	mrBiasOffset   = 40 // uint64
	mrBiasLen      = 48 // uint32
	mrGoldPrice    = 56 // float64
	mrSilverPrice  = 64 // float64
	mrGSR          = 72 // float64
	mrDXY          = 80 // float64
	mrVIX          = 88 // float64
	mrYield10Y     = 96 // float64
	mrCustomOffset = 104 // uint64
	mrCustomLen    = 112 // uint32
)

// MetadataStore holds the structured metadata record for every stored
// vector. Fixed-width fields (dates, doc type, numeric fields) live in a
// mmap-backed record file; variable-length strings (source file, asset,
// bias, custom key/value pairs) live in an append-only heap file addressed
// by (offset, length) pairs in the record.
type MetadataStore struct {
	mu        sync.RWMutex
	mm        *memory.MemoryMap
	recordsPath string
	heap      *os.File
	heapPath  string
	heapSize  int64
}

// OpenMetadataStore opens or creates the paired record file at recordsPath
// and string-heap file at heapPath.
func OpenMetadataStore(recordsPath, heapPath string) (*MetadataStore, error) {
	ms := &MetadataStore{recordsPath: recordsPath, heapPath: heapPath}

	if info, statErr := os.Stat(recordsPath); statErr == nil && info.Size() > 0 {
		mm, err := memory.NewMemoryMap(recordsPath, 0, false)
		if err != nil {
			return nil, errs.Wrap(errs.IoError, "open metadata record file", err)
		}
		ms.mm = mm
		if err := ms.validateHeader(); err != nil {
			mm.Close()
			return nil, err
		}
	} else {
		size := int64(metaHeaderSize + metaRecordSize*defaultInitialMetaRows)
		mm, err := memory.NewMemoryMap(recordsPath, size, false)
		if err != nil {
			return nil, errs.Wrap(errs.IoError, "create metadata record file", err)
		}
		ms.mm = mm
		ms.writeHeader(metaStoreMagic, metaStoreVersion, 0, defaultInitialMetaRows)
	}

	heap, err := os.OpenFile(heapPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		ms.mm.Close()
		return nil, errs.Wrap(errs.IoError, "open metadata heap file", err)
	}
	info, err := heap.Stat()
	if err != nil {
		heap.Close()
		ms.mm.Close()
		return nil, errs.Wrap(errs.IoError, "stat metadata heap file", err)
	}
	ms.heap = heap
	ms.heapSize = info.Size()

	return ms, nil
}

func (ms *MetadataStore) validateHeader() error {
	data := ms.mm.Data()
	if int64(len(data)) < metaHeaderSize {
		return errs.New(errs.IoError, "metadata record file truncated below header size")
	}
	if binary.LittleEndian.Uint32(data[offMagic:]) != metaStoreMagic {
		return errs.New(errs.ParseError, "metadata record file has wrong magic number")
	}
	return nil
}

func (ms *MetadataStore) writeHeader(magic, version, count, capacity uint32) {
	data := ms.mm.Data()
	binary.LittleEndian.PutUint32(data[offMagic:], magic)
	binary.LittleEndian.PutUint32(data[offVersion:], version)
	binary.LittleEndian.PutUint32(data[offCount:], count)
	binary.LittleEndian.PutUint32(data[offCapacity:], capacity)
}

func (ms *MetadataStore) count() uint32    { return binary.LittleEndian.Uint32(ms.mm.Data()[offCount:]) }
func (ms *MetadataStore) capacity() uint32 { return binary.LittleEndian.Uint32(ms.mm.Data()[offCapacity:]) }
func (ms *MetadataStore) setCount(c uint32) {
	binary.LittleEndian.PutUint32(ms.mm.Data()[offCount:], c)
}
func (ms *MetadataStore) setCapacity(c uint32) {
	binary.LittleEndian.PutUint32(ms.mm.Data()[offCapacity:], c)
}

func (ms *MetadataStore) recordOffset(id uint64) int64 {
	return metaHeaderSize + int64(id)*metaRecordSize
}

// appendHeapLocked writes b to the end of the heap file and returns its
// (offset, length). Callers must hold ms.mu.
func (ms *MetadataStore) appendHeapLocked(b []byte) (uint64, uint32, error) {
	if len(b) == 0 {
		return 0, 0, nil
	}
	off := ms.heapSize
	n, err := ms.heap.WriteAt(b, off)
	if err != nil {
		return 0, 0, errs.Wrap(errs.IoError, "append metadata heap", err)
	}
	ms.heapSize += int64(n)
	return uint64(off), uint32(len(b)), nil
}

func (ms *MetadataStore) readHeapLocked(offset uint64, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	if _, err := ms.heap.ReadAt(buf, int64(offset)); err != nil {
		return nil, errs.Wrap(errs.IoError, "read metadata heap", err)
	}
	return buf, nil
}

func encodeCustom(m map[string]string) []byte {
	if len(m) == 0 {
		return nil
	}
	var size int
	size += 4
	for k, v := range m {
		size += 4 + len(k) + 4 + len(v)
	}
	buf := make([]byte, size)
	pos := 0
	binary.LittleEndian.PutUint32(buf[pos:], uint32(len(m)))
	pos += 4
	for k, v := range m {
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

func decodeCustom(b []byte) map[string]string {
	if len(b) == 0 {
		return nil
	}
	pos := 0
	count := binary.LittleEndian.Uint32(b[pos:])
	pos += 4
	out := make(map[string]string, count)
	for i := uint32(0); i < count; i++ {
		kLen := binary.LittleEndian.Uint32(b[pos:])
		pos += 4
		k := string(b[pos : pos+int(kLen)])
		pos += int(kLen)
		vLen := binary.LittleEndian.Uint32(b[pos:])
		pos += 4
		v := string(b[pos : pos+int(vLen)])
		pos += int(vLen)
		out[k] = v
	}
	return out
}

func writeOptionalFloat(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

func readOptionalFloat(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	out := v
	return &out
}

// Append stores meta and returns the id assigned to it. This is expected to
// track the id the paired VectorStore.Append call just returned, so the two
// stores stay index-aligned.
func (ms *MetadataStore) Append(meta *Metadata) (uint64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	count := ms.count()
	if count >= ms.capacity() {
		if err := ms.growLocked(); err != nil {
			return 0, err
		}
	}

	id := uint64(count)
	if err := ms.writeRecordLocked(id, meta); err != nil {
		return 0, err
	}
	ms.setCount(count + 1)
	return id, nil
}

func (ms *MetadataStore) growLocked() error {
	cap := ms.capacity()
	newCap := cap * 2
	if newCap == 0 {
		newCap = defaultInitialMetaRows
	}
	newSize := int64(metaHeaderSize) + int64(metaRecordSize)*int64(newCap)
	if err := ms.mm.Resize(newSize); err != nil {
		return errs.Wrap(errs.IoError, "grow metadata record file", err)
	}
	ms.setCapacity(newCap)
	return nil
}

func (ms *MetadataStore) writeRecordLocked(id uint64, meta *Metadata) error {
	sourceOff, sourceLen, err := ms.appendHeapLocked([]byte(meta.SourceFile))
	if err != nil {
		return err
	}
	assetOff, assetLen, err := ms.appendHeapLocked([]byte(meta.Asset))
	if err != nil {
		return err
	}
	biasOff, biasLen, err := ms.appendHeapLocked([]byte(meta.Bias))
	if err != nil {
		return err
	}
	customOff, customLen, err := ms.appendHeapLocked(encodeCustom(meta.Custom))
	if err != nil {
		return err
	}

	off := ms.recordOffset(id)
	data := ms.mm.Data()
	rec := data[off : off+metaRecordSize]

	binary.LittleEndian.PutUint32(rec[mrDeleted:], 0)
	var dateBytes [dateFieldLen]byte
	copy(dateBytes[:], meta.Date)
	copy(rec[mrDate:], dateBytes[:])
	rec[mrDocType] = byte(meta.Type)

	binary.LittleEndian.PutUint64(rec[mrSourceOffset:], sourceOff)
	binary.LittleEndian.PutUint32(rec[mrSourceLen:], sourceLen)
	binary.LittleEndian.PutUint64(rec[mrAssetOffset:], assetOff)
	binary.LittleEndian.PutUint32(rec[mrAssetLen:], assetLen)
	binary.LittleEndian.PutUint64(rec[mrBiasOffset:], biasOff)
	binary.LittleEndian.PutUint32(rec[mrBiasLen:], biasLen)

	binary.LittleEndian.PutUint64(rec[mrGoldPrice:], math.Float64bits(writeOptionalFloat(meta.GoldPrice)))
	binary.LittleEndian.PutUint64(rec[mrSilverPrice:], math.Float64bits(writeOptionalFloat(meta.SilverPrice)))
	binary.LittleEndian.PutUint64(rec[mrGSR:], math.Float64bits(writeOptionalFloat(meta.GSR)))
	binary.LittleEndian.PutUint64(rec[mrDXY:], math.Float64bits(writeOptionalFloat(meta.DXY)))
	binary.LittleEndian.PutUint64(rec[mrVIX:], math.Float64bits(writeOptionalFloat(meta.VIX)))
	binary.LittleEndian.PutUint64(rec[mrYield10Y:], math.Float64bits(writeOptionalFloat(meta.Yield10Y)))

	binary.LittleEndian.PutUint64(rec[mrCustomOffset:], customOff)
	binary.LittleEndian.PutUint32(rec[mrCustomLen:], customLen)
	return nil
}

// Get returns a copy of the metadata stored for id.
func (ms *MetadataStore) Get(id uint64) (*Metadata, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if id >= uint64(ms.count()) {
		return nil, errs.NotFoundf("metadata id %d not found", id)
	}
	off := ms.recordOffset(id)
	data := ms.mm.Data()
	rec := data[off : off+metaRecordSize]

	if binary.LittleEndian.Uint32(rec[mrDeleted:]) != 0 {
		return nil, errs.NotFoundf("metadata id %d has been deleted", id)
	}

	meta := &Metadata{
		Date: trimZero(rec[mrDate : mrDate+dateFieldLen]),
		Type: DocumentType(rec[mrDocType]),
	}

	sourceOff := binary.LittleEndian.Uint64(rec[mrSourceOffset:])
	sourceLen := binary.LittleEndian.Uint32(rec[mrSourceLen:])
	sourceBytes, err := ms.readHeapLocked(sourceOff, sourceLen)
	if err != nil {
		return nil, err
	}
	meta.SourceFile = string(sourceBytes)

	assetOff := binary.LittleEndian.Uint64(rec[mrAssetOffset:])
	assetLen := binary.LittleEndian.Uint32(rec[mrAssetLen:])
	assetBytes, err := ms.readHeapLocked(assetOff, assetLen)
	if err != nil {
		return nil, err
	}
	meta.Asset = string(assetBytes)

	biasOff := binary.LittleEndian.Uint64(rec[mrBiasOffset:])
	biasLen := binary.LittleEndian.Uint32(rec[mrBiasLen:])
	biasBytes, err := ms.readHeapLocked(biasOff, biasLen)
	if err != nil {
		return nil, err
	}
	meta.Bias = string(biasBytes)

	meta.GoldPrice = readOptionalFloat(math.Float64frombits(binary.LittleEndian.Uint64(rec[mrGoldPrice:])))
	meta.SilverPrice = readOptionalFloat(math.Float64frombits(binary.LittleEndian.Uint64(rec[mrSilverPrice:])))
	meta.GSR = readOptionalFloat(math.Float64frombits(binary.LittleEndian.Uint64(rec[mrGSR:])))
	meta.DXY = readOptionalFloat(math.Float64frombits(binary.LittleEndian.Uint64(rec[mrDXY:])))
	meta.VIX = readOptionalFloat(math.Float64frombits(binary.LittleEndian.Uint64(rec[mrVIX:])))
	meta.Yield10Y = readOptionalFloat(math.Float64frombits(binary.LittleEndian.Uint64(rec[mrYield10Y:])))

	customOff := binary.LittleEndian.Uint64(rec[mrCustomOffset:])
	customLen := binary.LittleEndian.Uint32(rec[mrCustomLen:])
	customBytes, err := ms.readHeapLocked(customOff, customLen)
	if err != nil {
		return nil, err
	}
	meta.Custom = decodeCustom(customBytes)

	return meta, nil
}

// Update overwrites the metadata for id in place. Structured fields are
// rewritten directly; string fields are appended fresh to the heap, and the
// old heap bytes become garbage until the next Compact.
func (ms *MetadataStore) Update(id uint64, meta *Metadata) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if id >= uint64(ms.count()) {
		return errs.NotFoundf("metadata id %d not found", id)
	}
	off := ms.recordOffset(id)
	if binary.LittleEndian.Uint32(ms.mm.Data()[off:]) != 0 {
		return errs.NotFoundf("metadata id %d has been deleted", id)
	}
	return ms.writeRecordLocked(id, meta)
}

// MarkDeleted tombstones id without reclaiming its record or heap space.
func (ms *MetadataStore) MarkDeleted(id uint64) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if id >= uint64(ms.count()) {
		return errs.NotFoundf("metadata id %d not found", id)
	}
	off := ms.recordOffset(id)
	data := ms.mm.Data()
	if binary.LittleEndian.Uint32(data[off:]) != 0 {
		return errs.NotFoundf("metadata id %d already deleted", id)
	}
	binary.LittleEndian.PutUint32(data[off:], 1)
	return nil
}

// Sync flushes the record mapping to disk and fsyncs the heap file.
func (ms *MetadataStore) Sync() error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if err := ms.mm.Sync(); err != nil {
		return errs.Wrap(errs.IoError, "sync metadata record file", err)
	}
	if err := ms.heap.Sync(); err != nil {
		return errs.Wrap(errs.IoError, "sync metadata heap file", err)
	}
	return nil
}

// Compact drops tombstoned records and rebuilds the heap from scratch so it
// only contains strings referenced by surviving records. It returns the
// old-id -> new-id translation table.
func (ms *MetadataStore) Compact() (map[uint64]uint64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	count := ms.count()
	newHeapPath := ms.heapPath + ".compact"
	newHeap, err := os.OpenFile(newHeapPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "create compaction heap file", err)
	}

	translation := make(map[uint64]uint64)
	var writeRow uint32
	var newHeapSize int64
	data := ms.mm.Data()

	for readRow := uint32(0); readRow < count; readRow++ {
		readOff := ms.recordOffset(uint64(readRow))
		rec := data[readOff : readOff+metaRecordSize]
		if binary.LittleEndian.Uint32(rec[mrDeleted:]) != 0 {
			continue
		}

		relocated := make([]byte, metaRecordSize)
		copy(relocated, rec)

		for _, refs := range [][2]int{{mrSourceOffset, mrSourceLen}, {mrAssetOffset, mrAssetLen}, {mrBiasOffset, mrBiasLen}, {mrCustomOffset, mrCustomLen}} {
			offField, lenField := refs[0], refs[1]
			oldOff := binary.LittleEndian.Uint64(rec[offField:])
			oldLen := binary.LittleEndian.Uint32(rec[lenField:])
			var b []byte
			if oldLen > 0 {
				b = make([]byte, oldLen)
				if _, err := ms.heap.ReadAt(b, int64(oldOff)); err != nil {
					newHeap.Close()
					os.Remove(newHeapPath)
					return nil, errs.Wrap(errs.IoError, "read heap during compaction", err)
				}
				if _, err := newHeap.WriteAt(b, newHeapSize); err != nil {
					newHeap.Close()
					os.Remove(newHeapPath)
					return nil, errs.Wrap(errs.IoError, "write heap during compaction", err)
				}
			}
			binary.LittleEndian.PutUint64(relocated[offField:], uint64(newHeapSize))
			binary.LittleEndian.PutUint32(relocated[lenField:], oldLen)
			newHeapSize += int64(oldLen)
		}

		writeOff := ms.recordOffset(uint64(writeRow))
		copy(data[writeOff:writeOff+metaRecordSize], relocated)
		translation[uint64(readRow)] = uint64(writeRow)
		writeRow++
	}

	if err := newHeap.Close(); err != nil {
		return nil, errs.Wrap(errs.IoError, "close compaction heap file", err)
	}
	if err := ms.heap.Close(); err != nil {
		return nil, errs.Wrap(errs.IoError, "close old heap file", err)
	}
	if err := os.Rename(newHeapPath, ms.heapPath); err != nil {
		return nil, errs.Wrap(errs.IoError, "replace heap file after compaction", err)
	}
	reopened, err := os.OpenFile(ms.heapPath, os.O_RDWR, 0644)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "reopen heap file after compaction", err)
	}
	ms.heap = reopened
	ms.heapSize = newHeapSize

	ms.setCount(writeRow)
	return translation, nil
}

// Size returns the number of live (non-tombstoned) metadata records.
func (ms *MetadataStore) Size() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	count := ms.count()
	data := ms.mm.Data()
	live := 0
	for row := uint32(0); row < count; row++ {
		off := ms.recordOffset(uint64(row))
		if binary.LittleEndian.Uint32(data[off:]) == 0 {
			live++
		}
	}
	return live
}

// TotalRows returns the number of ids ever assigned, including tombstoned
// ones, so callers can iterate the full id space on reopen.
func (ms *MetadataStore) TotalRows() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return int(ms.count())
}

// Close closes both the record mapping and the heap file.
func (ms *MetadataStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.mm.Close(); err != nil {
		return errs.Wrap(errs.IoError, "close metadata record file", err)
	}
	if err := ms.heap.Close(); err != nil {
		return errs.Wrap(errs.IoError, "close metadata heap file", err)
	}
	return nil
}

func trimZero(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
