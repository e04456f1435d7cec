package store

import (
	"encoding/binary"
	"os"
	"sync"
	"unsafe"

	"github.com/veloxdb/veloxdb/internal/errs"
	"github.com/veloxdb/veloxdb/internal/memory"
)

const (
	vectorStoreMagic   uint32 = 0x56444256 // "VDBV"
	vectorStoreVersion uint32 = 1
	vectorHeaderSize          = 32
	defaultInitialRows        = 1024
)

// header field byte offsets within the mapped region.
const (
	offMagic      = 0
	offVersion    = 4
	offDimension  = 8
	offCount      = 12
	offCapacity   = 16
	offLiveCount  = 20
	rowDeletedLen = 4
)

// VectorStore is the append-only, mmap-backed row store for raw vectors.
// Row ids are dense slot indices assigned on Append, so the store itself
// owns id allocation for the collection.
type VectorStore struct {
	mu        sync.RWMutex
	mm        *memory.MemoryMap
	path      string
	dimension int
	rowSize   int64 // rowDeletedLen + dimension*4
}

// OpenVectorStore opens an existing vector store file or creates a new one
// sized for defaultInitialRows rows.
func OpenVectorStore(path string, dimension int) (*VectorStore, error) {
	if dimension <= 0 {
		return nil, errs.InvalidInputf("vector store dimension must be positive, got %d", dimension)
	}
	rowSize := int64(rowDeletedLen + dimension*4)

	if info, statErr := os.Stat(path); statErr == nil && info.Size() > 0 {
		existing, err := memory.NewMemoryMap(path, 0, false)
		if err != nil {
			return nil, errs.Wrap(errs.IoError, "open vector store file", err)
		}
		vs := &VectorStore{mm: existing, path: path, dimension: dimension, rowSize: rowSize}
		if err := vs.validateHeader(); err != nil {
			existing.Close()
			return nil, err
		}
		return vs, nil
	}

	size := vectorHeaderSize + rowSize*defaultInitialRows
	mm, err := memory.NewMemoryMap(path, size, false)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "create vector store file", err)
	}
	vs := &VectorStore{mm: mm, path: path, dimension: dimension, rowSize: rowSize}
	vs.writeHeader(vectorStoreMagic, vectorStoreVersion, uint32(dimension), 0, defaultInitialRows)
	vs.setLiveCount(0)
	return vs, nil
}

func (vs *VectorStore) validateHeader() error {
	data := vs.mm.Data()
	if int64(len(data)) < vectorHeaderSize {
		return errs.New(errs.IoError, "vector store file truncated below header size")
	}
	magic := binary.LittleEndian.Uint32(data[offMagic:])
	if magic != vectorStoreMagic {
		return errs.New(errs.ParseError, "vector store file has wrong magic number")
	}
	dim := binary.LittleEndian.Uint32(data[offDimension:])
	if int(dim) != vs.dimension {
		return errs.InvalidInputf("vector store dimension mismatch: file has %d, opened with %d", dim, vs.dimension)
	}
	return nil
}

func (vs *VectorStore) writeHeader(magic, version, dimension, count, capacity uint32) {
	data := vs.mm.Data()
	binary.LittleEndian.PutUint32(data[offMagic:], magic)
	binary.LittleEndian.PutUint32(data[offVersion:], version)
	binary.LittleEndian.PutUint32(data[offDimension:], dimension)
	binary.LittleEndian.PutUint32(data[offCount:], count)
	binary.LittleEndian.PutUint32(data[offCapacity:], capacity)
}

func (vs *VectorStore) count() uint32 {
	return binary.LittleEndian.Uint32(vs.mm.Data()[offCount:])
}

func (vs *VectorStore) capacity() uint32 {
	return binary.LittleEndian.Uint32(vs.mm.Data()[offCapacity:])
}

func (vs *VectorStore) setCount(c uint32) {
	binary.LittleEndian.PutUint32(vs.mm.Data()[offCount:], c)
}

func (vs *VectorStore) setCapacity(c uint32) {
	binary.LittleEndian.PutUint32(vs.mm.Data()[offCapacity:], c)
}

func (vs *VectorStore) liveCount() uint32 {
	return binary.LittleEndian.Uint32(vs.mm.Data()[offLiveCount:])
}

func (vs *VectorStore) setLiveCount(c uint32) {
	binary.LittleEndian.PutUint32(vs.mm.Data()[offLiveCount:], c)
}

func (vs *VectorStore) rowOffset(id uint64) int64 {
	return vectorHeaderSize + int64(id)*vs.rowSize
}

// Append stores vec and returns the id assigned to it.
func (vs *VectorStore) Append(vec []float32) (uint64, error) {
	if len(vec) != vs.dimension {
		return 0, errs.InvalidInputf("vector dimension %d does not match store dimension %d", len(vec), vs.dimension)
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	count := vs.count()
	cap := vs.capacity()
	if count >= cap {
		if err := vs.growLocked(cap); err != nil {
			return 0, err
		}
		cap = vs.capacity()
	}

	id := uint64(count)
	off := vs.rowOffset(id)
	data := vs.mm.Data()
	binary.LittleEndian.PutUint32(data[off:], 0) // not deleted
	copyFloat32sToBytes(data[off+rowDeletedLen:off+vs.rowSize], vec)
	vs.setCount(count + 1)
	vs.setLiveCount(vs.liveCount() + 1)
	return id, nil
}

func (vs *VectorStore) growLocked(currentCapacity uint32) error {
	newCapacity := currentCapacity * 2
	if newCapacity == 0 {
		newCapacity = defaultInitialRows
	}
	newSize := vectorHeaderSize + vs.rowSize*int64(newCapacity)
	if err := vs.mm.Resize(newSize); err != nil {
		return errs.Wrap(errs.IoError, "grow vector store", err)
	}
	vs.setCapacity(newCapacity)
	return nil
}

// Get returns a zero-copy view of the vector at id. The returned slice
// aliases the memory-mapped region and must not be retained past the next
// mutating call (Append/Compact may remap or relocate the underlying data).
func (vs *VectorStore) Get(id uint64) ([]float32, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	if id >= uint64(vs.count()) {
		return nil, errs.NotFoundf("vector id %d not found", id)
	}
	off := vs.rowOffset(id)
	data := vs.mm.Data()
	if binary.LittleEndian.Uint32(data[off:]) != 0 {
		return nil, errs.NotFoundf("vector id %d has been deleted", id)
	}
	return bytesToFloat32View(data[off+rowDeletedLen : off+vs.rowSize]), nil
}

// MarkDeleted tombstones id without reclaiming its space.
func (vs *VectorStore) MarkDeleted(id uint64) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if id >= uint64(vs.count()) {
		return errs.NotFoundf("vector id %d not found", id)
	}
	off := vs.rowOffset(id)
	data := vs.mm.Data()
	if binary.LittleEndian.Uint32(data[off:]) != 0 {
		return errs.NotFoundf("vector id %d already deleted", id)
	}
	binary.LittleEndian.PutUint32(data[off:], 1)
	vs.setLiveCount(vs.liveCount() - 1)
	return nil
}

// Sync flushes pending writes to disk.
func (vs *VectorStore) Sync() error {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	if err := vs.mm.Sync(); err != nil {
		return errs.Wrap(errs.IoError, "sync vector store", err)
	}
	return nil
}

// Compact drops tombstoned rows and returns the old-id -> new-id
// translation table so dependent structures (indexes, metadata store) can
// remap their own id references.
func (vs *VectorStore) Compact() (map[uint64]uint64, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	count := vs.count()
	data := vs.mm.Data()
	translation := make(map[uint64]uint64)

	var writeRow uint32
	for readRow := uint32(0); readRow < count; readRow++ {
		readOff := vs.rowOffset(uint64(readRow))
		if binary.LittleEndian.Uint32(data[readOff:]) != 0 {
			continue // tombstoned, drop
		}
		if writeRow != readRow {
			writeOff := vs.rowOffset(uint64(writeRow))
			copy(data[writeOff:writeOff+vs.rowSize], data[readOff:readOff+vs.rowSize])
		}
		translation[uint64(readRow)] = uint64(writeRow)
		writeRow++
	}
	vs.setCount(writeRow)
	vs.setLiveCount(writeRow)
	return translation, nil
}

// Size returns the number of live (non-tombstoned) vectors.
func (vs *VectorStore) Size() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return int(vs.liveCount())
}

// TotalRows returns the number of ids ever assigned, including tombstoned
// ones, so callers can iterate the full id space on reopen to rebuild
// in-memory structures that Compact hasn't yet reclaimed.
func (vs *VectorStore) TotalRows() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return int(vs.count())
}

// Dimension returns the configured vector width.
func (vs *VectorStore) Dimension() int { return vs.dimension }

// Close unmaps and closes the backing file.
func (vs *VectorStore) Close() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if err := vs.mm.Close(); err != nil {
		return errs.Wrap(errs.IoError, "close vector store", err)
	}
	return nil
}

func copyFloat32sToBytes(dst []byte, src []float32) {
	view := bytesToFloat32View(dst)
	copy(view, src)
}

// bytesToFloat32View reinterprets a byte slice as a float32 slice without
// copying. b's length must be a multiple of 4 and the slice must come from
// an mmap region (so its backing array stays alive as long as the mapping).
func bytesToFloat32View(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}
