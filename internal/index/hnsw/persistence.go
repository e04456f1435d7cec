package hnsw

import (
	"bufio"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/veloxdb/veloxdb/internal/errs"
	"github.com/veloxdb/veloxdb/internal/util"
)

const hnswMagicNumber = 0x484E5357 // "HNSW" in hex

func (h *Index) saveToDiskImpl(ctx context.Context, path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errs.Wrap(errs.IoError, "failed to create directory", err)
	}

	err := atomicWrite(path, func(file *os.File) error {
		writer := bufio.NewWriter(file)
		defer writer.Flush()

		if err := h.writeHeader(writer); err != nil {
			return err
		}
		if err := h.writeConfig(writer); err != nil {
			return err
		}
		if err := h.writeNodes(writer); err != nil {
			return err
		}
		if err := h.writeLinks(writer); err != nil {
			return err
		}
		return h.writeMetadata(writer)
	})
	if err != nil {
		return errs.Wrap(errs.IoError, "failed to persist hnsw index", err)
	}
	return nil
}

func (h *Index) loadFromDiskImpl(ctx context.Context, path string) error {
	if err := validateFileFormat(path); err != nil {
		return errs.Wrap(errs.ParseError, "invalid hnsw file format", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return errs.Wrap(errs.IoError, "failed to open hnsw file", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)

	if err := h.readHeader(reader); err != nil {
		return errs.Wrap(errs.ParseError, "failed to read header", err)
	}
	if err := h.readConfig(reader); err != nil {
		return errs.Wrap(errs.ParseError, "failed to read config", err)
	}
	if err := h.readNodes(reader); err != nil {
		return errs.Wrap(errs.ParseError, "failed to read nodes", err)
	}
	if err := h.readLinks(reader); err != nil {
		return errs.Wrap(errs.ParseError, "failed to read links", err)
	}
	if err := h.readMetadata(reader); err != nil {
		return errs.Wrap(errs.ParseError, "failed to read metadata", err)
	}

	h.rebuildIndexState()
	return nil
}

func (h *Index) writeHeader(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(hnswMagicNumber)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, FormatVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, time.Now().Unix()); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, h.calculateCRC32())
}

func (h *Index) writeConfig(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(h.config.M)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(h.config.EfConstruction)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(h.config.EfSearch)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(h.config.Dimension)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(h.config.Metric)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, h.config.RandomSeed)
}

func (h *Index) writeNodes(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(h.nodes))); err != nil {
		return err
	}

	for _, node := range h.nodes {
		if node == nil {
			if err := binary.Write(w, binary.LittleEndian, uint8(0)); err != nil {
				return err
			}
			continue
		}

		if err := binary.Write(w, binary.LittleEndian, uint8(1)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, node.ID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(node.Vector))); err != nil {
			return err
		}
		for _, val := range node.Vector {
			if err := binary.Write(w, binary.LittleEndian, val); err != nil {
				return err
			}
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(node.Level)); err != nil {
			return err
		}
		tombstone := uint8(0)
		if node.Tombstone {
			tombstone = 1
		}
		if err := binary.Write(w, binary.LittleEndian, tombstone); err != nil {
			return err
		}
	}

	return nil
}

func (h *Index) writeLinks(w io.Writer) error {
	count := 0
	for _, node := range h.nodes {
		if node != nil && len(node.Links) > 0 {
			count++
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(count)); err != nil {
		return err
	}

	for i, node := range h.nodes {
		if node == nil || len(node.Links) == 0 {
			continue
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(i)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(node.Links))); err != nil {
			return err
		}
		for level, connections := range node.Links {
			if err := binary.Write(w, binary.LittleEndian, uint32(level)); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, uint32(len(connections))); err != nil {
				return err
			}
			for _, connIndex := range connections {
				if err := binary.Write(w, binary.LittleEndian, connIndex); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (h *Index) writeMetadata(w io.Writer) error {
	if h.entryPoint != nil {
		if err := binary.Write(w, binary.LittleEndian, uint8(1)); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, h.entryPoint.ID)
	}
	return binary.Write(w, binary.LittleEndian, uint8(0))
}

func (h *Index) calculateCRC32() uint32 {
	crc := crc32.NewIEEE()
	binary.Write(crc, binary.LittleEndian, uint32(h.config.M))
	binary.Write(crc, binary.LittleEndian, uint32(h.config.EfConstruction))
	binary.Write(crc, binary.LittleEndian, uint32(h.config.Dimension))
	binary.Write(crc, binary.LittleEndian, uint32(len(h.nodes)))
	return crc.Sum32()
}

func atomicWrite(finalPath string, writeFunc func(*os.File) error) error {
	tempPath := finalPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	writeErr := writeFunc(file)
	if syncErr := file.Sync(); syncErr != nil && writeErr == nil {
		writeErr = syncErr
	}
	if closeErr := file.Close(); closeErr != nil && writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempPath)
		return writeErr
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}

func validateFileFormat(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var magic uint32
	if err := binary.Read(file, binary.LittleEndian, &magic); err != nil {
		return err
	}
	if magic != hnswMagicNumber {
		return errs.ParseErrorf("invalid magic number: expected %x, got %x", hnswMagicNumber, magic)
	}

	var version uint32
	if err := binary.Read(file, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version != FormatVersion {
		return errs.ParseErrorf("unsupported format version: expected %d, got %d", FormatVersion, version)
	}

	return nil
}

func (h *Index) readHeader(r io.Reader) error {
	var magic, version uint32
	var timestamp int64
	var crc uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &timestamp); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &crc)
}

func (h *Index) readConfig(r io.Reader) error {
	var m, efConstruction, efSearch, dimension, metric uint32
	var seed int64
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &efConstruction); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &efSearch); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &dimension); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &metric); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &seed); err != nil {
		return err
	}

	h.config.M = int(m)
	h.config.EfConstruction = int(efConstruction)
	h.config.EfSearch = int(efSearch)
	h.config.Dimension = int(dimension)
	h.config.Metric = util.DistanceMetric(metric)
	h.config.RandomSeed = seed
	return nil
}

func (h *Index) readNodes(r io.Reader) error {
	var nodeCount uint32
	if err := binary.Read(r, binary.LittleEndian, &nodeCount); err != nil {
		return err
	}

	h.nodes = make([]*Node, nodeCount)
	for i := uint32(0); i < nodeCount; i++ {
		var marker uint8
		if err := binary.Read(r, binary.LittleEndian, &marker); err != nil {
			return err
		}
		if marker == 0 {
			continue
		}

		var id uint64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return err
		}

		var vectorLen uint32
		if err := binary.Read(r, binary.LittleEndian, &vectorLen); err != nil {
			return err
		}
		vector := make([]float32, vectorLen)
		for j := range vector {
			if err := binary.Read(r, binary.LittleEndian, &vector[j]); err != nil {
				return err
			}
		}

		var level uint32
		if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
			return err
		}

		var tombstone uint8
		if err := binary.Read(r, binary.LittleEndian, &tombstone); err != nil {
			return err
		}

		h.nodes[i] = &Node{
			ID:        id,
			Vector:    vector,
			Level:     int(level),
			Tombstone: tombstone == 1,
		}
	}

	return nil
}

func (h *Index) readLinks(r io.Reader) error {
	var nodeCount uint32
	if err := binary.Read(r, binary.LittleEndian, &nodeCount); err != nil {
		return err
	}

	for i := uint32(0); i < nodeCount; i++ {
		var slot uint32
		if err := binary.Read(r, binary.LittleEndian, &slot); err != nil {
			return err
		}
		if int(slot) >= len(h.nodes) || h.nodes[slot] == nil {
			return errs.ParseErrorf("invalid node slot: %d", slot)
		}
		node := h.nodes[slot]

		var levelCount uint32
		if err := binary.Read(r, binary.LittleEndian, &levelCount); err != nil {
			return err
		}
		node.Links = make([][]uint32, levelCount)

		for j := uint32(0); j < levelCount; j++ {
			var level, connCount uint32
			if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
				return err
			}
			if err := binary.Read(r, binary.LittleEndian, &connCount); err != nil {
				return err
			}
			connections := make([]uint32, connCount)
			for k := range connections {
				if err := binary.Read(r, binary.LittleEndian, &connections[k]); err != nil {
					return err
				}
			}
			if int(level) < len(node.Links) {
				node.Links[level] = connections
			}
		}
	}

	return nil
}

func (h *Index) readMetadata(r io.Reader) error {
	var has uint8
	if err := binary.Read(r, binary.LittleEndian, &has); err != nil {
		return err
	}
	if has != 1 {
		return nil
	}

	var entryID uint64
	if err := binary.Read(r, binary.LittleEndian, &entryID); err != nil {
		return err
	}
	for _, node := range h.nodes {
		if node != nil && node.ID == entryID {
			h.entryPoint = node
			break
		}
	}
	return nil
}

// rebuildIndexState recomputes size, maxLevel, idToIndex, and entry-point
// candidates after a load, since none of those are persisted directly.
func (h *Index) rebuildIndexState() {
	h.size = 0
	h.tombstones = 0
	h.maxLevel = 0
	h.idToIndex = make(map[uint64]uint32)
	h.entryPointCandidates = h.entryPointCandidates[:0]
	if h.entryPoint == nil {
		h.entryPoint = nil
	}

	for i, node := range h.nodes {
		if node == nil {
			continue
		}
		h.idToIndex[node.ID] = uint32(i)
		if node.Tombstone {
			h.tombstones++
			continue
		}
		h.size++
		if node.Level > h.maxLevel {
			h.maxLevel = node.Level
		}
		if node.Level >= 2 {
			h.entryPointCandidates = append(h.entryPointCandidates, uint32(i))
		}
		if h.entryPoint == nil || node.Level > h.entryPoint.Level {
			h.entryPoint = node
		}
	}
}
