package hnsw

import (
	"github.com/veloxdb/veloxdb/internal/util"
)

// FilterFunc reports whether id should be considered for a result set.
type FilterFunc func(id uint64) bool

// searchLevel runs the standard HNSW greedy beam search at one graph level.
// Tombstoned nodes, and nodes rejected by filter, are still traversed
// (their edges keep the graph connected) but never contribute to the
// returned candidate set.
func (h *Index) searchLevel(query []float32, entryPoint *Node, ef int, level int, filter FilterFunc) []*util.Candidate {
	visited := make([]bool, len(h.nodes))
	candidates := util.NewMaxHeap(ef * 2)
	w := util.NewMinHeap(ef)

	entrySlot, ok := h.idToIndex[entryPoint.ID]
	if !ok || int(entrySlot) >= len(visited) {
		return []*util.Candidate{}
	}

	distance := h.computeDistanceOptimized(query, entryPoint)
	if distance < 0 {
		return []*util.Candidate{}
	}

	candidate := &util.Candidate{ID: entrySlot, Distance: distance}
	if !entryPoint.Tombstone && (filter == nil || filter(entryPoint.ID)) {
		candidates.PushCandidate(candidate)
	}
	w.PushCandidate(candidate)
	visited[entrySlot] = true

	for w.Len() > 0 {
		current := w.PopCandidate()

		if candidates.Len() >= ef && current.Distance > candidates.Top().Distance {
			break
		}

		currentNode := h.nodes[current.ID]
		if level >= len(currentNode.Links) {
			continue
		}

		for _, neighborID := range currentNode.Links[level] {
			if neighborID >= uint32(len(visited)) || visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			neighborNode := h.nodes[neighborID]
			neighborDistance := h.computeDistanceOptimized(query, neighborNode)
			if neighborDistance < 0 {
				continue
			}

			neighborCandidate := &util.Candidate{ID: neighborID, Distance: neighborDistance}

			passesFilter := !neighborNode.Tombstone && (filter == nil || filter(neighborNode.ID))
			if passesFilter && (candidates.Len() < ef || neighborDistance < candidates.Top().Distance) {
				candidates.PushCandidate(neighborCandidate)
				if candidates.Len() > ef {
					candidates.PopCandidate()
				}
			}
			// Always keep expanding the frontier through tombstoned or
			// filtered-out nodes too — they may be the only path to live,
			// matching nodes beyond them.
			w.PushCandidate(neighborCandidate)
		}
	}

	result := make([]*util.Candidate, 0, candidates.Len())
	for candidates.Len() > 0 {
		result = append([]*util.Candidate{candidates.PopCandidate()}, result...)
	}

	return result
}

// computeDistanceOptimized computes distance to a node, decompressing a
// quantized vector only when the quantizer can't score directly.
func (h *Index) computeDistanceOptimized(query []float32, node *Node) float32 {
	if node.CompressedVector != nil && h.quantizer != nil {
		distance, err := h.quantizer.DistanceToQuery(node.CompressedVector, query)
		if err != nil {
			vec, decompErr := h.quantizer.Decompress(node.CompressedVector)
			if decompErr != nil {
				return -1
			}
			return h.distance(query, vec)
		}
		return distance
	} else if node.Vector != nil {
		return h.distance(query, node.Vector)
	}
	return -1
}
