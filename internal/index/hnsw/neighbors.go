package hnsw

import (
	"sort"

	"github.com/veloxdb/veloxdb/internal/util"
)

// NeighborSelector picks which candidates become graph edges for a node,
// trading off recall (more edges) against navigability (diverse edges).
type NeighborSelector struct {
	maxConnections  int
	levelMultiplier float64
}

func NewNeighborSelector(maxConnections int, levelMultiplier float64) *NeighborSelector {
	return &NeighborSelector{maxConnections: maxConnections, levelMultiplier: levelMultiplier}
}

func (ns *NeighborSelector) maxM(level int) int {
	m := ns.maxConnections
	if level == 0 {
		m = int(float64(m) * ns.levelMultiplier)
	}
	return m
}

// SelectNeighbors implements the diversity heuristic: sort candidates by
// distance to the query, then keep a candidate only if it is closer to the
// query than to every neighbor already selected. This is what prevents the
// graph from clustering into near-duplicate cliques at the cost of fewer
// long-range edges.
func (ns *NeighborSelector) SelectNeighbors(
	queryVector []float32,
	candidates []*util.Candidate,
	level int,
	index *Index,
) []*util.Candidate {
	maxM := ns.maxM(level)
	if len(candidates) <= maxM {
		return candidates
	}

	sorted := make([]*util.Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Distance < sorted[j].Distance
	})

	selected := make([]*util.Candidate, 0, maxM)
	discarded := make([]*util.Candidate, 0)

	for _, candidate := range sorted {
		if len(selected) >= maxM {
			break
		}

		candidateVector, err := index.getNodeVector(index.nodes[candidate.ID])
		if err != nil {
			continue
		}

		keep := true
		for _, sel := range selected {
			selVector, err := index.getNodeVector(index.nodes[sel.ID])
			if err != nil {
				continue
			}
			if index.distance(candidateVector, selVector) < candidate.Distance {
				keep = false
				break
			}
		}

		if keep {
			selected = append(selected, candidate)
		} else {
			discarded = append(discarded, candidate)
		}
	}

	// If the diversity check was too aggressive and left room, backfill by
	// distance so the node is never left under-connected.
	for i := 0; len(selected) < maxM && i < len(discarded); i++ {
		selected = append(selected, discarded[i])
	}

	return selected
}

// PruneConnections recomputes a node's neighbor set at level using the same
// diversity heuristic, used after new bidirectional edges may have pushed
// it past maxM.
func (ns *NeighborSelector) PruneConnections(nodeID uint32, level int, index *Index) error {
	node := index.nodes[nodeID]
	if level >= len(node.Links) {
		return nil
	}

	maxM := ns.maxM(level)
	if len(node.Links[level]) <= maxM {
		return nil
	}

	nodeVector, err := index.getNodeVector(node)
	if err != nil {
		return err
	}

	candidates := make([]*util.Candidate, 0, len(node.Links[level]))
	for _, linkID := range node.Links[level] {
		linkVector, err := index.getNodeVector(index.nodes[linkID])
		if err != nil {
			continue
		}
		candidates = append(candidates, &util.Candidate{
			ID:       linkID,
			Distance: index.distance(nodeVector, linkVector),
		})
	}

	selected := ns.SelectNeighbors(nodeVector, candidates, level, index)

	newLinks := make([]uint32, 0, len(selected))
	for _, sel := range selected {
		newLinks = append(newLinks, sel.ID)
	}
	node.Links[level] = newLinks

	return nil
}
