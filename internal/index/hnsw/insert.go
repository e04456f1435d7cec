package hnsw

import (
	"context"

	"github.com/veloxdb/veloxdb/internal/errs"
	"github.com/veloxdb/veloxdb/internal/util"
)

// insertNode runs the two-phase HNSW insertion: greedy descent to the new
// node's top level, then efConstruction search + neighbor selection at each
// level from there down to 0.
func (h *Index) insertNode(ctx context.Context, node *Node, nodeID uint32) error {
	if h.size == 1 {
		entrySlot, ok := h.idToIndex[h.entryPoint.ID]
		if ok {
			node.Links[0] = append(node.Links[0], entrySlot)
			h.entryPoint.Links[0] = append(h.entryPoint.Links[0], nodeID)
		}
		return nil
	}

	if h.neighborSelector == nil {
		h.neighborSelector = NewNeighborSelector(h.config.M, 2.0)
	}

	searchVector, err := h.getNodeVector(node)
	if err != nil {
		return errs.Wrap(errs.Internal, "failed to get node vector for search", err)
	}

	entrySlot, _ := h.idToIndex[h.entryPoint.ID]
	entryPoints := []*util.Candidate{{ID: entrySlot, Distance: 0}}

	for level := h.maxLevel; level > node.Level; level-- {
		entryPoints = h.searchLevel(searchVector, h.nodes[entryPoints[0].ID], 1, level, nil)
		if len(entryPoints) == 0 {
			entryPoints = []*util.Candidate{{ID: entrySlot, Distance: 0}}
		}
	}

	for level := node.Level; level >= 0; level-- {
		candidates := h.searchLevel(searchVector, h.nodes[entryPoints[0].ID], h.config.EfConstruction, level, nil)
		selected := h.neighborSelector.SelectNeighbors(searchVector, candidates, level, h)

		h.connectBidirectional(nodeID, selected, level)
		h.pruneNeighborConnections(selected, level)

		entryPoints = selected
	}

	return nil
}

// connectBidirectional links nodeID to each selected neighbor in both
// directions at the given level.
func (h *Index) connectBidirectional(nodeID uint32, neighbors []*util.Candidate, level int) {
	node := h.nodes[nodeID]

	if cap(node.Links[level]) < len(neighbors) {
		newLinks := make([]uint32, len(node.Links[level]), len(neighbors)+h.config.M)
		copy(newLinks, node.Links[level])
		node.Links[level] = newLinks
	}

	for _, neighbor := range neighbors {
		node.Links[level] = append(node.Links[level], neighbor.ID)

		neighborNode := h.nodes[neighbor.ID]
		if level < len(neighborNode.Links) {
			if cap(neighborNode.Links[level]) < len(neighborNode.Links[level])+1 {
				newLinks := make([]uint32, len(neighborNode.Links[level]), len(neighborNode.Links[level])+h.config.M)
				copy(newLinks, neighborNode.Links[level])
				neighborNode.Links[level] = newLinks
			}
			neighborNode.Links[level] = append(neighborNode.Links[level], nodeID)
		}
	}
}

// pruneNeighborConnections re-applies the selection heuristic to each
// touched neighbor so none exceeds maxM connections at this level.
func (h *Index) pruneNeighborConnections(neighbors []*util.Candidate, level int) {
	if h.neighborSelector == nil {
		h.neighborSelector = NewNeighborSelector(h.config.M, 2.0)
	}
	for _, neighbor := range neighbors {
		h.neighborSelector.PruneConnections(neighbor.ID, level, h)
	}
}
