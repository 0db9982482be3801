// Package lineage reconstructs the ancestor tree of a batch from its
// recorded parentBatches/parentBags references.
package lineage

import (
	"context"
	"encoding/json"
	"errors"

	"herbledger/internal/ledger"
)

// Getter resolves a ledger key to its raw record, returning
// ledger.ErrNotFound for absent keys.
type Getter func(ctx context.Context, key string) ([]byte, error)

// Node is one entry of the provenance tree. Batch nodes carry parents;
// bag nodes are leaves; unresolvable references become error nodes.
type Node struct {
	BatchID   string `json:"batchID,omitempty"`
	BagID     string `json:"bagID,omitempty"`
	Type      string `json:"type,omitempty"`
	Status    string `json:"status,omitempty"`
	Owner     string `json:"owner,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
	Parents   []Node `json:"parents,omitempty"`
}

type batchRecord struct {
	ObjectType    string   `json:"objectType"`
	Status        string   `json:"status"`
	Owner         string   `json:"owner"`
	Timestamp     string   `json:"timestamp"`
	ParentBatches []string `json:"parentBatches"`
	ParentBags    []string `json:"parentBags"`
}

type bagRecord struct {
	Status string `json:"status"`
	Owner  string `json:"owner"`
}

// Build walks ancestry recursively. visited holds the IDs on the path from
// the root to this call; each recursive branch works on its own copy, so a
// cycle is detected only along a single ancestor path and a node reachable
// via two paths appears twice. Pass nil at the root.
func Build(ctx context.Context, get Getter, batchID string, visited map[string]bool) (Node, error) {
	if visited[batchID] {
		return Node{BatchID: batchID, Error: "circular reference detected"}, nil
	}

	raw, err := get(ctx, batchID)
	if errors.Is(err, ledger.ErrNotFound) {
		return Node{BatchID: batchID, Error: "batch not found"}, nil
	}
	if err != nil {
		return Node{}, err
	}

	var rec batchRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Node{}, err
	}

	node := Node{
		BatchID:   batchID,
		Type:      rec.ObjectType,
		Status:    rec.Status,
		Owner:     rec.Owner,
		Timestamp: rec.Timestamp,
	}

	branch := make(map[string]bool, len(visited)+1)
	for id := range visited {
		branch[id] = true
	}
	branch[batchID] = true

	for _, parentID := range rec.ParentBatches {
		parent, err := Build(ctx, get, parentID, branch)
		if err != nil {
			return Node{}, err
		}
		node.Parents = append(node.Parents, parent)
	}

	for _, bagID := range rec.ParentBags {
		raw, err := get(ctx, bagID)
		if errors.Is(err, ledger.ErrNotFound) {
			continue
		}
		if err != nil {
			return Node{}, err
		}
		var bag bagRecord
		if err := json.Unmarshal(raw, &bag); err != nil {
			return Node{}, err
		}
		node.Parents = append(node.Parents, Node{
			BagID:  bagID,
			Type:   "bag",
			Status: bag.Status,
			Owner:  bag.Owner,
		})
	}

	return node, nil
}
