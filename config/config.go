// Package config loads the two JSON documents that describe a process's
// static view of the system (§6): the peers list and the hub descriptor.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/unicitynetwork/uce/node"
)

// entry mirrors the on-disk shape of one peers-file element or the hub
// descriptor: {owner, name, host, port, id, rank}.
type entry struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
	Host  string `json:"host"`
	Port  int    `json:"port"`
	ID    uint32 `json:"id"`
	Rank  int    `json:"rank"`
}

func (e entry) toNode() node.Node {
	return node.Node{Owner: e.Owner, Name: e.Name, Host: e.Host, Port: e.Port, ID: e.ID, Rank: e.Rank}
}

// LoadPeers reads and validates a peers file: a JSON array of entries, no
// duplicate ids or ranks.
func LoadPeers(path string) ([]node.Node, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read peers file %s: %w", path, err)
	}
	var entries []entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse peers file %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("peers file %s: empty peer set", path)
	}

	ids := make(map[uint32]bool, len(entries))
	ranks := make(map[int]bool, len(entries))
	peers := make([]node.Node, 0, len(entries))
	for _, e := range entries {
		if ids[e.ID] {
			return nil, fmt.Errorf("peers file %s: duplicate id %d", path, e.ID)
		}
		if ranks[e.Rank] {
			return nil, fmt.Errorf("peers file %s: duplicate rank %d", path, e.Rank)
		}
		ids[e.ID] = true
		ranks[e.Rank] = true
		peers = append(peers, e.toNode())
	}
	return peers, nil
}

// LoadHub reads a hub descriptor: a single JSON object of the same shape.
func LoadHub(path string) (node.Node, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return node.Node{}, fmt.Errorf("read hub file %s: %w", path, err)
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return node.Node{}, fmt.Errorf("parse hub file %s: %w", path, err)
	}
	return e.toNode(), nil
}

// ResolveSelf picks the peer identified by id out of peers, the CLI's
// --id flag resolved against the loaded --config peers file (§6).
func ResolveSelf(peers []node.Node, id uint32) (node.Node, error) {
	for _, p := range peers {
		if p.ID == id {
			return p, nil
		}
	}
	return node.Node{}, fmt.Errorf("id %d not found in peers file", id)
}

// BuildInfo assembles the node.Info passed to every process-wide and
// per-system module, given the loaded peers/hub and the resolved self id.
func BuildInfo(peers []node.Node, hub node.Node, selfID uint32) (node.Info, error) {
	self, err := ResolveSelf(peers, selfID)
	if err != nil {
		return node.Info{}, err
	}
	return node.Info{Self: self, Hub: hub, Peers: peers}, nil
}
