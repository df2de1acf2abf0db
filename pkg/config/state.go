package config

import (
	"bytes"
	"fmt"
	"io"
	"net/netip"
	"os"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/rpl"
	"gopkg.in/yaml.v3"
)

// stateFile is the YAML layout of an RPL state snapshot:
//
//	instances:
//	  - id: 1
//	    mop: 2
//	    min_hop_rank_inc: 256
//	    dodag:
//	      id: 2001:db8::1
//	      version: 240
//	      my_rank: 512
//	      status: normal
//	      parents:
//	        - {addr: "fe80::1", rank: 256}
type stateFile struct {
	Instances []instanceEntry `yaml:"instances"`
}

type instanceEntry struct {
	ID            uint8      `yaml:"id"`
	Active        *bool      `yaml:"active"`
	MOP           uint8      `yaml:"mop"`
	MinHopRankInc uint16     `yaml:"min_hop_rank_inc"`
	DODAG         dodagEntry `yaml:"dodag"`
}

type dodagEntry struct {
	ID      string        `yaml:"id"`
	Version uint8         `yaml:"version"`
	MyRank  uint16        `yaml:"my_rank"`
	DTSN    uint8         `yaml:"dtsn"`
	Status  string        `yaml:"status"` // normal, leaf, root
	Parents []parentEntry `yaml:"parents"`
}

type parentEntry struct {
	Addr string `yaml:"addr"`
	Rank uint16 `yaml:"rank"`
	DTSN uint8  `yaml:"dtsn"`
}

var nodeStatuses = map[string]rpl.NodeStatus{
	"":       rpl.NodeNormal,
	"normal": rpl.NodeNormal,
	"leaf":   rpl.LeafNode,
	"root":   rpl.RootNode,
}

// LoadState reads an RPL state snapshot from a YAML file.
func LoadState(path string) ([]rpl.Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return ParseState(bytes.NewReader(data))
}

// ParseState decodes an RPL state snapshot. Instances are active unless
// marked `active: false`.
func ParseState(r io.Reader) ([]rpl.Instance, error) {
	var file stateFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode state: %w", err)
	}

	out := make([]rpl.Instance, 0, len(file.Instances))
	for i, e := range file.Instances {
		inst, err := e.instance()
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		out = append(out, inst)
	}
	return out, nil
}

func (e instanceEntry) instance() (rpl.Instance, error) {
	inst := rpl.Instance{
		ID:            e.ID,
		State:         1,
		MOP:           e.MOP,
		MinHopRankInc: e.MinHopRankInc,
	}
	if e.Active != nil && !*e.Active {
		inst.State = 0
	}
	if inst.MinHopRankInc == 0 {
		inst.MinHopRankInc = rpl.DefaultMinHopRankIncrease
	}

	status, ok := nodeStatuses[e.DODAG.Status]
	if !ok {
		return inst, fmt.Errorf("unknown node status %q", e.DODAG.Status)
	}

	inst.DODAG = rpl.DODAG{
		Version:    e.DODAG.Version,
		MyRank:     e.DODAG.MyRank,
		DTSN:       e.DODAG.DTSN,
		NodeStatus: status,
	}
	if e.DODAG.ID != "" {
		id, err := netip.ParseAddr(e.DODAG.ID)
		if err != nil {
			return inst, fmt.Errorf("dodag id: %w", err)
		}
		inst.DODAG.ID = id
	}

	for _, p := range e.DODAG.Parents {
		addr, err := netip.ParseAddr(p.Addr)
		if err != nil {
			return inst, fmt.Errorf("parent address: %w", err)
		}
		inst.DODAG.Parents = append(inst.DODAG.Parents, rpl.Parent{Addr: addr, Rank: p.Rank, DTSN: p.DTSN})
	}
	return inst, nil
}
