package cluster

import (
	"context"
	"math"
	"strconv"
	"strings"
)

type NodeDetail struct {
	Name                string  `json:"name"`
	Ready               bool    `json:"ready"`
	CPUCapacity         float64 `json:"cpu_capacity"`
	CPUAllocatable      float64 `json:"cpu_allocatable"`
	MemoryCapacityGB    float64 `json:"memory_capacity_gb"`
	MemoryAllocatableGB float64 `json:"memory_allocatable_gb"`
	KubeletVersion      string  `json:"kubelet_version,omitempty"`
}

type Info struct {
	Nodes               int          `json:"nodes"`
	TotalCPU            float64      `json:"total_cpu"`
	TotalMemoryGB       float64      `json:"total_memory_gb"`
	AllocatableCPU      float64      `json:"allocatable_cpu"`
	AllocatableMemoryGB float64      `json:"allocatable_memory_gb"`
	NodeDetails         []NodeDetail `json:"node_details"`
}

// Info aggregates per-node capacity into a cluster summary. A nil client or
// any API failure yields (nil, err); callers render that as absent.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	if c == nil {
		return nil, nil
	}

	list, err := c.listNodes(ctx)
	if err != nil {
		return nil, err
	}

	info := &Info{Nodes: len(list.Items)}
	for _, n := range list.Items {
		cpuCap := parseCPU(n.Status.Capacity["cpu"])
		cpuAlloc := parseCPU(n.Status.Allocatable["cpu"])
		memCap := parseMemoryGiB(n.Status.Capacity["memory"])
		memAlloc := parseMemoryGiB(n.Status.Allocatable["memory"])

		info.TotalCPU += cpuCap
		info.AllocatableCPU += cpuAlloc
		info.TotalMemoryGB += memCap
		info.AllocatableMemoryGB += memAlloc

		ready := false
		for _, cond := range n.Status.Conditions {
			if cond.Type == "Ready" {
				ready = cond.Status == "True"
				break
			}
		}

		name := n.Metadata.Name
		if name == "" {
			name = "unknown"
		}
		info.NodeDetails = append(info.NodeDetails, NodeDetail{
			Name:                name,
			Ready:               ready,
			CPUCapacity:         round2(cpuCap),
			CPUAllocatable:      round2(cpuAlloc),
			MemoryCapacityGB:    round2(memCap),
			MemoryAllocatableGB: round2(memAlloc),
			KubeletVersion:      n.Status.NodeInfo.KubeletVersion,
		})
	}

	info.TotalCPU = round1(info.TotalCPU)
	info.AllocatableCPU = round1(info.AllocatableCPU)
	info.TotalMemoryGB = round1(info.TotalMemoryGB)
	info.AllocatableMemoryGB = round1(info.AllocatableMemoryGB)
	return info, nil
}

// parseCPU converts a Kubernetes cpu quantity to cores. Millicore values
// carry an "m" suffix; anything unparseable counts as zero.
func parseCPU(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if strings.HasSuffix(value, "m") {
		milli, err := strconv.ParseFloat(strings.TrimSuffix(value, "m"), 64)
		if err != nil {
			return 0
		}
		return milli / 1000
	}
	cores, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return cores
}

// parseMemoryGiB converts a Kubernetes memory quantity (Ki/Mi/Gi) to GiB.
func parseMemoryGiB(value string) float64 {
	value = strings.TrimSpace(value)
	switch {
	case strings.HasSuffix(value, "Ki"):
		if v, err := strconv.ParseFloat(strings.TrimSuffix(value, "Ki"), 64); err == nil {
			return v / (1024 * 1024)
		}
	case strings.HasSuffix(value, "Mi"):
		if v, err := strconv.ParseFloat(strings.TrimSuffix(value, "Mi"), 64); err == nil {
			return v / 1024
		}
	case strings.HasSuffix(value, "Gi"):
		if v, err := strconv.ParseFloat(strings.TrimSuffix(value, "Gi"), 64); err == nil {
			return v
		}
	}
	return 0
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
