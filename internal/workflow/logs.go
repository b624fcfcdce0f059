package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// LogSource is the slice of the engine client the aggregator needs.
type LogSource interface {
	Get(ctx context.Context, name string) (*Document, error)
	Logs(ctx context.Context, name string, opts LogOptions) (string, error)
}

// AggregateLogs reconstructs ordered per-step log text for a workflow. Pod
// nodes are rendered as labeled sections in start-time order; a workflow
// without pod nodes falls back to the engine's aggregate log stream. One
// failing pod never prevents the other pods' logs from being returned.
func AggregateLogs(ctx context.Context, src LogSource, name string, tailLines int) (string, error) {
	doc, err := src.Get(ctx, name)
	if err != nil {
		return "", fmt.Errorf("fetch workflow %s: %w", name, err)
	}
	if doc == nil {
		return "", fmt.Errorf("workflow %s: %w", name, ErrWorkflowNotFound)
	}

	nodes := podNodes(doc)
	if len(nodes) == 0 {
		return src.Logs(ctx, name, LogOptions{Container: "main", TailLines: tailLines})
	}

	sections := make([]string, 0, len(nodes)+1)
	for _, node := range nodes {
		body := podLogBody(ctx, src, name, node, tailLines)
		header := fmt.Sprintf("=== %s [%s] (phase: %s) ===", node.DisplayName, node.PodName, node.Phase)
		sections = append(sections, header+"\n"+body)
	}

	// Best effort: a trailing section with the engine's own aggregate view.
	if aggregated, err := src.Logs(ctx, name, LogOptions{Container: "main", TailLines: tailLines}); err == nil {
		if trimmed := strings.TrimSpace(aggregated); trimmed != "" {
			sections = append(sections, "=== Aggregated workflow logs ===\n"+trimmed)
		}
	}

	return strings.Join(sections, "\n\n"), nil
}

func podLogBody(ctx context.Context, src LogSource, name string, node Node, tailLines int) string {
	text, err := src.Logs(ctx, name, LogOptions{
		PodName:   node.PodName,
		Container: "main",
		TailLines: tailLines,
	})
	if err == nil && strings.TrimSpace(text) == "" {
		// The main container can be empty while the engine's sidecar still
		// holds output; try wait first, then main again.
		text, err = logsFirstNonEmpty(ctx, src, name, node.PodName, tailLines, "wait", "main")
	}
	if err != nil {
		var engineErr *EngineError
		if errors.As(err, &engineErr) {
			return fmt.Sprintf("Failed to fetch logs for pod %s (HTTP %d).", node.PodName, engineErr.StatusCode)
		}
		return fmt.Sprintf("Failed to fetch logs for pod %s: %v", node.PodName, err)
	}
	if trimmed := strings.TrimSpace(text); trimmed != "" {
		return trimmed
	}
	return "(no log output yet)"
}

// logsFirstNonEmpty tries the given container names in order and returns the
// first non-empty log text. If every attempt errors the last error is
// returned; attempts that merely come back empty count as success.
func logsFirstNonEmpty(ctx context.Context, src LogSource, name, podName string, tailLines int, containers ...string) (string, error) {
	var lastErr error
	succeeded := false
	for _, container := range containers {
		text, err := src.Logs(ctx, name, LogOptions{
			PodName:   podName,
			Container: container,
			TailLines: tailLines,
		})
		if err != nil {
			lastErr = err
			continue
		}
		succeeded = true
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	if succeeded {
		return "", nil
	}
	return "", lastErr
}

// podNodes extracts the nodes with an associated pod, ordered by start time
// ascending. Nodes with no recorded start time sort first; ties keep their
// input order. The engine's node map has no ordering of its own, so this is
// what reconstructs the logical execution order.
func podNodes(doc *Document) []Node {
	var nodes []Node
	for _, node := range doc.Status.Nodes {
		if node.PodName == "" {
			continue
		}
		if node.DisplayName == "" {
			node.DisplayName = node.Name
		}
		if node.DisplayName == "" {
			node.DisplayName = node.PodName
		}
		if node.Phase == "" {
			node.Phase = "Unknown"
		}
		nodes = append(nodes, node)
	}

	// Map iteration order is random; pin it before the stable sort.
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].PodName < nodes[j].PodName })
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].StartedAt < nodes[j].StartedAt })
	return nodes
}
