package workflow

import "github.com/ameen-91/exray/internal/state"

// NormalizeStatus maps an engine document onto the canonical status record.
// Missing fields stay absent; a missing phase is not turned into "Pending".
// A nil document yields the zero record.
func NormalizeStatus(doc *Document) state.StatusRecord {
	if doc == nil {
		return state.StatusRecord{}
	}
	return state.StatusRecord{
		Phase:      doc.Status.Phase,
		StartedAt:  doc.Status.StartedAt,
		FinishedAt: doc.Status.FinishedAt,
		Progress:   doc.Status.Progress,
		Message:    doc.Status.Message,
	}
}
