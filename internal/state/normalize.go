package state

// diskRun is the decode shape for stored records. It carries the legacy
// field names written by earlier schema versions; upgradeRecord folds them
// into the current schema and they are never written back.
type diskRun struct {
	RunRecord
	LegacyRunID      string       `json:"runID,omitempty"`
	LegacyKind       WorkflowKind `json:"workflow,omitempty"`
	LegacyEngineName string       `json:"argo_name,omitempty"`
}

// upgradeRecord normalizes a stored record to the current schema. It returns
// the upgraded record and whether anything changed; callers persist when
// dirty so repeated reads converge without a migration step.
func upgradeRecord(key string, d diskRun) (RunRecord, bool) {
	rec := d.RunRecord
	dirty := false

	if rec.RunID == "" {
		if d.LegacyRunID != "" {
			rec.RunID = d.LegacyRunID
		} else {
			rec.RunID = key
		}
		dirty = true
	}
	if d.LegacyRunID != "" {
		// Rewriting drops the legacy field.
		dirty = true
	}
	if rec.WorkflowKind == "" && d.LegacyKind != "" {
		rec.WorkflowKind = d.LegacyKind
		dirty = true
	}
	if rec.EngineName == "" && d.LegacyEngineName != "" {
		rec.EngineName = d.LegacyEngineName
		dirty = true
	}
	if backfillResultObject(&rec) {
		dirty = true
	}
	return rec, dirty
}

// backfillResultObject synthesizes the result key for workflow kinds whose
// templates write their output under "output/" + the input's base name.
// This is a naming convention of the ctgan and llm templates, not something
// validated against them; kinds without that guarantee are left alone.
func backfillResultObject(rec *RunRecord) bool {
	if rec.ResultObject != "" || rec.InputFileName == "" {
		return false
	}
	switch rec.WorkflowKind {
	case KindCTGAN, KindLLM:
		rec.ResultObject = "output/" + rec.InputFileName
		return true
	}
	return false
}
