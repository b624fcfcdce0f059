package state

import (
	"context"
	"errors"
)

// ErrDuplicateRun is returned by Create when the run id is already taken.
// The existing record is left unchanged.
var ErrDuplicateRun = errors.New("run already exists")

// Patch is a partial update. Nil fields are left untouched; set fields fully
// replace the stored value.
type Patch struct {
	Status       *StatusRecord
	ResultObject *string
}

// Store is the run registry. Get and Update report an unknown id as
// (zero, false, nil): callers treat "not found" as routine, not an error.
type Store interface {
	Create(ctx context.Context, record RunRecord) (RunRecord, error)
	Get(ctx context.Context, runID string) (RunRecord, bool, error)
	List(ctx context.Context) ([]RunRecord, error)
	Update(ctx context.Context, runID string, patch Patch) (RunRecord, bool, error)
}

func (p Patch) apply(rec *RunRecord) {
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.ResultObject != nil {
		rec.ResultObject = *p.ResultObject
	}
}
