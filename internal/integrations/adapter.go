package integrations

import (
	"context"
	"fmt"

	"nutsdispatch/internal/model"
)

// WorksFeed is a source of utility works exported by the permit system.
type WorksFeed interface {
	Name() string
	FetchWorks(ctx context.Context) (WorkBatch, error)
}

type WorkBatch struct {
	Works   []model.Work
	Skipped []RowError
}

// RowError describes an input row that was left out of the batch.
type RowError struct {
	Line   int
	Reason string
}

func (e RowError) Error() string { return fmt.Sprintf("line %d: %s", e.Line, e.Reason) }
