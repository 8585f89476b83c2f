// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package comm

import (
	"context"

	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/pkg/core/tensors"
	"github.com/pkg/errors"
)

// summaryBarrierLogName is the log name of the barriers around the summary.
const summaryBarrierLogName = "log_summary_barrier"

// LogSummary prints (on rank 0) the summary of the profiled operations, and then discards them.
//
// It is a collective: every rank of the world must call it, otherwise the ranks that call it deadlock in
// its barriers. If showStraggler is set, it also prints for each operation how much time the slowest rank
// took over the fastest one.
func (c *Comm) LogSummary(ctx context.Context, showStraggler bool) error {
	b, err := c.active()
	if err != nil {
		return err
	}
	if _, err := c.Barrier(ctx, LogName(summaryBarrierLogName)); err != nil {
		return err
	}
	printLog := b.GetRank(nil) == 0
	minReducer := func(ctx context.Context, values []float64) ([]float64, error) {
		reduced := make([]float64, len(values))
		copy(reduced, values)
		tensor := tensors.FromFlatDataAndDimensions(reduced, len(reduced))
		if _, err := b.AllReduce(ctx, tensor, backends.ReduceOpMin, backends.CallOptions{}); err != nil {
			return nil, err
		}
		return reduced, nil
	}
	if err := c.logger.LogAll(ctx, c.output, printLog, showStraggler, minReducer); err != nil {
		return errors.WithMessage(err, "failed to log summary")
	}
	if _, err := c.Barrier(ctx, LogName(summaryBarrierLogName)); err != nil {
		return err
	}
	c.logger.Reset()
	return nil
}
