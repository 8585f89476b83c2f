// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package comm

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/gomcrdl/gomcrdl/backends"
	"k8s.io/klog/v2"
)

// opDescriptor describes an operation to the instrumentation.
type opDescriptor struct {
	// name is the raw name of the operation, used to compute its bandwidth. E.g.: "all_reduce".
	name string

	// msgSize returns the number of bytes each rank contributes to the operation, the size the bandwidth
	// formulas expect: the input of gathers and all-to-alls, and the output chunk of reduce-scatters.
	// nil for operations without tensors.
	msgSize func() int64
}

// callerFrames is the number of frames from callerName up to the caller of a Comm operation.
const callerFrames = 4

// instrument runs fn, timing it and recording the sample if the operation is profiled.
//
// The sample is recorded even if fn fails or panics, and the result of fn is never changed.
func (c *Comm) instrument(ctx context.Context, b backends.Backend, op opDescriptor, call *callConfig, fn func() error) error {
	if !c.logger.ShouldProfile(call.logName, call.prof) {
		return fn()
	}
	recordName := call.logName
	if c.logger.Debug() {
		recordName = fmt.Sprintf("%s | [Caller Func: %s]", recordName, callerName(callerFrames))
	}
	var size int64
	if op.msgSize != nil {
		size = op.msgSize()
	}
	timer := c.timers.Get(recordName)
	timer.Start()
	defer func() {
		c.synchronize(ctx, b)
		elapsed := timer.Stop()
		c.logger.Append(op.name, recordName, elapsed, size)
	}()
	return fn()
}

// synchronize waits for the pending work of the device. On MPI backends it also runs a barrier, since
// the completion of an operation on this rank doesn't bound its completion on the others.
func (c *Comm) synchronize(ctx context.Context, b backends.Backend) {
	var err error
	if c.accelerator != nil {
		err = c.accelerator.Synchronize(ctx)
	} else {
		err = b.Synchronize(ctx)
	}
	if err != nil {
		klog.Errorf("comm: failed to synchronize profiled operation: %+v", err)
	}
	if b.UsingMPI() && b.IsInitialized() {
		if _, err := b.Barrier(ctx, backends.CallOptions{}); err != nil {
			klog.Errorf("comm: failed barrier of profiled operation: %+v", err)
		}
	}
}

// callerName returns the short name of the function skip frames above callerName.
func callerName(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	name := fn.Name()
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}
