// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collective

import (
	"context"
	"hash/fnv"
	"math"
	"slices"
	"time"

	"github.com/gomcrdl/gomcrdl/backends"
	"github.com/gomcrdl/gomcrdl/backends/fabric"
	"github.com/gomcrdl/gomcrdl/pkg/core/tensors"
	"github.com/pkg/errors"
)

var _ backends.CollectiveOps = (*Engine)(nil)

// monitoredBarrierTag returns the point-to-point tag of the MonitoredBarrier with the given sequence key.
// Negative tags are reserved, and each call uses its own, so messages left over by a round that timed
// out never satisfy a later one.
func monitoredBarrierTag(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return -1 - int(h.Sum32()&math.MaxInt32)
}

// repeat returns n references to the same payload.
func repeat(payload []byte, n int) [][]byte {
	payloads := make([][]byte, n)
	for ii := range payloads {
		payloads[ii] = payload
	}
	return payloads
}

// checkSameKind returns an error if the tensors don't have the same dtype and number of elements.
func checkSameKind(name string, want *tensors.Tensor, others ...*tensors.Tensor) error {
	for ii, t := range others {
		if t == nil {
			return errors.Errorf("%s: tensor #%d is nil", name, ii)
		}
		if t.DType() != want.DType() || t.Size() != want.Size() {
			return errors.Errorf("%s: tensor #%d is %s%v, expected %s with %d elements",
				name, ii, t.DType(), t.Shape(), want.DType(), want.Size())
		}
	}
	return nil
}

// checkMember returns the group rank of a global rank, or an error if it is not a member.
func checkMember(name string, group *backends.ProcessGroup, rank int) (int, error) {
	groupRank := group.GroupRank(rank)
	if groupRank < 0 {
		return -1, errors.Wrapf(backends.ErrNotMember, "%s: rank %d, %s", name, rank, group)
	}
	return groupRank, nil
}

// Broadcast implements backends.CollectiveOps.
func (e *Engine) Broadcast(ctx context.Context, tensor *tensors.Tensor, src int, opts backends.CallOptions) (backends.Work, error) {
	group, err := e.group(opts)
	if err != nil {
		return nil, err
	}
	srcIdx, err := checkMember("Broadcast", group, src)
	if err != nil {
		return nil, err
	}
	return e.submit(ctx, group, opts.Async, func(ctx context.Context, key string) error {
		payloads := make([][]byte, group.Size())
		if e.rank == src {
			payloads = repeat(tensor.Bytes(), group.Size())
		}
		received, err := e.exchange(ctx, group, key, payloads)
		if err != nil || e.rank == src {
			return err
		}
		return tensor.SetBytes(received[srcIdx])
	})
}

// AllReduce implements backends.CollectiveOps.
func (e *Engine) AllReduce(ctx context.Context, tensor *tensors.Tensor, op backends.ReduceOp, opts backends.CallOptions) (backends.Work, error) {
	if err := CheckReduceOp(tensor.DType(), op); err != nil {
		return nil, err
	}
	group, err := e.group(opts)
	if err != nil {
		return nil, err
	}
	return e.submit(ctx, group, opts.Async, func(ctx context.Context, key string) error {
		received, err := e.exchange(ctx, group, key, repeat(tensor.Bytes(), group.Size()))
		if err != nil {
			return err
		}
		return reduceReceived(tensor, received, op)
	})
}

// AllReduceCoalesced implements backends.CollectiveOps: the tensors are all-reduced in one exchange.
func (e *Engine) AllReduceCoalesced(ctx context.Context, tensorList []*tensors.Tensor, op backends.ReduceOp,
	opts backends.CallOptions) (backends.Work, error) {
	for ii, tensor := range tensorList {
		if tensor == nil {
			return nil, errors.Errorf("AllReduceCoalesced: tensor #%d is nil", ii)
		}
		if err := CheckReduceOp(tensor.DType(), op); err != nil {
			return nil, err
		}
	}
	group, err := e.group(opts)
	if err != nil {
		return nil, err
	}
	return e.submit(ctx, group, opts.Async, func(ctx context.Context, key string) error {
		received, err := e.exchange(ctx, group, key, repeat(concatBytes(tensorList), group.Size()))
		if err != nil {
			return err
		}
		perTensor := make([][][]byte, len(tensorList))
		for _, data := range received {
			parts, err := splitBytes(data, tensorList)
			if err != nil {
				return err
			}
			for ii, part := range parts {
				perTensor[ii] = append(perTensor[ii], part)
			}
		}
		for ii, tensor := range tensorList {
			if err := reduceReceived(tensor, perTensor[ii], op); err != nil {
				return err
			}
		}
		return nil
	})
}

// concatBytes concatenates the encoding of the tensors.
func concatBytes(tensorList []*tensors.Tensor) []byte {
	var total int64
	for _, tensor := range tensorList {
		total += tensor.Memory()
	}
	buf := make([]byte, 0, total)
	for _, tensor := range tensorList {
		buf = append(buf, tensor.Bytes()...)
	}
	return buf
}

// splitBytes splits data into the encodings of tensors shaped like tensorList.
func splitBytes(data []byte, tensorList []*tensors.Tensor) ([][]byte, error) {
	parts := make([][]byte, len(tensorList))
	var offset int64
	for ii, tensor := range tensorList {
		end := offset + tensor.Memory()
		if end > int64(len(data)) {
			return nil, errors.Errorf("coalesced payload of %d bytes too short for tensor #%d", len(data), ii)
		}
		parts[ii] = data[offset:end]
		offset = end
	}
	if offset != int64(len(data)) {
		return nil, errors.Errorf("coalesced payload of %d bytes, expected %d", len(data), offset)
	}
	return parts, nil
}

// Reduce implements backends.CollectiveOps.
func (e *Engine) Reduce(ctx context.Context, tensor *tensors.Tensor, dst int, op backends.ReduceOp,
	opts backends.CallOptions) (backends.Work, error) {
	if err := CheckReduceOp(tensor.DType(), op); err != nil {
		return nil, err
	}
	group, err := e.group(opts)
	if err != nil {
		return nil, err
	}
	dstIdx, err := checkMember("Reduce", group, dst)
	if err != nil {
		return nil, err
	}
	return e.submit(ctx, group, opts.Async, func(ctx context.Context, key string) error {
		payloads := make([][]byte, group.Size())
		payloads[dstIdx] = tensor.Bytes()
		received, err := e.exchange(ctx, group, key, payloads)
		if err != nil || e.rank != dst {
			return err
		}
		return reduceReceived(tensor, received, op)
	})
}

// AllGather implements backends.CollectiveOps.
func (e *Engine) AllGather(ctx context.Context, outputs []*tensors.Tensor, input *tensors.Tensor,
	opts backends.CallOptions) (backends.Work, error) {
	group, err := e.group(opts)
	if err != nil {
		return nil, err
	}
	return e.allGather(ctx, group, outputs, input, opts)
}

func (e *Engine) allGather(ctx context.Context, group *backends.ProcessGroup, outputs []*tensors.Tensor,
	input *tensors.Tensor, opts backends.CallOptions) (backends.Work, error) {
	if len(outputs) != group.Size() {
		return nil, errors.Errorf("AllGather: %d outputs given for group of size %d", len(outputs), group.Size())
	}
	if err := checkSameKind("AllGather", input, outputs...); err != nil {
		return nil, err
	}
	return e.submit(ctx, group, opts.Async, func(ctx context.Context, key string) error {
		received, err := e.exchange(ctx, group, key, repeat(input.Bytes(), group.Size()))
		if err != nil {
			return err
		}
		for ii, output := range outputs {
			if err := output.SetBytes(received[ii]); err != nil {
				return err
			}
		}
		return nil
	})
}

// AllGatherIntoTensor implements backends.CollectiveOps.
func (e *Engine) AllGatherIntoTensor(ctx context.Context, output, input *tensors.Tensor, opts backends.CallOptions) (backends.Work, error) {
	group, err := e.group(opts)
	if err != nil {
		return nil, err
	}
	chunks, err := output.Chunk(group.Size())
	if err != nil {
		return nil, errors.WithMessage(err, "AllGatherIntoTensor")
	}
	return e.allGather(ctx, group, chunks, input, opts)
}

// AllGatherCoalesced implements backends.CollectiveOps.
func (e *Engine) AllGatherCoalesced(ctx context.Context, outputs [][]*tensors.Tensor, inputs []*tensors.Tensor,
	opts backends.CallOptions) (backends.Work, error) {
	group, err := e.group(opts)
	if err != nil {
		return nil, err
	}
	if len(outputs) != group.Size() {
		return nil, errors.Errorf("AllGatherCoalesced: %d output lists given for group of size %d",
			len(outputs), group.Size())
	}
	for _, outputList := range outputs {
		if len(outputList) != len(inputs) {
			return nil, errors.Errorf("AllGatherCoalesced: output list with %d tensors for %d inputs",
				len(outputList), len(inputs))
		}
		for ii, input := range inputs {
			if err := checkSameKind("AllGatherCoalesced", input, outputList[ii]); err != nil {
				return nil, err
			}
		}
	}
	return e.submit(ctx, group, opts.Async, func(ctx context.Context, key string) error {
		received, err := e.exchange(ctx, group, key, repeat(concatBytes(inputs), group.Size()))
		if err != nil {
			return err
		}
		for rankIdx, data := range received {
			parts, err := splitBytes(data, outputs[rankIdx])
			if err != nil {
				return err
			}
			for ii, part := range parts {
				if err := outputs[rankIdx][ii].SetBytes(part); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ReduceScatter implements backends.CollectiveOps.
func (e *Engine) ReduceScatter(ctx context.Context, output *tensors.Tensor, inputs []*tensors.Tensor,
	op backends.ReduceOp, opts backends.CallOptions) (backends.Work, error) {
	group, err := e.group(opts)
	if err != nil {
		return nil, err
	}
	return e.reduceScatter(ctx, group, output, inputs, op, opts)
}

func (e *Engine) reduceScatter(ctx context.Context, group *backends.ProcessGroup, output *tensors.Tensor,
	inputs []*tensors.Tensor, op backends.ReduceOp, opts backends.CallOptions) (backends.Work, error) {
	if err := CheckReduceOp(output.DType(), op); err != nil {
		return nil, err
	}
	if len(inputs) != group.Size() {
		return nil, errors.Errorf("ReduceScatter: %d inputs given for group of size %d", len(inputs), group.Size())
	}
	if err := checkSameKind("ReduceScatter", output, inputs...); err != nil {
		return nil, err
	}
	return e.submit(ctx, group, opts.Async, func(ctx context.Context, key string) error {
		payloads := make([][]byte, len(inputs))
		for ii, input := range inputs {
			payloads[ii] = input.Bytes()
		}
		received, err := e.exchange(ctx, group, key, payloads)
		if err != nil {
			return err
		}
		return reduceReceived(output, received, op)
	})
}

// ReduceScatterTensor implements backends.CollectiveOps.
func (e *Engine) ReduceScatterTensor(ctx context.Context, output, input *tensors.Tensor, op backends.ReduceOp,
	opts backends.CallOptions) (backends.Work, error) {
	group, err := e.group(opts)
	if err != nil {
		return nil, err
	}
	chunks, err := input.Chunk(group.Size())
	if err != nil {
		return nil, errors.WithMessage(err, "ReduceScatterTensor")
	}
	return e.reduceScatter(ctx, group, output, chunks, op, opts)
}

// AllToAll implements backends.CollectiveOps.
func (e *Engine) AllToAll(ctx context.Context, outputs, inputs []*tensors.Tensor, opts backends.CallOptions) (backends.Work, error) {
	group, err := e.group(opts)
	if err != nil {
		return nil, err
	}
	return e.allToAll(ctx, group, outputs, inputs, opts)
}

func (e *Engine) allToAll(ctx context.Context, group *backends.ProcessGroup, outputs, inputs []*tensors.Tensor,
	opts backends.CallOptions) (backends.Work, error) {
	if len(inputs) != group.Size() || len(outputs) != group.Size() {
		return nil, errors.Errorf("AllToAll: %d inputs and %d outputs given for group of size %d",
			len(inputs), len(outputs), group.Size())
	}
	for ii := range inputs {
		if inputs[ii] == nil || outputs[ii] == nil {
			return nil, errors.Errorf("AllToAll: nil tensor at position %d", ii)
		}
		if inputs[ii].DType() != outputs[ii].DType() {
			return nil, errors.Errorf("AllToAll: input #%d is %s but output #%d is %s",
				ii, inputs[ii].DType(), ii, outputs[ii].DType())
		}
	}
	return e.submit(ctx, group, opts.Async, func(ctx context.Context, key string) error {
		payloads := make([][]byte, len(inputs))
		for ii, input := range inputs {
			payloads[ii] = input.Bytes()
		}
		received, err := e.exchange(ctx, group, key, payloads)
		if err != nil {
			return err
		}
		for ii, output := range outputs {
			if err := output.SetBytes(received[ii]); err != nil {
				return errors.WithMessagef(err, "AllToAll: from group rank %d", ii)
			}
		}
		return nil
	})
}

// splitForGroup splits the tensor along axis 0 with the given sizes, or in equal chunks if sizes is empty.
func splitForGroup(tensor *tensors.Tensor, sizes []int, groupSize int) ([]*tensors.Tensor, error) {
	if len(sizes) == 0 {
		return tensor.Chunk(groupSize)
	}
	if len(sizes) != groupSize {
		return nil, errors.Errorf("%d split sizes given for group of size %d", len(sizes), groupSize)
	}
	return tensor.Split(sizes)
}

// AllToAllSingle implements backends.CollectiveOps.
func (e *Engine) AllToAllSingle(ctx context.Context, output, input *tensors.Tensor, outputSplitSizes, inputSplitSizes []int,
	opts backends.CallOptions) (backends.Work, error) {
	group, err := e.group(opts)
	if err != nil {
		return nil, err
	}
	inputs, err := splitForGroup(input, inputSplitSizes, group.Size())
	if err != nil {
		return nil, errors.WithMessage(err, "AllToAllSingle input")
	}
	outputs, err := splitForGroup(output, outputSplitSizes, group.Size())
	if err != nil {
		return nil, errors.WithMessage(err, "AllToAllSingle output")
	}
	return e.allToAll(ctx, group, outputs, inputs, opts)
}

// Gather implements backends.CollectiveOps.
func (e *Engine) Gather(ctx context.Context, tensor *tensors.Tensor, gatherList []*tensors.Tensor, dst int,
	opts backends.CallOptions) (backends.Work, error) {
	group, err := e.group(opts)
	if err != nil {
		return nil, err
	}
	dstIdx, err := checkMember("Gather", group, dst)
	if err != nil {
		return nil, err
	}
	if e.rank == dst {
		if len(gatherList) != group.Size() {
			return nil, errors.Errorf("Gather: %d tensors in gather list for group of size %d",
				len(gatherList), group.Size())
		}
		if err := checkSameKind("Gather", tensor, gatherList...); err != nil {
			return nil, err
		}
	}
	return e.submit(ctx, group, opts.Async, func(ctx context.Context, key string) error {
		payloads := make([][]byte, group.Size())
		payloads[dstIdx] = tensor.Bytes()
		received, err := e.exchange(ctx, group, key, payloads)
		if err != nil || e.rank != dst {
			return err
		}
		for ii, output := range gatherList {
			if err := output.SetBytes(received[ii]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Scatter implements backends.CollectiveOps.
func (e *Engine) Scatter(ctx context.Context, tensor *tensors.Tensor, scatterList []*tensors.Tensor, src int,
	opts backends.CallOptions) (backends.Work, error) {
	group, err := e.group(opts)
	if err != nil {
		return nil, err
	}
	srcIdx, err := checkMember("Scatter", group, src)
	if err != nil {
		return nil, err
	}
	if e.rank == src {
		if len(scatterList) != group.Size() {
			return nil, errors.Errorf("Scatter: %d tensors in scatter list for group of size %d",
				len(scatterList), group.Size())
		}
		if err := checkSameKind("Scatter", tensor, scatterList...); err != nil {
			return nil, err
		}
	}
	return e.submit(ctx, group, opts.Async, func(ctx context.Context, key string) error {
		payloads := make([][]byte, group.Size())
		if e.rank == src {
			for ii, input := range scatterList {
				payloads[ii] = input.Bytes()
			}
		}
		received, err := e.exchange(ctx, group, key, payloads)
		if err != nil {
			return err
		}
		return tensor.SetBytes(received[srcIdx])
	})
}

// Barrier implements backends.CollectiveOps.
func (e *Engine) Barrier(ctx context.Context, opts backends.CallOptions) (backends.Work, error) {
	group, err := e.group(opts)
	if err != nil {
		return nil, err
	}
	return e.submit(ctx, group, opts.Async, func(ctx context.Context, key string) error {
		_, err := e.exchange(ctx, group, key, make([][]byte, group.Size()))
		return err
	})
}

// MonitoredBarrier implements backends.CollectiveOps.
//
// The first rank of the group collects an arrival message from every other member, and then releases
// them. It fails if that doesn't happen within timeout, listing the ranks that didn't arrive in time.
func (e *Engine) MonitoredBarrier(ctx context.Context, timeout time.Duration, waitAllRanks bool,
	opts backends.CallOptions) error {
	group, err := e.group(opts)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = e.config.Timeout
	}
	_, err = e.submit(ctx, group, false, func(ctx context.Context, key string) error {
		tag := monitoredBarrierTag(key)
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		members := group.Ranks()
		root := members[0]
		if e.rank != root {
			if err := e.fabric.Send(ctx, root, tag, nil); err != nil {
				return err
			}
			if _, _, err := e.fabric.Recv(ctx, root, tag); err != nil {
				return errors.WithMessagef(err, "monitored barrier: rank %d not released by rank %d within %s",
					e.rank, root, timeout)
			}
			return nil
		}
		var missing []int
		for _, rank := range members[1:] {
			if _, _, err := e.fabric.Recv(ctx, rank, tag); err != nil {
				missing = append(missing, rank)
				if !waitAllRanks {
					break
				}
			}
		}
		if len(missing) > 0 {
			return errors.Errorf("monitored barrier: ranks %v failed to reach the barrier within %s", missing, timeout)
		}
		for _, rank := range members[1:] {
			if err := e.fabric.Send(ctx, rank, tag, nil); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// Send implements backends.CollectiveOps.
func (e *Engine) Send(ctx context.Context, tensor *tensors.Tensor, dst int, opts backends.CallOptions) error {
	if err := e.checkPointToPoint("Send", dst, opts); err != nil {
		return err
	}
	return e.fabric.Send(ctx, dst, opts.Tag, tensor.Bytes())
}

// Recv implements backends.CollectiveOps.
func (e *Engine) Recv(ctx context.Context, tensor *tensors.Tensor, src int, opts backends.CallOptions) (int, error) {
	if src != fabric.AnySource {
		if err := e.checkPointToPoint("Recv", src, opts); err != nil {
			return -1, err
		}
	} else if _, err := e.group(opts); err != nil {
		return -1, err
	}
	payload, from, err := e.fabric.Recv(ctx, src, opts.Tag)
	if err != nil {
		return -1, err
	}
	if err := tensor.SetBytes(payload); err != nil {
		return from, errors.WithMessagef(err, "Recv from rank %d", from)
	}
	return from, nil
}

// ISend implements backends.CollectiveOps.
func (e *Engine) ISend(ctx context.Context, tensor *tensors.Tensor, dst int, opts backends.CallOptions) (backends.Work, error) {
	if err := e.checkPointToPoint("ISend", dst, opts); err != nil {
		return nil, err
	}
	payload := tensor.Bytes()
	return e.async(ctx, func(ctx context.Context) error {
		return e.fabric.Send(ctx, dst, opts.Tag, payload)
	}), nil
}

// IRecv implements backends.CollectiveOps.
func (e *Engine) IRecv(ctx context.Context, tensor *tensors.Tensor, src int, opts backends.CallOptions) (backends.Work, error) {
	if src != fabric.AnySource {
		if err := e.checkPointToPoint("IRecv", src, opts); err != nil {
			return nil, err
		}
	} else if _, err := e.group(opts); err != nil {
		return nil, err
	}
	return e.async(ctx, func(ctx context.Context) error {
		_, err := e.Recv(ctx, tensor, src, opts)
		return err
	}), nil
}

// checkPointToPoint validates the peer (a global rank) and the tag.
func (e *Engine) checkPointToPoint(name string, peer int, opts backends.CallOptions) error {
	group, err := e.group(opts)
	if err != nil {
		return err
	}
	if opts.Tag < 0 {
		return errors.Errorf("%s: negative tags are reserved, got tag %d", name, opts.Tag)
	}
	if !slices.Contains(group.Ranks(), peer) {
		return errors.Wrapf(backends.ErrNotMember, "%s: peer rank %d, %s", name, peer, group)
	}
	return nil
}
