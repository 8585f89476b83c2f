// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ReduceOp selects how values from different ranks are combined.
type ReduceOp int

const (
	// ReduceOpUndefined is an undefined value.
	ReduceOpUndefined ReduceOp = iota

	// ReduceOpSum reduces by summing all values.
	ReduceOpSum

	// ReduceOpAvg reduces by averaging the values: the sum divided by the number of ranks.
	// For integer types the division truncates.
	ReduceOpAvg

	// ReduceOpProduct reduces by multiplying all values.
	ReduceOpProduct

	// ReduceOpMin reduces by taking the minimum value.
	ReduceOpMin

	// ReduceOpMax reduces by taking the maximum value.
	ReduceOpMax

	// ReduceOpBAnd reduces with a bitwise "and". Only for integer (and boolean) types.
	ReduceOpBAnd

	// ReduceOpBOr reduces with a bitwise "or". Only for integer (and boolean) types.
	ReduceOpBOr

	// ReduceOpBXor reduces with a bitwise "xor". Only for integer (and boolean) types.
	ReduceOpBXor
)

var reduceOpNames = []string{"UNDEFINED", "SUM", "AVG", "PRODUCT", "MIN", "MAX", "BAND", "BOR", "BXOR"}

// String implements fmt.Stringer.
func (op ReduceOp) String() string {
	if op < 0 || int(op) >= len(reduceOpNames) {
		return "ReduceOp(" + strconv.Itoa(int(op)) + ")"
	}
	return reduceOpNames[op]
}

// ReduceOpValues returns all defined reduce operations.
func ReduceOpValues() []ReduceOp {
	return []ReduceOp{ReduceOpSum, ReduceOpAvg, ReduceOpProduct, ReduceOpMin, ReduceOpMax,
		ReduceOpBAnd, ReduceOpBOr, ReduceOpBXor}
}

// ParseReduceOp converts a name (case-insensitive) to a ReduceOp. "PROD" is accepted as an alias.
func ParseReduceOp(name string) (ReduceOp, error) {
	upper := strings.ToUpper(name)
	if upper == "PROD" {
		return ReduceOpProduct, nil
	}
	for _, op := range ReduceOpValues() {
		if op.String() == upper {
			return op, nil
		}
	}
	return ReduceOpUndefined, errors.Errorf("unknown reduce operation %q", name)
}

// IsBitwise returns whether op is one of the bitwise operations.
func (op ReduceOp) IsBitwise() bool {
	return op == ReduceOpBAnd || op == ReduceOpBOr || op == ReduceOpBXor
}
