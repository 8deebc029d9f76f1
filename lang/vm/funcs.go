package vm

import (
	"fmt"

	"github.com/srdglang/srdg/lang/ir"
	"github.com/srdglang/srdg/lang/opcode"
)

// FuncMeta is one function's compiled metadata: where its body starts (the
// byte immediately after FN_LABEL's own operands) and its declared
// parameter and capture names in order.
type FuncMeta struct {
	EntryIP  int
	Params   []string
	Captures []string
}

// preScan walks blob.Code once, before execution begins, to build the
// function metadata table and the sorted list of every instruction's start
// offset. The instruction boundary table is what lets the VM's backward
// loop scans (jumpBackToLoopHead) step between real instructions instead
// of raw bytes, so an operand byte that happens to collide with a
// LOOP_BEGIN/LOOP_END opcode value can never be mistaken for one.
func preScan(blob ir.Blob) (map[string]FuncMeta, []int, error) {
	funcs := make(map[string]FuncMeta)
	var starts []int

	for pos := 0; pos < len(blob.Code); {
		starts = append(starts, pos)
		in, err := ir.Decode(blob.Code, pos)
		if err != nil {
			return nil, nil, fmt.Errorf("vm: pre-scan: %w", err)
		}

		if in.Op == opcode.FN_LABEL {
			name, err := blob.String(in.StrIdx)
			if err != nil {
				return nil, nil, fmt.Errorf("vm: FN_LABEL name: %w", err)
			}
			params := make([]string, len(in.Params))
			for i, idx := range in.Params {
				s, err := blob.String(idx)
				if err != nil {
					return nil, nil, fmt.Errorf("vm: FN_LABEL param: %w", err)
				}
				params[i] = s
			}
			captures := make([]string, len(in.Captures))
			for i, idx := range in.Captures {
				s, err := blob.String(idx)
				if err != nil {
					return nil, nil, fmt.Errorf("vm: FN_LABEL capture: %w", err)
				}
				captures[i] = s
			}
			funcs[name] = FuncMeta{EntryIP: in.Next, Params: params, Captures: captures}
		}

		pos = in.Next
	}
	return funcs, starts, nil
}
