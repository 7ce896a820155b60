package runtime

import (
	"fmt"

	"github.com/ormasoftchile/radproof/pkg/schema"
)

// BlockMap maps each loop_start/conditional_start index to its matching end
// index, and each end back to its start. Compiled once before execution so
// the orchestrator can jump without re-scanning for markers.
type BlockMap struct {
	StartToEnd map[int]int
	EndToStart map[int]int
}

// CompileBlocks pairs loop/conditional markers with a single stack pass.
// Unmatched or interleaved markers are an error; schema validation reports
// the same condition earlier with a document path, so hitting this at run
// time means the scenario bypassed validation.
func CompileBlocks(steps []schema.Step) (*BlockMap, error) {
	bm := &BlockMap{
		StartToEnd: make(map[int]int),
		EndToStart: make(map[int]int),
	}

	type opener struct {
		index int
		kind  string
	}
	var stack []opener

	for i, s := range steps {
		switch s.Kind {
		case schema.KindLoopStart, schema.KindConditionalStart:
			stack = append(stack, opener{index: i, kind: s.Kind})
		case schema.KindLoopEnd:
			if len(stack) == 0 || stack[len(stack)-1].kind != schema.KindLoopStart {
				return nil, fmt.Errorf("loop_end at step %d has no matching loop_start", i)
			}
			start := stack[len(stack)-1].index
			stack = stack[:len(stack)-1]
			bm.StartToEnd[start] = i
			bm.EndToStart[i] = start
		case schema.KindConditionalEnd:
			if len(stack) == 0 || stack[len(stack)-1].kind != schema.KindConditionalStart {
				return nil, fmt.Errorf("conditional_end at step %d has no matching conditional_start", i)
			}
			start := stack[len(stack)-1].index
			stack = stack[:len(stack)-1]
			bm.StartToEnd[start] = i
			bm.EndToStart[i] = start
		}
	}

	if len(stack) > 0 {
		open := stack[len(stack)-1]
		return nil, fmt.Errorf("%s at step %d is never closed", open.kind, open.index)
	}
	return bm, nil
}
