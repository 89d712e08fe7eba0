package scenario

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StepOp names a step operation.
type StepOp string

const (
	OpCompute StepOp = "compute"
	OpLock    StepOp = "lock"
	OpUnlock  StepOp = "unlock"
	OpWait    StepOp = "wait"
	OpPrint   StepOp = "print"
	OpSpawn   StepOp = "spawn"
	OpFault   StepOp = "fault"
	OpTouch   StepOp = "touch"
	OpKill    StepOp = "kill"
)

func (op StepOp) idleSafe() bool {
	switch op {
	case OpCompute, OpPrint, OpTouch:
		return true
	}
	return false
}

// Step is one operation of a step body. In YAML a step is either a bare
// operation name (wait, kill) or a single-key mapping:
//
//	- compute: 50
//	- lock: shared
//	- print: hello
//	- fault: {status: 0x10, addr: 0}
//	- touch: {window: other, offset: 16, write: true}
type Step struct {
	Op     StepOp `json:"op"`
	Ticks  uint64 `json:"ticks,omitempty"`
	Target string `json:"target,omitempty"` // mutex or task name
	Text   string `json:"text,omitempty"`
	Status uint32 `json:"status,omitempty"`
	Addr   uint32 `json:"addr,omitempty"`
	Window string `json:"window,omitempty"` // touch: address is relative to this task's stack window
	Write  bool   `json:"write,omitempty"`
}

type faultArgs struct {
	Status uint32 `yaml:"status"`
	Addr   uint32 `yaml:"addr"`
}

type touchArgs struct {
	Addr   uint32 `yaml:"addr"`
	Window string `yaml:"window"`
	Offset uint32 `yaml:"offset"`
	Write  bool   `yaml:"write"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Step) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		op := StepOp(n.Value)
		if op != OpWait && op != OpKill {
			return fmt.Errorf("line %d: step %q needs an argument", n.Line, n.Value)
		}
		*s = Step{Op: op}
		return nil
	case yaml.MappingNode:
	default:
		return fmt.Errorf("line %d: a step is an operation name or a single-key mapping", n.Line)
	}
	if len(n.Content) != 2 {
		return fmt.Errorf("line %d: a step has exactly one operation", n.Line)
	}

	key, val := n.Content[0], n.Content[1]
	st := Step{Op: StepOp(key.Value)}
	var err error
	switch st.Op {
	case OpCompute:
		err = val.Decode(&st.Ticks)
		if err == nil && st.Ticks == 0 {
			err = fmt.Errorf("compute needs a positive tick count")
		}
	case OpLock, OpUnlock, OpSpawn:
		err = val.Decode(&st.Target)
		if err == nil && st.Target == "" {
			err = fmt.Errorf("%s needs a name", st.Op)
		}
	case OpPrint:
		err = val.Decode(&st.Text)
	case OpWait, OpKill:
		// the value is ignored
	case OpFault:
		var a faultArgs
		err = decodeStrict(val, &a)
		st.Status, st.Addr = a.Status, a.Addr
	case OpTouch:
		var a touchArgs
		err = decodeStrict(val, &a)
		st.Window, st.Write = a.Window, a.Write
		st.Addr = a.Addr
		if a.Window != "" {
			st.Addr = a.Offset
		}
	default:
		return fmt.Errorf("line %d: unknown step %q", key.Line, key.Value)
	}
	if err != nil {
		return fmt.Errorf("line %d: %s: %w", key.Line, st.Op, err)
	}
	*s = st
	return nil
}

// decodeStrict decodes a mapping node, rejecting unknown keys.
func decodeStrict(n *yaml.Node, out any) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a mapping")
	}
	known := map[string]bool{}
	switch out.(type) {
	case *faultArgs:
		known = map[string]bool{"status": true, "addr": true}
	case *touchArgs:
		known = map[string]bool{"addr": true, "window": true, "offset": true, "write": true}
	}
	for i := 0; i < len(n.Content); i += 2 {
		if k := n.Content[i].Value; !known[k] {
			return fmt.Errorf("unknown field %q", k)
		}
	}
	return n.Decode(out)
}
