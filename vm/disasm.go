package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of a chunk.
func Disassemble(code []Value) string {
	return DisassembleWithName(code, "")
}

// DisassembleWithName returns a listing with a name header.
func DisassembleWithName(code []Value, name string) string {
	var sb strings.Builder
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	offset := 0
	if version, headerLen, err := ParseHeader(code); err == nil {
		sb.WriteString(fmt.Sprintf("; HogVM bytecode v%d\n", version))
		offset = headerLen
	} else {
		sb.WriteString("; missing header\n")
	}
	for offset < len(code) {
		line, next := disassembleAt(code, offset)
		sb.WriteString(fmt.Sprintf("%04d  %s\n", offset, line))
		offset = next
	}
	return sb.String()
}

// disassembleAt formats the instruction at offset and returns the offset of
// the next instruction. The body of a CALLABLE or DECLARE_FN is listed
// inline after its header.
func disassembleAt(code []Value, offset int) (string, int) {
	if offset >= len(code) {
		return "<end of code>", offset + 1
	}
	tok, ok := code[offset].(Int)
	if !ok {
		return fmt.Sprintf("<token %s>", Repr(code[offset])), offset + 1
	}
	op := Operation(tok)
	if !op.Valid() {
		return op.String(), offset + 1
	}
	info := GetOperationInfo(op)
	n := info.Operands
	if op == OpClosure {
		n = 1
		if offset+1 < len(code) {
			if count, err := tokenInt(code[offset+1]); err == nil {
				n += 2 * count
			}
		}
	}
	end := offset + 1 + n
	if end > len(code) {
		return fmt.Sprintf("%s <truncated>", info.Name), len(code)
	}
	operands := code[offset+1 : end]

	var sb strings.Builder
	sb.WriteString(info.Name)
	switch {
	case op.IsJump():
		delta, _ := tokenInt(operands[0])
		sb.WriteString(fmt.Sprintf(" %d (-> %04d)", delta, offset+2+delta))
	case op == OpClosure:
		sb.WriteString(" " + Repr(operands[0]))
		for i := 1; i+1 < len(operands); i += 2 {
			if Truthy(operands[i]) {
				sb.WriteString(" [local " + Repr(operands[i+1]) + "]")
			} else {
				sb.WriteString(" [upvalue " + Repr(operands[i+1]) + "]")
			}
		}
	default:
		for _, o := range operands {
			sb.WriteString(" " + Repr(o))
		}
	}
	return sb.String(), end
}
