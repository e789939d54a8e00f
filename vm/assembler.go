package vm

// Assembler builds a chunk token by token. Offsets returned by its methods
// are absolute token indexes in the chunk, header included.
type Assembler struct {
	code []Value
}

// Capture describes one CLOSURE operand pair.
type Capture struct {
	Local bool // capture a local of the enclosing frame, else forward its upvalue
	Index int
}

// NewAssembler starts a chunk with the header for version. Version 0
// writes the legacy header.
func NewAssembler(version int) *Assembler {
	if version == 0 {
		return &Assembler{code: []Value{String(LegacyHeaderMarker)}}
	}
	return &Assembler{code: []Value{String(HeaderMarker), Int(version)}}
}

// Emit appends an operation with its operands and returns its offset.
// Operands are Go literals converted with FromGo.
func (a *Assembler) Emit(op Operation, operands ...any) int {
	offset := len(a.code)
	a.code = append(a.code, Int(op))
	for _, o := range operands {
		if f, ok := o.(float64); ok {
			a.code = append(a.code, Float(f))
			continue
		}
		a.code = append(a.code, MustFromGo(o))
	}
	return offset
}

// EmitJump emits a jump-style operation (JUMP, JUMP_IF_FALSE,
// JUMP_IF_STACK_NOT_NULL, TRY) with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (a *Assembler) EmitJump(op Operation) int {
	a.code = append(a.code, Int(op), Int(0))
	return len(a.code) - 1
}

// PatchJump patches a jump to land on the current position.
func (a *Assembler) PatchJump(placeholder int) {
	a.PatchJumpTo(placeholder, len(a.code))
}

// PatchJumpTo patches a jump to land on target. The interpreter resumes at
// placeholder+1+offset.
func (a *Assembler) PatchJumpTo(placeholder, target int) {
	a.code[placeholder] = Int(target - (placeholder + 1))
}

// EmitLoop emits a backward jump to loopStart.
func (a *Assembler) EmitLoop(loopStart int) {
	placeholder := a.EmitJump(OpJump)
	a.PatchJumpTo(placeholder, loopStart)
}

// EmitCallable emits a CALLABLE whose body is produced by body, patching
// the body length afterwards.
func (a *Assembler) EmitCallable(name string, argCount, upvalueCount int, body func(*Assembler)) int {
	offset := a.Emit(OpCallable, name, argCount, upvalueCount, 0)
	lenAt := len(a.code) - 1
	body(a)
	a.code[lenAt] = Int(len(a.code) - (lenAt + 1))
	return offset
}

// EmitClosure emits CLOSURE with its capture list.
func (a *Assembler) EmitClosure(captures ...Capture) int {
	offset := a.Emit(OpClosure, len(captures))
	for _, c := range captures {
		a.code = append(a.code, Bool(c.Local), Int(c.Index))
	}
	return offset
}

// CurrentOffset returns the offset the next token will occupy.
func (a *Assembler) CurrentOffset() int {
	return len(a.code)
}

// Bytecode returns the assembled tokens.
func (a *Assembler) Bytecode() []Value {
	return a.code
}
