package vm

// Higher-order functions call back into Hog closures, so they are written
// in bytecode and run as "stl/<name>" chunks. Every one of them uses the
// same locals: 0 the callback, 1 the array, 2 the accumulator and 3 the
// 1-based loop index.
const (
	slotFn = iota
	slotArr
	slotAcc
	slotIdx
)

func registerBytecodeFunctions(r *Registry) {
	r.RegisterBytecode("arrayMap", []string{"func", "arr"}, assembleArrayLoop(
		func(a *Assembler) { a.Emit(OpArray, 0) },
		func(a *Assembler) {
			a.Emit(OpGetLocal, slotAcc)
			emitItem(a)
			emitCallback(a, 1)
			a.Emit(OpCallGlobal, "arrayPushBack", 2)
			a.Emit(OpSetLocal, slotAcc)
		},
	))
	r.RegisterBytecode("arrayFilter", []string{"func", "arr"}, assembleArrayLoop(
		func(a *Assembler) { a.Emit(OpArray, 0) },
		func(a *Assembler) {
			emitItem(a)
			emitCallback(a, 1)
			skip := a.EmitJump(OpJumpIfFalse)
			a.Emit(OpGetLocal, slotAcc)
			emitItem(a)
			a.Emit(OpCallGlobal, "arrayPushBack", 2)
			a.Emit(OpSetLocal, slotAcc)
			a.PatchJump(skip)
		},
	))
	r.RegisterBytecode("arrayExists", []string{"func", "arr"}, assembleArrayLoop(
		func(a *Assembler) { a.Emit(OpFalse) },
		func(a *Assembler) {
			emitItem(a)
			emitCallback(a, 1)
			skip := a.EmitJump(OpJumpIfFalse)
			a.Emit(OpTrue)
			a.Emit(OpReturn)
			a.PatchJump(skip)
		},
	))
	r.RegisterBytecode("arrayCount", []string{"func", "arr"}, assembleArrayLoop(
		func(a *Assembler) { a.Emit(OpInteger, 0) },
		func(a *Assembler) {
			emitItem(a)
			emitCallback(a, 1)
			skip := a.EmitJump(OpJumpIfFalse)
			a.Emit(OpGetLocal, slotAcc)
			a.Emit(OpInteger, 1)
			a.Emit(OpPlus)
			a.Emit(OpSetLocal, slotAcc)
			a.PatchJump(skip)
		},
	))
	// the initial value arrives as the third argument and is already the
	// accumulator slot
	r.RegisterBytecode("arrayReduce", []string{"func", "arr", "initial"}, assembleArrayLoop(
		nil,
		func(a *Assembler) {
			a.Emit(OpGetLocal, slotAcc)
			emitItem(a)
			emitCallback(a, 2)
			a.Emit(OpSetLocal, slotAcc)
		},
	))
}

// assembleArrayLoop emits: init the accumulator, then for i from 1 to
// length(arr) run body, then return the accumulator.
func assembleArrayLoop(init, body func(*Assembler)) []Value {
	a := NewAssembler(1)
	if init != nil {
		init(a)
	}
	a.Emit(OpInteger, 1)

	loop := a.CurrentOffset()
	a.Emit(OpGetLocal, slotIdx)
	a.Emit(OpGetLocal, slotArr)
	a.Emit(OpCallGlobal, "length", 1)
	a.Emit(OpLtEq)
	exit := a.EmitJump(OpJumpIfFalse)

	body(a)

	a.Emit(OpGetLocal, slotIdx)
	a.Emit(OpInteger, 1)
	a.Emit(OpPlus)
	a.Emit(OpSetLocal, slotIdx)
	a.EmitLoop(loop)
	a.PatchJump(exit)

	a.Emit(OpGetLocal, slotAcc)
	a.Emit(OpReturn)
	return a.Bytecode()
}

// emitItem pushes arr[i].
func emitItem(a *Assembler) {
	a.Emit(OpGetLocal, slotArr)
	a.Emit(OpGetLocal, slotIdx)
	a.Emit(OpGetProperty)
}

// emitCallback calls the callback with the n values on top of the stack.
func emitCallback(a *Assembler, n int) {
	a.Emit(OpGetLocal, slotFn)
	a.Emit(OpCallLocal, n)
}
