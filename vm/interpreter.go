package vm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tliron/commonlog"
)

const (
	// MaxMemory is the default ceiling on the summed cost of stack values.
	MaxMemory = 64 * 1024 * 1024
	// MaxFunctionArgs bounds the argument count of any call.
	MaxFunctionArgs = 300
	// CallStackLimit bounds the call depth.
	CallStackLimit = 1000
	// DefaultTimeout is the time budget when Options.Timeout is zero.
	DefaultTimeout = 5 * time.Second

	// the clock is read every 128 operations and on every call
	timeoutCheckMask = 127
)

var log = commonlog.GetLogger("hogvm.vm")

// Options configures one execution.
type Options struct {
	Globals     *Mapping                // values reachable through GET_GLOBAL
	Functions   map[string]HostFunction // host functions, looked up before the stdlib
	Timeout     time.Duration           // defaults to DefaultTimeout
	MemoryLimit int                     // defaults to MaxMemory
	Host        any                     // passed through to native stdlib functions
	Debug       bool                    // trace every instruction and disable the timeout
	Registry    *Registry               // defaults to DefaultRegistry()
}

// Result is the outcome of a successful execution.
type Result struct {
	Value      Value
	Output     []string
	Program    *Program
	Ops        int
	MaxMemUsed int
	Elapsed    time.Duration
}

// loadedChunk is a chunk with its header parsed.
type loadedChunk struct {
	name      string
	code      []Value
	globals   *Mapping
	version   int
	headerLen int
}

// ---------------------------------------------------------------------------
// Interpreter state
// ---------------------------------------------------------------------------

// interpreter holds all state of one execution. It is never shared.
type interpreter struct {
	ctx      context.Context
	program  *Program
	opts     Options
	registry *Registry
	globals  *Mapping
	timeout  time.Duration
	memLimit int

	stack      []Value
	memStack   []int
	memUsed    int
	maxMemUsed int

	callStack  []*CallFrame
	throwStack []ThrowFrame
	upvalues   upvalueTable
	declared   map[string]declaredFunction

	frame  *CallFrame
	chunk  *loadedChunk
	chunks map[string]*loadedChunk

	ops      int
	start    time.Time
	output   lineBuffer
	patterns patternCache
}

func newInterpreter(ctx context.Context, program *Program, opts Options) *interpreter {
	in := &interpreter{
		ctx:      ctx,
		program:  program,
		opts:     opts,
		registry: opts.Registry,
		globals:  opts.Globals,
		timeout:  opts.Timeout,
		memLimit: opts.MemoryLimit,
		declared: map[string]declaredFunction{},
		chunks:   map[string]*loadedChunk{},
		patterns: patternCache{},
	}
	if in.ctx == nil {
		in.ctx = context.Background()
	}
	if in.registry == nil {
		in.registry = DefaultRegistry()
	}
	if in.globals == nil {
		in.globals = NewMapping()
	}
	if in.timeout <= 0 {
		in.timeout = DefaultTimeout
	}
	if in.memLimit <= 0 {
		in.memLimit = MaxMemory
	}
	return in
}

// Execute runs program from the start of its root chunk until it returns
// or fails. Failures are classified errors; see KindOf.
func Execute(ctx context.Context, program *Program, opts Options) (result *Result, err error) {
	if program.Root() == nil {
		return nil, vmErrorf(KindUnknownChunk, "Program has no %s chunk", RootChunk)
	}
	in := newInterpreter(ctx, program, opts)
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, in.recovered(r)
			log.Debugf("execution aborted after %d ops: %v", in.ops, err)
		}
	}()
	value := in.run()
	return &Result{
		Value:      value,
		Output:     in.output.lines,
		Program:    program,
		Ops:        in.ops,
		MaxMemUsed: in.maxMemUsed,
		Elapsed:    time.Since(in.start),
	}, nil
}

// ExecuteBytecode runs a single root chunk.
func ExecuteBytecode(ctx context.Context, bytecode []Value, opts Options) (*Result, error) {
	return Execute(ctx, NewProgram(bytecode), opts)
}

// recovered converts a panic from the run loop into an error. Classified
// errors abort the loop by panicking; anything else is an internal failure.
func (in *interpreter) recovered(r any) error {
	err, ok := r.(error)
	if !ok {
		return vmErrorf(KindInternal, "unexpected failure: %v", r)
	}
	var c classified
	if errors.As(err, &c) {
		return err
	}
	return &VMError{Kind: KindInternal, Message: "unexpected failure", Err: err}
}

func abortOn(err error) {
	if err != nil {
		panic(err)
	}
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (in *interpreter) push(v Value) {
	if v == nil {
		v = Null
	}
	cost := CalculateCost(v)
	in.stack = append(in.stack, v)
	in.memStack = append(in.memStack, cost)
	in.memUsed += cost
	if in.memUsed > in.maxMemUsed {
		in.maxMemUsed = in.memUsed
	}
	if in.memUsed > in.memLimit {
		panic(&MemoryExceededError{Limit: in.memLimit, Attempted: in.memUsed})
	}
}

func (in *interpreter) pop() Value {
	n := len(in.stack)
	if n == 0 {
		panic(vmErrorf(KindStackUnderflow, "Stack underflow"))
	}
	v := in.stack[n-1]
	in.memUsed -= in.memStack[n-1]
	in.stack[n-1] = nil
	in.stack = in.stack[:n-1]
	in.memStack = in.memStack[:n-1]
	return v
}

func (in *interpreter) peek() Value {
	if len(in.stack) == 0 {
		panic(vmErrorf(KindStackUnderflow, "Stack underflow"))
	}
	return in.stack[len(in.stack)-1]
}

// popN removes the top n values and returns them deepest first.
func (in *interpreter) popN(n int) []Value {
	if n == 0 {
		return []Value{}
	}
	if n < 0 || n > len(in.stack) {
		panic(vmErrorf(KindStackUnderflow, "Stack underflow: need %d values, have %d", n, len(in.stack)))
	}
	keep := len(in.stack) - n
	out := make([]Value, n)
	copy(out, in.stack[keep:])
	in.truncate(keep)
	return out
}

// truncate keeps the first n stack values.
func (in *interpreter) truncate(n int) {
	if n < 0 || n > len(in.stack) {
		panic(vmErrorf(KindStackUnderflow, "Stack underflow: cannot keep %d of %d values", n, len(in.stack)))
	}
	for i := n; i < len(in.stack); i++ {
		in.memUsed -= in.memStack[i]
		in.stack[i] = nil
	}
	in.stack = in.stack[:n]
	in.memStack = in.memStack[:n]
}

func (in *interpreter) slot(i int) Value {
	if i < 0 || i >= len(in.stack) {
		panic(malformedf("Local slot %d out of range", i-in.frame.StackStart))
	}
	return in.stack[i]
}

func (in *interpreter) setSlot(i int, v Value) {
	if i < 0 || i >= len(in.stack) {
		panic(malformedf("Local slot %d out of range", i-in.frame.StackStart))
	}
	cost := CalculateCost(v)
	in.memUsed += cost - in.memStack[i]
	in.stack[i] = v
	in.memStack[i] = cost
	if in.memUsed > in.maxMemUsed {
		in.maxMemUsed = in.memUsed
	}
	if in.memUsed > in.memLimit {
		panic(&MemoryExceededError{Limit: in.memLimit, Attempted: in.memUsed})
	}
}

// popArgs pops n call arguments and returns them in call order. Version 0
// bytecode pushes arguments in reverse.
func (in *interpreter) popArgs(n int) []Value {
	if in.chunk.version == 0 {
		args := make([]Value, n)
		for i := range args {
			args[i] = in.pop()
		}
		return args
	}
	return in.popN(n)
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

func (in *interpreter) nextToken() Value {
	if in.frame.IP >= len(in.chunk.code)-1 {
		panic(malformedf("Unexpected end of bytecode"))
	}
	in.frame.IP++
	return in.chunk.code[in.frame.IP]
}

func (in *interpreter) nextInt() int {
	n, err := tokenInt(in.nextToken())
	abortOn(err)
	return n
}

func (in *interpreter) nextString() string {
	s, err := tokenString(in.nextToken())
	abortOn(err)
	return s
}

// ---------------------------------------------------------------------------
// Frames and chunks
// ---------------------------------------------------------------------------

func (in *interpreter) loadChunk(name string) *loadedChunk {
	if c, ok := in.chunks[name]; ok {
		return c
	}
	c := &loadedChunk{name: name}
	switch {
	case name == RootChunk || name == "":
		root := in.program.Root()
		c.code, c.globals = root.Bytecode, root.Globals
	case len(name) > len(stlChunkPrefix) && name[:len(stlChunkPrefix)] == stlChunkPrefix:
		fn, ok := in.registry.Bytecode(name[len(stlChunkPrefix):])
		if !ok {
			panic(vmErrorf(KindUnknownChunk, "Unknown chunk: %s", name))
		}
		c.code = fn.Bytecode
	default:
		chunk, ok := in.program.Chunks[name]
		if !ok || chunk == nil {
			panic(vmErrorf(KindUnknownChunk, "Unknown chunk: %s", name))
		}
		c.code, c.globals = chunk.Bytecode, chunk.Globals
	}
	var err error
	c.version, c.headerLen, err = ParseHeader(c.code)
	if err != nil {
		panic(fmt.Errorf("chunk %s: %w", name, err))
	}
	in.chunks[name] = c
	return c
}

func (in *interpreter) enterFrame(f *CallFrame) {
	in.frame = f
	in.chunk = in.loadChunk(f.Chunk)
}

func (in *interpreter) pushFrame(f *CallFrame) {
	if len(in.callStack) >= CallStackLimit {
		panic(vmErrorf(KindCallStackOverflow, "Call stack exceeded maximum depth of %d", CallStackLimit))
	}
	in.callStack = append(in.callStack, f)
	in.enterFrame(f)
}

// returnFrom pops the current frame. At the outermost frame it reports the
// program result; otherwise it leaves response on the caller's stack.
func (in *interpreter) returnFrom(response Value, explicit bool) (Value, bool) {
	last := in.callStack[len(in.callStack)-1]
	in.callStack = in.callStack[:len(in.callStack)-1]
	if len(in.callStack) == 0 {
		if explicit {
			return response, true
		}
		switch len(in.stack) {
		case 0:
			return Null, true
		case 1:
			return in.pop(), true
		}
		panic(malformedf("Invalid bytecode. More than one value left on stack"))
	}
	in.upvalues.close(last.StackStart, in.stack)
	in.truncate(last.StackStart)
	in.push(response)
	in.enterFrame(in.callStack[len(in.callStack)-1])
	return nil, false
}

func (in *interpreter) checkTimeout() {
	if err := in.ctx.Err(); err != nil {
		panic(&RuntimeExceededError{Timeout: in.timeout, Elapsed: time.Since(in.start), Ops: in.ops, Cause: err})
	}
	if in.opts.Debug {
		return
	}
	if elapsed := time.Since(in.start); elapsed > in.timeout {
		panic(&RuntimeExceededError{Timeout: in.timeout, Elapsed: elapsed, Ops: in.ops})
	}
}

// ---------------------------------------------------------------------------
// Main loop
// ---------------------------------------------------------------------------

func (in *interpreter) run() Value {
	in.start = time.Now()
	root := in.loadChunk(RootChunk)
	entry := &Callable{Type: CallableLocal, Name: "", IP: root.headerLen, Chunk: RootChunk}
	in.pushFrame(&CallFrame{IP: root.headerLen, Chunk: RootChunk, Closure: &Closure{Callable: entry}})

	for {
		in.ops++
		if in.ops&timeoutCheckMask == 0 {
			in.checkTimeout()
		}

		code := in.chunk.code
		if in.frame.IP < 0 {
			panic(malformedf("Jump to %d before the start of chunk %q", in.frame.IP, in.chunk.name))
		}
		if in.frame.IP >= len(code) {
			if v, done := in.returnFrom(Null, false); done {
				return v
			}
			continue
		}

		tok, ok := code[in.frame.IP].(Int)
		if !ok {
			panic(malformedf("Unexpected token at %d: %s", in.frame.IP, describeToken(code[in.frame.IP])))
		}
		op := Operation(tok)
		if in.opts.Debug {
			in.trace()
		}

		switch op {
		// ============ Constants ============
		case OpNull:
			in.push(Null)
		case OpTrue:
			in.push(Bool(true))
		case OpFalse:
			in.push(Bool(false))
		case OpString:
			in.push(String(in.nextString()))
		case OpInteger:
			in.push(Int(in.nextInt()))
		case OpFloat:
			tok := in.nextToken()
			if !isNumber(tok) {
				panic(malformedf("Expected float operand, got %s", describeToken(tok)))
			}
			in.push(Float(asFloat(tok)))

		// ============ Logic ============
		case OpNot:
			in.push(Bool(!Truthy(in.pop())))
		case OpAnd:
			result := true
			for _, v := range in.popN(in.nextInt()) {
				result = result && Truthy(v)
			}
			in.push(Bool(result))
		case OpOr:
			result := false
			for _, v := range in.popN(in.nextInt()) {
				result = result || Truthy(v)
			}
			in.push(Bool(result))

		// ============ Arithmetic ============
		case OpPlus, OpMinus, OpMultiply, OpDivide, OpMod:
			b := in.pop()
			a := in.pop()
			v, err := arith(op, a, b)
			abortOn(err)
			in.push(v)

		// ============ Comparison ============
		case OpEq:
			b := in.pop()
			in.push(Bool(Equal(in.pop(), b)))
		case OpNotEq:
			b := in.pop()
			in.push(Bool(!Equal(in.pop(), b)))
		case OpGt, OpGtEq, OpLt, OpLtEq:
			b := in.pop()
			a := in.pop()
			v, err := compareOp(op, a, b)
			abortOn(err)
			in.push(Bool(v))

		// ============ Patterns ============
		case OpLike, OpILike, OpNotLike, OpNotILike:
			pattern := in.pop()
			s := in.pop()
			matched, err := in.patterns.like(s, pattern, op == OpILike || op == OpNotILike)
			abortOn(err)
			if op == OpNotLike || op == OpNotILike {
				matched = !matched && !IsNull(s) && !IsNull(pattern)
			}
			in.push(Bool(matched))
		case OpRegex, OpNotRegex, OpIRegex, OpNotIRegex:
			pattern := in.pop()
			s := in.pop()
			matched, err := in.patterns.regex(s, pattern, op == OpIRegex || op == OpNotIRegex)
			abortOn(err)
			if op == OpNotRegex || op == OpNotIRegex {
				matched = !matched && !IsNull(s) && ToString(pattern) != "" && !IsNull(pattern)
			}
			in.push(Bool(matched))
		case OpIn, OpNotIn:
			needle := in.pop()
			haystack := in.pop()
			found, err := Contains(haystack, needle)
			abortOn(err)
			if op == OpNotIn {
				found = !found
			}
			in.push(Bool(found))
		case OpInCohort, OpNotInCohort:
			in.popN(2)
			panic(vmErrorf(KindUnsupportedCall, "Inlined cohorts are not supported"))

		// ============ Stack and locals ============
		case OpPop:
			in.pop()
		case OpGetLocal:
			in.push(in.slot(in.frame.StackStart + in.nextInt()))
		case OpSetLocal:
			idx := in.frame.StackStart + in.nextInt()
			in.setSlot(idx, in.pop())

		// ============ Globals ============
		case OpGetGlobal:
			in.getGlobal()

		// ============ Control flow ============
		case OpReturn:
			if v, done := in.returnFrom(in.pop(), true); done {
				return v
			}
			continue
		case OpJump:
			in.frame.IP += in.nextInt()
		case OpJumpIfFalse:
			offset := in.nextInt()
			if !Truthy(in.pop()) {
				in.frame.IP += offset
			}
		case OpJumpIfStackNotNull:
			offset := in.nextInt()
			if len(in.stack) > 0 && !IsNull(in.peek()) {
				in.frame.IP += offset
			}

		// ============ Containers ============
		case OpDict:
			items := in.popN(2 * in.nextInt())
			m := NewMapping()
			for i := 0; i < len(items); i += 2 {
				abortOn(m.Set(items[i], items[i+1]))
			}
			in.push(m)
		case OpArray:
			in.push(NewArray(in.popN(in.nextInt())...))
		case OpTuple:
			in.push(NewTuple(in.popN(in.nextInt())...))
		case OpGetProperty, OpGetPropertyNullish:
			key := in.pop()
			target := in.pop()
			v, err := GetNestedValue(target, []Value{key}, op == OpGetPropertyNullish)
			abortOn(err)
			in.push(v)
		case OpSetProperty:
			value := in.pop()
			key := in.pop()
			target := in.pop()
			abortOn(SetNestedValue(target, []Value{key}, value))

		// ============ Exceptions ============
		case OpTry:
			offset := in.nextInt()
			in.throwStack = append(in.throwStack, ThrowFrame{
				CallStackLen: len(in.callStack),
				StackLen:     len(in.stack),
				CatchIP:      in.frame.IP + 1 + offset,
			})
		case OpPopTry:
			if len(in.throwStack) == 0 {
				panic(malformedf("Invalid bytecode. POP_TRY without a matching TRY"))
			}
			in.throwStack = in.throwStack[:len(in.throwStack)-1]
		case OpThrow:
			in.throw()
			continue

		// ============ Functions ============
		case OpDeclareFn:
			name := in.nextString()
			argLen := in.nextInt()
			bodyLen := in.nextInt()
			in.declared[name] = declaredFunction{IP: in.frame.IP + 1, ArgLen: argLen, Chunk: in.frame.Chunk}
			in.frame.IP += bodyLen
		case OpCallable:
			name := in.nextString()
			argCount := in.nextInt()
			upvalueCount := in.nextInt()
			bodyLen := in.nextInt()
			in.push(&Callable{
				Type:         CallableLocal,
				Name:         name,
				ArgCount:     argCount,
				UpvalueCount: upvalueCount,
				IP:           in.frame.IP + 1,
				Chunk:        in.frame.Chunk,
			})
			in.frame.IP += bodyLen
		case OpClosure:
			in.makeClosure()
		case OpCallGlobal:
			if in.callGlobal() {
				continue
			}
		case OpCallLocal:
			if in.callLocal() {
				continue
			}

		// ============ Upvalues ============
		case OpGetUpvalue:
			uv := in.upvalue(in.nextInt())
			if uv.Closed {
				in.push(uv.Value)
			} else {
				in.push(in.slot(uv.Location))
			}
		case OpSetUpvalue:
			uv := in.upvalue(in.nextInt())
			v := in.pop()
			if uv.Closed {
				uv.Value = v
			} else {
				in.setSlot(uv.Location, v)
			}
		case OpCloseUpvalue:
			in.upvalues.close(len(in.stack)-1, in.stack)
			in.pop()

		default:
			panic(malformedf("Unexpected operation %d at %d", int(op), in.frame.IP))
		}

		in.frame.IP++
	}
}

// getGlobal resolves a GET_GLOBAL chain: chunk globals, program globals,
// host functions, native stdlib, bytecode stdlib, in that order.
func (in *interpreter) getGlobal() {
	count := in.nextInt()
	if count <= 0 {
		panic(malformedf("GET_GLOBAL with empty chain"))
	}
	chain := make([]Value, count)
	for i := range chain {
		chain[i] = in.pop()
	}
	for _, globals := range []*Mapping{in.chunk.globals, in.globals} {
		if globals != nil && globals.Has(chain[0]) {
			v, err := GetNestedValue(globals, chain, true)
			abortOn(err)
			in.push(DeepCopy(v))
			return
		}
	}
	name := ToString(chain[0])
	if _, ok := in.opts.Functions[name]; ok {
		in.push(&Closure{Callable: &Callable{Type: CallableStl, Name: name}})
		return
	}
	if count == 1 {
		if fn, ok := in.registry.Native(name); ok {
			in.push(&Closure{Callable: &Callable{Type: CallableStl, Name: name, ArgCount: fn.closureArgCount()}})
			return
		}
		if fn, ok := in.registry.Bytecode(name); ok {
			in.push(&Closure{Callable: &Callable{Type: CallableStl, Name: name, ArgCount: len(fn.ArgNames)}})
			return
		}
	}
	parts := make([]byte, 0, 32)
	for i, key := range chain {
		if i > 0 {
			parts = append(parts, '.')
		}
		parts = append(parts, ToString(key)...)
	}
	panic(&UnknownGlobalError{Name: string(parts)})
}

func (in *interpreter) upvalue(index int) *Upvalue {
	ids := in.frame.Closure.Upvalues
	if index < 0 || index >= len(ids) {
		panic(malformedf("Upvalue index %d out of range", index))
	}
	return in.upvalues.get(ids[index])
}

func (in *interpreter) makeClosure() {
	v := in.pop()
	callable, ok := v.(*Callable)
	if !ok {
		panic(malformedf("CLOSURE expects a callable, got %s", v.Kind()))
	}
	count := in.nextInt()
	if count != callable.UpvalueCount {
		panic(malformedf("Invalid upvalue count: callable %s expects %d, got %d", callable.Name, callable.UpvalueCount, count))
	}
	ids := make([]uint64, count)
	for i := range ids {
		isLocal := Truthy(in.nextToken())
		index := in.nextInt()
		if isLocal {
			ids[i] = in.upvalues.capture(in.frame.StackStart + index)
			continue
		}
		enclosing := in.frame.Closure.Upvalues
		if index < 0 || index >= len(enclosing) {
			panic(malformedf("Upvalue index %d out of range", index))
		}
		ids[i] = enclosing[index]
	}
	in.push(&Closure{Callable: callable, Upvalues: ids})
}

func (in *interpreter) trace() {
	line, _ := disassembleAt(in.chunk.code, in.frame.IP)
	log.Debugf("%-12s %s | depth=%d stack=%d mem=%d", in.chunk.name, line, len(in.callStack), len(in.stack), in.memUsed)
}
