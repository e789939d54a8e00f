package vm

import (
	"fmt"
	"strconv"
)

func checkArgCount(name string, n int) {
	if n > MaxFunctionArgs {
		panic(&ArityError{Name: name, Expected: "at most " + strconv.Itoa(MaxFunctionArgs), Got: n})
	}
	if n < 0 {
		panic(malformedf("Negative argument count for %s", name))
	}
}

// callGlobal executes CALL_GLOBAL. It reports whether a new frame was
// entered, in which case the caller's ip has already been advanced.
func (in *interpreter) callGlobal() bool {
	in.checkTimeout()
	name := in.nextString()
	argCount := in.nextInt()
	checkArgCount(name, argCount)

	if fn, ok := in.declared[name]; ok {
		if argCount > fn.ArgLen {
			panic(&ArityError{Name: name, Expected: strconv.Itoa(fn.ArgLen), Got: argCount})
		}
		for i := argCount; i < fn.ArgLen; i++ {
			in.push(Null)
		}
		in.frame.IP++
		in.pushFrame(&CallFrame{
			IP:         fn.IP,
			Chunk:      fn.Chunk,
			StackStart: len(in.stack) - fn.ArgLen,
			ArgLen:     fn.ArgLen,
			Closure: &Closure{Callable: &Callable{
				Type: CallableLocal, Name: name, ArgCount: fn.ArgLen, IP: fn.IP, Chunk: fn.Chunk,
			}},
		})
		return true
	}

	if name == "import" {
		if argCount != 1 {
			panic(&ArityError{Name: name, Expected: "1", Got: argCount})
		}
		module := ToString(in.pop())
		chunk := in.loadChunk(module)
		in.frame.IP++
		in.pushFrame(&CallFrame{
			IP:         chunk.headerLen,
			Chunk:      module,
			StackStart: len(in.stack),
			Closure: &Closure{Callable: &Callable{
				Type: CallableLocal, Name: module, IP: chunk.headerLen, Chunk: module,
			}},
		})
		return true
	}

	entered, found := in.callNamed(name, argCount)
	if !found {
		panic(vmErrorf(KindUnsupportedCall, "Unsupported function call: %s", name))
	}
	return entered
}

// callLocal executes CALL_LOCAL on the closure at the top of the stack.
func (in *interpreter) callLocal() bool {
	in.checkTimeout()
	v := in.pop()
	closure, ok := v.(*Closure)
	if !ok {
		panic(typeErrorf("Cannot call a value of type %s", v.Kind()))
	}
	argCount := in.nextInt()
	callable := closure.Callable
	checkArgCount(callable.Name, argCount)

	switch callable.Type {
	case CallableLocal:
		if argCount > callable.ArgCount {
			panic(&ArityError{Name: callable.Name, Expected: strconv.Itoa(callable.ArgCount), Got: argCount})
		}
		for i := argCount; i < callable.ArgCount; i++ {
			in.push(Null)
		}
		in.frame.IP++
		in.pushFrame(&CallFrame{
			IP:         callable.IP,
			Chunk:      callable.Chunk,
			StackStart: len(in.stack) - callable.ArgCount,
			ArgLen:     callable.ArgCount,
			Closure:    closure,
		})
		return true
	case CallableStl:
		entered, found := in.callNamed(callable.Name, argCount)
		if !found {
			panic(vmErrorf(KindUnsupportedCall, "Unsupported function call: %s", callable.Name))
		}
		return entered
	case CallableAsync:
		panic(vmErrorf(KindAsyncUnsupported, "Async function %s can not be called from a synchronous execution", callable.Name))
	}
	panic(malformedf("Unknown callable type %s", callable.Type))
}

// callNamed dispatches to a host function, a native stdlib function or a
// bytecode stdlib function, in that order.
func (in *interpreter) callNamed(name string, argCount int) (entered, found bool) {
	if host, ok := in.opts.Functions[name]; ok {
		args := in.popArgs(argCount)
		result, err := host(in.ctx, args)
		if err != nil {
			panic(functionError(name, err))
		}
		in.push(result)
		return false, true
	}

	if fn, ok := in.registry.Native(name); ok {
		abortOn(fn.checkArity(argCount))
		args := in.popArgs(argCount)
		if in.chunk.version > 0 && fn.MaxArgs != Variadic {
			for len(args) < fn.MaxArgs {
				args = append(args, Null)
			}
		}
		result, err := fn.Fn(args, in.opts.Host, &in.output, in.timeout)
		if err != nil {
			panic(functionError(name, err))
		}
		in.push(result)
		return false, true
	}

	if fn, ok := in.registry.Bytecode(name); ok {
		if argCount != len(fn.ArgNames) {
			panic(&ArityError{Name: name, Expected: strconv.Itoa(len(fn.ArgNames)), Got: argCount})
		}
		if in.chunk.version == 0 {
			// the callee reads its locals in call order
			for _, arg := range in.popArgs(argCount) {
				in.push(arg)
			}
		}
		chunkName := stlChunkPrefix + name
		chunk := in.loadChunk(chunkName)
		in.frame.IP++
		in.pushFrame(&CallFrame{
			IP:         chunk.headerLen,
			Chunk:      chunkName,
			StackStart: len(in.stack) - argCount,
			ArgLen:     argCount,
			Closure: &Closure{Callable: &Callable{
				Type: CallableLocal, Name: name, ArgCount: argCount, IP: chunk.headerLen, Chunk: chunkName,
			}},
		})
		return true, true
	}

	return false, false
}

// functionError keeps classified errors from functions and wraps the rest.
func functionError(name string, err error) error {
	if KindOf(err) != KindInternal {
		return err
	}
	return &VMError{Kind: KindHostFunction, Message: fmt.Sprintf("Function %s failed", name), Err: err}
}

// asErrorValue accepts an ErrorValue or a mapping shaped like one.
func asErrorValue(v Value) (*ErrorValue, bool) {
	switch x := v.(type) {
	case *ErrorValue:
		return x, true
	case *Mapping:
		if flag, ok := x.GetString("__hogError__"); !ok || !Truthy(flag) {
			return nil, false
		}
		typ, _ := x.GetString("type")
		msg, _ := x.GetString("message")
		payload, _ := x.GetString("payload")
		t := "Error"
		if s, ok := typ.(String); ok && s != "" {
			t = string(s)
		}
		return NewError(t, msg, payload), true
	}
	return nil, false
}

// throw executes THROW: unwind to the innermost try frame and jump to its
// catch handler with the thrown value on the stack.
func (in *interpreter) throw() {
	ex := in.pop()
	errValue, ok := asErrorValue(ex)
	if !ok {
		panic(vmErrorf(KindInvalidThrow, "Can not throw: value is not of type Error"))
	}
	for len(in.throwStack) > 0 {
		tf := in.throwStack[len(in.throwStack)-1]
		in.throwStack = in.throwStack[:len(in.throwStack)-1]
		// a try frame left behind by a function that returned from inside
		// its try block no longer matches the call stack
		if tf.CallStackLen == 0 || tf.CallStackLen > len(in.callStack) || tf.StackLen > len(in.stack) {
			continue
		}
		in.upvalues.close(tf.StackLen, in.stack)
		in.truncate(tf.StackLen)
		in.callStack = in.callStack[:tf.CallStackLen]
		in.push(ex)
		in.enterFrame(in.callStack[len(in.callStack)-1])
		in.frame.IP = tf.CatchIP
		return
	}
	panic(&UncaughtError{Type: errValue.Type, Message: errValue.Message, Payload: errValue.Payload})
}
