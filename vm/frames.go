package vm

// CallFrame is one activation on the call stack.
type CallFrame struct {
	IP         int      // index of the token being executed
	Chunk      string   // chunk holding the code
	StackStart int      // operand stack index of local slot 0
	ArgLen     int      // number of arguments passed in
	Closure    *Closure // function being executed
}

// ThrowFrame records the state to restore when a THROW unwinds to the
// matching TRY.
type ThrowFrame struct {
	CallStackLen int
	StackLen     int
	CatchIP      int
}

// declaredFunction is a legacy DECLARE_FN entry.
type declaredFunction struct {
	IP     int
	ArgLen int
	Chunk  string
}
