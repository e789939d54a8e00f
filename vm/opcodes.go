package vm

import "fmt"

// Operation is an instruction token. Numbering matches the HogVM bytecode
// format so that compiled programs load unchanged.
type Operation int

const (
	// ========================================================================
	// Globals, calls and logic (1-5)
	// ========================================================================

	OpGetGlobal  Operation = 1 // GET_GLOBAL <chainLen>
	OpCallGlobal Operation = 2 // CALL_GLOBAL <name> <argCount>
	OpAnd        Operation = 3 // AND <n>: pops n, pushes all-truthy
	OpOr         Operation = 4 // OR <n>: pops n, pushes any-truthy
	OpNot        Operation = 5

	// ========================================================================
	// Arithmetic (6-10)
	// ========================================================================

	OpPlus     Operation = 6
	OpMinus    Operation = 7
	OpMultiply Operation = 8
	OpDivide   Operation = 9
	OpMod      Operation = 10

	// ========================================================================
	// Comparison (11-16)
	// ========================================================================

	OpEq    Operation = 11
	OpNotEq Operation = 12
	OpGt    Operation = 13
	OpGtEq  Operation = 14
	OpLt    Operation = 15
	OpLtEq  Operation = 16

	// ========================================================================
	// Pattern and membership (17-28)
	// ========================================================================

	OpLike        Operation = 17
	OpILike       Operation = 18
	OpNotLike     Operation = 19
	OpNotILike    Operation = 20
	OpIn          Operation = 21
	OpNotIn       Operation = 22
	OpRegex       Operation = 23
	OpNotRegex    Operation = 24
	OpIRegex      Operation = 25
	OpNotIRegex   Operation = 26
	OpInCohort    Operation = 27
	OpNotInCohort Operation = 28

	// ========================================================================
	// Constants (29-34)
	// ========================================================================

	OpTrue    Operation = 29
	OpFalse   Operation = 30
	OpNull    Operation = 31
	OpString  Operation = 32 // STRING <value>
	OpInteger Operation = 33 // INTEGER <value>
	OpFloat   Operation = 34 // FLOAT <value>

	// ========================================================================
	// Stack, locals and control flow (35-41)
	// ========================================================================

	OpPop         Operation = 35
	OpGetLocal    Operation = 36 // GET_LOCAL <slot>
	OpSetLocal    Operation = 37 // SET_LOCAL <slot>
	OpReturn      Operation = 38
	OpJump        Operation = 39 // JUMP <offset>
	OpJumpIfFalse Operation = 40 // JUMP_IF_FALSE <offset>
	OpDeclareFn   Operation = 41 // DECLARE_FN <name> <argCount> <bodyLen> (legacy)

	// ========================================================================
	// Containers and properties (42-48)
	// ========================================================================

	OpDict               Operation = 42 // DICT <pairs>
	OpArray              Operation = 43 // ARRAY <n>
	OpTuple              Operation = 44 // TUPLE <n>
	OpGetProperty        Operation = 45
	OpSetProperty        Operation = 46
	OpJumpIfStackNotNull Operation = 47 // JUMP_IF_STACK_NOT_NULL <offset>
	OpGetPropertyNullish Operation = 48

	// ========================================================================
	// Exceptions (49-51)
	// ========================================================================

	OpThrow  Operation = 49
	OpTry    Operation = 50 // TRY <catchOffset>
	OpPopTry Operation = 51

	// ========================================================================
	// Functions and closures (52-57)
	// ========================================================================

	OpCallable     Operation = 52 // CALLABLE <name> <argCount> <upvalueCount> <bodyLen>
	OpClosure      Operation = 53 // CLOSURE <upvalueCount> (<isLocal> <index>)*
	OpCallLocal    Operation = 54 // CALL_LOCAL <argCount>
	OpGetUpvalue   Operation = 55 // GET_UPVALUE <index>
	OpSetUpvalue   Operation = 56 // SET_UPVALUE <index>
	OpCloseUpvalue Operation = 57
)

// OperationInfo provides metadata about each operation for disassembly and
// validation.
type OperationInfo struct {
	Name      string // Human-readable name
	StackPop  int    // How many values popped from stack (-1 = variable)
	StackPush int    // How many values pushed to stack
	Operands  int    // Number of operand tokens following the operation (-1 = variable)
}

var operationInfoTable = map[Operation]OperationInfo{
	OpGetGlobal:  {"GET_GLOBAL", -1, 1, 1},
	OpCallGlobal: {"CALL_GLOBAL", -1, 1, 2},
	OpAnd:        {"AND", -1, 1, 1},
	OpOr:         {"OR", -1, 1, 1},
	OpNot:        {"NOT", 1, 1, 0},

	OpPlus:     {"PLUS", 2, 1, 0},
	OpMinus:    {"MINUS", 2, 1, 0},
	OpMultiply: {"MULTIPLY", 2, 1, 0},
	OpDivide:   {"DIVIDE", 2, 1, 0},
	OpMod:      {"MOD", 2, 1, 0},

	OpEq:    {"EQ", 2, 1, 0},
	OpNotEq: {"NOT_EQ", 2, 1, 0},
	OpGt:    {"GT", 2, 1, 0},
	OpGtEq:  {"GT_EQ", 2, 1, 0},
	OpLt:    {"LT", 2, 1, 0},
	OpLtEq:  {"LT_EQ", 2, 1, 0},

	OpLike:        {"LIKE", 2, 1, 0},
	OpILike:       {"ILIKE", 2, 1, 0},
	OpNotLike:     {"NOT_LIKE", 2, 1, 0},
	OpNotILike:    {"NOT_ILIKE", 2, 1, 0},
	OpIn:          {"IN", 2, 1, 0},
	OpNotIn:       {"NOT_IN", 2, 1, 0},
	OpRegex:       {"REGEX", 2, 1, 0},
	OpNotRegex:    {"NOT_REGEX", 2, 1, 0},
	OpIRegex:      {"IREGEX", 2, 1, 0},
	OpNotIRegex:   {"NOT_IREGEX", 2, 1, 0},
	OpInCohort:    {"IN_COHORT", 2, 1, 0},
	OpNotInCohort: {"NOT_IN_COHORT", 2, 1, 0},

	OpTrue:    {"TRUE", 0, 1, 0},
	OpFalse:   {"FALSE", 0, 1, 0},
	OpNull:    {"NULL", 0, 1, 0},
	OpString:  {"STRING", 0, 1, 1},
	OpInteger: {"INTEGER", 0, 1, 1},
	OpFloat:   {"FLOAT", 0, 1, 1},

	OpPop:         {"POP", 1, 0, 0},
	OpGetLocal:    {"GET_LOCAL", 0, 1, 1},
	OpSetLocal:    {"SET_LOCAL", 1, 0, 1},
	OpReturn:      {"RETURN", 1, 0, 0},
	OpJump:        {"JUMP", 0, 0, 1},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 1, 0, 1},
	OpDeclareFn:   {"DECLARE_FN", 0, 0, 3},

	OpDict:               {"DICT", -1, 1, 1},
	OpArray:              {"ARRAY", -1, 1, 1},
	OpTuple:              {"TUPLE", -1, 1, 1},
	OpGetProperty:        {"GET_PROPERTY", 2, 1, 0},
	OpSetProperty:        {"SET_PROPERTY", 3, 0, 0},
	OpJumpIfStackNotNull: {"JUMP_IF_STACK_NOT_NULL", 0, 0, 1},
	OpGetPropertyNullish: {"GET_PROPERTY_NULLISH", 2, 1, 0},

	OpThrow:  {"THROW", 1, 0, 0},
	OpTry:    {"TRY", 0, 0, 1},
	OpPopTry: {"POP_TRY", 0, 0, 0},

	OpCallable:     {"CALLABLE", 0, 1, 4},
	OpClosure:      {"CLOSURE", 1, 1, -1},
	OpCallLocal:    {"CALL_LOCAL", -1, 1, 1},
	OpGetUpvalue:   {"GET_UPVALUE", 0, 1, 1},
	OpSetUpvalue:   {"SET_UPVALUE", 1, 0, 1},
	OpCloseUpvalue: {"CLOSE_UPVALUE", 1, 0, 0},
}

// GetOperationInfo returns metadata for an operation.
// Returns an OperationInfo named "UNKNOWN(n)" if the operation is not recognized.
func GetOperationInfo(op Operation) OperationInfo {
	if info, ok := operationInfoTable[op]; ok {
		return info
	}
	return OperationInfo{Name: fmt.Sprintf("UNKNOWN(%d)", int(op))}
}

// String returns the human-readable name of an operation.
func (op Operation) String() string {
	return GetOperationInfo(op).Name
}

// Valid reports whether op is a defined operation.
func (op Operation) Valid() bool {
	_, ok := operationInfoTable[op]
	return ok
}

// IsJump returns true if this operation takes a relative jump offset.
func (op Operation) IsJump() bool {
	switch op {
	case OpJump, OpJumpIfFalse, OpJumpIfStackNotNull, OpTry:
		return true
	}
	return false
}

// AllOperations returns every defined operation in numeric order.
func AllOperations() []Operation {
	ops := make([]Operation, 0, len(operationInfoTable))
	for op := OpGetGlobal; op <= OpCloseUpvalue; op++ {
		if op.Valid() {
			ops = append(ops, op)
		}
	}
	return ops
}
