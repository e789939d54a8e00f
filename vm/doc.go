// Package vm implements the HogVM bytecode interpreter.
//
// This package contains:
//   - the Hog value model (scalars, arrays, tuples, ordered mappings,
//     dates, errors, callables and closures)
//   - value helpers: cost accounting, comparison coercion, nested access
//   - the operation table, disassembler and a bytecode assembler
//   - the interpreter loop with call frames, upvalues and try/throw
//   - the standard library registry (native and bytecode-backed functions)
//
// A program is a set of named chunks. Each chunk is a flat token list that
// starts with a version header ("_H", <version>) or the legacy "_h" marker.
// Execution is single-threaded and owns all of its state; run independent
// programs concurrently by calling Execute from separate goroutines.
package vm
