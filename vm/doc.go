// Package vm executes the bytecode stored in functions and states.
//
// This package contains:
//   - the opcode table, decoder, disassembler and assembler
//   - Frame activations and the Interpreter loop
//   - the native function table and the built-in natives
//   - latent suspension and the tick Scheduler for state code
//   - script faults, native boundaries and debugger introspection
//
// Scripts are token trees stored in prefix order: a token's operands follow
// it directly and its sub-expressions follow the operands. Jump targets are
// offsets from the start of the script. Names and object references are
// local to the package that owns the script.
package vm
