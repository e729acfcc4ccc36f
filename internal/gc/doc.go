// Package gc implements the conservative mark-sweep collector the runtime
// allocates from.
//
// Memory lives in a simulated address space: every allocation is a block
// identified by its base Address, 8-byte aligned and zero-initialized.
// Each block carries a Kind. The kind decides how the mark phase scans it:
//
//   - PtrFree blocks are never scanned.
//   - Normal blocks are scanned conservatively, word by word.
//   - Kinds created with NewKind delegate to a MarkProc, which reports the
//     words it considers references through a MarkStack.
//
// Every pushed word goes through a plausibility check: values outside the
// heap's address range or not inside a live block are ignored, interior
// pointers resolve to the containing block.
//
// A single heap mutex is held for the duration of every allocation, memory
// access and collection, so a collection always runs with the world stopped.
package gc
