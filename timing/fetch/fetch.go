// Package fetch implements the fetch coupler: the per-cycle glue
// between the branch predictor, the trace cache, the L1 instruction
// cache, and the MMU that turns a program counter into a bundle of
// decoded instructions pushed into the pipeline's payload buffer.
package fetch

import (
	"github.com/sarchlab/uarchsim/insts"
)

// UnknownPC is the sentinel PC value produced at the tail of a trace
// whose last instruction is an indirect jump: the consumer resolves it
// through normal prediction rather than the trace's recorded target.
const UnknownPC = ^uint64(0)

// Class classifies a decoded instruction for fetch/next-PC purposes.
type Class uint8

const (
	// ClassOther covers any instruction that doesn't alter control flow.
	ClassOther Class = iota
	// ClassDirectJump is an unconditional jump with a known target (B, BL).
	ClassDirectJump
	// ClassIndirectJump is a jump through a register (BR, BLR, RET).
	ClassIndirectJump
	// ClassCondBranch is a conditional branch (B.cond).
	ClassCondBranch
	// ClassSystem is a system/exception-generating instruction (SVC, HVC, SMC, BRK).
	ClassSystem
	// ClassAtomic is a read-modify-write memory instruction. This ISA
	// subset's decoder does not decode AMO instructions, so Classify
	// never produces this class; the hook is kept so a decoder that
	// later gains AMO support needs no change to this package.
	ClassAtomic
	// ClassNop marks a synthetic no-op substituted for a faulting fetch.
	ClassNop
)

// Classify maps a decoded instruction to its fetch-relevant class.
func Classify(inst *insts.Instruction) Class {
	if inst == nil {
		return ClassNop
	}
	switch {
	case inst.Format == insts.FormatBranchCond:
		return ClassCondBranch
	case inst.Op == insts.OpBR || inst.Op == insts.OpBLR || inst.Op == insts.OpRET:
		return ClassIndirectJump
	case inst.Format == insts.FormatBranch:
		return ClassDirectJump
	case inst.Format == insts.FormatException:
		return ClassSystem
	default:
		return ClassOther
	}
}

// IsCall reports whether inst is a call (link-setting branch), which
// should push a return address onto the predictor's RAS.
func IsCall(inst *insts.Instruction) bool {
	return inst.Op == insts.OpBL || inst.Op == insts.OpBLR
}

// IsReturn reports whether inst is a return, which should be predicted
// by popping the predictor's RAS.
func IsReturn(inst *insts.Instruction) bool {
	return inst.Op == insts.OpRET
}

// Decoded is one fetched-and-classified instruction.
type Decoded struct {
	Instruction *insts.Instruction
	PC          uint64
	Class       Class
	Exception   bool
}

// ByteMemory is the minimal memory access surface the MMU adapter
// needs: fetching raw instruction bytes. It is satisfied by any word-
// addressable backing store, not specifically emu.Memory — this
// package's MMU adapter is deliberately written against a local
// interface rather than the concrete emu.Memory type, since no
// definition of that type exists anywhere in this module to depend on.
type ByteMemory interface {
	Read8(addr uint64) uint8
}

// Faulting is implemented by a ByteMemory that can also report
// instruction-fetch faults (e.g. an unmapped page). A MemoryMMU built
// over a ByteMemory that doesn't implement Faulting never reports a
// fetch exception.
type Faulting interface {
	InsnFault(addr uint64) bool
}

// MMU turns a program counter into a decoded instruction. Faults
// surface as a decoded NOP with Exception set, never as a Go error
// propagated past fetch.
type MMU interface {
	LoadInsn(pc uint64) Decoded
}

// MemoryMMU adapts a ByteMemory and an insts.Decoder into an MMU. It
// composes two things the rest of this module already owns (raw
// memory access and ARM64 decode) rather than introducing a new
// decoding subsystem of its own.
type MemoryMMU struct {
	mem ByteMemory
	dec *insts.Decoder
}

// NewMemoryMMU creates a MemoryMMU over mem, decoding with dec.
func NewMemoryMMU(mem ByteMemory, dec *insts.Decoder) *MemoryMMU {
	return &MemoryMMU{mem: mem, dec: dec}
}

// LoadInsn fetches and decodes the instruction word at pc.
func (m *MemoryMMU) LoadInsn(pc uint64) Decoded {
	if f, ok := m.mem.(Faulting); ok && f.InsnFault(pc) {
		return Decoded{PC: pc, Class: ClassNop, Exception: true}
	}

	word := uint32(m.mem.Read8(pc)) |
		uint32(m.mem.Read8(pc+1))<<8 |
		uint32(m.mem.Read8(pc+2))<<16 |
		uint32(m.mem.Read8(pc+3))<<24

	inst := m.dec.Decode(word)
	return Decoded{Instruction: inst, PC: pc, Class: Classify(inst)}
}

// ICache is the L1 instruction cache interface the fetch coupler
// consults on a trace-cache miss.
type ICache interface {
	// Access looks up lineAddr, returning whether it hit and the cycle
	// at which the line becomes available. The fetch coupler reads that
	// cycle only on a miss.
	Access(cycle uint64, lineAddr uint64) (hit bool, resolveCycle uint64)
}

// PayloadEntry is one entry pushed into the pipeline-global payload
// buffer by fetch.
type PayloadEntry struct {
	Inst           *insts.Instruction
	PC             uint64
	NextPC         uint64
	Sequence       uint64
	PredTag        int
	FetchException bool
	DBIndex        int

	// ALIndex is this instruction's reserved Active List slot, or -1 if
	// it was never dispatched to the renamer (e.g. a synthetic NOP).
	ALIndex int
	// BranchID is the GBM checkpoint ID for a branch-class instruction;
	// HasBranchID reports whether one was allocated.
	BranchID    uint8
	HasBranchID bool
}

// OracleEntry is one entry of the reference functional stream, used to
// seed the perfect-prediction accuracy sample. This package does not
// implement ISA semantics (Non-goal); Oracle is satisfied by a
// caller-supplied stepper over whatever reference simulator is used.
type OracleEntry struct {
	PC     uint64
	NextPC uint64
	Taken  bool
}

// Oracle supplies the reference instruction at db index idx for
// accuracy sampling and advances past the simulated stream.
type Oracle interface {
	Entry(dbIndex int) (OracleEntry, bool)
}

// Stats accumulates fetch-coupler diagnostic counters.
type Stats struct {
	Cycles              uint64
	Stalls              uint64
	ICacheMisses        uint64
	InsnsFetched        uint64
	BundlesEmitted      uint64
	TakenStops          uint64
	LineCrossStops      uint64
	ExhaustedTraceStops uint64
	StopInsnStops       uint64
	RenameStalls        uint64
}
