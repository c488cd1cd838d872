package fetch

import (
	"github.com/sarchlab/uarchsim/timing/bpred"
	"github.com/sarchlab/uarchsim/timing/circularqueue"
	"github.com/sarchlab/uarchsim/timing/rename"
	"github.com/sarchlab/uarchsim/timing/tracecache"
)

// Config holds the fetch coupler's structural parameters.
type Config struct {
	FetchWidth int
	LineSize   uint64
	Interleave bool // allow a bundle to cross one I$ line boundary
}

// DefaultConfig returns a representative fetch coupler configuration.
func DefaultConfig() Config {
	return Config{FetchWidth: 4, LineSize: 64, Interleave: false}
}

// traceMMUAdapter lets a fetch.MMU serve as the tracecache.MMU the
// trace cache re-fetches instructions through during iteration and
// during fill-slot feeding.
type traceMMUAdapter struct {
	mmu MMU
}

func (a traceMMUAdapter) LoadInsn(pc uint64) (tracecache.Insn, bool) {
	dec := a.mmu.LoadInsn(pc)
	return toTraceInsn(dec), dec.Exception
}

func toTraceInsn(dec Decoded) tracecache.Insn {
	insn := tracecache.Insn{
		IsIndirect: dec.Class == ClassIndirectJump,
		IsAtomic:   dec.Class == ClassAtomic,
		IsSystem:   dec.Class == ClassSystem,
	}
	if dec.Class == ClassCondBranch && dec.Instruction != nil {
		insn.IsCondBranch = true
		insn.BranchOffset = dec.Instruction.BranchOffset
	}
	return insn
}

// NewTraceCacheMMU wraps mmu so it can be passed to tracecache.New.
func NewTraceCacheMMU(mmu MMU) tracecache.MMU {
	return traceMMUAdapter{mmu: mmu}
}

// packPredVec packs a []bool multi-prediction vector into a direction
// bitmask, bit i holding the i-th predicted branch's taken bit.
func packPredVec(vec []bool) uint64 {
	var v uint64
	for i, taken := range vec {
		if taken {
			v |= uint64(1) << uint(i)
		}
	}
	return v
}

// Fetcher is the fetch coupler: each cycle it produces up to
// FetchWidth decoded instructions, pushing them into the payload
// buffer and deciding the next fetch PC.
type Fetcher struct {
	cfg Config

	mmu     MMU
	icache  ICache
	tc      *tracecache.TraceCache
	bp      *bpred.Predictor
	oracle  Oracle
	renamer *rename.Renamer

	payload *circularqueue.Queue[PayloadEntry]

	pc               uint64
	sequence         uint64
	dbIndex          int
	stallUntilCycle  uint64 // 0 means no outstanding I$ miss
	pendingException bool

	stats Stats
}

// NewFetcher creates a Fetcher starting fetch at startPC. renamer
// reserves an Active List slot (and, for a branch-class instruction, a
// GBM checkpoint) for every instruction fetch hands to the payload
// buffer, stalling the bundle when either runs out of room.
func NewFetcher(cfg Config, mmu MMU, icache ICache, tc *tracecache.TraceCache,
	bp *bpred.Predictor, oracle Oracle, renamer *rename.Renamer,
	payloadCapacity int, startPC uint64,
) *Fetcher {
	return &Fetcher{
		cfg:     cfg,
		mmu:     mmu,
		icache:  icache,
		tc:      tc,
		bp:      bp,
		oracle:  oracle,
		renamer: renamer,
		payload: circularqueue.New[PayloadEntry](payloadCapacity),
		pc:      startPC,
	}
}

// Payload returns the pipeline-global payload buffer fetch writes
// into; downstream stages pop from it.
func (f *Fetcher) Payload() *circularqueue.Queue[PayloadEntry] {
	return f.payload
}

// Stats returns a copy of the fetch coupler's accumulated statistics.
func (f *Fetcher) Stats() Stats {
	return f.stats
}

// PC returns the next PC that will be fetched.
func (f *Fetcher) PC() uint64 {
	return f.pc
}

// SetPC redirects fetch, e.g. on a pipeline squash recovering from a
// misprediction or exception.
func (f *Fetcher) SetPC(pc uint64) {
	f.pc = pc
	f.stallUntilCycle = 0
	f.tc.SquashUnfinishedFill()
}

// downstreamStalled reports whether the payload buffer is full, leaving
// no room for another entry this cycle.
func (f *Fetcher) downstreamStalled() bool {
	return f.payload.Full()
}

// Cycle advances the fetch coupler by one cycle.
func (f *Fetcher) Cycle(cycle uint64) {
	f.stats.Cycles++

	if f.downstreamStalled() || (f.stallUntilCycle != 0 && cycle < f.stallUntilCycle) {
		f.stats.Stalls++
		return
	}
	f.stallUntilCycle = 0

	startPC := f.pc
	predVecBits := f.bp.PrepareMultiPredFutureBuf(startPC)
	predVec := packPredVec(predVecBits)

	entry, _ := f.tc.Access(startPC, predVec)

	var it *tracecache.Iterator
	if entry != nil {
		it = f.tc.Iterator(entry)
	} else {
		lineAddr := startPC &^ (f.cfg.LineSize - 1)
		hit, resolveCycle := f.icache.Access(cycle, lineAddr)
		if !hit {
			f.stats.ICacheMisses++
			f.stallUntilCycle = resolveCycle
			return
		}
	}

	oracleVec := make([]bool, 0, f.cfg.FetchWidth)
	firstLine := startPC &^ (f.cfg.LineSize - 1)

	for len(oracleVec) < f.cfg.FetchWidth {
		if f.payload.Full() {
			break
		}

		if f.pendingException {
			f.emitNOP(startPC, true)
			f.tc.SquashUnfinishedFill()
			f.pendingException = false
			break
		}

		pc := f.pc
		if it != nil {
			tpc, _, end := it.Next()
			if end {
				f.stats.ExhaustedTraceStops++
				break
			}
			pc = tpc
		}

		dec := f.mmu.LoadInsn(pc)
		if dec.Exception {
			f.emitNOP(pc, true)
			f.tc.SquashUnfinishedFill()
			break
		}

		alIndex, branchID, hasBranchID, stalled := f.dispatchToRenamer(dec)
		if stalled {
			f.stats.RenameStalls++
			break
		}

		nextPC, taken, predTag := f.decideNextPC(dec)

		f.payload.Push(PayloadEntry{
			Inst:        dec.Instruction,
			PC:          dec.PC,
			NextPC:      nextPC,
			Sequence:    f.sequence,
			PredTag:     predTag,
			DBIndex:     f.dbIndex,
			ALIndex:     alIndex,
			BranchID:    branchID,
			HasBranchID: hasBranchID,
		})
		f.sequence++
		f.dbIndex++
		f.stats.InsnsFetched++
		oracleVec = append(oracleVec, taken)
		f.tc.Feed(pc, toTraceInsn(dec), nextPC, taken)

		f.pc = nextPC

		if nextPC != pc+4 {
			f.stats.TakenStops++
			break
		}
		if dec.Class == ClassSystem || dec.Class == ClassAtomic {
			f.stats.StopInsnStops++
			break
		}
		if it == nil && !f.cfg.Interleave {
			nextLine := nextPC &^ (f.cfg.LineSize - 1)
			if nextLine != firstLine {
				f.stats.LineCrossStops++
				break
			}
		}
	}

	f.stats.BundlesEmitted++
	f.recordAccuracy(oracleVec)
}

// emitNOP pushes a synthetic NOP payload entry carrying a fetch
// exception.
func (f *Fetcher) emitNOP(pc uint64, exception bool) {
	f.payload.Push(PayloadEntry{
		PC:             pc,
		NextPC:         pc + 4,
		Sequence:       f.sequence,
		FetchException: exception,
		DBIndex:        f.dbIndex,
		ALIndex:        -1,
	})
	f.sequence++
	f.dbIndex++
	f.pc = pc + 4
}

// dispatchToRenamer reserves an Active List slot for dec, and a GBM
// checkpoint if dec is branch-class. Reports stalled == true without
// reserving anything if either resource is unavailable this cycle, so
// the caller can stop the bundle and retry dec next cycle. Register
// renaming itself (RenameRsrc/RenameRdst) is a later dispatch-stage
// concern, driven once a downstream consumer of the Active List index
// this reserves exists; see DESIGN.md.
func (f *Fetcher) dispatchToRenamer(dec Decoded) (alIndex int, branchID uint8, hasBranchID bool, stalled bool) {
	isBranch := dec.Class == ClassDirectJump || dec.Class == ClassIndirectJump || dec.Class == ClassCondBranch

	if f.renamer.StallDispatch(1) {
		return 0, 0, false, true
	}
	if isBranch && f.renamer.StallBranch(1) {
		return 0, 0, false, true
	}

	alIndex = f.renamer.DispatchInst(rename.ActiveListEntry{PC: dec.PC, Branch: isBranch})
	if isBranch {
		branchID = f.renamer.Checkpoint()
		hasBranchID = true
	}
	return alIndex, branchID, hasBranchID, false
}

// decideNextPC resolves the next fetch PC for dec, consulting the
// predictor for any instruction whose target isn't immediately known,
// and returns the predicted taken/not-taken bit used for the accuracy
// sample and the predictor tag used to later retire the prediction.
func (f *Fetcher) decideNextPC(dec Decoded) (nextPC uint64, taken bool, predTag int) {
	inst := dec.Instruction
	switch dec.Class {
	case ClassDirectJump:
		return dec.PC + uint64(inst.BranchOffset), true, -1

	case ClassIndirectJump:
		target, tag, _, _ := f.bp.GetPred(dec.PC, false, IsCall(inst), IsReturn(inst), 0)
		return target, true, tag

	case ClassCondBranch:
		compTarget := dec.PC + uint64(inst.BranchOffset)
		valid, next, tag, _, _ := f.bp.GetMultiPredForBranch(dec.PC, true, false, false, compTarget)
		if !valid {
			return dec.PC, false, -1
		}
		f.bp.MultiPredNotifyBranch(dec.PC, false, false)
		return next, next != dec.PC+4, tag

	default:
		return dec.PC + 4, false, -1
	}
}

// recordAccuracy compares the real multi-prediction vector against an
// oracle vector scanned from the reference stream, stopping at the
// first bit position where they disagree.
func (f *Fetcher) recordAccuracy(real []bool) {
	if f.oracle == nil || len(real) == 0 {
		return
	}
	oracleVec := make([]bool, 0, len(real))
	for i := range real {
		dbIdx := f.dbIndex - len(real) + i
		oe, ok := f.oracle.Entry(dbIdx)
		if !ok {
			break
		}
		oracleVec = append(oracleVec, oe.Taken)
	}
	f.bp.RecordBitAccuracy(real[:len(oracleVec)], oracleVec)
}
