// Package tracecache implements a set-associative trace cache: fetch
// bundles of dynamically-contiguous instructions (spanning taken
// branches) are cached keyed by starting PC and predicted branch
// direction vector, filled non-blockingly as instructions retire from
// fetch, and replayed instruction-by-instruction on a later hit.
package tracecache

import (
	"github.com/rs/xid"
)

// TerminateHeuristic selects when a fill stops early even though the
// trace hasn't hit its branch/instruction caps.
type TerminateHeuristic uint8

const (
	// None never terminates a fill early.
	None TerminateHeuristic = iota
	// BackwardBranch terminates a fill after a conditional branch with
	// a negative (backward) offset, since loops rarely benefit from
	// tracing past their own back-edge.
	BackwardBranch
)

// Config holds the trace cache's structural parameters.
type Config struct {
	Enabled bool

	MaxBranches int // M: max branches recorded per trace
	MaxInsns    int // N: max instructions recorded per trace

	NSets int
	NWays int

	MaxOngoingFill int
	NonBlockFill   bool
	IndexWithPred  bool
	Terminate      TerminateHeuristic
}

// DefaultConfig returns a representative trace cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		MaxBranches:    3,
		MaxInsns:       16,
		NSets:          64,
		NWays:          4,
		MaxOngoingFill: 4,
		NonBlockFill:   true,
		IndexWithPred:  false,
		Terminate:      BackwardBranch,
	}
}

// Entry is one trace-cache line.
type Entry struct {
	StartPC        uint64
	NumInsn        int
	NumBr          int
	BrDirectionVec uint64
	FallThruAddr   uint64
	TargetAddr     uint64
	EndWithBr      bool
	Valid          bool
	Filling        bool

	lruCnt  int
	fillTag string
}

// Fill is one pending (non-blocking) fill record.
type Fill struct {
	Way int
	Set int
	Tag string // opaque correlation tag, not load-bearing for any invariant
}

// Stats accumulates diagnostic counters.
type Stats struct {
	Accesses     uint64
	Hits         uint64
	Fills        uint64
	FillSuccess  uint64
	totalHitLen  uint64
	hitLenSample uint64
}

// AvgHitTraceLength returns the mean instruction count of hit traces.
func (s Stats) AvgHitTraceLength() float64 {
	if s.hitLenSample == 0 {
		return 0
	}
	return float64(s.totalHitLen) / float64(s.hitLenSample)
}

// MMU loads and decodes one instruction for trace iteration and for
// the fetch coupler's miss path.
type MMU interface {
	LoadInsn(pc uint64) (insn Insn, fault bool)
}

// Insn is the minimal instruction shape the trace cache needs: enough
// to classify control flow and compute fall-through/target addresses.
// Concrete instruction decoding lives in the insts package; the fetch
// coupler adapts insts.Instruction into this shape.
type Insn struct {
	IsCondBranch bool
	IsIndirect   bool
	IsAtomic     bool
	IsSystem     bool
	BranchOffset int64 // signed, relative to PC
}

// TraceCache is a set-associative, non-blocking-fill trace cache.
type TraceCache struct {
	cfg Config
	mmu MMU

	storage [][]Entry // storage[set][way]

	pending []Fill

	stats Stats
}

// New creates a TraceCache from cfg, using mmu to re-fetch
// instructions for trace iteration.
func New(cfg Config, mmu MMU) *TraceCache {
	tc := &TraceCache{cfg: cfg, mmu: mmu}
	tc.storage = make([][]Entry, cfg.NSets)
	for s := range tc.storage {
		tc.storage[s] = make([]Entry, cfg.NWays)
		for w := range tc.storage[s] {
			tc.storage[s][w].lruCnt = w
		}
	}
	return tc
}

// Stats returns a copy of the trace cache's accumulated statistics.
func (tc *TraceCache) Stats() Stats {
	return tc.stats
}

func (tc *TraceCache) calcIndex(pc uint64, predVec uint64) int {
	idx := pc % uint64(tc.cfg.NSets)
	if tc.cfg.IndexWithPred {
		idx ^= predVec % uint64(tc.cfg.NSets)
	}
	return int(idx % uint64(tc.cfg.NSets))
}

// matchBrDirection reports whether predVec and actualDir agree on the
// meaningful bits of a numBr-bit direction vector. When endWithBr is
// true, the trace's last recorded branch has a direction that was only
// resolved after this line's fetch decided its own next-PC, so that
// bit is excluded from the match.
func matchBrDirection(predVec, actualDir uint64, numBr int, endWithBr bool) bool {
	if numBr == 0 {
		return true
	}
	mask := uint64(1)<<uint(numBr) - 1
	if endWithBr {
		mask &^= uint64(1) << uint(numBr-1)
	}
	return predVec&mask == actualDir&mask
}

// Access looks up the trace cache for a line starting at pc whose
// recorded branch directions match predVec. Returns nil on a disabled
// cache, a miss with no fill started, or a miss that could not start a
// fill (blocking-fill-in-progress or fill slots saturated); in the
// last two cases the returned bool distinguishes "no line, no new
// fill attempted" from "started a fill".
func (tc *TraceCache) Access(pc uint64, predVec uint64) (entry *Entry, startedFill bool) {
	if !tc.cfg.Enabled {
		return nil, false
	}
	tc.stats.Accesses++

	set := tc.calcIndex(pc, predVec)
	ways := tc.storage[set]

	for w := range ways {
		e := &ways[w]
		if !e.Valid || e.Filling {
			continue
		}
		if e.StartPC == pc && matchBrDirection(predVec, e.BrDirectionVec, e.NumBr, e.EndWithBr) {
			tc.touchLRU(set, w)
			tc.stats.Hits++
			tc.stats.totalHitLen += uint64(e.NumInsn)
			tc.stats.hitLenSample++
			return e, false
		}
	}

	// Miss.
	if !tc.cfg.NonBlockFill && len(tc.pending) > 0 {
		return nil, false
	}
	if len(tc.pending) >= tc.cfg.MaxOngoingFill {
		return nil, false
	}

	way := tc.lruWay(set)
	e := &tc.storage[set][way]
	*e = Entry{StartPC: pc, Filling: true, lruCnt: e.lruCnt, fillTag: xid.New().String()}
	tc.touchLRU(set, way)
	tc.pending = append(tc.pending, Fill{Way: way, Set: set, Tag: e.fillTag})
	tc.stats.Fills++

	return nil, true
}

func (tc *TraceCache) touchLRU(set, hitWay int) {
	ways := tc.storage[set]
	hitCnt := ways[hitWay].lruCnt
	for w := range ways {
		switch {
		case w == hitWay:
			ways[w].lruCnt = 0
		case ways[w].lruCnt < hitCnt:
			ways[w].lruCnt++
		}
	}
}

func (tc *TraceCache) lruWay(set int) int {
	ways := tc.storage[set]
	victim := 0
	for w := range ways {
		if ways[w].lruCnt > ways[victim].lruCnt {
			victim = w
		}
	}
	return victim
}

// Feed is called once per fetched instruction, feeding it into every
// currently pending fill. brTaken is the real outcome of insn if it is
// a conditional branch.
func (tc *TraceCache) Feed(pc uint64, insn Insn, nextPC uint64, brTaken bool) {
	remaining := tc.pending[:0]
	for _, f := range tc.pending {
		e := &tc.storage[f.Set][f.Way]
		if e.fillTag != f.Tag || !e.Filling {
			continue
		}

		if insn.IsCondBranch {
			if e.NumBr == tc.cfg.MaxBranches {
				tc.fillSlotTerminate(e)
				continue
			}
			if brTaken {
				e.BrDirectionVec |= uint64(1) << uint(e.NumBr)
			}
			e.FallThruAddr = pc + 4
			e.TargetAddr = pc + uint64(insn.BranchOffset)
			e.NumInsn++
			e.NumBr++
			e.EndWithBr = true
		} else {
			e.FallThruAddr = nextPC
			e.NumInsn++
			e.EndWithBr = false
		}

		if tc.testTerminateCond(insn, e) || e.NumInsn == tc.cfg.MaxInsns {
			tc.fillSlotTerminate(e)
			continue
		}

		remaining = append(remaining, f)
	}
	tc.pending = remaining
}

func (tc *TraceCache) testTerminateCond(insn Insn, e *Entry) bool {
	if insn.IsIndirect || insn.IsAtomic || insn.IsSystem {
		return true
	}
	if tc.cfg.Terminate == BackwardBranch && insn.IsCondBranch && insn.BranchOffset < 0 {
		return true
	}
	return false
}

func (tc *TraceCache) fillSlotTerminate(e *Entry) {
	e.Valid = true
	e.Filling = false
	tc.stats.FillSuccess++
}

// SquashUnfinishedFill aborts every currently pending fill, e.g. on a
// fetch exception or a priority change that invalidates in-flight
// fill state.
func (tc *TraceCache) SquashUnfinishedFill() {
	for _, f := range tc.pending {
		e := &tc.storage[f.Set][f.Way]
		if e.fillTag == f.Tag {
			e.Valid = false
			e.Filling = false
		}
	}
	tc.pending = nil
}

// Flush invalidates every line and aborts every pending fill.
func (tc *TraceCache) Flush() {
	for s := range tc.storage {
		for w := range tc.storage[s] {
			tc.storage[s][w].Valid = false
			tc.storage[s][w].Filling = false
		}
	}
	tc.pending = nil
}

// Iterator replays the instructions of a hit trace, re-fetching each
// one via the MMU and following the stored direction vector at each
// conditional branch.
type Iterator struct {
	tc      *TraceCache
	entry   *Entry
	nextBr  int
	nextIdx int
	pc      uint64
}

// Iterator returns an instruction iterator over entry, starting at its
// StartPC.
func (tc *TraceCache) Iterator(entry *Entry) *Iterator {
	return &Iterator{tc: tc, entry: entry, pc: entry.StartPC}
}

// UnknownPC is the sentinel returned for a trace whose last
// instruction is an indirect jump: the consumer must resolve the real
// next-PC through normal prediction.
const UnknownPC = ^uint64(0)

// Next returns the next instruction in the trace and its PC, advancing
// the iterator, or reports end() == true once every recorded
// instruction has been replayed.
func (it *Iterator) Next() (pc uint64, insn Insn, end bool) {
	if it.nextIdx >= it.entry.NumInsn {
		return 0, Insn{}, true
	}
	pc = it.pc
	insn, _ = it.tc.mmu.LoadInsn(pc)

	isLast := it.nextIdx == it.entry.NumInsn-1
	switch {
	case insn.IsCondBranch:
		taken := it.entry.BrDirectionVec&(uint64(1)<<uint(it.nextBr)) != 0
		if isLast {
			// Only the trace's own final instruction may consult the
			// entry-level scalars: Feed overwrites TargetAddr/
			// FallThruAddr on every subsequent branch, so they hold
			// this (last) branch's values, not an earlier one's.
			if taken {
				it.pc = it.entry.TargetAddr
			} else {
				it.pc = it.entry.FallThruAddr
			}
		} else if taken {
			it.pc = pc + uint64(insn.BranchOffset)
		} else {
			it.pc = pc + 4
		}
		it.nextBr++
	case isLast && insn.IsIndirect:
		it.pc = UnknownPC
	case isLast:
		it.pc = it.entry.FallThruAddr
	default:
		it.pc = pc + 4
	}

	it.nextIdx++
	return pc, insn, false
}

// NextPC returns the PC the iterator will yield next, or UnknownPC.
func (it *Iterator) NextPC() uint64 {
	return it.pc
}

// End reports whether the iterator has replayed every instruction.
func (it *Iterator) End() bool {
	return it.nextIdx >= it.entry.NumInsn
}
