// Package rename implements a speculative register renamer: a Rename
// Map Table backed by a physical register file and free list, an
// Active List for in-order retirement, and branch checkpoints (Shadow
// Maps) addressed through a Global Branch Mask so that a mispredicted
// branch can roll the renamer back to the state it had at rename time.
package rename

import (
	"fmt"

	"github.com/sarchlab/uarchsim/timing/bitmap"
	"github.com/sarchlab/uarchsim/timing/circularqueue"
)

// LogReg is a logical (architectural) register number.
type LogReg uint8

// PhysReg is a physical register number.
type PhysReg uint64

// rmtEntry is one Rename Map Table slot: valid=false means the logical
// register's current value lives in the Architectural Map Table (no
// in-flight rename), matching the teacher's AMT/RMT split in
// timing/pipeline's register-file conventions.
type rmtEntry struct {
	valid  bool
	phyReg PhysReg
}

// ActiveListEntry is one in-flight instruction's retirement record.
type ActiveListEntry struct {
	HasDstReg   bool
	DstLogReg   LogReg
	DstPhysReg  PhysReg
	Complete    bool
	Exception   bool
	LoadViolate bool
	BrMispred   bool
	ValMispred  bool
	Load        bool
	Store       bool
	Branch      bool
	Atomic      bool
	CSR         bool
	PC          uint64
}

// checkpoint is the speculative state saved when a branch is renamed:
// a full RMT snapshot, the free list's head position, and the GBM as
// it stood before the branch's own bit was set.
type checkpoint struct {
	savedRMT      []rmtEntry
	savedFreeHead int
	savedGBM      uint64
}

// Renamer is a register renamer with checkpointed branch speculation.
type Renamer struct {
	numLogRegs  int
	numPhysRegs int
	numBranches uint8

	rmt []rmtEntry
	amt []PhysReg

	prf    []uint64
	ready  []bool
	free   *circularqueue.Queue[PhysReg]
	active *circularqueue.Queue[ActiveListEntry]

	gbm         *bitmap.Bitmap
	checkpoints []checkpoint
}

// New creates a Renamer with numLogRegs logical registers, numPhysRegs
// physical registers, numBranches outstanding-branch checkpoints, and
// an active list sized to activeListSize in-flight instructions.
// Panics if numPhysRegs <= numLogRegs, numBranches is outside [1,64],
// or activeListSize <= 0 — these are structural configuration errors,
// not runtime conditions a caller can recover from.
func New(numLogRegs, numPhysRegs int, numBranches uint8, activeListSize int) *Renamer {
	if numPhysRegs <= numLogRegs {
		panic("rename: numPhysRegs must exceed numLogRegs")
	}
	if numBranches < 1 {
		panic("rename: numBranches must be >= 1")
	}
	if activeListSize <= 0 {
		panic("rename: activeListSize must be positive")
	}

	r := &Renamer{
		numLogRegs:  numLogRegs,
		numPhysRegs: numPhysRegs,
		numBranches: numBranches,
		rmt:         make([]rmtEntry, numLogRegs),
		amt:         make([]PhysReg, numLogRegs),
		prf:         make([]uint64, numPhysRegs),
		ready:       make([]bool, numPhysRegs),
		free:        circularqueue.New[PhysReg](numPhysRegs - numLogRegs),
		active:      circularqueue.New[ActiveListEntry](activeListSize),
		gbm:         bitmap.New(numBranches),
		checkpoints: make([]checkpoint, numBranches),
	}

	for i := range r.amt {
		r.amt[i] = PhysReg(i)
	}
	for i := range r.ready {
		r.ready[i] = true
	}
	for i := uint8(0); i < numBranches; i++ {
		r.checkpoints[i] = checkpoint{savedRMT: make([]rmtEntry, numLogRegs)}
	}
	for i := 0; i < numPhysRegs-numLogRegs; i++ {
		r.free.Push(PhysReg(numLogRegs + i))
	}

	return r
}

// ---- Rename stage ----

// StallReg reports whether bundleDst logical destinations can't all be
// given a free physical register this cycle.
func (r *Renamer) StallReg(bundleDst int) bool {
	return r.free.Size() < bundleDst
}

// StallBranch reports whether bundleBranch branches can't all get a
// free checkpoint this cycle.
func (r *Renamer) StallBranch(bundleBranch int) bool {
	return int(r.gbm.Avail()) < bundleBranch
}

// BranchMask returns the current Global Branch Mask.
func (r *Renamer) BranchMask() uint64 {
	return r.gbm.Bits()
}

// RenameRsrc renames a logical source register to its current physical
// register, whether that mapping lives in the RMT (in-flight rename)
// or falls back to the AMT (no pending rename).
func (r *Renamer) RenameRsrc(logReg LogReg) PhysReg {
	r.checkLogReg(logReg)
	if r.rmt[logReg].valid {
		return r.rmt[logReg].phyReg
	}
	return r.amt[logReg]
}

// RenameRdst allocates a fresh physical register for a logical
// destination and installs it in the RMT. Panics if the free list is
// empty — callers must call StallReg first. Panics if logReg is 0:
// the hardwired-zero register is never renamed as a destination.
func (r *Renamer) RenameRdst(logReg LogReg) PhysReg {
	r.checkLogReg(logReg)
	if logReg == 0 {
		panic("rename: cannot rename logical register 0 as a destination")
	}
	pr := r.free.Pop()
	r.rmt[logReg] = rmtEntry{valid: true, phyReg: pr}
	return pr
}

// Checkpoint allocates a GBM bit and saves the RMT, free-list head, and
// prior GBM so a later Resolve can roll back to this point. Returns the
// branch's ID. Panics if no GBM bit is free — callers must call
// StallBranch first.
func (r *Renamer) Checkpoint() uint8 {
	if r.gbm.Avail() == 0 {
		panic("rename: checkpoint with no free GBM bit")
	}
	oldGBM := r.gbm.Bits()
	brID := r.gbm.FirstFreePos(0)
	r.gbm.Set(brID)

	cp := &r.checkpoints[brID]
	cp.savedFreeHead = r.free.HeadIdx()
	cp.savedGBM = oldGBM
	copy(cp.savedRMT, r.rmt)

	return brID
}

// ---- Dispatch stage ----

// StallDispatch reports whether bundleInst instructions can't all find
// room in the Active List this cycle.
func (r *Renamer) StallDispatch(bundleInst int) bool {
	return r.active.Available() < bundleInst
}

// DispatchInst reserves the next Active List slot and returns its
// index. Panics if the Active List is full — callers must call
// StallDispatch first.
func (r *Renamer) DispatchInst(e ActiveListEntry) int {
	e.Complete = false
	e.Exception = false
	e.LoadViolate = false
	e.BrMispred = false
	e.ValMispred = false
	return r.active.Push(e)
}

// ---- Schedule stage ----

// IsReady reports whether physReg's value is ready to be read.
func (r *Renamer) IsReady(physReg PhysReg) bool {
	r.checkPhysReg(physReg)
	return r.ready[physReg]
}

// ClearReady marks physReg as not yet produced.
func (r *Renamer) ClearReady(physReg PhysReg) {
	r.checkPhysReg(physReg)
	r.ready[physReg] = false
}

// SetReady marks physReg's value as produced.
func (r *Renamer) SetReady(physReg PhysReg) {
	r.checkPhysReg(physReg)
	r.ready[physReg] = true
}

// ---- Register read/write ----

// Read returns the value held in physReg.
func (r *Renamer) Read(physReg PhysReg) uint64 {
	r.checkPhysReg(physReg)
	return r.prf[physReg]
}

// Write stores value into physReg.
func (r *Renamer) Write(physReg PhysReg, value uint64) {
	r.checkPhysReg(physReg)
	r.prf[physReg] = value
}

// SetComplete marks the Active List entry at alIndex as complete.
func (r *Renamer) SetComplete(alIndex int) {
	e := r.active.At(alIndex)
	e.Complete = true
	r.active.Set(alIndex, e)
}

// ---- Branch resolution ----

// Resolve handles branch resolution for the branch at alIndex whose
// checkpoint ID is branchID. On a correct prediction, only the
// branch's GBM bit (and its copy in every live checkpoint) is cleared.
// On a misprediction, the entire renamer state speculated past the
// branch is rolled back: the GBM, free-list head, and RMT are restored
// from the branch's checkpoint, and every Active List entry younger
// than alIndex is dropped. The Active List entry's own misprediction
// bit is deliberately left unset: recovery already happened here, so
// there must be no second squash when the branch reaches the head of
// the Active List.
func (r *Renamer) Resolve(alIndex int, branchID uint8, correct bool) {
	if branchID >= r.numBranches {
		panic(fmt.Sprintf("rename: branch ID %d out of range", branchID))
	}
	e := r.active.At(alIndex)
	if !e.Branch {
		panic("rename: resolve called on a non-branch Active List entry")
	}
	if !r.gbm.Test(branchID) {
		panic("rename: resolve called for a branch with no live checkpoint")
	}

	if correct {
		r.gbm.Unset(branchID)
		for id := r.gbm.FirstSetPos(0); id < r.numBranches; id = r.gbm.FirstSetPos(id + 1) {
			r.checkpoints[id].savedGBM &^= uint64(1) << branchID
		}
		return
	}

	cp := &r.checkpoints[branchID]
	r.gbm = bitmap.New(r.numBranches)
	r.gbm.SetMask(cp.savedGBM)
	if r.gbm.Test(branchID) {
		panic("rename: restored GBM still carries the resolved branch's bit")
	}

	r.free.RestoreHeadIdx(cp.savedFreeHead)
	copy(r.rmt, cp.savedRMT)
	r.active.DropNewer(alIndex)
}

// ---- Retire stage ----

// Precommit reports whether the Active List is non-empty and, if so,
// returns the head entry for the caller to inspect before deciding
// whether to commit or squash.
func (r *Renamer) Precommit() (ActiveListEntry, bool) {
	if r.active.Empty() {
		return ActiveListEntry{}, false
	}
	return r.active.At(r.active.HeadIdx()), true
}

// Commit retires the head of the Active List. If it carries a
// destination register, the AMT is updated to the new physical
// register and the register it previously held is returned to the
// free list. Panics if the Active List is empty, or if the head entry
// is not complete or is flagged for an exception or a load violation — it is the
// caller's responsibility to check Precommit's result first.
func (r *Renamer) Commit() {
	if r.active.Empty() {
		panic("rename: commit on empty Active List")
	}
	e := r.active.At(r.active.HeadIdx())
	if !e.Complete {
		panic("rename: commit of an incomplete instruction")
	}
	if e.Exception || e.LoadViolate {
		panic("rename: commit of an instruction flagged for squash")
	}

	if e.HasDstReg {
		if r.rmt[e.DstLogReg].valid && r.rmt[e.DstLogReg].phyReg == e.DstPhysReg {
			r.rmt[e.DstLogReg] = rmtEntry{}
		}
		freed := r.amt[e.DstLogReg]
		r.amt[e.DstLogReg] = e.DstPhysReg
		r.free.Push(freed)
	}

	r.active.Pop()
}

// Squash rolls the renamer all the way back to the last committed
// state, discarding every in-flight instruction: the RMT is cleared
// (all logical registers fall back to the AMT), the Active List is
// emptied, every physical register not held by the AMT returns to the
// free list, and the GBM is cleared.
func (r *Renamer) Squash() {
	for i := range r.rmt {
		r.rmt[i].valid = false
	}
	r.active.Reset()
	r.free.RestoreHeadIdx(r.free.TailIdx())
	r.gbm.Clear()
}

// ---- Unconditional flag setters / getters, not tied to a stage ----

// SetException flags the Active List entry at alIndex for an exception.
func (r *Renamer) SetException(alIndex int) {
	e := r.active.At(alIndex)
	e.Exception = true
	r.active.Set(alIndex, e)
}

// SetLoadViolation flags the Active List entry at alIndex for a load
// ordering violation.
func (r *Renamer) SetLoadViolation(alIndex int) {
	e := r.active.At(alIndex)
	e.LoadViolate = true
	r.active.Set(alIndex, e)
}

// AMTSnapshot returns a copy of the Architectural Map Table, indexed
// by logical register. Intended for tests and checkpoint-style
// diagnostics, not the hot path.
func (r *Renamer) AMTSnapshot() []PhysReg {
	snap := make([]PhysReg, len(r.amt))
	copy(snap, r.amt)
	return snap
}

// SetBranchMisprediction flags the Active List entry at alIndex for a
// branch misprediction handled via deferred (commit-time) recovery.
func (r *Renamer) SetBranchMisprediction(alIndex int) {
	e := r.active.At(alIndex)
	e.BrMispred = true
	r.active.Set(alIndex, e)
}

// SetValueMisprediction flags the Active List entry at alIndex for a
// value misprediction.
func (r *Renamer) SetValueMisprediction(alIndex int) {
	e := r.active.At(alIndex)
	e.ValMispred = true
	r.active.Set(alIndex, e)
}

// Exception reports the exception bit of the Active List entry at alIndex.
func (r *Renamer) Exception(alIndex int) bool {
	return r.active.At(alIndex).Exception
}

func (r *Renamer) checkLogReg(logReg LogReg) {
	if int(logReg) >= r.numLogRegs {
		panic(fmt.Sprintf("rename: logical register %d out of range", logReg))
	}
}

func (r *Renamer) checkPhysReg(physReg PhysReg) {
	if int(physReg) >= r.numPhysRegs {
		panic(fmt.Sprintf("rename: physical register %d out of range", physReg))
	}
}
