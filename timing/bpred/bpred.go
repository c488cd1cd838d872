// Package bpred implements a multi-prediction branch predictor: a
// global-history-indexed pattern history table and branch target
// buffer for single predictions, a per-position future-prediction
// table that yields several branch directions ahead of fetch in one
// lookup, a return-address stack, and confidence/false-misprediction
// estimator tables, all fed through a checkpointed in-flight queue
// (CTI queue) so a later verify or fix can replay history correctly.
package bpred

import (
	"fmt"
	"io"

	"github.com/sarchlab/uarchsim/timing/circularqueue"
)

// histBit is the bit set in the global history register on a taken
// branch; histMask keeps the register to its 16-bit width.
const (
	histBit  = uint16(0x8000)
	histMask = uint16(0xffff)
)

// NextHistory folds a branch outcome into the 16-bit global history
// register using a right-shift update: new_hist = (old_hist>>1) |
// (taken ? 0x8000 : 0), masked to the register's width.
func NextHistory(old uint16, taken bool) uint16 {
	next := old >> 1
	if taken {
		next |= histBit
	}
	return next & histMask
}

// automaton is a small hysteresis predictor: a saturating 2-state
// direction bit (pred) with a 1-bit hysteresis counter (hyst), plus a
// tag for conflict detection in a direct-mapped table. The same shape
// also serves as a saturating confidence counter via ConfUpdate.
type automaton struct {
	tag  uint32
	pred uint32
	hyst uint8
}

func newAutomaton(biasedTaken bool) automaton {
	a := automaton{}
	if biasedTaken {
		a.pred = 1
	}
	return a
}

// Update trains the hysteresis bit toward outcome: a confirming
// outcome saturates hyst upward, a disconfirming one decays hyst
// before ever flipping pred.
func (a *automaton) Update(outcome uint32) {
	if outcome == a.pred {
		if a.hyst < 1 {
			a.hyst++
		}
		return
	}
	if a.hyst > 0 {
		a.hyst--
	} else {
		a.pred = outcome
	}
}

// ConfUpdate trains a saturating counter: increments on a confirming
// outcome up to maxValue, and on a disconfirming one either resets to
// zero (useReset) or decrements.
func (a *automaton) ConfUpdate(outcome bool, useReset bool, maxValue uint32) {
	if outcome {
		if a.pred < maxValue {
			a.pred++
		}
		return
	}
	if useReset {
		a.pred = 0
	} else if a.pred > 0 {
		a.pred--
	}
}

// Config holds the predictor's structural parameters.
type Config struct {
	PHTBits     uint8 // log2 of the single-prediction PHT size
	BTBBits     uint8 // log2 of the BTB size
	RASDepth    int   // return-address stack capacity
	MultiDepth  int   // number of future branch directions per fetch (k)
	CTIQueueLen int   // in-flight prediction queue capacity
	ConfMax     uint32
}

// DefaultConfig returns a modestly sized predictor configuration.
func DefaultConfig() Config {
	return Config{
		PHTBits:     12,
		BTBBits:     10,
		RASDepth:    32,
		MultiDepth:  4,
		CTIQueueLen: 64,
		ConfMax:     3,
	}
}

// ctiEntry is one in-flight control-transfer-instruction prediction:
// enough state to replay history (fix_pred) or train tables
// (verify_pred) once the real outcome is known.
type ctiEntry struct {
	pc         uint64
	target     uint64
	taken      bool
	history    uint16
	phtIdx     uint32
	btbIdx     uint32
	isCond     bool
	isCall     bool
	isReturn   bool
	compTarget uint64
	conf       bool
	fm         bool
}

// btbEntry is one branch target buffer slot.
type btbEntry struct {
	valid  bool
	tag    uint32
	target uint64
}

// Predictor is a stateful multi-prediction branch predictor.
type Predictor struct {
	cfg Config

	history uint16

	pht     []automaton
	btb     []btbEntry
	confTab []automaton
	fmTab   []automaton

	multiTab [][]automaton // multiTab[i] predicts the i-th future branch

	ras *rasStack

	cti *circularqueue.Queue[ctiEntry]

	future       []bool
	futureCursor int
	futurePC     uint64
	futureReady  bool

	stats Stats
}

// Stats accumulates diagnostic counters, dumped on demand (never
// automatically) via Stats.Dump.
type Stats struct {
	Predictions        uint64
	Mispredictions     uint64
	CondPredictions    uint64
	CondMispredictions uint64
	RASFlushes         uint64
	ConfCorrect        uint64
	ConfIncorrect      uint64
	NonConfCorrect     uint64
	NonConfIncorrect   uint64
	// BitAccuracy[i] counts how many multi-prediction bits at future
	// position i were observed to match the oracle before the first
	// mismatch in that sample (see fetch.Fetcher's accuracy sampler).
	BitAccuracy []uint64
	BitSamples  []uint64
}

// New creates a Predictor from cfg.
func New(cfg Config) *Predictor {
	p := &Predictor{
		cfg:      cfg,
		pht:      make([]automaton, 1<<cfg.PHTBits),
		btb:      make([]btbEntry, 1<<cfg.BTBBits),
		confTab:  make([]automaton, 1<<cfg.PHTBits),
		fmTab:    make([]automaton, 1<<cfg.PHTBits),
		multiTab: make([][]automaton, cfg.MultiDepth),
		ras:      newRASStack(cfg.RASDepth),
		cti:      circularqueue.New[ctiEntry](cfg.CTIQueueLen),
		future:   make([]bool, cfg.MultiDepth),
		stats:    Stats{BitAccuracy: make([]uint64, cfg.MultiDepth), BitSamples: make([]uint64, cfg.MultiDepth)},
	}
	for i := range p.pht {
		p.pht[i] = newAutomaton(true)
	}
	for i := range p.multiTab {
		p.multiTab[i] = make([]automaton, 1<<cfg.PHTBits)
		for j := range p.multiTab[i] {
			p.multiTab[i][j] = newAutomaton(true)
		}
	}
	return p
}

func (p *Predictor) phtIndex(pc uint64, history uint16) uint32 {
	mask := uint32(len(p.pht) - 1)
	return (uint32(pc>>2) ^ uint32(history)) & mask
}

func (p *Predictor) btbIndex(pc uint64) uint32 {
	mask := uint32(len(p.btb) - 1)
	return uint32(pc>>2) & mask
}

// btbTag returns the full-PC tag stored alongside a BTB entry, used to
// detect index conflicts between PCs that alias to the same row.
func btbTag(pc uint64) uint32 {
	return uint32(pc >> 2)
}

// Stats returns a copy of the predictor's accumulated statistics.
func (p *Predictor) Stats() Stats {
	return p.stats
}

// Dump writes a plain-text statistics report, in the spirit of the
// periodic fetch-cycle stats dump this predictor feeds into. Intended
// to be called by the caller's own periodic diagnostic hook, never
// automatically.
func (s Stats) Dump(w io.Writer) {
	fmt.Fprintf(w, "bpred: predictions=%d mispredictions=%d cond=%d cond_mispredictions=%d ras_flushes=%d\n",
		s.Predictions, s.Mispredictions, s.CondPredictions, s.CondMispredictions, s.RASFlushes)
	for i := range s.BitAccuracy {
		if s.BitSamples[i] == 0 {
			continue
		}
		fmt.Fprintf(w, "  bit[%d] accuracy=%.2f%% (%d/%d)\n", i,
			100*float64(s.BitAccuracy[i])/float64(s.BitSamples[i]), s.BitAccuracy[i], s.BitSamples[i])
	}
}

// GetPred returns a single prediction for one control-transfer
// instruction, training a CTI queue entry tagged with the returned
// handle. Use FixPred/VerifyPred with that tag once the real outcome
// is known.
func (p *Predictor) GetPred(pc uint64, isCond, isCall, isReturn bool, compTarget uint64) (target uint64, tag int, conf, fm bool) {
	p.stats.Predictions++
	if isCond {
		p.stats.CondPredictions++
	}

	idx := p.phtIndex(pc, p.history)
	taken := true
	if isCond {
		taken = p.pht[idx].pred != 0
	}

	var predTarget uint64
	switch {
	case isReturn:
		if a, ok := p.ras.Peek(); ok {
			predTarget = a
		} else {
			predTarget = pc + 4
		}
	case taken:
		bidx := p.btbIndex(pc)
		b := p.btb[bidx]
		if b.valid && b.tag == btbTag(pc) {
			predTarget = b.target
		} else {
			predTarget = pc + 4
		}
	default:
		predTarget = pc + 4
	}

	conf = p.confTab[idx].pred >= p.cfg.ConfMax/2
	fm = p.fmTab[idx].pred >= p.cfg.ConfMax/2

	entry := ctiEntry{
		pc: pc, target: predTarget, taken: taken, history: p.history,
		phtIdx: idx, btbIdx: p.btbIndex(pc), isCond: isCond, isCall: isCall,
		isReturn: isReturn, compTarget: compTarget, conf: conf, fm: fm,
	}
	if isCall {
		p.ras.Push(pc + 4)
	}
	if isReturn {
		p.ras.Pop()
	}
	if isCond {
		p.history = NextHistory(p.history, taken)
	}

	t := p.cti.Push(entry)
	return predTarget, t, conf, fm
}

// PrepareMultiPredFutureBuf runs a compound lookup against the
// multi-prediction tables for pc, populating a k-bit vector where bit
// i encodes the predicted direction of the i-th upcoming branch. It
// is called at most once per fetch cycle; subsequent
// GetMultiPredForBranch calls within the same cycle consume
// successive bits.
func (p *Predictor) PrepareMultiPredFutureBuf(pc uint64) []bool {
	for i := 0; i < p.cfg.MultiDepth; i++ {
		idx := p.phtIndex(pc, p.history) ^ uint32(i)
		p.future[i] = p.multiTab[i][idx&uint32(len(p.multiTab[i])-1)].pred != 0
	}
	p.futureCursor = 0
	p.futurePC = pc
	p.futureReady = true

	out := make([]bool, p.cfg.MultiDepth)
	copy(out, p.future)
	return out
}

// GetMultiPredForBranch consumes the next bit of the prepared future
// buffer for one branch. predValid is false (with nextPC==pc) once the
// buffer is exhausted — the caller must stall that branch and undo its
// fetch.
func (p *Predictor) GetMultiPredForBranch(pc uint64, isCond, isCall, isReturn bool, compTarget uint64) (predValid bool, nextPC uint64, tag int, fm, conf bool) {
	if !p.futureReady || p.futureCursor >= len(p.future) {
		return false, pc, -1, false, false
	}

	taken := p.future[p.futureCursor]
	idx := p.phtIndex(pc, p.history)

	var target uint64
	if isReturn {
		if a, ok := p.ras.Peek(); ok {
			target = a
		} else {
			target = pc + 4
		}
	} else if taken {
		bidx := p.btbIndex(pc)
		b := p.btb[bidx]
		if b.valid && b.tag == btbTag(pc) {
			target = b.target
		} else {
			target = pc + 4
		}
	} else {
		target = pc + 4
	}

	conf = p.confTab[idx].pred >= p.cfg.ConfMax/2
	fm = p.fmTab[idx].pred >= p.cfg.ConfMax/2

	entry := ctiEntry{
		pc: pc, target: target, taken: taken, history: p.history,
		phtIdx: idx, btbIdx: p.btbIndex(pc), isCond: isCond, isCall: isCall,
		isReturn: isReturn, compTarget: compTarget, conf: conf, fm: fm,
	}
	t := p.cti.Push(entry)

	p.stats.Predictions++
	if isCond {
		p.stats.CondPredictions++
	}
	return true, target, t, fm, conf
}

// MultiPredNotifyBranch advances the future buffer's consumed cursor
// and, for calls/returns, updates the return-address stack, after a
// branch using the prepared vector has been fetched.
func (p *Predictor) MultiPredNotifyBranch(pc uint64, isCall, isReturn bool) {
	if p.futureCursor < len(p.future) {
		p.futureCursor++
	}
	if isCall {
		p.ras.Push(pc + 4)
	}
	if isReturn {
		p.ras.Pop()
	}
}

// SetNonConf marks the prediction identified by tag as low-confidence,
// for training the confidence table the same way a low-confidence
// outcome would.
func (p *Predictor) SetNonConf(tag int) {
	e := p.cti.At(tag)
	e.conf = false
	p.cti.Set(tag, e)
}

// FixPred rewinds the global history register to the state recorded
// at the time the tagged prediction was made, combined with the real
// outcome derived from next_pc, undoing every speculative history
// update made after it.
func (p *Predictor) FixPred(tag int, nextPC uint64) {
	e := p.cti.At(tag)
	taken := nextPC != e.pc+4
	p.history = NextHistory(e.history, taken)
}

// VerifyPred retires the tagged prediction: trains the PHT, BTB,
// confidence table, and false-misprediction table against the real
// outcome, and updates RAS-flush statistics if a misprediction
// invalidated an in-flight call/return pair.
func (p *Predictor) VerifyPred(tag int, nextPC uint64, fm bool) {
	e := p.cti.At(tag)
	taken := nextPC != e.pc+4
	mispredicted := taken != e.taken || (taken && nextPC != e.target)

	if e.isCond {
		outcome := uint32(0)
		if taken {
			outcome = 1
		}
		p.pht[e.phtIdx].Update(outcome)
	}
	if taken {
		p.btb[e.btbIdx] = btbEntry{valid: true, tag: btbTag(e.pc), target: nextPC}
	}

	p.confTab[e.phtIdx].ConfUpdate(!mispredicted, true, p.cfg.ConfMax)
	p.fmTab[e.phtIdx].ConfUpdate(fm, false, p.cfg.ConfMax)

	if mispredicted {
		p.stats.Mispredictions++
		if e.isCond {
			p.stats.CondMispredictions++
		}
		if e.conf {
			p.stats.ConfIncorrect++
		} else {
			p.stats.NonConfIncorrect++
		}
	} else {
		if e.conf {
			p.stats.ConfCorrect++
		} else {
			p.stats.NonConfCorrect++
		}
	}
}

// Flush discards every pending (unverified) prediction, e.g. on a
// pipeline squash, without training any table.
func (p *Predictor) Flush() {
	p.cti.Reset()
	p.futureReady = false
	p.futureCursor = 0
}

// FlushRAS empties the return-address stack, e.g. on a pipeline
// squash that can no longer trust in-flight call/return bookkeeping.
func (p *Predictor) FlushRAS() {
	p.ras.Flush()
	p.stats.RASFlushes++
}

// RecordBitAccuracy folds one oracle-comparison sample into the
// per-bit-position accuracy counters, per spec's "stop counting at the
// first mismatch" sampling discipline.
func (p *Predictor) RecordBitAccuracy(real, oracle []bool) {
	for i := 0; i < len(real) && i < len(oracle) && i < len(p.stats.BitAccuracy); i++ {
		p.stats.BitSamples[i]++
		if real[i] != oracle[i] {
			break
		}
		p.stats.BitAccuracy[i]++
	}
}

// UpdateGlobalHistory folds a resolved branch's outcome into the
// global history register unconditionally, for callers that manage
// history outside the GetPred/VerifyPred pairing (e.g. a trace-cache
// hit that skips individual per-instruction predictions).
func (p *Predictor) UpdateGlobalHistory(taken bool) uint16 {
	p.history = NextHistory(p.history, taken)
	return p.history
}

// History returns the current global history register value.
func (p *Predictor) History() uint16 {
	return p.history
}
