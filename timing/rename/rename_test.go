package rename_test

import (
	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/uarchsim/timing/rename"
)

var _ = Describe("Renamer", func() {
	var r *rename.Renamer

	BeforeEach(func() {
		r = rename.New(8, 16, 4, 16)
	})

	It("renames a source register to the AMT before any write", func() {
		Expect(r.RenameRsrc(3)).To(Equal(rename.PhysReg(3)))
	})

	It("renames a destination register to a fresh physical register", func() {
		pr := r.RenameRdst(1)
		Expect(pr).To(BeNumerically(">=", 8))
		Expect(r.RenameRsrc(1)).To(Equal(pr))
	})

	It("panics renaming logical register 0 as a destination", func() {
		Expect(func() { r.RenameRdst(0) }).To(Panic())
	})

	It("still allows reading logical register 0 as a source", func() {
		Expect(r.RenameRsrc(0)).To(Equal(rename.PhysReg(0)))
	})

	It("stalls when not enough free physical registers remain", func() {
		Expect(r.StallReg(8)).To(BeFalse())
		Expect(r.StallReg(9)).To(BeTrue())
	})

	It("stalls branch dispatch when no GBM bit is free", func() {
		Expect(r.StallBranch(4)).To(BeFalse())
		Expect(r.StallBranch(5)).To(BeTrue())
	})

	It("commits a renamed destination into the AMT and frees the old register", func() {
		pr := r.RenameRdst(2)
		idx := r.DispatchInst(rename.ActiveListEntry{HasDstReg: true, DstLogReg: 2, DstPhysReg: pr})
		r.SetComplete(idx)

		before := r.AMTSnapshot()
		r.Commit()
		after := r.AMTSnapshot()

		Expect(cmp.Diff(before[2], rename.PhysReg(2))).To(BeEmpty())
		Expect(cmp.Diff(after[2], pr)).To(BeEmpty())
	})

	It("rolls back the RMT and GBM on a branch misprediction", func() {
		brPR := r.RenameRdst(1)
		brIdx := r.DispatchInst(rename.ActiveListEntry{Branch: true, HasDstReg: true, DstLogReg: 1, DstPhysReg: brPR})
		brID := r.Checkpoint()

		// Speculatively past the branch: rename r2 again.
		specPR := r.RenameRdst(2)
		Expect(r.RenameRsrc(2)).To(Equal(specPR))

		r.Resolve(brIdx, brID, false)

		// Misprediction recovery restores the pre-branch RMT: logical
		// register 2 falls back to whatever it mapped to before the
		// speculative rename (here, still the AMT default).
		Expect(r.RenameRsrc(2)).To(Equal(rename.PhysReg(2)))
		Expect(r.BranchMask()).To(Equal(uint64(0)))
	})

	It("clears only the resolved branch's GBM bit on a correct prediction", func() {
		brIdx := r.DispatchInst(rename.ActiveListEntry{Branch: true})
		brID := r.Checkpoint()
		Expect(r.BranchMask()).To(Equal(uint64(1) << brID))

		r.Resolve(brIdx, brID, true)
		Expect(r.BranchMask()).To(Equal(uint64(0)))
	})

	It("returns all non-committed physical registers to the free list on squash", func() {
		r.RenameRdst(1)
		r.RenameRdst(2)
		Expect(r.StallReg(8)).To(BeTrue())

		r.Squash()
		Expect(r.StallReg(8)).To(BeFalse())
		Expect(r.RenameRsrc(1)).To(Equal(rename.PhysReg(1)))
	})

	It("panics on commit of an incomplete instruction", func() {
		r.DispatchInst(rename.ActiveListEntry{})
		Expect(func() { r.Commit() }).To(Panic())
	})
})
