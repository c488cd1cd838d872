package fetch_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/uarchsim/insts"
	"github.com/sarchlab/uarchsim/timing/bpred"
	"github.com/sarchlab/uarchsim/timing/fetch"
	"github.com/sarchlab/uarchsim/timing/rename"
	"github.com/sarchlab/uarchsim/timing/tracecache"
)

// straightLineMMU decodes every PC as a plain non-control-flow
// instruction, except for addresses registered as exceptional.
type straightLineMMU struct {
	faulting map[uint64]bool
}

func (m straightLineMMU) LoadInsn(pc uint64) fetch.Decoded {
	if m.faulting[pc] {
		return fetch.Decoded{PC: pc, Class: fetch.ClassNop, Exception: true}
	}
	return fetch.Decoded{
		Instruction: &insts.Instruction{Format: insts.FormatDPImm},
		PC:          pc,
		Class:       fetch.ClassOther,
	}
}

type alwaysHitICache struct{}

func (alwaysHitICache) Access(cycle uint64, lineAddr uint64) (bool, uint64) {
	return true, cycle
}

type missOnceICache struct {
	missed bool
}

func (m *missOnceICache) Access(cycle uint64, lineAddr uint64) (bool, uint64) {
	if !m.missed {
		m.missed = true
		return false, cycle + 10
	}
	return true, cycle
}

func newFetcher(mmu fetch.MMU, ic fetch.ICache, startPC uint64) *fetch.Fetcher {
	bp := bpred.New(bpred.DefaultConfig())
	tcMMU := fetch.NewTraceCacheMMU(mmu)
	cfg := tracecache.DefaultConfig()
	cfg.Enabled = false // exercise the MMU-driven path directly in these tests
	tc := tracecache.New(cfg, tcMMU)
	r := rename.New(32, 128, 8, 32)
	return fetch.NewFetcher(fetch.DefaultConfig(), mmu, ic, tc, bp, nil, r, 16, startPC)
}

var _ = Describe("Fetcher", func() {
	It("fetches a straight-line bundle up to the configured fetch width", func() {
		mmu := straightLineMMU{}
		f := newFetcher(mmu, alwaysHitICache{}, 0x1000)

		f.Cycle(0)

		stats := f.Stats()
		Expect(stats.InsnsFetched).To(Equal(uint64(fetch.DefaultConfig().FetchWidth)))
		Expect(f.PC()).To(Equal(uint64(0x1000 + 4*fetch.DefaultConfig().FetchWidth)))
	})

	It("stalls while an I$ miss is outstanding and resumes once it resolves", func() {
		mmu := straightLineMMU{}
		ic := &missOnceICache{}
		f := newFetcher(mmu, ic, 0x2000)

		f.Cycle(0)
		Expect(f.Stats().ICacheMisses).To(Equal(uint64(1)))
		Expect(f.Stats().InsnsFetched).To(Equal(uint64(0)))

		f.Cycle(5)
		Expect(f.Stats().Stalls).To(Equal(uint64(1)))
		Expect(f.Stats().InsnsFetched).To(Equal(uint64(0)))

		f.Cycle(10)
		Expect(f.Stats().InsnsFetched).To(BeNumerically(">", uint64(0)))
	})

	It("emits a NOP payload entry and stops the bundle on a fetch exception", func() {
		mmu := straightLineMMU{faulting: map[uint64]bool{0x3008: true}}
		f := newFetcher(mmu, alwaysHitICache{}, 0x3000)

		f.Cycle(0)

		Expect(f.PC()).To(Equal(uint64(0x300c)))
		Expect(f.Payload().Size()).To(BeNumerically(">", 0))

		var sawException bool
		for i := 0; i < f.Payload().Size(); i++ {
			if f.Payload().At(i).FetchException {
				sawException = true
			}
		}
		Expect(sawException).To(BeTrue())
	})

	It("resolves a direct jump to its statically known target", func() {
		mmu := directJumpMMU{jumpPC: 0x4004, target: 0x5000}
		f := newFetcher(mmu, alwaysHitICache{}, 0x4000)

		f.Cycle(0)

		Expect(f.PC()).To(Equal(uint64(0x5000)))
	})
})

type directJumpMMU struct {
	jumpPC uint64
	target int64
}

func (m directJumpMMU) LoadInsn(pc uint64) fetch.Decoded {
	if pc == m.jumpPC {
		return fetch.Decoded{
			Instruction: &insts.Instruction{Format: insts.FormatBranch, BranchOffset: m.target - int64(pc)},
			PC:          pc,
			Class:       fetch.ClassDirectJump,
		}
	}
	return fetch.Decoded{
		Instruction: &insts.Instruction{Format: insts.FormatDPImm},
		PC:          pc,
		Class:       fetch.ClassOther,
	}
}
