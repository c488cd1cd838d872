package bitmap_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/uarchsim/timing/bitmap"
)

var _ = Describe("Bitmap", func() {
	var bm *bitmap.Bitmap

	BeforeEach(func() {
		bm = bitmap.New(8)
	})

	It("starts fully available", func() {
		Expect(bm.Avail()).To(Equal(uint8(8)))
		Expect(bm.Bits()).To(Equal(uint64(0)))
	})

	It("decrements avail only on a 0->1 transition", func() {
		bm.Set(3)
		Expect(bm.Avail()).To(Equal(uint8(7)))
		bm.Set(3)
		Expect(bm.Avail()).To(Equal(uint8(7)))
	})

	It("increments avail only on a 1->0 transition", func() {
		bm.Set(3)
		bm.Unset(3)
		Expect(bm.Avail()).To(Equal(uint8(8)))
		bm.Unset(3)
		Expect(bm.Avail()).To(Equal(uint8(8)))
	})

	It("finds the first free position", func() {
		bm.Set(0)
		bm.Set(1)
		Expect(bm.FirstFreePos(0)).To(Equal(uint8(2)))
	})

	It("finds the first set position", func() {
		bm.Set(5)
		Expect(bm.FirstSetPos(0)).To(Equal(uint8(5)))
	})

	It("returns Len() when no free bit exists", func() {
		for i := uint8(0); i < 8; i++ {
			bm.Set(i)
		}
		Expect(bm.FirstFreePos(0)).To(Equal(uint8(8)))
	})

	It("clears all bits and restores avail", func() {
		bm.Set(0)
		bm.Set(1)
		bm.Clear()
		Expect(bm.Bits()).To(Equal(uint64(0)))
		Expect(bm.Avail()).To(Equal(uint8(8)))
	})

	It("panics on out-of-range position", func() {
		Expect(func() { bm.Set(8) }).To(Panic())
	})

	It("panics when created with width > 64", func() {
		Expect(func() { bitmap.New(65) }).To(Panic())
	})
})
