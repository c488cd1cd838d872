package circularqueue_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/uarchsim/timing/circularqueue"
)

var _ = Describe("Queue", func() {
	var q *circularqueue.Queue[int]

	BeforeEach(func() {
		q = circularqueue.New[int](4)
	})

	It("starts empty", func() {
		Expect(q.Empty()).To(BeTrue())
		Expect(q.Size()).To(Equal(0))
		Expect(q.Available()).To(Equal(4))
	})

	It("pushes and pops in FIFO order", func() {
		q.Push(10)
		q.Push(20)
		Expect(q.Pop()).To(Equal(10))
		Expect(q.Pop()).To(Equal(20))
		Expect(q.Empty()).To(BeTrue())
	})

	It("reports full once capacity is reached", func() {
		for i := 0; i < 4; i++ {
			q.Push(i)
		}
		Expect(q.Full()).To(BeTrue())
		Expect(q.Available()).To(Equal(0))
	})

	It("panics on overflow", func() {
		for i := 0; i < 4; i++ {
			q.Push(i)
		}
		Expect(func() { q.Push(99) }).To(Panic())
	})

	It("panics on underflow", func() {
		Expect(func() { q.Pop() }).To(Panic())
	})

	It("wraps indices around capacity", func() {
		q.Push(1)
		q.Push(2)
		q.Pop()
		q.Push(3)
		q.Push(4)
		idx := q.Push(5) // wraps to buffer slot 0
		Expect(idx).To(Equal(0))
	})

	It("drops newer entries via DropNewer", func() {
		q.Push(1)
		pos := q.Push(2)
		q.Push(3)
		q.DropNewer(pos)
		Expect(q.Size()).To(Equal(2))
		Expect(q.At(pos)).To(Equal(2))
	})

	It("restores the head index without shrinking", func() {
		q.Push(1)
		q.Push(2)
		head := q.HeadIdx()
		q.Pop()
		q.RestoreHeadIdx(head)
		Expect(q.Size()).To(Equal(2))
	})

	It("panics if RestoreHeadIdx would shrink the queue", func() {
		for i := 0; i < 4; i++ {
			q.Push(i)
		}
		Expect(func() { q.RestoreHeadIdx(2) }).To(Panic())
	})

	It("resets to empty without touching capacity", func() {
		q.Push(1)
		q.Push(2)
		q.Reset()
		Expect(q.Empty()).To(BeTrue())
		Expect(q.Capacity()).To(Equal(4))
	})

	It("panics on out-of-range At", func() {
		q.Push(1)
		Expect(func() { q.At(3) }).To(Panic())
	})
})
