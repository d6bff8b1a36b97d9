package mux_test

import (
	"github.com/ydb-platform/rc-manager/internal/mux"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("And", func() {
	It("should return true only if all filters return true", func() {
		isEven := func(n int) bool { return n%2 == 0 }
		isDivisibleBy3 := func(n int) bool { return n%3 == 0 }

		combined := mux.And(isEven, isDivisibleBy3)

		Expect(combined(2)).To(BeFalse())
		Expect(combined(3)).To(BeFalse())
		Expect(combined(6)).To(BeTrue())
	})

	It("should return true when no filters provided", func() {
		Expect(mux.And[int]()(42)).To(BeTrue())
	})
})

var _ = Describe("HasPrefix", func() {
	type entry struct{ name string }
	name := func(e entry) string { return e.name }

	It("should match on the derived key", func() {
		lirc := mux.HasPrefix(name, "lirc")

		Expect(lirc(entry{"lirc0"})).To(BeTrue())
		Expect(lirc(entry{"lirc12"})).To(BeTrue())
		Expect(lirc(entry{"event3"})).To(BeFalse())
		Expect(lirc(entry{""})).To(BeFalse())
	})

	It("should compose with NonEmpty", func() {
		f := mux.And(mux.NonEmpty(name), mux.HasPrefix(name, ""))

		Expect(f(entry{""})).To(BeFalse())
		Expect(f(entry{"lirc0"})).To(BeTrue())
		Expect(f(entry{"null"})).To(BeTrue())
	})
})
