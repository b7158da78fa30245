package settlement

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParticipantSet", func() {
	var set ParticipantSet

	BeforeEach(func() {
		set = NewParticipantSet(3, 1)
	})

	Describe("Toggle", func() {
		It("should add an absent participant", func() {
			Expect(set.Toggle(2)).To(BeTrue())
			Expect(set.Has(2)).To(BeTrue())
		})

		It("should remove a present participant", func() {
			Expect(set.Toggle(3)).To(BeFalse())
			Expect(set.Has(3)).To(BeFalse())
			Expect(set.Len()).To(Equal(1))
		})
	})

	Describe("IDs", func() {
		It("should return members in ascending order", func() {
			set.Add(2)
			Expect(set.IDs()).To(Equal([]int{1, 2, 3}))
		})
	})

	When("the set is nil", func() {
		It("should read as empty", func() {
			var empty ParticipantSet
			Expect(empty.Has(1)).To(BeFalse())
			Expect(empty.Len()).To(BeZero())
			Expect(empty.IDs()).To(BeEmpty())
		})
	})

	Describe("JSON", func() {
		It("should encode as a sorted array", func() {
			data, err := json.Marshal(set)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("[1,3]"))
		})

		It("should encode an empty set as an empty array", func() {
			data, err := json.Marshal(Item{ID: 1, Name: "Tea"})
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`"assigned_to":[]`))
		})

		It("should decode an array and drop duplicates", func() {
			var decoded ParticipantSet
			Expect(json.Unmarshal([]byte("[2,2,5]"), &decoded)).To(Succeed())
			Expect(decoded.IDs()).To(Equal([]int{2, 5}))
		})

		It("should reject a non-array", func() {
			var decoded ParticipantSet
			Expect(json.Unmarshal([]byte(`{"a":1}`), &decoded)).NotTo(Succeed())
		})
	})
})
