package analysis

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("extractInvoiceJSON", func() {
	var (
		input   string
		invoice *InvoiceAnalysis
		raw     json.RawMessage
		err     error
	)

	JustBeforeEach(func() {
		invoice, raw, err = extractInvoiceJSON(input)
	})

	When("parsing a bare JSON object", func() {
		BeforeEach(func() {
			input = `{"totalAmount": 42.50, "currency": "USD", "date": "2025-03-14", "merchantName": "CVS Pharmacy", "location": "Portland, OR"}`
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should parse every field", func() {
			Expect(invoice.TotalAmount).To(Equal(42.50))
			Expect(invoice.Currency).To(Equal("USD"))
			Expect(invoice.Date).To(Equal("2025-03-14"))
			Expect(invoice.MerchantName).To(Equal("CVS Pharmacy"))
			Expect(invoice.Location).To(Equal("Portland, OR"))
		})

		It("should return the cleaned JSON for audit", func() {
			Expect(json.Valid(raw)).To(BeTrue())
		})
	})

	When("the object is wrapped in a code fence", func() {
		BeforeEach(func() {
			input = "```json\n{\"totalAmount\": 10.50, \"currency\": \"EUR\"}\n```"
		})

		It("should strip the fence and parse", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(invoice.TotalAmount).To(Equal(10.50))
			Expect(invoice.Currency).To(Equal("EUR"))
		})
	})

	When("the object is surrounded by prose", func() {
		BeforeEach(func() {
			input = "Here is the extraction you asked for:\n{\"totalAmount\": 5, \"currency\": \"USD\"}\nLet me know if you need anything else."
		})

		It("should parse just the object", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(invoice.TotalAmount).To(Equal(5.0))
		})
	})

	When("a string value contains a raw control character", func() {
		BeforeEach(func() {
			input = "{\"totalAmount\": 12.30, \"currency\": \"USD\", \"merchantName\": \"Corner\x00Store\"}"
		})

		It("should parse after stripping control characters", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(invoice.MerchantName).To(Equal("CornerStore"))
		})
	})

	When("totalAmount is a decorated string", func() {
		BeforeEach(func() {
			input = `{"totalAmount": "$1,042.50", "currency": "USD"}`
		})

		It("should coerce it to a number", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(invoice.TotalAmount).To(Equal(1042.50))
		})
	})

	When("totalAmount is null", func() {
		BeforeEach(func() {
			input = `{"totalAmount": null, "currency": "USD"}`
		})

		It("should treat it as zero", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(invoice.TotalAmount).To(BeZero())
		})
	})

	When("there is no JSON object at all", func() {
		BeforeEach(func() {
			input = "I could not read this receipt."
		})

		It("should return an error", func() {
			Expect(err).To(HaveOccurred())
			Expect(invoice).To(BeNil())
		})
	})

	When("the object stays malformed after control-character stripping", func() {
		BeforeEach(func() {
			input = `{"totalAmount": 42.50, "currency": "USD",}`
		})

		It("should return an error", func() {
			Expect(err).To(HaveOccurred())
		})
	})
})
