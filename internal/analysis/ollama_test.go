package analysis

import (
	"context"
	"encoding/json"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("OllamaExtractor", func() {
	var (
		server    *ghttp.Server
		extractor *OllamaExtractor
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		extractor, err = NewOllamaExtractor(server.URL(), "llama3.1")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("should send the prompt to the chat API and return the response text", func() {
		var captured ollamaChatRequest
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest("POST", "/api/chat"),
			ghttp.VerifyContentType("application/json"),
			func(w http.ResponseWriter, r *http.Request) {
				Expect(json.NewDecoder(r.Body).Decode(&captured)).To(Succeed())
			},
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"message": map[string]string{
					"role":    "assistant",
					"content": `{"totalAmount": 42.50, "currency": "USD"}`,
				},
				"done": true,
			}),
		))

		text, err := extractor.Extract(context.Background(), "Extract fields from: Total: $42.50 USD")
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(ContainSubstring(`"currency": "USD"`))

		Expect(captured.Model).To(Equal("llama3.1"))
		Expect(captured.Stream).To(BeFalse())
		Expect(captured.Messages).To(HaveLen(2))
		Expect(captured.Messages[1].Content).To(ContainSubstring("Total: $42.50 USD"))
	})

	It("should surface a non-200 response as an error", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))

		_, err := extractor.Extract(context.Background(), "prompt")
		Expect(err).To(MatchError(ContainSubstring("ollama API error")))
		Expect(err).To(MatchError(ContainSubstring("model not loaded")))
	})
})
