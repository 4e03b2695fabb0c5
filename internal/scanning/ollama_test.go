package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server    *ghttp.Server
		extractor *Ollama
		req       Request
		resp      *Response
		err       error
		received  ollamaChatRequest
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var newErr error
		extractor, newErr = NewOllama(server.URL(), "qwen2.5vl", time.Minute)
		Expect(newErr).NotTo(HaveOccurred())

		req = Request{
			Instruction: "Read engineering documents.",
			Prompt:      "Extract the data.",
			Images:      []Image{{MIMEType: "image/jpeg", Data: []byte("strip-0")}, {MIMEType: "image/jpeg", Data: []byte("strip-1")}},
		}
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		resp, err = extractor.Extract(context.Background(), req)
	})

	captureRequest := func(w http.ResponseWriter, r *http.Request) {
		body, readErr := io.ReadAll(r.Body)
		Expect(readErr).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, &received)).To(Succeed())
	}

	When("the call succeeds", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				captureRequest,
				ghttp.RespondWith(http.StatusOK, `{"message":{"role":"assistant","content":"{\"DocumentTitle\":\"PLOT PLAN\"}"},"done":true}`),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the message content", func() {
			Expect(resp.Text).To(Equal(`{"DocumentTitle":"PLOT PLAN"}`))
			Expect(string(resp.Raw)).To(ContainSubstring(`"done":true`))
		})

		It("should send the instruction as the system message", func() {
			Expect(received.Messages[0].Role).To(Equal("system"))
			Expect(received.Messages[0].Content).To(Equal("Read engineering documents."))
		})

		It("should attach every strip as base64 to the user message", func() {
			Expect(received.Messages[1].Images).To(Equal([]string{"c3RyaXAtMA==", "c3RyaXAtMQ=="}))
			Expect(received.Stream).To(BeFalse())
			Expect(received.Options.NumPredict).To(Equal(DefaultMaxTokens))
		})
	})

	When("the token limit is overridden", func() {
		BeforeEach(func() {
			extractor.SetMaxTokens(1024)
			server.AppendHandlers(ghttp.CombineHandlers(
				captureRequest,
				ghttp.RespondWith(http.StatusOK, `{"message":{"content":"{}"}}`),
			))
		})

		It("should send it as num_predict", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(received.Options.NumPredict).To(Equal(1024))
		})
	})

	When("the endpoint returns a non-success status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, `model not found`))
		})

		It("returns a StatusError with the body", func() {
			var statusErr *StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.StatusCode).To(Equal(http.StatusNotFound))
			Expect(statusErr.Body).To(Equal("model not found"))
		})

		It("should make exactly one request", func() {
			Expect(server.ReceivedRequests()).To(HaveLen(1))
		})
	})

	When("the response has no message content", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"done":true}`))
		})

		It("returns the error with the raw body", func() {
			Expect(err).To(MatchError(ContainSubstring("unexpected JSON structure")))
			Expect(string(resp.Raw)).To(Equal(`{"done":true}`))
		})
	})
})
