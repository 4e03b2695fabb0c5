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

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1718000000,
  "model": "gpt-4o",
  "choices": [
    {
      "index": 0,
      "finish_reason": "stop",
      "message": {"role": "assistant", "content": "` + "```json\\n{\\\"DocumentTitle\\\": \\\"PLOT PLAN\\\"}\\n```" + `"}
    }
  ]
}`

var _ = Describe("OpenAI", func() {
	var (
		server    *ghttp.Server
		extractor *OpenAI
		resp      *Response
		err       error
		received  map[string]any
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var newErr error
		extractor, newErr = NewOpenAI(OpenAIConfig{
			APIKey:  "test-key",
			Model:   "gpt-4o",
			BaseURL: server.URL(),
			Timeout: time.Minute,
		})
		Expect(newErr).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		resp, err = extractor.Extract(context.Background(), Request{
			Instruction: "Read engineering documents.",
			Prompt:      "Extract the data.",
			Images:      []Image{{MIMEType: "image/jpeg", Data: []byte("strip")}},
		})
	})

	When("the call succeeds", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/chat/completions"),
				ghttp.VerifyHeaderKV("Authorization", "Bearer test-key"),
				func(w http.ResponseWriter, r *http.Request) {
					body, readErr := io.ReadAll(r.Body)
					Expect(readErr).NotTo(HaveOccurred())
					Expect(json.Unmarshal(body, &received)).To(Succeed())
				},
				ghttp.RespondWith(http.StatusOK, completionBody, http.Header{"Content-Type": []string{"application/json"}}),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the message content untouched", func() {
			Expect(resp.Text).To(Equal("```json\n{\"DocumentTitle\": \"PLOT PLAN\"}\n```"))
		})

		It("should keep the raw response", func() {
			Expect(string(resp.Raw)).To(ContainSubstring(`"chatcmpl-1"`))
		})

		It("should send the generation settings", func() {
			Expect(received["model"]).To(Equal("gpt-4o"))
			Expect(received["max_tokens"]).To(BeNumerically("==", DefaultMaxTokens))
			Expect(received["temperature"]).To(BeNumerically("~", 0.1))
			Expect(received["top_p"]).To(BeNumerically("~", 0.1))
		})

		It("should send the strip as an image_url part", func() {
			messages := received["messages"].([]any)
			Expect(messages).To(HaveLen(2))
			user := messages[1].(map[string]any)
			content := user["content"].([]any)
			Expect(content).To(HaveLen(2))
			imagePart := content[1].(map[string]any)
			Expect(imagePart["type"]).To(Equal("image_url"))
			Expect(imagePart["image_url"].(map[string]any)["url"]).To(Equal("data:image/jpeg;base64,c3RyaXA="))
		})
	})

	When("the endpoint rejects the call", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusUnauthorized,
				`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`,
				http.Header{"Content-Type": []string{"application/json"}}))
		})

		It("returns a StatusError without retrying", func() {
			var statusErr *StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(server.ReceivedRequests()).To(HaveLen(1))
		})
	})
})

var _ = Describe("NewOpenAI", func() {
	It("requires an API key", func() {
		_, err := NewOpenAI(OpenAIConfig{})
		Expect(err).To(MatchError(ContainSubstring("api key is required")))
	})
})
