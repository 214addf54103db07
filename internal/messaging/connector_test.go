package messaging_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/scambait/internal/messaging"
)

type recordedRequest struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

var _ = Describe("ConnectorClient", func() {
	var (
		ctx      context.Context
		server   *httptest.Server
		client   *messaging.ConnectorClient
		requests []recordedRequest
		status   int
		reply    string
	)

	BeforeEach(func() {
		ctx = context.Background()
		requests = nil
		status = http.StatusOK
		reply = `{}`
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := recordedRequest{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
			data, _ := io.ReadAll(r.Body)
			if len(data) > 0 {
				_ = json.Unmarshal(data, &rec.body)
			}
			requests = append(requests, rec)
			w.WriteHeader(status)
			_, _ = w.Write([]byte(reply))
		}))
		client = messaging.NewConnectorClient(server.URL+"/", "secret", time.Second)
	})

	AfterEach(func() {
		server.Close()
	})

	It("sends text with a reply reference and returns the message id", func() {
		reply = `{"message_id": 991}`
		replyTo := int64(55)

		id, err := client.SendText(ctx, 12, "hello there", &replyTo)

		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(int64(991)))
		Expect(requests).To(HaveLen(1))
		Expect(requests[0].method).To(Equal(http.MethodPost))
		Expect(requests[0].path).To(Equal("/v1/conversations/12/messages"))
		Expect(requests[0].auth).To(Equal("Bearer secret"))
		Expect(requests[0].body).To(HaveKeyWithValue("text", "hello there"))
		Expect(requests[0].body).To(HaveKeyWithValue("reply_to", BeNumerically("==", 55)))
	})

	It("rejects a send without a message id", func() {
		_, err := client.SendText(ctx, 12, "hello", nil)
		Expect(err).To(MatchError(ContainSubstring("no message id")))
	})

	It("maps typing duration to milliseconds", func() {
		Expect(client.ShowTyping(ctx, 3, 1500*time.Millisecond)).To(Succeed())
		Expect(requests[0].path).To(Equal("/v1/conversations/3/typing"))
		Expect(requests[0].body).To(HaveKeyWithValue("duration_ms", BeNumerically("==", 1500)))
	})

	It("edits and deletes by message path", func() {
		Expect(client.EditText(ctx, 3, 77, "fixed")).To(Succeed())
		Expect(client.DeleteMessage(ctx, 3, 77)).To(Succeed())
		Expect(requests[0].method).To(Equal(http.MethodPatch))
		Expect(requests[0].path).To(Equal("/v1/conversations/3/messages/77"))
		Expect(requests[1].method).To(Equal(http.MethodDelete))
	})

	It("decodes resolved entities", func() {
		reply = `{"id": 3, "kind": "user", "title": "Mark", "username": "mark_invest"}`
		entity, err := client.ResolveEntity(ctx, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(*entity).To(Equal(messaging.Entity{ID: 3, Kind: "user", Title: "Mark", Username: "mark_invest"}))
	})

	It("wraps 404 as ErrNotFound", func() {
		status = http.StatusNotFound
		err := client.MarkRead(ctx, 3)
		Expect(err).To(MatchError(messaging.ErrNotFound))
	})

	It("includes the response body on other failures", func() {
		status = http.StatusBadGateway
		reply = "flood wait"
		err := client.MarkRead(ctx, 3)
		Expect(err).To(MatchError(ContainSubstring("flood wait")))
	})
})
