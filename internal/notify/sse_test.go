package notify

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expensecam/internal/record"
)

var _ = Describe("ServeSSE", func() {
	var (
		hub     *Hub
		records []*record.ImageRecord
		server  *httptest.Server
	)

	BeforeEach(func() {
		records = []*record.ImageRecord{
			{ID: "img-1", ProjectID: "project-1", OwnerID: "owner-a", Status: record.StatusUploaded},
			{ID: "img-2", ProjectID: "project-1", OwnerID: "owner-a", Status: record.StatusOCRComplete},
			{ID: "img-3", ProjectID: "project-1", OwnerID: "owner-a", Status: record.StatusUploaded},
		}
		hub = NewHubWithPing(func(ctx context.Context, projectID string) ([]*record.ImageRecord, error) {
			return records, nil
		}, 50*time.Millisecond)

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hub.ServeSSE(w, r, "project-1", "owner-a")
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("should stream the initial snapshot before any mutation", func() {
		resp, err := http.Get(server.URL)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

		reader := bufio.NewReader(resp.Body)
		eventLine, err := reader.ReadString('\n')
		Expect(err).NotTo(HaveOccurred())
		Expect(eventLine).To(Equal("event: imagesUpdated\n"))

		dataLine, err := reader.ReadString('\n')
		Expect(err).NotTo(HaveOccurred())
		Expect(dataLine).To(HavePrefix("data: "))
		Expect(dataLine).To(ContainSubstring("img-1"))
		Expect(dataLine).To(ContainSubstring("img-2"))
		Expect(dataLine).To(ContainSubstring("img-3"))
	})

	It("should interleave comment-line pings", func() {
		resp, err := http.Get(server.URL)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		sawPing := false
		for i := 0; i < 10; i++ {
			line, err := reader.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			if strings.HasPrefix(line, ": ping") {
				sawPing = true
				break
			}
		}
		Expect(sawPing).To(BeTrue())
	})

	It("should remove the subscriber when the client disconnects", func() {
		resp, err := http.Get(server.URL)
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() int { return hub.SubscriberCount("project-1") }).Should(Equal(1))

		resp.Body.Close()
		Eventually(func() int { return hub.SubscriberCount("project-1") }).Should(Equal(0))
	})

	It("should stream published updates", func() {
		resp, err := http.Get(server.URL)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		// Skip the initial snapshot frame
		for i := 0; i < 3; i++ {
			_, err := reader.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
		}

		records = append(records, &record.ImageRecord{ID: "img-4", ProjectID: "project-1", OwnerID: "owner-a"})
		Expect(hub.Publish(context.Background(), "project-1")).To(Succeed())

		for i := 0; i < 10; i++ {
			line, err := reader.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			if strings.HasPrefix(line, "data: ") && strings.Contains(line, "img-4") {
				return
			}
		}
		Fail("expected an imagesUpdated frame containing img-4")
	})
})
