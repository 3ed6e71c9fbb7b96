package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expensecam/internal/record"
)

func TestNotify(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Notify Suite")
}

var _ = Describe("Hub", func() {
	var (
		hub         *Hub
		records     []*record.ImageRecord
		snapshotErr error
		fetches     int
	)

	BeforeEach(func() {
		records = nil
		snapshotErr = nil
		fetches = 0
		hub = NewHub(func(ctx context.Context, projectID string) ([]*record.ImageRecord, error) {
			fetches++
			return records, snapshotErr
		})
	})

	addRecord := func(id string) {
		records = append(records, &record.ImageRecord{
			ID:        id,
			ProjectID: "project-1",
			OwnerID:   "owner-a",
			Status:    record.StatusUploaded,
		})
	}

	Describe("Subscribe", func() {
		When("the project has existing images", func() {
			BeforeEach(func() {
				addRecord("img-1")
				addRecord("img-2")
				addRecord("img-3")
			})

			It("should deliver the current list as the first message", func() {
				sub := hub.Subscribe(context.Background(), "project-1", "owner-a")
				defer hub.Unsubscribe(sub)

				var msg Message
				Expect(sub.Messages()).To(Receive(&msg))
				Expect(msg.Event).To(Equal(EventImagesUpdated))
				Expect(string(msg.Data)).To(ContainSubstring("img-1"))
				Expect(string(msg.Data)).To(ContainSubstring("img-3"))
			})
		})

		When("the project has no images", func() {
			It("should still deliver an initial empty list", func() {
				sub := hub.Subscribe(context.Background(), "project-1", "owner-a")
				defer hub.Unsubscribe(sub)

				var msg Message
				Expect(sub.Messages()).To(Receive(&msg))
				Expect(msg.Event).To(Equal(EventImagesUpdated))
				Expect(string(msg.Data)).To(Equal("[]"))
			})
		})

		When("the snapshot fetch fails", func() {
			BeforeEach(func() {
				snapshotErr = errors.New("store unavailable")
			})

			It("should deliver an error message instead", func() {
				sub := hub.Subscribe(context.Background(), "project-1", "owner-a")
				defer hub.Unsubscribe(sub)

				var msg Message
				Expect(sub.Messages()).To(Receive(&msg))
				Expect(msg.Event).To(Equal(EventError))
			})
		})
	})

	Describe("Publish", func() {
		var sub *Subscription

		BeforeEach(func() {
			addRecord("img-1")
			sub = hub.Subscribe(context.Background(), "project-1", "owner-a")
			// Drain the initial snapshot
			Expect(sub.Messages()).To(Receive())
		})

		AfterEach(func() {
			hub.Unsubscribe(sub)
		})

		When("nothing changed since the last payload", func() {
			It("should suppress the broadcast", func() {
				Expect(hub.Publish(context.Background(), "project-1")).To(Succeed())
				Expect(hub.Publish(context.Background(), "project-1")).To(Succeed())
				Expect(sub.Messages()).NotTo(Receive())
			})
		})

		When("the image list changed", func() {
			It("should deliver exactly one new payload", func() {
				addRecord("img-2")
				Expect(hub.Publish(context.Background(), "project-1")).To(Succeed())
				Expect(hub.Publish(context.Background(), "project-1")).To(Succeed())

				var msg Message
				Expect(sub.Messages()).To(Receive(&msg))
				Expect(string(msg.Data)).To(ContainSubstring("img-2"))
				Expect(sub.Messages()).NotTo(Receive())
			})

			It("should deliver to every subscriber", func() {
				other := hub.Subscribe(context.Background(), "project-1", "owner-b")
				defer hub.Unsubscribe(other)
				Expect(other.Messages()).To(Receive())

				addRecord("img-2")
				Expect(hub.Publish(context.Background(), "project-1")).To(Succeed())

				Expect(sub.Messages()).To(Receive())
				Expect(other.Messages()).To(Receive())
			})
		})

		When("the project has no subscribers", func() {
			It("should not fetch a snapshot", func() {
				before := fetches
				Expect(hub.Publish(context.Background(), "project-9")).To(Succeed())
				Expect(fetches).To(Equal(before))
			})
		})

		When("the snapshot fetch fails", func() {
			BeforeEach(func() {
				snapshotErr = errors.New("store unavailable")
			})

			It("should return the error", func() {
				Expect(hub.Publish(context.Background(), "project-1")).To(HaveOccurred())
			})
		})

		When("two publishes overlap", func() {
			It("should commit snapshots in the order they were taken", func() {
				var mu sync.Mutex
				var list []*record.ImageRecord
				stallNext := false
				started := make(chan struct{})
				release := make(chan struct{})

				hub := NewHub(func(ctx context.Context, projectID string) ([]*record.ImageRecord, error) {
					mu.Lock()
					snapshot := append([]*record.ImageRecord(nil), list...)
					stalled := stallNext
					stallNext = false
					mu.Unlock()
					if stalled {
						close(started)
						<-release
					}
					return snapshot, nil
				})

				mu.Lock()
				list = []*record.ImageRecord{{ID: "img-1", ProjectID: "project-1", OwnerID: "owner-a", Status: record.StatusUploaded}}
				mu.Unlock()

				sub := hub.Subscribe(context.Background(), "project-1", "owner-a")
				defer hub.Unsubscribe(sub)
				Expect(sub.Messages()).To(Receive())

				mu.Lock()
				stallNext = true
				mu.Unlock()

				first := make(chan struct{})
				go func() {
					defer close(first)
					hub.Publish(context.Background(), "project-1")
				}()
				Eventually(started).Should(BeClosed())

				// A second publish observes a newer state while the first
				// still holds its older snapshot in flight
				mu.Lock()
				list = append(list, &record.ImageRecord{ID: "img-2", ProjectID: "project-1", OwnerID: "owner-a", Status: record.StatusUploaded})
				mu.Unlock()

				second := make(chan struct{})
				go func() {
					defer close(second)
					hub.Publish(context.Background(), "project-1")
				}()

				close(release)
				Eventually(first).Should(BeClosed())
				Eventually(second).Should(BeClosed())

				// The newest list is the last frame delivered; the older
				// snapshot never lands on top of it
				var msg Message
				Eventually(sub.Messages()).Should(Receive(&msg))
				Expect(string(msg.Data)).To(ContainSubstring("img-2"))
				Consistently(sub.Messages()).ShouldNot(Receive())
			})
		})

		When("a subscriber stops draining", func() {
			It("should drop without blocking", func() {
				done := make(chan struct{})
				go func() {
					defer close(done)
					for i := 0; i < subscriberBuffer+2; i++ {
						addRecord("img-extra")
						hub.Publish(context.Background(), "project-1")
					}
				}()
				Eventually(done).Should(BeClosed())
			})
		})
	})

	Describe("Unsubscribe", func() {
		It("should remove the subscriber and close its channel", func() {
			sub := hub.Subscribe(context.Background(), "project-1", "owner-a")
			Expect(hub.SubscriberCount("project-1")).To(Equal(1))

			hub.Unsubscribe(sub)
			Expect(hub.SubscriberCount("project-1")).To(Equal(0))
			Eventually(sub.Messages()).Should(BeClosed())
		})

		It("should tolerate a double unsubscribe", func() {
			sub := hub.Subscribe(context.Background(), "project-1", "owner-a")
			hub.Unsubscribe(sub)
			hub.Unsubscribe(sub)
		})

		It("should clear the last-sent cache when the last subscriber leaves", func() {
			sub := hub.Subscribe(context.Background(), "project-1", "owner-a")
			Expect(sub.Messages()).To(Receive())
			hub.Unsubscribe(sub)

			// A fresh subscriber gets a baseline even though the data is
			// unchanged.
			again := hub.Subscribe(context.Background(), "project-1", "owner-a")
			defer hub.Unsubscribe(again)

			var msg Message
			Expect(again.Messages()).To(Receive(&msg))
			Expect(msg.Event).To(Equal(EventImagesUpdated))
		})
	})
})
