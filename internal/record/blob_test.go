package record

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalBlobStore", func() {
	var (
		tmpDir string
		blobs  BlobStore
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		blobs, err = NewLocalBlobStore(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		It("should write the blob and return its path", func() {
			path, err := blobs.Save("img-1_receipt.jpg", []byte("bytes"))
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal("img-1_receipt.jpg"))
			Expect(filepath.Join(tmpDir, path)).To(BeARegularFile())
		})
	})

	Describe("Get", func() {
		It("should round-trip saved data", func() {
			path, err := blobs.Save("img-1_receipt.jpg", []byte("bytes"))
			Expect(err).NotTo(HaveOccurred())

			data, err := blobs.Get(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("bytes")))
		})

		It("should return ErrNotFound for a missing blob", func() {
			_, err := blobs.Get("missing.jpg")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("Delete", func() {
		It("should remove the blob", func() {
			path, err := blobs.Save("img-1_receipt.jpg", []byte("bytes"))
			Expect(err).NotTo(HaveOccurred())

			Expect(blobs.Delete(path)).To(Succeed())
			_, err = blobs.Get(path)
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("should return ErrNotFound for a missing blob", func() {
			Expect(blobs.Delete("missing.jpg")).To(MatchError(ErrNotFound))
		})
	})
})
