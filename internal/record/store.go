package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const imageBucketName = "images"

// Store defines the interface for image record persistence. All reads and
// writes except ListProject are scoped by the (id, project, owner) triple.
type Store interface {
	// Create upserts a record by id. For an existing record only the
	// project id, storage path and status are overwritten; the original
	// uploaded/created timestamps are preserved.
	Create(rec *ImageRecord) (*ImageRecord, error)

	// Get retrieves a record iff it exists and the project and owner match.
	Get(id, projectID, ownerID string) (*ImageRecord, error)

	// Exists reports whether a record with the given id exists, without
	// ownership checks.
	Exists(id string) bool

	// Update applies a sparse patch and stamps UpdatedAt.
	Update(id, projectID, ownerID string, patch Patch) (*ImageRecord, error)

	// Delete removes a record and returns its storage path so the caller
	// can schedule deletion of the underlying bytes.
	Delete(id, projectID, ownerID string) (string, error)

	// List returns all records for a project/owner pair, newest first.
	List(projectID, ownerID string) ([]*ImageRecord, error)

	// ListProject returns all records for a project regardless of owner,
	// newest first. Used for broadcast snapshots.
	ListProject(projectID string) ([]*ImageRecord, error)

	// Close closes the underlying database.
	Close() error
}

// BoltStore implements the Store interface using BoltDB.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(imageBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// checkOwnership verifies the identity triple against a stored record.
func checkOwnership(rec *ImageRecord, projectID, ownerID string) error {
	if rec.ProjectID != projectID {
		return ErrNotFound
	}
	if rec.OwnerID != ownerID {
		return ErrNotAuthorized
	}
	return nil
}

func getRecord(bucket *bbolt.Bucket, id string) (*ImageRecord, error) {
	data := bucket.Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	var rec ImageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling record: %w", err)
	}
	return &rec, nil
}

func putRecord(bucket *bbolt.Bucket, rec *ImageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	return bucket.Put([]byte(rec.ID), data)
}

// Create upserts a record by id.
func (s *BoltStore) Create(rec *ImageRecord) (*ImageRecord, error) {
	var result *ImageRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(imageBucketName))
		now := s.now()

		existing, err := getRecord(bucket, rec.ID)
		if err == nil {
			// The same id from another owner or project is an id
			// collision, not a re-registration
			if existing.OwnerID != rec.OwnerID || existing.ProjectID != rec.ProjectID {
				return ErrConflict
			}
			// Re-registration: only mutable fields move, first-insert
			// timestamps stay.
			existing.StoragePath = rec.StoragePath
			existing.Status = rec.Status
			existing.UpdatedAt = now
			result = existing
			return putRecord(bucket, existing)
		}
		if err != ErrNotFound {
			return err
		}

		fresh := *rec
		if fresh.UploadedAt.IsZero() {
			fresh.UploadedAt = now
		}
		fresh.CreatedAt = now
		fresh.UpdatedAt = now
		result = &fresh
		return putRecord(bucket, &fresh)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Get retrieves a record scoped by project and owner.
func (s *BoltStore) Get(id, projectID, ownerID string) (*ImageRecord, error) {
	var rec *ImageRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(imageBucketName))
		found, err := getRecord(bucket, id)
		if err != nil {
			return err
		}
		if err := checkOwnership(found, projectID, ownerID); err != nil {
			return err
		}
		rec = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Exists reports whether a record with the given id exists.
func (s *BoltStore) Exists(id string) bool {
	exists := false
	s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket([]byte(imageBucketName)).Get([]byte(id)) != nil
		return nil
	})
	return exists
}

// Update applies a sparse patch inside a single write transaction so
// concurrent patches to the same id serialize on the store.
func (s *BoltStore) Update(id, projectID, ownerID string, patch Patch) (*ImageRecord, error) {
	var rec *ImageRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(imageBucketName))
		found, err := getRecord(bucket, id)
		if err != nil {
			return err
		}
		if err := checkOwnership(found, projectID, ownerID); err != nil {
			return err
		}
		patch.apply(found)
		found.UpdatedAt = s.now()
		rec = found
		return putRecord(bucket, found)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a record and returns its storage path.
func (s *BoltStore) Delete(id, projectID, ownerID string) (string, error) {
	var storagePath string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(imageBucketName))
		found, err := getRecord(bucket, id)
		if err != nil {
			return err
		}
		if err := checkOwnership(found, projectID, ownerID); err != nil {
			return err
		}
		storagePath = found.StoragePath
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return "", err
	}
	return storagePath, nil
}

// List returns all records for a project/owner pair, newest first.
func (s *BoltStore) List(projectID, ownerID string) ([]*ImageRecord, error) {
	return s.list(func(rec *ImageRecord) bool {
		return rec.ProjectID == projectID && rec.OwnerID == ownerID
	})
}

// ListProject returns all records for a project, newest first.
func (s *BoltStore) ListProject(projectID string) ([]*ImageRecord, error) {
	return s.list(func(rec *ImageRecord) bool {
		return rec.ProjectID == projectID
	})
}

func (s *BoltStore) list(match func(*ImageRecord) bool) ([]*ImageRecord, error) {
	records := make([]*ImageRecord, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(imageBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var rec ImageRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			if match(&rec) {
				records = append(records, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Close closes the database connection.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
