package template

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTemplates = []byte("templates")
	bucketOwners    = []byte("template_owners")
)

// ErrNotFound is returned when a saved template does not exist for the owner.
var ErrNotFound = errors.New("template not found")

// Record is a saved template. ID, Owner and CreatedAt are assigned by Storage.
type Record struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Footer    string    `json:"footer"`
	Format    string    `json:"format"`
	HTML      string    `json:"html"`
	Images    []string  `json:"images"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRecord captures a model together with its rendered document.
func NewRecord(m Model) *Record {
	return &Record{
		Name:    m.Title(),
		Subject: m.Title(),
		Title:   m.Title(),
		Body:    m.Body(),
		Footer:  m.Footer(),
		Format:  string(m.Format()),
		HTML:    Render(m),
		Images:  m.ImageURLs(),
	}
}

// Model rebuilds a validated Model from the stored fields.
func (r *Record) Model() (Model, error) {
	return Normalize(Input{
		Title:  &r.Title,
		Body:   &r.Body,
		Footer: &r.Footer,
		Images: r.Images,
		Format: r.Format,
	})
}

// ListFilter contains filters for listing templates
type ListFilter struct {
	Limit  int
	Offset int
	Search string
}

// Stats contains template statistics
type Stats struct {
	Total  int64 `json:"total"`
	Owners int64 `json:"owners"`
}

// Storage persists saved templates in BoltDB.
type Storage struct {
	db *bolt.DB
}

// NewStorage creates a new template storage
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTemplates); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketOwners); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create template buckets: %w", err)
	}
	return &Storage{db: db}, nil
}

// Save stores rec for owner, assigning its ID and creation time.
func (s *Storage) Save(ctx context.Context, owner string, rec *Record) error {
	if owner == "" {
		return fmt.Errorf("owner is required")
	}
	if strings.TrimSpace(rec.Title) == "" {
		return fmt.Errorf("template title is required")
	}

	stored := *rec
	stored.ID = uuid.New().String()
	stored.Owner = owner
	stored.CreatedAt = time.Now().UTC()

	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("failed to marshal template: %w", err)
		}

		if err := tx.Bucket(bucketTemplates).Put([]byte(stored.ID), data); err != nil {
			return err
		}

		owners, err := tx.Bucket(bucketOwners).CreateBucketIfNotExists([]byte(owner))
		if err != nil {
			return fmt.Errorf("failed to create owner index: %w", err)
		}
		return owners.Put(makeIndexKey(stored.CreatedAt, stored.ID), []byte(stored.ID))
	})
	if err != nil {
		return err
	}

	*rec = stored
	return nil
}

// Get retrieves a template by ID. Templates of other owners are reported as
// ErrNotFound.
func (s *Storage) Get(ctx context.Context, owner, id string) (*Record, error) {
	var rec *Record

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTemplates).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		rec = &Record{}
		if err := json.Unmarshal(data, rec); err != nil {
			return fmt.Errorf("failed to unmarshal template: %w", err)
		}
		if rec.Owner != owner {
			rec = nil
			return ErrNotFound
		}
		return nil
	})

	return rec, err
}

// List returns the owner's templates, newest first.
func (s *Storage) List(ctx context.Context, owner string, filter ListFilter) ([]*Record, error) {
	records := []*Record{}

	err := s.db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketOwners).Bucket([]byte(owner))
		if index == nil {
			return nil
		}
		templates := tx.Bucket(bucketTemplates)
		search := strings.ToLower(filter.Search)

		skipped := 0
		c := index.Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			data := templates.Get(id)
			if data == nil {
				continue
			}

			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				continue
			}

			if search != "" &&
				!strings.Contains(strings.ToLower(rec.Title), search) &&
				!strings.Contains(strings.ToLower(rec.Body), search) {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			records = append(records, &rec)

			if filter.Limit > 0 && len(records) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return records, err
}

// Delete removes a template owned by owner.
func (s *Storage) Delete(ctx context.Context, owner, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		templates := tx.Bucket(bucketTemplates)

		data := templates.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if rec.Owner != owner {
			return ErrNotFound
		}

		if index := tx.Bucket(bucketOwners).Bucket([]byte(owner)); index != nil {
			if err := index.Delete(makeIndexKey(rec.CreatedAt, rec.ID)); err != nil {
				return err
			}
		}

		return templates.Delete([]byte(id))
	})
}

// Stats returns template statistics
func (s *Storage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		stats.Total = int64(tx.Bucket(bucketTemplates).Stats().KeyN)

		return tx.Bucket(bucketOwners).ForEach(func(k, v []byte) error {
			if v == nil {
				stats.Owners++
			}
			return nil
		})
	})

	return stats, err
}

// makeIndexKey orders index entries by creation time. Times are stored in
// UTC with a fixed-width layout so byte order matches time order.
func makeIndexKey(t time.Time, id string) []byte {
	var buf bytes.Buffer
	buf.WriteString(t.UTC().Format("2006-01-02T15:04:05.000000000Z"))
	buf.WriteByte(':')
	buf.WriteString(id)
	return buf.Bytes()
}
