package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/VengurlekarMayuresh/CCL/internal/platform/firestore"
)

const defaultCollection = "idempotency_keys"

// FirestoreStore keeps records in a Firestore collection so replays survive
// restarts and are shared between instances.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection *pfirestore.Collection[recordDoc]
}

// NewFirestoreStore binds the store to provider. An empty collection uses idempotency_keys.
func NewFirestoreStore(provider *pfirestore.Provider, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{
		provider:   provider,
		collection: pfirestore.NewCollection[recordDoc](provider, collection),
	}
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.collection.Ref(ctx, documentID(key))
	if err != nil {
		return 0, Record{}, err
	}

	var (
		state  State
		record Record
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && !isNotFound(err) {
			return err
		}
		if err == nil {
			existing, err := pfirestore.Decode[recordDoc](snap)
			if err != nil {
				return err
			}
			current := existing.toRecord()
			if !current.expired(now) {
				if current.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				state, record = current.state(), current
				return nil
			}
		}
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
		state = StateNew
		return tx.Set(ref, docFromRecord(record))
	})
	return state, record, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.collection.Ref(ctx, documentID(key))
	if err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record := Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			existing, err := pfirestore.Decode[recordDoc](snap)
			if err != nil {
				return err
			}
			if existing.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			record.CreatedAt = existing.CreatedAt
		case !isNotFound(err):
			return err
		}
		record.Completed = true
		record.Status = resp.Status
		record.Headers = storableHeaders(resp.Headers)
		record.Body = resp.Body
		record.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, docFromRecord(record))
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	return s.collection.Delete(ctx, documentID(key))
}

func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	_, ids, err := s.collection.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expiresAt", "<=", now).Limit(limit)
	})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := s.collection.Delete(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func isNotFound(err error) bool {
	wrapped, ok := pfirestore.WrapError("idempotency.get", err).(interface{ IsNotFound() bool })
	return ok && wrapped.IsNotFound()
}

type recordDoc struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	Completed   bool                `firestore:"completed"`
	Status      int                 `firestore:"status"`
	Headers     map[string][]string `firestore:"headers,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func docFromRecord(r Record) recordDoc {
	return recordDoc{
		Key: r.Key, Fingerprint: r.Fingerprint, Completed: r.Completed, Status: r.Status,
		Headers: r.Headers, Body: r.Body, CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt,
	}
}

func (d recordDoc) toRecord() Record {
	return Record{
		Key: d.Key, Fingerprint: d.Fingerprint, Completed: d.Completed, Status: d.Status,
		Headers: d.Headers, Body: d.Body, CreatedAt: d.CreatedAt, ExpiresAt: d.ExpiresAt,
	}
}
