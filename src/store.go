package gateway

/*------------------------------------------------------------------
 *
 * Purpose:	Durable table of reports with a monotonic local queue
 *		identifier and status lifecycle (C3).
 *
 * Description:	Backed by a single bbolt file. All writes are
 *		serialized through one mutex-guarded path; readers see
 *		committed snapshots via bbolt's own MVCC. Modeled on
 *		the teacher's single delayed-packet queue discipline
 *		(igate.go's dp_mutex) generalized to a full table.
 *
 *------------------------------------------------------------------*/

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketReports  = []byte("reports")
	bucketMeta     = []byte("meta")
	bucketNotified = []byte("notified_index")

	keyNextID        = []byte("next_id")
	keyBootWallclock = []byte("boot_wallclock")
	keyTimeCorrected = []byte("time_correction_applied")
)

// ErrNotPending is returned by MarkSent when the target row is not
// currently PENDING.
var ErrNotPending = errors.New("store: report is not PENDING")

// ErrNotFound is returned when a queue id has no matching row.
var ErrNotFound = errors.New("store: queue id not found")

// Store is the durable report table (C3).
type Store struct {
	db *bbolt.DB
	mu sync.Mutex // single-writer discipline; see the file header
}

// OpenStore opens (creating if necessary) the bbolt file at path and
// ensures the schema buckets exist.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketReports, bucketMeta, bucketNotified} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func idKey(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)

	return b
}

// FormatQueueID mints the "Q-NNNN" token for id, zero-padded to width 4
// and overflowing to natural width for larger ids.
func FormatQueueID(id uint64) string {
	return fmt.Sprintf("Q-%04d", id)
}

func encodeReport(r *Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeReport(b []byte) (*Report, error) {
	var r Report
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&r); err != nil {
		return nil, err
	}

	return &r, nil
}

// Append persists a new PENDING report and assigns its id/queue_id
// atomically.
func (s *Store) Append(origin string, lat, lon float64, textOriginal, textNormalized string, createdAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queueID string

	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)

		var nextID uint64

		if v := meta.Get(keyNextID); v != nil {
			nextID = binary.BigEndian.Uint64(v) + 1
		} else {
			nextID = 1
		}

		r := &Report{
			ID:             nextID,
			QueueID:        FormatQueueID(nextID),
			Origin:         origin,
			CreatedAt:      createdAt,
			Lat:            lat,
			Lon:            lon,
			TextOriginal:   textOriginal,
			TextNormalized: textNormalized,
			Status:         StatusPending,
		}

		enc, err := encodeReport(r)
		if err != nil {
			return err
		}

		reports := tx.Bucket(bucketReports)
		if err := reports.Put(idKey(nextID), enc); err != nil {
			return err
		}

		idBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(idBuf, nextID)

		if err := meta.Put(keyNextID, idBuf); err != nil {
			return err
		}

		queueID = r.QueueID

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("append report: %w", err)
	}

	return queueID, nil
}

func (s *Store) findByQueueID(tx *bbolt.Tx, queueID string) (*Report, error) {
	reports := tx.Bucket(bucketReports)

	var found *Report

	cur := reports.Cursor()
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		r, err := decodeReport(v)
		if err != nil {
			return nil, err
		}

		if r.QueueID == queueID {
			found = r
			break
		}
	}

	if found == nil {
		return nil, ErrNotFound
	}

	return found, nil
}

func (s *Store) putReport(tx *bbolt.Tx, r *Report) error {
	enc, err := encodeReport(r)
	if err != nil {
		return err
	}

	return tx.Bucket(bucketReports).Put(idKey(r.ID), enc)
}

// MarkSent transitions a PENDING report to SENT.
func (s *Store) MarkSent(queueID string, upstreamID int64, upstreamURL string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		r, err := s.findByQueueID(tx, queueID)
		if err != nil {
			return err
		}

		if r.Status != StatusPending {
			return ErrNotPending
		}

		r.Status = StatusSent
		r.UpstreamID = &upstreamID
		r.UpstreamURL = &upstreamURL
		r.SentAt = &sentAt

		if err := s.putReport(tx, r); err != nil {
			return err
		}

		return tx.Bucket(bucketNotified).Put(idKey(r.ID), []byte{})
	})
}

// RecordError updates last_error on a row without changing its status.
func (s *Store) RecordError(queueID string, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		r, err := s.findByQueueID(tx, queueID)
		if err != nil {
			return err
		}

		r.LastError = tag

		return s.putReport(tx, r)
	})
}

// DedupBucketSeconds is the tumbling window width for duplicate
// detection.
const DedupBucketSeconds = 120

// CheckDuplicate reports whether an existing row matches origin,
// textNormalized, the 4-decimal-rounded position, and the same 120s
// dedup bucket as createdAt.
func (s *Store) CheckDuplicate(origin, textNormalized string, lat, lon float64, createdAt time.Time) (bool, error) {
	latR := RoundTo4(lat)
	lonR := RoundTo4(lon)
	bucket := createdAt.Unix() / DedupBucketSeconds

	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(bucketReports).Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			r, err := decodeReport(v)
			if err != nil {
				return err
			}

			if r.Origin != origin || r.TextNormalized != textNormalized {
				continue
			}

			if RoundTo4(r.Lat) != latR || RoundTo4(r.Lon) != lonR {
				continue
			}

			if r.CreatedAt.Unix()/DedupBucketSeconds != bucket {
				continue
			}

			found = true

			return nil
		}

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}

	return found, nil
}

// PendingPage returns up to limit PENDING reports, oldest-first by
// created_at then id.
func (s *Store) PendingPage(limit int) ([]*Report, error) {
	var out []*Report

	err := s.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(bucketReports).Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			r, err := decodeReport(v)
			if err != nil {
				return err
			}

			if r.Status == StatusPending {
				out = append(out, r)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pending page: %w", err)
	}

	sortReportsOldestFirst(out)

	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func sortReportsOldestFirst(rs []*Report) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0; j-- {
			a, b := rs[j-1], rs[j]
			if a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID <= b.ID) {
				break
			}

			rs[j-1], rs[j] = rs[j], rs[j-1]
		}
	}
}

// PendingIDsCreatedBefore returns the ids of all PENDING reports whose
// created_at is strictly before t, for the Flush Worker's one-shot skew
// correction.
func (s *Store) PendingIDsCreatedBefore(t time.Time) ([]uint64, error) {
	var ids []uint64

	err := s.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(bucketReports).Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			r, err := decodeReport(v)
			if err != nil {
				return err
			}

			if r.Status == StatusPending && r.CreatedAt.Before(t) {
				ids = append(ids, r.ID)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pending ids before: %w", err)
	}

	return ids, nil
}

// PendingIDsAll returns the ids of every currently PENDING report,
// regardless of created_at. The one-shot skew correction uses this
// instead of a timestamp cutoff: it fires exactly once, at the moment
// the clock is first observed synced, so every row still pending at
// that instant was necessarily queued under the unsynced clock — a
// created_at cutoff can't reliably separate the two when the clock may
// have stepped either forward or backward.
func (s *Store) PendingIDsAll() ([]uint64, error) {
	var ids []uint64

	err := s.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(bucketReports).Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			r, err := decodeReport(v)
			if err != nil {
				return err
			}

			if r.Status == StatusPending {
				ids = append(ids, r.ID)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pending ids all: %w", err)
	}

	return ids, nil
}

// ShiftCreatedAt bulk-adjusts created_at by delta for the given ids, in
// a single transaction. SENT rows must never be passed in; callers are
// expected to have sourced ids from PendingIDsAll or
// PendingIDsCreatedBefore.
func (s *Store) ShiftCreatedAt(ids []uint64, delta time.Duration) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		reports := tx.Bucket(bucketReports)

		for _, id := range ids {
			v := reports.Get(idKey(id))
			if v == nil {
				continue
			}

			r, err := decodeReport(v)
			if err != nil {
				return err
			}

			if r.Status != StatusPending {
				continue
			}

			r.CreatedAt = r.CreatedAt.Add(delta)

			if err := s.putReport(tx, r); err != nil {
				return err
			}
		}

		return nil
	})
}

// UnannouncedSent returns SENT rows with notified_sent=false.
func (s *Store) UnannouncedSent() ([]*Report, error) {
	var out []*Report

	err := s.db.View(func(tx *bbolt.Tx) error {
		reports := tx.Bucket(bucketReports)
		cur := tx.Bucket(bucketNotified).Cursor()

		for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
			v := reports.Get(k)
			if v == nil {
				continue
			}

			r, err := decodeReport(v)
			if err != nil {
				return err
			}

			if r.Status == StatusSent && !r.NotifiedSent {
				out = append(out, r)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unannounced sent: %w", err)
	}

	sortReportsOldestFirst(out)

	return out, nil
}

// MarkAnnounced sets notified_sent=true and drops the row from the
// notified index, regardless of whether the announcement transmit
// actually succeeded (best-effort acks must not be retried forever).
func (s *Store) MarkAnnounced(queueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		r, err := s.findByQueueID(tx, queueID)
		if err != nil {
			return err
		}

		r.NotifiedSent = true

		if err := s.putReport(tx, r); err != nil {
			return err
		}

		return tx.Bucket(bucketNotified).Delete(idKey(r.ID))
	})
}

// SentCountForOrigin returns how many SENT reports exist for origin,
// used by the Notifier's every-5th-success privacy suffix rule.
func (s *Store) SentCountForOrigin(origin string) (int, error) {
	count := 0

	err := s.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(bucketReports).Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			r, err := decodeReport(v)
			if err != nil {
				return err
			}

			if r.Origin == origin && r.Status == StatusSent {
				count++
			}
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sent count for origin: %w", err)
	}

	return count, nil
}

// CountSince returns the number of reports (any status) created at or
// after t, for the #osmcount "today" query.
func (s *Store) CountSince(t time.Time) (int, error) {
	count := 0

	err := s.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(bucketReports).Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			r, err := decodeReport(v)
			if err != nil {
				return err
			}

			if !r.CreatedAt.Before(t) {
				count++
			}
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count since: %w", err)
	}

	return count, nil
}

// ListRecent returns up to n most-recently-created reports, newest
// first, for the #osmlist query.
func (s *Store) ListRecent(n int) ([]*Report, error) {
	var all []*Report

	err := s.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(bucketReports).Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			r, err := decodeReport(v)
			if err != nil {
				return err
			}

			all = append(all, r)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}

	sortReportsOldestFirst(all)

	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}

	if len(all) > n {
		all = all[:n]
	}

	return all, nil
}

// PendingCount returns the number of currently PENDING reports, for the
// #osmqueue query.
func (s *Store) PendingCount() (int, error) {
	count := 0

	err := s.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(bucketReports).Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			r, err := decodeReport(v)
			if err != nil {
				return err
			}

			if r.Status == StatusPending {
				count++
			}
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}

	return count, nil
}

// SystemState is the persisted single-row state used by the Flush
// Worker's skew correction.
type SystemState struct {
	BootWallclock          time.Time
	TimeCorrectionApplied  bool
}

// GetSystemState reads the persisted system_state row, initializing it
// to {now, false} on first call.
func (s *Store) GetSystemState(now time.Time) (SystemState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st SystemState

	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)

		bootRaw := meta.Get(keyBootWallclock)
		if bootRaw == nil {
			st.BootWallclock = now

			if err := meta.Put(keyBootWallclock, []byte(now.Format(time.RFC3339Nano))); err != nil {
				return err
			}
		} else {
			t, err := time.Parse(time.RFC3339Nano, string(bootRaw))
			if err != nil {
				return err
			}

			st.BootWallclock = t
		}

		corrRaw := meta.Get(keyTimeCorrected)
		st.TimeCorrectionApplied = len(corrRaw) == 1 && corrRaw[0] == 1

		return nil
	})
	if err != nil {
		return SystemState{}, fmt.Errorf("get system state: %w", err)
	}

	return st, nil
}

// SetTimeCorrectionApplied persists the one-shot flag.
func (s *Store) SetTimeCorrectionApplied() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyTimeCorrected, []byte{1})
	})
}
