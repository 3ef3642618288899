package queue

import (
	"sync"
	"time"

	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/store"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

type Options struct {
	Now   func() time.Time
	NewID func() string
	// Publish receives the events of each committed transaction while the
	// location lock is still held. It must not block.
	Publish func([]models.Event)
	// MinSeq raises the starting sequence so new events follow ones already
	// journaled after the snapshot was taken.
	MinSeq uint64
}

// Store is the authoritative queue of one location. Mutations are serialized
// by a single lock and applied copy-on-write; readers use the last committed
// snapshot without locking.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[state]
	opts    Options
	sealed  bool
}

func New(settings models.LocationSettings, opts Options) *Store {
	return newStore(newState(settings), opts)
}

// Restore rebuilds a location from its persisted snapshot.
func Restore(snapshot store.Snapshot, opts Options) *Store {
	return newStore(restoreState(snapshot), opts)
}

func newStore(st *state, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if st.cursor.Seq < opts.MinSeq {
		st.cursor.Seq = opts.MinSeq
	}
	s := &Store{opts: opts}
	s.current.Store(st)
	return s
}

func (s *Store) LocationID() string {
	return s.current.Load().settings.LocationID
}

func (s *Store) Snapshot() Snapshot {
	return Snapshot{view{st: s.current.Load()}}
}

// Update runs fn against a private copy of the current state. The copy is
// committed only when fn returns nil.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return store.ErrLocationNotFound
	}

	tx := &Tx{
		view:  view{st: s.current.Load().clone()},
		now:   s.opts.Now().UTC(),
		newID: s.opts.NewID,
	}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	tx.st.version++
	tx.st.cursor.UpdatedAt = tx.now
	s.current.Store(tx.st)
	if len(tx.events) > 0 && s.opts.Publish != nil {
		s.opts.Publish(tx.events)
	}
	return nil
}

// Seal waits for the transaction in progress and rejects every later one.
// The snapshot taken after Seal is final.
func (s *Store) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
}

// DrainRetired forgets the first n retired tokens once they are persisted.
func (s *Store) DrainRetired(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.current.Load().clone()
	if n > len(st.retired) {
		n = len(st.retired)
	}
	st.retired = append([]models.Token(nil), st.retired[n:]...)
	s.current.Store(st)
}

func (s *Store) Enqueue(ownerID string) (models.Token, error) {
	var tok models.Token
	err := s.Update(func(tx *Tx) error {
		var err error
		tok, err = tx.Enqueue(ownerID)
		return err
	})
	return tok, err
}

// AdvanceServing returns nil when there was nobody left to call.
func (s *Store) AdvanceServing() (*models.Token, error) {
	var next *models.Token
	err := s.Update(func(tx *Tx) error {
		var err error
		next, err = tx.AdvanceServing()
		return err
	})
	return next, err
}

func (s *Store) Cancel(tokenID string) (models.Token, error) {
	var tok models.Token
	err := s.Update(func(tx *Tx) error {
		var err error
		tok, err = tx.Cancel(tokenID)
		return err
	})
	return tok, err
}

func (s *Store) Reorder(tokenAID, tokenBID string) error {
	return s.Update(func(tx *Tx) error {
		return tx.Reorder(tokenAID, tokenBID)
	})
}

func (s *Store) MoveToTail(tokenID string) (models.Token, error) {
	return s.MoveTo(tokenID, models.NoPosition)
}

func (s *Store) MoveTo(tokenID string, slot int) (models.Token, error) {
	var tok models.Token
	err := s.Update(func(tx *Tx) error {
		var err error
		tok, err = tx.MoveTo(tokenID, slot)
		return err
	})
	return tok, err
}

func (s *Store) ClaimVacancy(tokenID string, vacancyNumber int64) (models.Token, error) {
	var tok models.Token
	err := s.Update(func(tx *Tx) error {
		var err error
		tok, err = tx.ClaimVacancy(tokenID, vacancyNumber)
		return err
	})
	return tok, err
}

func (s *Store) CompleteServing(tokenID string) (models.Token, error) {
	var tok models.Token
	err := s.Update(func(tx *Tx) error {
		var err error
		tok, err = tx.CompleteServing(tokenID)
		return err
	})
	return tok, err
}

func (s *Store) Leave(ownerID string) (models.Token, error) {
	var tok models.Token
	err := s.Update(func(tx *Tx) error {
		var err error
		tok, err = tx.Leave(ownerID)
		return err
	})
	return tok, err
}

func (s *Store) SkipServing(expectedTokenID string) (models.Token, error) {
	var tok models.Token
	err := s.Update(func(tx *Tx) error {
		var err error
		tok, err = tx.SkipServing(expectedTokenID)
		return err
	})
	return tok, err
}

func (s *Store) Rejoin(ownerID string) (models.Token, error) {
	var tok models.Token
	err := s.Update(func(tx *Tx) error {
		var err error
		tok, err = tx.Rejoin(ownerID)
		return err
	})
	return tok, err
}

func (s *Store) Pause() error {
	return s.Update(func(tx *Tx) error { return tx.SetPaused(true) })
}

func (s *Store) Resume() error {
	return s.Update(func(tx *Tx) error { return tx.SetPaused(false) })
}

func (s *Store) Close() error {
	return s.Update(func(tx *Tx) error { return tx.Close() })
}
