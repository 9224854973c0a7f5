// Package mutation coordinates optimistic writes: snapshot, speculative
// apply, server confirmation and rollback on failure.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/cache"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/logging"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/models"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/syncerr"
)

const defaultRetainFailed = 50

// ServerCall performs the remote write and returns the confirmed record.
type ServerCall func(ctx context.Context) (models.Record, error)

// Status is the lifecycle of the latest mutation against a key.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// State is the mutation status of one key.
type State struct {
	Status    Status
	Err       error
	UpdatedAt time.Time
}

// Failure describes a rolled-back mutation. The failed record is kept so
// the UI can offer retry or delete.
type Failure struct {
	Key       models.QueryKey
	Record    models.Record
	Err       error
	Kind      syncerr.Kind
	Retryable bool
	At        time.Time
}

// Notifier surfaces failures to the user.
type Notifier interface {
	NotifyFailure(f Failure)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(f Failure)

// NotifyFailure calls fn(f).
func (fn NotifierFunc) NotifyFailure(f Failure) {
	fn(f)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNotifier sets the failure notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithRetainFailed bounds the failed records kept per key.
func WithRetainFailed(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.retainFailed = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// Coordinator applies optimistic mutations to a cache.Store. Mutations
// against the same key run one at a time in arrival order, so each one
// snapshots the state left by its predecessor.
type Coordinator struct {
	store        *cache.Store
	notifier     Notifier
	retainFailed int
	now          func() time.Time
	locks        *keyLocks
	logger       zerolog.Logger

	mu     sync.Mutex
	failed map[string][]Failure
	states map[string]State
}

// New creates a Coordinator writing to store.
func New(store *cache.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        store,
		retainFailed: defaultRetainFailed,
		now:          time.Now,
		locks:        newKeyLocks(),
		logger:       logging.Component("mutation"),
		failed:       make(map[string][]Failure),
		states:       make(map[string]State),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mutate applies optimistic to the entry at key, runs call, and settles:
// on success the record with optimistic.ID is replaced by the confirmed
// record; on failure the entry is restored to its snapshot, the failure is
// notified once and the returned error carries its kind.
func (c *Coordinator) Mutate(ctx context.Context, key models.QueryKey, optimistic models.Record, call ServerCall) (models.Record, error) {
	if err := checkMutation(optimistic, call); err != nil {
		return models.Record{}, err
	}
	release, err := c.locks.acquire(ctx, key.String())
	if err != nil {
		return models.Record{}, err
	}
	defer release()
	return c.run(ctx, key, optimistic, call)
}

func checkMutation(optimistic models.Record, call ServerCall) error {
	if call == nil {
		return syncerr.Validation("mutate", "server call is required")
	}
	if err := optimistic.Validate(); err != nil {
		return syncerr.Wrap(syncerr.KindValidation, "mutate", err)
	}
	return nil
}

// run applies and settles one mutation. The caller holds the key lock.
func (c *Coordinator) run(ctx context.Context, key models.QueryKey, optimistic models.Record, call ServerCall) (models.Record, error) {
	k := key.String()
	logger := logging.WithKey(c.logger, k).With().Str("record_id", optimistic.ID).Logger()

	snap := c.store.Snapshot(key)
	c.store.Update(key, func(cur cache.Entry, _ bool) (cache.Entry, bool) {
		cur.Data = applyOptimistic(cur.Data, optimistic)
		cur.Status = cache.StatusSuccess
		cur.Err = nil
		cur.UpdatedAt = c.now()
		return cur, true
	})
	c.setState(k, StatusPending, nil)
	logger.Debug().Msg("optimistic record applied")

	confirmed, err := safeCall(ctx, call)
	if err != nil {
		// Rollback is unconditional: the entry must equal the snapshot.
		c.store.Restore(snap)
		err = classify(err)
		c.setState(k, StatusError, err)
		c.fail(key, optimistic, err)
		logger.Warn().Err(err).Str("kind", string(syncerr.KindOf(err))).Msg("mutation rolled back")
		return models.Record{}, err
	}

	if confirmed.ClientID == "" && optimistic.IsOptimistic() {
		confirmed.ClientID = optimistic.ID
	}
	c.store.Update(key, func(cur cache.Entry, _ bool) (cache.Entry, bool) {
		cur.Data = applyConfirmed(cur.Data, optimistic.ID, confirmed)
		cur.Status = cache.StatusSuccess
		cur.Err = nil
		cur.UpdatedAt = c.now()
		return cur, true
	})
	c.forget(k, optimistic.ID)
	c.setState(k, StatusSuccess, nil)
	logger.Debug().Str("confirmed_id", confirmed.ID).Msg("mutation confirmed")
	return confirmed, nil
}

// Retry re-runs a failed mutation with its original temporary ID.
// The failed record stays retained until the retry holds the key lock, so
// a retry that never starts leaves it in place.
func (c *Coordinator) Retry(ctx context.Context, key models.QueryKey, recordID string, call ServerCall) (models.Record, error) {
	k := key.String()
	f, ok := c.lookup(k, recordID)
	if !ok {
		return models.Record{}, errNoFailed(recordID)
	}
	rec := f.Record.Clone()
	rec.Status = models.StatusSending
	if err := checkMutation(rec, call); err != nil {
		return models.Record{}, err
	}

	release, err := c.locks.acquire(ctx, k)
	if err != nil {
		return models.Record{}, err
	}
	defer release()
	if _, ok := c.take(k, recordID); !ok {
		// Discarded or retried by someone else while queued.
		return models.Record{}, errNoFailed(recordID)
	}
	return c.run(ctx, key, rec, call)
}

func errNoFailed(recordID string) error {
	return syncerr.New(syncerr.KindNotFound, "retry", "no failed record "+recordID)
}

// Discard drops a failed record without retrying it.
func (c *Coordinator) Discard(key models.QueryKey, recordID string) bool {
	_, ok := c.take(key.String(), recordID)
	return ok
}

// Failed lists the failed records retained for key, oldest first.
func (c *Coordinator) Failed(key models.QueryKey) []Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.failed[key.String()]
	out := make([]Failure, len(list))
	for i, f := range list {
		f.Record = f.Record.Clone()
		out[i] = f
	}
	return out
}

// State returns the mutation status of key.
func (c *Coordinator) State(key models.QueryKey) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[key.String()]; ok {
		return st
	}
	return State{Status: StatusIdle}
}

// Pending returns how many mutations are running or queued for key.
func (c *Coordinator) Pending(key models.QueryKey) int {
	return c.locks.pending(key.String())
}

func (c *Coordinator) setState(k string, status Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[k] = State{Status: status, Err: err, UpdatedAt: c.now()}
}

func (c *Coordinator) fail(key models.QueryKey, optimistic models.Record, err error) {
	rec := optimistic.Clone()
	rec.Status = models.StatusFailed
	f := Failure{
		Key:       key.Clone(),
		Record:    rec,
		Err:       err,
		Kind:      syncerr.KindOf(err),
		Retryable: syncerr.Retryable(err),
		At:        c.now(),
	}

	k := key.String()
	c.mu.Lock()
	list := c.failed[k]
	for i := range list {
		if list[i].Record.ID == rec.ID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	list = append(list, f)
	if len(list) > c.retainFailed {
		list = list[len(list)-c.retainFailed:]
	}
	c.failed[k] = list
	c.mu.Unlock()

	if c.notifier != nil {
		c.notifier.NotifyFailure(f)
	}
}

func (c *Coordinator) lookup(k, recordID string) (Failure, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.failed[k] {
		if f.Record.ID == recordID {
			return f, true
		}
	}
	return Failure{}, false
}

func (c *Coordinator) take(k, recordID string) (Failure, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.failed[k]
	for i, f := range list {
		if f.Record.ID == recordID {
			c.failed[k] = append(list[:i:i], list[i+1:]...)
			if len(c.failed[k]) == 0 {
				delete(c.failed, k)
			}
			return f, true
		}
	}
	return Failure{}, false
}

func (c *Coordinator) forget(k, recordID string) {
	c.take(k, recordID)
}

func safeCall(ctx context.Context, call ServerCall) (rec models.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = syncerr.New(syncerr.KindInternal, "server_call", fmt.Sprintf("panic: %v", r))
		}
	}()
	return call(ctx)
}

// classify gives every server-call error a kind. Unclassified failures
// come from the transport side and are treated as network errors.
func classify(err error) error {
	var e *syncerr.Error
	if errors.As(err, &e) {
		return err
	}
	var fields models.FieldErrors
	if errors.As(err, &fields) {
		return syncerr.Wrap(syncerr.KindValidation, "server_call", err)
	}
	return syncerr.Network("server_call", err)
}

// applyOptimistic upserts rec by ID.
func applyOptimistic(data models.Records, rec models.Record) models.Records {
	out := data.Clone()
	if i := out.IndexOf(rec.ID); i >= 0 {
		out[i] = rec.Clone()
		return out
	}
	return append(out, rec.Clone())
}

// applyConfirmed replaces the record with tempID by confirmed, in place.
// If a realtime push already promoted the record, the server-time newer
// copy wins and no duplicate is left behind.
func applyConfirmed(data models.Records, tempID string, confirmed models.Record) models.Records {
	out := data.Clone()
	i := out.IndexOf(tempID)
	if confirmed.ID != tempID {
		if j := out.IndexOf(confirmed.ID); j >= 0 {
			if i < 0 {
				if confirmed.ServerTime.Before(out[j].ServerTime) {
					return out
				}
				confirmed.Status = out[j].Status.Advance(confirmed.Status)
				out[j] = confirmed.Clone()
				return out
			}
			out = out.Without(confirmed.ID)
			i = out.IndexOf(tempID)
		}
	}
	if i >= 0 {
		out[i] = confirmed.Clone()
		return out
	}
	return append(out, confirmed.Clone())
}
