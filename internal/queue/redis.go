package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/animus-labs/launchpad/internal/platform/redisx"
)

// DefaultLease is how long a claim stays valid without being extended.
const DefaultLease = 5 * time.Minute

// RedisQueue stores jobs as JSON values under <ns>:q:<queue>:job:<id>.
// Ownership moves are atomic: the claim script hands a waiting job to one
// claimant and leases it, ZREM/LREM returning 1 decides races between
// promotion, reaping, claim and cancel.
type RedisQueue struct {
	client redis.UniversalClient
	name   string
	base   string
	lease  time.Duration
	now    func() time.Time
}

var (
	_ Queue  = (*RedisQueue)(nil)
	_ Leaser = (*RedisQueue)(nil)
)

func NewRedisQueue(client redis.UniversalClient, namespace, name string) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	return &RedisQueue{
		client: client,
		name:   name,
		base:   redisx.Key(namespace, "q", name),
		lease:  DefaultLease,
		now:    time.Now,
	}, nil
}

// WithLease sets how long a claim survives without Extend.
func (q *RedisQueue) WithLease(d time.Duration) *RedisQueue {
	if d > 0 {
		q.lease = d
	}
	return q
}

func (q *RedisQueue) Name() string { return q.name }

func (q *RedisQueue) jobKey(id string) string { return q.base + ":job:" + id }
func (q *RedisQueue) waitKey() string { return q.base + ":wait" }
func (q *RedisQueue) delayedKey() string { return q.base + ":delayed" }
func (q *RedisQueue) leasesKey() string { return q.base + ":leases" }
func (q *RedisQueue) dedupeKey(key string) string { return q.base + ":dedupe:" + key }

func (q *RedisQueue) finishedKey(state State) string {
	return q.base + ":" + string(state)
}

func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload any, opts Options) (Job, error) {
	job, err := newJob(q.name, name, payload, opts, q.now().UTC())
	if err != nil {
		return Job{}, err
	}
	if job.DedupeKey != "" {
		if err := q.acquireDedupe(ctx, job); err != nil {
			return Job{}, err
		}
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return Job{}, fmt.Errorf("marshal job: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), raw, 0)
		if job.State == StateDelayed {
			pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: millis(job.RunAt), Member: job.ID})
		} else {
			pipe.LPush(ctx, q.waitKey(), job.ID)
		}
		return nil
	})
	if err != nil {
		return Job{}, fmt.Errorf("enqueue %s: %w", name, err)
	}
	return job, nil
}

func (q *RedisQueue) acquireDedupe(ctx context.Context, job Job) error {
	key := q.dedupeKey(job.DedupeKey)
	for range 3 {
		ok, err := q.client.SetNX(ctx, key, job.ID, 0).Result()
		if err != nil {
			return fmt.Errorf("acquire dedupe key: %w", err)
		}
		if ok {
			return nil
		}
		holder, err := q.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read dedupe key: %w", err)
		}
		existing, err := q.Get(ctx, holder)
		if err == nil && !existing.State.Terminal() {
			return &DuplicateError{Job: existing}
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		// Stale holder: drop the key only if nobody took it over meanwhile.
		if _, err := q.compareAndDelete(ctx, key, holder); err != nil {
			return err
		}
	}
	return fmt.Errorf("acquire dedupe key %s: contended", job.DedupeKey)
}

func (q *RedisQueue) compareAndDelete(ctx context.Context, key, value string) (bool, error) {
	var deleted bool
	err := q.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			deleted = true
			return nil
		}
		if err != nil {
			return err
		}
		if current != value {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return deleted, err
}

func (q *RedisQueue) Get(ctx context.Context, id string) (Job, error) {
	raw, err := q.client.Get(ctx, q.jobKey(strings.TrimSpace(id))).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

func (q *RedisQueue) Cancel(ctx context.Context, id string) error {
	job, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	var owned int64
	switch job.State {
	case StatePending:
		owned, err = q.client.LRem(ctx, q.waitKey(), 1, job.ID).Result()
	case StateDelayed:
		owned, err = q.client.ZRem(ctx, q.delayedKey(), job.ID).Result()
	default:
		return ErrNotCancelable
	}
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if owned == 0 {
		return ErrNotCancelable
	}
	now := q.now().UTC()
	job.State = StateCanceled
	job.FinishedAt = &now
	job.UpdatedAt = now
	return q.finish(ctx, job, 0)
}

// claimScript pops the next waiting id and leases it in one step, so a
// claimant that dies before saving the job still leaves it recoverable.
var claimScript = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then
	return false
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
return id
`)

func (q *RedisQueue) Claim(ctx context.Context) (Job, error) {
	now := q.now().UTC()
	if err := q.reap(ctx, now); err != nil {
		return Job{}, err
	}
	if err := q.promote(ctx, now); err != nil {
		return Job{}, err
	}
	deadline := strconv.FormatFloat(millis(now.Add(q.lease)), 'f', 0, 64)
	for {
		id, err := claimScript.Run(ctx, q.client, []string{q.waitKey(), q.leasesKey()}, deadline).Text()
		if errors.Is(err, redis.Nil) {
			return Job{}, ErrEmpty
		}
		if err != nil {
			return Job{}, fmt.Errorf("claim job: %w", err)
		}
		job, err := q.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			q.client.ZRem(ctx, q.leasesKey(), id)
			continue
		}
		if err != nil {
			return Job{}, err
		}
		job.claim(now)
		if err := q.save(ctx, job); err != nil {
			return Job{}, err
		}
		return job, nil
	}
}

func (q *RedisQueue) Lease() time.Duration { return q.lease }

// Extend pushes the lease of an active job out by one lease period.
func (q *RedisQueue) Extend(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	changed, err := q.client.ZAddArgs(ctx, q.leasesKey(), redis.ZAddArgs{
		XX:      true,
		Ch:      true,
		Members: []redis.Z{{Score: millis(q.now().UTC().Add(q.lease)), Member: id}},
	}).Result()
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	if changed > 0 {
		return nil
	}
	_, err = q.client.ZScore(ctx, q.leasesKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotActive
	}
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	return nil
}

func (q *RedisQueue) Release(ctx context.Context, id string) error {
	job, err := q.active(ctx, id)
	if err != nil {
		return err
	}
	job.unclaim(q.now().UTC())
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), raw, 0)
		pipe.ZRem(ctx, q.leasesKey(), job.ID)
		pipe.RPush(ctx, q.waitKey(), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	return nil
}

// reap recovers jobs whose claimant stopped renewing its lease. A job with
// attempts left goes back on the wait list; an exhausted one fails.
func (q *RedisQueue) reap(ctx context.Context, now time.Time) error {
	expired, err := q.client.ZRangeByScore(ctx, q.leasesKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(millis(now), 'f', 0, 64),
	}).Result()
	if err != nil {
		return fmt.Errorf("read expired leases: %w", err)
	}
	for _, id := range expired {
		removed, err := q.client.ZRem(ctx, q.leasesKey(), id).Result()
		if err != nil {
			return fmt.Errorf("reap job: %w", err)
		}
		if removed == 0 {
			continue
		}
		job, err := q.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		switch {
		case job.State == StatePending:
			// Claimed but never saved as active.
		case job.State != StateActive:
			continue
		case job.Exhausted():
			job.fail("lease expired", false, now)
			if err := q.finish(ctx, job, job.RemoveOnFail); err != nil {
				return err
			}
			continue
		default:
			job.State = StatePending
			job.FailedReason = "lease expired"
			job.UpdatedAt = now
		}
		raw, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, q.jobKey(job.ID), raw, 0)
			pipe.RPush(ctx, q.waitKey(), job.ID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
	}
	return nil
}

func (q *RedisQueue) promote(ctx context.Context, now time.Time) error {
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(millis(now), 'f', 0, 64),
	}).Result()
	if err != nil {
		return fmt.Errorf("read delayed jobs: %w", err)
	}
	for _, id := range due {
		removed, err := q.client.ZRem(ctx, q.delayedKey(), id).Result()
		if err != nil {
			return fmt.Errorf("promote job: %w", err)
		}
		if removed == 0 {
			continue
		}
		job, err := q.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		job.State = StatePending
		job.UpdatedAt = now
		if err := q.save(ctx, job); err != nil {
			return err
		}
		if err := q.client.LPush(ctx, q.waitKey(), id).Err(); err != nil {
			return fmt.Errorf("promote job: %w", err)
		}
	}
	return nil
}

func (q *RedisQueue) Progress(ctx context.Context, id string, progress int) error {
	job, err := q.active(ctx, id)
	if err != nil {
		return err
	}
	job.Progress = clampProgress(progress)
	job.UpdatedAt = q.now().UTC()
	return q.save(ctx, job)
}

func (q *RedisQueue) Log(ctx context.Context, id, line string) error {
	job, err := q.active(ctx, id)
	if err != nil {
		return err
	}
	job.Logs = append(job.Logs, line)
	return q.save(ctx, job)
}

func (q *RedisQueue) Complete(ctx context.Context, id string, result any) error {
	raw, err := marshalResult(result)
	if err != nil {
		return err
	}
	job, err := q.active(ctx, id)
	if err != nil {
		return err
	}
	job.complete(raw, q.now().UTC())
	return q.finish(ctx, job, job.RemoveOnComplete)
}

func (q *RedisQueue) Fail(ctx context.Context, id string, reason string, retry bool) (Job, error) {
	job, err := q.active(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if job.fail(reason, retry, q.now().UTC()) {
		raw, err := json.Marshal(job)
		if err != nil {
			return Job{}, fmt.Errorf("marshal job: %w", err)
		}
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, q.jobKey(job.ID), raw, 0)
			pipe.ZRem(ctx, q.leasesKey(), job.ID)
			pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: millis(job.RunAt), Member: job.ID})
			return nil
		})
		if err != nil {
			return Job{}, fmt.Errorf("schedule retry: %w", err)
		}
		return job, nil
	}
	return job, q.finish(ctx, job, job.RemoveOnFail)
}

func (q *RedisQueue) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := q.now().UTC().Add(-olderThan)
	removed := 0
	for _, state := range []State{StateCompleted, StateFailed, StateCanceled} {
		ids, err := q.client.ZRangeByScore(ctx, q.finishedKey(state), &redis.ZRangeBy{
			Min: "-inf",
			Max: "(" + strconv.FormatFloat(millis(cutoff), 'f', 0, 64),
		}).Result()
		if err != nil {
			return removed, fmt.Errorf("list %s jobs: %w", state, err)
		}
		n, err := q.drop(ctx, state, ids)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (q *RedisQueue) active(ctx context.Context, id string) (Job, error) {
	job, err := q.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if job.State != StateActive {
		return Job{}, ErrNotActive
	}
	return job, nil
}

func (q *RedisQueue) save(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.Set(ctx, q.jobKey(job.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// finish stores a terminal job, releases its dedupe key and trims the
// finished set of its state to keep entries.
func (q *RedisQueue) finish(ctx context.Context, job Job, keep int) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), raw, 0)
		pipe.ZRem(ctx, q.leasesKey(), job.ID)
		pipe.ZAdd(ctx, q.finishedKey(job.State), redis.Z{Score: millis(*job.FinishedAt), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if job.DedupeKey != "" {
		if _, err := q.compareAndDelete(ctx, q.dedupeKey(job.DedupeKey), job.ID); err != nil {
			return err
		}
	}
	if keep <= 0 {
		return nil
	}
	stale, err := q.client.ZRange(ctx, q.finishedKey(job.State), 0, int64(-keep-1)).Result()
	if err != nil {
		return fmt.Errorf("list retained jobs: %w", err)
	}
	_, err = q.drop(ctx, job.State, stale)
	return err
}

func (q *RedisQueue) drop(ctx context.Context, state State, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids))
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, q.jobKey(id))
		members = append(members, id)
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, q.finishedKey(state), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("drop %s jobs: %w", state, err)
	}
	return len(ids), nil
}

func millis(t time.Time) float64 {
	return float64(t.UnixMilli())
}
