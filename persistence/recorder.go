// persistence/recorder.go
package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/griffonary/cache"
	"github.com/wfunc/griffonary/logger"
	"github.com/wfunc/griffonary/models"
)

const writeTimeout = 5 * time.Second

type job struct {
	name string
	run  func(ctx context.Context) error
}

// AsyncRecorder 将房间产生的持久化事实放入队列，由单个 worker 写库。
// 队列满时直接丢弃，房间 actor 永远不会因为数据库而阻塞
type AsyncRecorder struct {
	db          Database
	leaderboard cache.Leaderboard
	onDrop      func()

	queue     chan job
	wg        sync.WaitGroup
	closeOnce sync.Once
	mutex     sync.RWMutex
	closed    bool
}

// RecorderOption configures an AsyncRecorder.
type RecorderOption func(*AsyncRecorder)

// WithLeaderboard mirrors every score change into lb.
func WithLeaderboard(lb cache.Leaderboard) RecorderOption {
	return func(r *AsyncRecorder) { r.leaderboard = lb }
}

// WithDropHook is called for every job dropped on a full queue.
func WithDropHook(fn func()) RecorderOption {
	return func(r *AsyncRecorder) { r.onDrop = fn }
}

func NewAsyncRecorder(db Database, queueSize int, opts ...RecorderOption) *AsyncRecorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	r := &AsyncRecorder{
		db:    db,
		queue: make(chan job, queueSize),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.worker()
	return r
}

func (r *AsyncRecorder) GameFinished(record models.GameRecord) {
	if r.db == nil {
		return
	}
	r.enqueue(job{name: "game " + record.GameID, run: func(ctx context.Context) error {
		return r.db.SaveGameRecord(ctx, record)
	}})
}

func (r *AsyncRecorder) ChatPosted(msg models.ChatMessage) {
	if r.db == nil {
		return
	}
	r.enqueue(job{name: "chat " + msg.ID, run: func(ctx context.Context) error {
		return r.db.SaveChatMessage(ctx, msg)
	}})
}

func (r *AsyncRecorder) ScoreChanged(roomID, playerID string, total int) {
	if r.leaderboard == nil {
		return
	}
	r.enqueue(job{name: "score " + playerID, run: func(ctx context.Context) error {
		return r.leaderboard.SetScore(ctx, roomID, playerID, total)
	}})
}

func (r *AsyncRecorder) enqueue(j job) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- j:
	default:
		logger.Log.Warnf("persistence queue full, dropping %s", j.name)
		if r.onDrop != nil {
			r.onDrop()
		}
	}
}

func (r *AsyncRecorder) worker() {
	defer r.wg.Done()
	for j := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := j.run(ctx); err != nil {
			logger.Log.Errorf("persist %s: %v", j.name, err)
		}
		cancel()
	}
}

// Close stops accepting jobs and waits for the queue to drain.
func (r *AsyncRecorder) Close() {
	r.closeOnce.Do(func() {
		r.mutex.Lock()
		r.closed = true
		close(r.queue)
		r.mutex.Unlock()
	})
	r.wg.Wait()
}
