// timer/timer.go
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Scheduler is a keyed, cancellable delayed-execution facility. At most one
// pending task exists per key.
type Scheduler interface {
	Schedule(key string, delay time.Duration, callback func()) int64
	Cancel(key string) bool
}

type TimerTask struct {
	Id       int64
	Key      string
	Execute  time.Time
	Callback func()
	index    int
}

type TimerQueue []*TimerTask

func (q TimerQueue) Len() int { return len(q) }

func (q TimerQueue) Less(i, j int) bool {
	return q[i].Execute.Before(q[j].Execute)
}

func (q TimerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *TimerQueue) Push(x interface{}) {
	n := len(*q)
	task := x.(*TimerTask)
	task.index = n
	*q = append(*q, task)
}

func (q *TimerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*q = old[0 : n-1]
	return task
}

// TimerManager 以最小堆保存所有任务，单个 time.Timer 始终对准堆顶
type TimerManager struct {
	queue     TimerQueue
	keys      map[string]*TimerTask
	mutex     sync.Mutex
	nextId    int64
	wake      chan struct{}
	closeChan chan struct{}
	closeOnce sync.Once
}

func NewTimerManager() *TimerManager {
	manager := &TimerManager{
		queue:     make(TimerQueue, 0),
		keys:      make(map[string]*TimerTask),
		nextId:    1,
		wake:      make(chan struct{}, 1),
		closeChan: make(chan struct{}),
	}
	heap.Init(&manager.queue)
	go manager.process()
	return manager
}

// Schedule 取消 key 下已有的任务后重新设置，返回新任务的 id
func (m *TimerManager) Schedule(key string, delay time.Duration, callback func()) int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.removeLocked(key)

	task := &TimerTask{
		Id:       m.nextId,
		Key:      key,
		Execute:  time.Now().Add(delay),
		Callback: callback,
	}
	m.nextId++

	heap.Push(&m.queue, task)
	m.keys[key] = task
	m.signal()
	return task.Id
}

// Cancel is idempotent; it reports whether a pending task was removed.
func (m *TimerManager) Cancel(key string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	removed := m.removeLocked(key)
	if removed {
		m.signal()
	}
	return removed
}

func (m *TimerManager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.queue.Len()
}

// Close stops the manager; pending tasks never fire.
func (m *TimerManager) Close() {
	m.closeOnce.Do(func() { close(m.closeChan) })
}

func (m *TimerManager) removeLocked(key string) bool {
	task, ok := m.keys[key]
	if !ok {
		return false
	}
	delete(m.keys, key)
	if task.index >= 0 {
		heap.Remove(&m.queue, task.index)
	}
	return true
}

func (m *TimerManager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *TimerManager) process() {
	t := time.NewTimer(time.Hour)
	t.Stop()
	defer t.Stop()

	for {
		m.mutex.Lock()
		if m.queue.Len() > 0 {
			t.Reset(time.Until(m.queue[0].Execute))
		} else {
			t.Stop()
		}
		m.mutex.Unlock()

		select {
		case <-t.C:
			m.fireDue(time.Now())
		case <-m.wake:
		case <-m.closeChan:
			return
		}
	}
}

func (m *TimerManager) fireDue(now time.Time) {
	var due []*TimerTask

	m.mutex.Lock()
	for m.queue.Len() > 0 {
		task := m.queue[0]
		if task.Execute.After(now) {
			break
		}
		heap.Pop(&m.queue)
		if m.keys[task.Key] == task {
			delete(m.keys, task.Key)
		}
		due = append(due, task)
	}
	m.mutex.Unlock()

	for _, task := range due {
		go task.Callback()
	}
}
