package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"go-chat/client/models"
)

// MemoryStore 是給測試與離線執行用的記憶體版儲存端
// 用邏輯時鐘模擬伺服器時間戳:每次指派都前進一毫秒,保證單調遞增
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	subs        map[*memorySub]struct{}
	seq         uint64
	clock       time.Time
}

// NewMemoryStore 建立一個空的記憶體儲存端
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]map[string]any),
		subs:        make(map[*memorySub]struct{}),
		clock:       time.Now().Truncate(time.Millisecond),
	}
}

// now 模擬伺服器時鐘,每次呼叫都嚴格遞增
func (s *MemoryStore) now() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

// newID 產生儲存端指派的文件 ID,十六進位零填補讓字典序等於插入序
func (s *MemoryStore) newID() string {
	s.seq++
	return fmt.Sprintf("%024x", s.seq)
}

func (s *MemoryStore) collection(name string) map[string]map[string]any {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string]map[string]any)
		s.collections[name] = c
	}
	return c
}

// resolveTimestamps 複製欄位並把 ServerTimestamp 標記換成伺服器時間
func (s *MemoryStore) resolveTimestamps(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = s.now()
			continue
		}
		out[k] = v
	}
	return out
}

// Add 新增文件並回傳指派的 ID
func (s *MemoryStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	s.collection(collection)[id] = s.resolveTimestamps(fields)
	s.notifyLocked(collection)
	return id, nil
}

// Get 以 ID 讀取單一文件
func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, ok := s.collection(collection)[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s/%s", models.ErrNotFound, collection, id)
	}
	return Document{ID: id, Fields: cloneFields(fields)}, nil
}

// Update 合併更新文件欄位
func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collection(collection)[id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", models.ErrNotFound, collection, id)
	}
	for k, v := range s.resolveTimestamps(fields) {
		doc[k] = v
	}
	s.notifyLocked(collection)
	return nil
}

// Delete 刪除文件
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	if _, ok := c[id]; !ok {
		return fmt.Errorf("%w: %s/%s", models.ErrNotFound, collection, id)
	}
	delete(c, id)
	s.notifyLocked(collection)
	return nil
}

// Find 一次性查詢
func (s *MemoryStore) Find(ctx context.Context, q Query) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(q), nil
}

// Subscribe 建立訂閱,先送出目前的快照
func (s *MemoryStore) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	sub := &memorySub{
		query: q,
		out:   make(chan Snapshot),
		errs:  make(chan error, 1),
	}
	sub.cond = sync.NewCond(&sub.mu)

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	sub.enqueue(s.snapshotLocked(q))
	s.mu.Unlock()

	go sub.pump()
	return sub, nil
}

// snapshotLocked 計算一個查詢當下的完整有序快照,呼叫者需持有 s.mu
func (s *MemoryStore) snapshotLocked(q Query) Snapshot {
	var snap Snapshot
	for id, fields := range s.collection(q.Collection) {
		if !matchesFilter(fields, q.Filter) {
			continue
		}
		snap = append(snap, Document{ID: id, Fields: cloneFields(fields)})
	}
	sortSnapshot(snap, q.OrderBy)
	return snap
}

// notifyLocked 對所有訂閱該集合的訂閱者重算並推送快照,呼叫者需持有 s.mu
func (s *MemoryStore) notifyLocked(collection string) {
	for sub := range s.subs {
		if sub.query.Collection != collection {
			continue
		}
		sub.enqueue(s.snapshotLocked(sub.query))
	}
}

// memorySub 透過無上限佇列搭配單一 pump goroutine 送出快照
// 佇列保證送達順序等於變動發生順序,也避免在持有儲存鎖時對通道阻塞
type memorySub struct {
	query  Query
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Snapshot
	closed bool
	out    chan Snapshot
	errs   chan error
}

func (m *memorySub) enqueue(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.queue = append(m.queue, snap)
	m.cond.Signal()
}

func (m *memorySub) pump() {
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.queue) == 0 && m.closed {
			m.mu.Unlock()
			close(m.out)
			close(m.errs)
			return
		}
		snap := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.out <- snap
	}
}

func (m *memorySub) Snapshots() <-chan Snapshot { return m.out }
func (m *memorySub) Errs() <-chan error         { return m.errs }

// Unsubscribe 終止訂閱,已在佇列中的快照仍會送完(由世代比對負責丟棄)
func (m *memorySub) Unsubscribe() {
	m.mu.Lock()
	m.closed = true
	m.cond.Signal()
	m.mu.Unlock()
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if ss, ok := v.([]string); ok {
			out[k] = append([]string(nil), ss...)
			continue
		}
		out[k] = v
	}
	return out
}

func matchesFilter(fields, filter map[string]any) bool {
	for k, want := range filter {
		if !reflect.DeepEqual(fields[k], want) {
			return false
		}
	}
	return true
}

// sortSnapshot 依排序欄位升序排列,再用文件 ID 決定同值順序
func sortSnapshot(snap Snapshot, orderBy string) {
	sort.Slice(snap, func(i, j int) bool {
		if orderBy != "" {
			if c := compareValues(snap[i].Fields[orderBy], snap[j].Fields[orderBy]); c != 0 {
				return c < 0
			}
		}
		return snap[i].ID < snap[j].ID
	})
}

func compareValues(a, b any) int {
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok && bok {
		return at.Compare(bt)
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
