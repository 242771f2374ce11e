// Package bridge 負責訂閱生命週期:把儲存端的變動通知轉成有序的狀態更新
// 每個邏輯範圍(聊天室清單、訊息清單)同時最多只有一個存活訂閱
package bridge

import (
	"context"
	"fmt"
	"log"
	"sync"

	"go-chat/client/models"
	"go-chat/client/store"
)

// Handler 在橋接器的套用迴圈上收到快照
type Handler func(store.Snapshot)

// ErrorHandler 收到訂閱執行期間的錯誤,訂閱本身維持存活、資料停留在舊狀態
type ErrorHandler func(error)

// delivery 是一份帶著世代標記的快照
type delivery struct {
	scope string
	gen   uint64
	snap  store.Snapshot
}

// scopeState 追蹤一個邏輯範圍目前存活的訂閱
type scopeState struct {
	gen     uint64
	sub     store.Subscription
	handler Handler
}

// Bridge 擁有所有存活的儲存端訂閱
// 所有快照都先送進單一 apply 通道,由一個 goroutine 依序套用,
// 套用前比對世代,被取代的訂閱送來的快照直接丟棄
type Bridge struct {
	st store.Store

	mu      sync.Mutex
	scopes  map[string]*scopeState
	nextGen uint64
	// 拆除水位:記錄拆除當下已發出的最大世代,
	// 讓拆除期間還卡在 store.Subscribe 的呼叫回來時知道自己已被拆掉
	torn    map[string]uint64
	tornAll uint64

	apply chan delivery
	quit  chan struct{}
	once  sync.Once
}

// New 建立橋接器並啟動套用迴圈
func New(st store.Store) *Bridge {
	b := &Bridge{
		st:     st,
		scopes: make(map[string]*scopeState),
		torn:   make(map[string]uint64),
		apply:  make(chan delivery, 64),
		quit:   make(chan struct{}),
	}
	go b.run()
	return b
}

// run 單一事件迴圈:所有快照在這裡序列化套用,狀態永遠不會被兩個寫入者同時改動
func (b *Bridge) run() {
	for {
		select {
		case d := <-b.apply:
			b.mu.Lock()
			sc, ok := b.scopes[d.scope]
			current := ok && sc.gen == d.gen
			var h Handler
			if current {
				h = sc.handler
			}
			b.mu.Unlock()

			if !current {
				// 過期世代的快照,代表訂閱已被取代或拆除
				continue
			}
			h(d.snap)
		case <-b.quit:
			return
		}
	}
}

// Subscribe 為一個邏輯範圍建立訂閱
// 同範圍的舊訂閱一定先被解除,才建立新的,避免重複送達或監聽者外洩
func (b *Bridge) Subscribe(ctx context.Context, scope string, q store.Query, h Handler, onError ErrorHandler) error {
	b.mu.Lock()
	if old, ok := b.scopes[scope]; ok {
		old.sub.Unsubscribe()
		delete(b.scopes, scope)
	}
	b.nextGen++
	gen := b.nextGen
	b.mu.Unlock()

	sub, err := b.st.Subscribe(ctx, q)
	if err != nil {
		return fmt.Errorf("%w: subscribe %s: %v", models.ErrTransient, scope, err)
	}

	b.mu.Lock()
	// 建立訂閱期間可能有人又搶先開了同範圍的新訂閱,或範圍已被拆除,
	// 兩種情況都不能註冊:世代比較新的才能留下,拆過的必須保持拆除
	superseded := false
	if cur, ok := b.scopes[scope]; ok {
		if cur.gen > gen {
			superseded = true
		} else {
			// 兩個同範圍的建立同時在途,晚到的把早到的換掉時要先解除它
			cur.sub.Unsubscribe()
		}
	}
	if b.torn[scope] >= gen || b.tornAll >= gen {
		superseded = true
	}
	if superseded {
		b.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	b.scopes[scope] = &scopeState{gen: gen, sub: sub, handler: h}
	b.mu.Unlock()

	go b.pump(scope, gen, sub, onError)
	return nil
}

// pump 把一個訂閱的快照與錯誤轉發到套用迴圈,直到儲存端關閉通道
func (b *Bridge) pump(scope string, gen uint64, sub store.Subscription, onError ErrorHandler) {
	snaps := sub.Snapshots()
	errs := sub.Errs()
	for snaps != nil || errs != nil {
		select {
		case snap, ok := <-snaps:
			if !ok {
				snaps = nil
				continue
			}
			select {
			case b.apply <- delivery{scope: scope, gen: gen, snap: snap}:
			case <-b.quit:
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("Subscription error on scope %s: %v", scope, err)
			if onError != nil {
				onError(err)
			}
		}
	}
}

// TearDown 解除一個範圍的訂閱,立即生效
// 已在途中的快照因為世代不再是最新,到達套用迴圈時會被丟棄
func (b *Bridge) TearDown(scope string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sc, ok := b.scopes[scope]; ok {
		sc.sub.Unsubscribe()
		delete(b.scopes, scope)
	}
	b.torn[scope] = b.nextGen
}

// TearDownAll 同步解除所有訂閱,登出時呼叫,完成後才允許新身分重新建立訂閱
func (b *Bridge) TearDownAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for scope, sc := range b.scopes {
		sc.sub.Unsubscribe()
		delete(b.scopes, scope)
	}
	b.tornAll = b.nextGen
}

// Close 拆除所有訂閱並停止套用迴圈
func (b *Bridge) Close() {
	b.TearDownAll()
	b.once.Do(func() { close(b.quit) })
}
