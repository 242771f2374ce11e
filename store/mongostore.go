package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"go-chat/client/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore 以 MongoDB 實作文件儲存端邊界
// 訂閱用 change stream 觸發重新查詢,每次變動推送一份完整快照
// 注意:change stream 需要 replica set,單機請用 --replSet 啟動
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore 建立並初始化 MongoDB 連線
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	clientOptions := options.Client().ApplyURI(uri)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", models.ErrTransient, err)
	}

	// Ping the primary to verify connection
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("%w: ping: %v", models.ErrTransient, err)
	}

	log.Println("Connected to MongoDB successfully!")
	return &MongoStore{client: client, db: client.Database(dbName)}, nil
}

// Close 關閉 MongoDB 連線
func (s *MongoStore) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("%w: disconnect: %v", models.ErrTransient, err)
	}
	log.Println("Disconnected from MongoDB.")
	return nil
}

// splitTimestamps 把欄位拆成一般值與需要伺服器時間戳的欄位名稱
func splitTimestamps(fields map[string]any) (bson.M, []string) {
	literal := bson.M{}
	var stamped []string
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			stamped = append(stamped, k)
			continue
		}
		literal[k] = v
	}
	return literal, stamped
}

// Add 新增文件,伺服器時間戳欄位透過 $$NOW 管線更新,由 mongod 的時鐘決定
func (s *MongoStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	literal, stamped := splitTimestamps(fields)

	res, err := s.db.Collection(collection).InsertOne(ctx, literal)
	if err != nil {
		return "", fmt.Errorf("%w: insert: %v", models.ErrTransient, err)
	}
	id := res.InsertedID.(primitive.ObjectID)

	if len(stamped) > 0 {
		set := bson.D{}
		for _, f := range stamped {
			set = append(set, bson.E{Key: f, Value: "$$NOW"})
		}
		if _, err := s.db.Collection(collection).UpdateByID(ctx, id, mongo.Pipeline{{{Key: "$set", Value: set}}}); err != nil {
			return "", fmt.Errorf("%w: set server timestamp: %v", models.ErrTransient, err)
		}
	}
	return id.Hex(), nil
}

// Get 以 ID 讀取單一文件
func (s *MongoStore) Get(ctx context.Context, collection, id string) (Document, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %s/%s", models.ErrNotFound, collection, id)
	}

	var raw bson.M
	err = s.db.Collection(collection).FindOne(ctx, bson.M{"_id": oid}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return Document{}, fmt.Errorf("%w: %s/%s", models.ErrNotFound, collection, id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("%w: find one: %v", models.ErrTransient, err)
	}
	return documentFromRaw(raw), nil
}

// Update 合併更新文件欄位
// 有伺服器時間戳欄位時改用聚合管線,一般值用 $literal 包起來避免被當成運算式
func (s *MongoStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s/%s", models.ErrNotFound, collection, id)
	}

	literal, stamped := splitTimestamps(fields)

	var update any
	if len(stamped) > 0 {
		set := bson.D{}
		for k, v := range literal {
			set = append(set, bson.E{Key: k, Value: bson.M{"$literal": v}})
		}
		for _, f := range stamped {
			set = append(set, bson.E{Key: f, Value: "$$NOW"})
		}
		update = mongo.Pipeline{{{Key: "$set", Value: set}}}
	} else {
		update = bson.M{"$set": literal}
	}

	res, err := s.db.Collection(collection).UpdateByID(ctx, oid, update)
	if err != nil {
		return fmt.Errorf("%w: update: %v", models.ErrTransient, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s/%s", models.ErrNotFound, collection, id)
	}
	return nil
}

// Delete 刪除文件
func (s *MongoStore) Delete(ctx context.Context, collection, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s/%s", models.ErrNotFound, collection, id)
	}

	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("%w: delete: %v", models.ErrTransient, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s/%s", models.ErrNotFound, collection, id)
	}
	return nil
}

// Find 一次性查詢,依排序欄位升序,再以 _id 決定同值順序
func (s *MongoStore) Find(ctx context.Context, q Query) (Snapshot, error) {
	filter := bson.M{}
	for k, v := range q.Filter {
		filter[k] = v
	}

	sortKeys := bson.D{}
	if q.OrderBy != "" {
		sortKeys = append(sortKeys, bson.E{Key: q.OrderBy, Value: 1})
	}
	sortKeys = append(sortKeys, bson.E{Key: "_id", Value: 1})
	findOptions := options.Find().SetSort(sortKeys)

	cursor, err := s.db.Collection(q.Collection).Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("%w: find: %v", models.ErrTransient, err)
	}
	defer cursor.Close(ctx)

	var raws []bson.M
	if err = cursor.All(ctx, &raws); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", models.ErrTransient, err)
	}

	snap := make(Snapshot, 0, len(raws))
	for _, raw := range raws {
		snap = append(snap, documentFromRaw(raw))
	}
	return snap, nil
}

// Subscribe 建立訂閱:先送出目前狀態,之後每個 change stream 事件重新查詢再推送
func (s *MongoStore) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	cctx, cancel := context.WithCancel(ctx)

	stream, err := s.db.Collection(q.Collection).Watch(cctx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: watch: %v", models.ErrTransient, err)
	}

	sub := &mongoSub{
		cancel: cancel,
		out:    make(chan Snapshot),
		errs:   make(chan error, 1),
	}
	go sub.pump(cctx, s, q, stream)
	return sub, nil
}

// mongoSub 包裝一條 change stream 與它的重查迴圈
type mongoSub struct {
	cancel context.CancelFunc
	out    chan Snapshot
	errs   chan error
}

func (m *mongoSub) Snapshots() <-chan Snapshot { return m.out }
func (m *mongoSub) Errs() <-chan error         { return m.errs }
func (m *mongoSub) Unsubscribe()               { m.cancel() }

func (m *mongoSub) pump(ctx context.Context, s *MongoStore, q Query, stream *mongo.ChangeStream) {
	defer func() {
		stream.Close(context.Background())
		close(m.out)
		close(m.errs)
	}()

	send := func() bool {
		snap, err := s.Find(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			// 回報錯誤但不中斷訂閱,呼叫端維持舊資料
			select {
			case m.errs <- err:
			default:
			}
			return true
		}
		select {
		case m.out <- snap:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send() {
		return
	}
	for stream.Next(ctx) {
		if !send() {
			return
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		select {
		case m.errs <- fmt.Errorf("%w: change stream: %v", models.ErrTransient, err):
		default:
		}
	}
}

// documentFromRaw 把 bson 解碼結果轉成一般的 Document
func documentFromRaw(raw bson.M) Document {
	doc := Document{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		if k == "_id" {
			if oid, ok := v.(primitive.ObjectID); ok {
				doc.ID = oid.Hex()
			}
			continue
		}
		doc.Fields[k] = normalizeValue(v)
	}
	return doc
}

// normalizeValue 把 bson 專屬型別換成一般 Go 值,讓上層不用認識驅動的型別
func normalizeValue(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time()
	case primitive.A:
		out := make([]any, 0, len(t))
		for _, e := range t {
			out = append(out, normalizeValue(e))
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

// StringSlice 把快照欄位裡的成員列表轉成 []string
// 記憶體儲存端給 []string,MongoDB 解碼後是 []any,這裡統一處理
func StringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
