// 结果输出：按周期记录控制循环的info，回合结束时批量写入
package output

import (
	"context"

	"git.fiblab.net/general/common/v2/mongoutil"
	"github.com/pkg/errors"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// 结果记录接口
type IRecorder interface {
	Append(doc map[string]any)       // 追加一条周期记录
	Flush(ctx context.Context) error // 写出已缓存的记录
	Close(ctx context.Context) error // 写出剩余记录并释放连接
}

// New 根据配置创建结果记录器
// 说明：MongoDB与SQLite可以同时启用；都未配置时返回丢弃所有记录的记录器
func New(c config.Output) (IRecorder, error) {
	var rs Multi
	if c.URI != "" {
		rs = append(rs, NewMongo(mongoutil.NewClient(c.URI), c.DB, c.Col))
	}
	if c.SQLite != "" {
		s, err := OpenSQLite(c.SQLite, c.Col)
		if err != nil {
			return nil, err
		}
		rs = append(rs, s)
	}
	switch len(rs) {
	case 0:
		return Discard{}, nil
	case 1:
		return rs[0], nil
	}
	return rs, nil
}

// Mongo 写入MongoDB的记录器
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	buffer []any
}

// NewMongo 创建MongoDB记录器
// 参数：client-已连接的客户端，db-数据库名，col-集合名
func NewMongo(client *mongo.Client, db, col string) *Mongo {
	log.Infof("recording to mongo %s.%s", db, col)
	return &Mongo{
		client: client,
		coll:   client.Database(db).Collection(col),
	}
}

func (m *Mongo) Append(doc map[string]any) {
	m.buffer = append(m.buffer, bson.M(doc))
}

// Flush 批量写入已缓存的记录，写入失败时保留缓存以便重试
func (m *Mongo) Flush(ctx context.Context) error {
	if len(m.buffer) == 0 {
		return nil
	}
	if _, err := m.coll.InsertMany(ctx, m.buffer); err != nil {
		return errors.Wrapf(err, "output: insert %d records", len(m.buffer))
	}
	log.Debugf("wrote %d records", len(m.buffer))
	m.buffer = m.buffer[:0]
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	err := m.Flush(ctx)
	if dErr := m.client.Disconnect(ctx); dErr != nil && err == nil {
		err = errors.Wrap(dErr, "output: disconnect")
	}
	return err
}

// Memory 保存在内存中的记录器
type Memory struct {
	Pending []map[string]any // 尚未写出的记录
	Written []map[string]any // 已写出的记录
}

func (m *Memory) Append(doc map[string]any) {
	m.Pending = append(m.Pending, doc)
}

func (m *Memory) Flush(context.Context) error {
	m.Written = append(m.Written, m.Pending...)
	m.Pending = nil
	return nil
}

func (m *Memory) Close(ctx context.Context) error { return m.Flush(ctx) }

// Discard 丢弃所有记录
type Discard struct{}

func (Discard) Append(map[string]any) {}

func (Discard) Flush(context.Context) error { return nil }

func (Discard) Close(context.Context) error { return nil }
