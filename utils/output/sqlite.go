package output

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	_ "modernc.org/sqlite"
)

const cycleSchema = `
CREATE TABLE IF NOT EXISTS cycles (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    job         TEXT NOT NULL,
    episode_id  TEXT NOT NULL,
    episode     INTEGER NOT NULL,
    cycle       INTEGER NOT NULL,
    sim_time    REAL NOT NULL,
    record      TEXT NOT NULL
);
`

const cycleIndex = `
CREATE INDEX IF NOT EXISTS idx_cycles_episode ON cycles(episode_id, cycle);
`

const insertCycle = `
INSERT INTO cycles (job, episode_id, episode, cycle, sim_time, record)
VALUES (?, ?, ?, ?, ?, ?)`

// SQLite 写入本地SQLite文件的记录器
// 说明：完整记录以扩展JSON保存在record列，回合与周期单独成列便于查询
type SQLite struct {
	db     *sql.DB
	job    string
	buffer []map[string]any
}

// OpenSQLite 打开（必要时创建）SQLite文件并建表
func OpenSQLite(path, job string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "output: open %s", path)
	}
	s, err := NewSQLite(db, job)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Infof("recording to sqlite %s (job %s)", path, job)
	return s, nil
}

// NewSQLite 在已打开的数据库上建表
// 参数：db-数据库连接，job-写入job列的任务名
func NewSQLite(db *sql.DB, job string) (*SQLite, error) {
	if _, err := db.Exec(cycleSchema); err != nil {
		return nil, errors.Wrap(err, "output: create table")
	}
	if _, err := db.Exec(cycleIndex); err != nil {
		return nil, errors.Wrap(err, "output: create index")
	}
	return &SQLite{db: db, job: job}, nil
}

func (s *SQLite) Append(doc map[string]any) {
	s.buffer = append(s.buffer, doc)
}

// Flush 在一个事务中写入已缓存的记录，失败时回滚并保留缓存
func (s *SQLite) Flush(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "output: begin")
	}
	if err := s.insert(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "output: commit")
	}
	log.Debugf("wrote %d records", len(s.buffer))
	s.buffer = s.buffer[:0]
	return nil
}

func (s *SQLite) insert(ctx context.Context, tx *sql.Tx) error {
	stmt, err := tx.PrepareContext(ctx, insertCycle)
	if err != nil {
		return errors.Wrap(err, "output: prepare")
	}
	defer stmt.Close()
	for _, doc := range s.buffer {
		record, err := bson.MarshalExtJSON(bson.M(doc), false, false)
		if err != nil {
			return errors.Wrap(err, "output: marshal record")
		}
		if _, err := stmt.ExecContext(ctx,
			s.job,
			lo.ValueOr[string, any](doc, "episode_id", ""),
			lo.ValueOr[string, any](doc, "episode", 0),
			lo.ValueOr[string, any](doc, "cycle", 0),
			lo.ValueOr[string, any](doc, "sim_time", 0.),
			string(record),
		); err != nil {
			return errors.Wrap(err, "output: insert")
		}
	}
	return nil
}

func (s *SQLite) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	if cErr := s.db.Close(); cErr != nil && err == nil {
		err = errors.Wrap(cErr, "output: close")
	}
	return err
}

// Multi 同时写入多个记录器
type Multi []IRecorder

func (m Multi) Append(doc map[string]any) {
	for _, r := range m {
		r.Append(doc)
	}
}

func (m Multi) Flush(ctx context.Context) error {
	var first error
	for _, r := range m {
		if err := r.Flush(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close(ctx context.Context) error {
	var first error
	for _, r := range m {
		if err := r.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
