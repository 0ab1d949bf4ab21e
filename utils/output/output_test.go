package output_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/output"
)

func TestNewWithoutURIDiscards(t *testing.T) {
	r, err := output.New(config.Output{DB: "rampmeter", Col: "test"})
	require.NoError(t, err)
	assert.IsType(t, output.Discard{}, r)
	r.Append(map[string]any{"t": 1.0})
	assert.NoError(t, r.Flush(context.Background()))
	assert.NoError(t, r.Close(context.Background()))
}

func TestMemory(t *testing.T) {
	m := &output.Memory{}
	var r output.IRecorder = m
	r.Append(map[string]any{"cycle": 1})
	r.Append(map[string]any{"cycle": 2})
	assert.Len(t, m.Pending, 2)
	require.NoError(t, r.Flush(context.Background()))
	assert.Empty(t, m.Pending)
	r.Append(map[string]any{"cycle": 3})
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, []map[string]any{{"cycle": 1}, {"cycle": 2}, {"cycle": 3}}, m.Written)
}

func newMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// 内存数据库只在单个连接内可见
	db.SetMaxOpenConns(1)
	return db
}

func TestSQLite(t *testing.T) {
	db := newMemoryDB(t)
	s, err := output.NewSQLite(db, "job0")
	require.NoError(t, err)
	s.Append(map[string]any{"episode_id": "e1", "episode": 0, "cycle": 0, "sim_time": 5.0, "reward": 0.0})
	s.Append(map[string]any{"episode_id": "e1", "episode": 0, "cycle": 1, "sim_time": 45.0, "reward": 0.5})
	require.NoError(t, s.Flush(context.Background()))
	// 再次写出时缓存已清空
	require.NoError(t, s.Flush(context.Background()))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM cycles WHERE job = ? AND episode_id = ?", "job0", "e1").Scan(&n))
	assert.Equal(t, 2, n)
	var simTime float64
	var record string
	require.NoError(t, db.QueryRow("SELECT sim_time, record FROM cycles WHERE cycle = 1").Scan(&simTime, &record))
	assert.Equal(t, 45.0, simTime)
	assert.Contains(t, record, `"reward"`)

	s.Append(map[string]any{"cycle": 2})
	require.NoError(t, s.Close(context.Background()))
}

func TestNewSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycles.db")
	r, err := output.New(config.Output{SQLite: path, Col: "job1"})
	require.NoError(t, err)
	assert.IsType(t, &output.SQLite{}, r)
	r.Append(map[string]any{"episode_id": "e2", "cycle": 0})
	require.NoError(t, r.Close(context.Background()))

	reopened, err := output.OpenSQLite(path, "job1")
	require.NoError(t, err)
	require.NoError(t, reopened.Close(context.Background()))
}

func TestMulti(t *testing.T) {
	a, b := &output.Memory{}, &output.Memory{}
	m := output.Multi{a, b}
	m.Append(map[string]any{"cycle": 1})
	require.NoError(t, m.Close(context.Background()))
	assert.Len(t, a.Written, 1)
	assert.Len(t, b.Written, 1)
}
