package transfer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

var pageRe = regexp.MustCompile(`LIMIT (\d+) OFFSET (\d+)$`)

// fakeSource serves rows from memory. Paged queries are recognised by their
// LIMIT/OFFSET suffix; anything else returns every row.
type fakeSource struct {
	mu          sync.Mutex
	kind        model.ConnType
	cols        []driver.Column
	rows        []driver.Row
	failFetches int
	stmt        *driver.StatementResult
	stmtErr     error

	queries   []string
	countArgs []any
	executed  []string
}

func (f *fakeSource) Kind() model.ConnType {
	if f.kind == "" {
		return model.RowStore
	}
	return f.kind
}
func (f *fakeSource) DriverName() string            { return "fakesrc" }
func (f *fakeSource) Close() error                  { return nil }
func (f *fakeSource) Ping(context.Context) error    { return nil }
func (f *fakeSource) QuoteIdent(name string) string { return "`" + name + "`" }

func (f *fakeSource) Query(_ context.Context, q string, _ ...any) (*driver.ResultSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	m := pageRe.FindStringSubmatch(q)
	if m == nil {
		return &driver.ResultSet{Columns: driver.ColumnNames(f.cols), Rows: f.rows}, nil
	}
	if f.failFetches > 0 {
		f.failFetches--
		return nil, errors.New("lost connection to server during query")
	}
	limit, _ := strconv.Atoi(m[1])
	offset, _ := strconv.Atoi(m[2])
	if offset >= len(f.rows) {
		return &driver.ResultSet{}, nil
	}
	end := min(offset+limit, len(f.rows))
	return &driver.ResultSet{Columns: driver.ColumnNames(f.cols), Rows: f.rows[offset:end]}, nil
}

func (f *fakeSource) Execute(_ context.Context, stmt string) (*driver.StatementResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, stmt)
	if f.stmtErr != nil {
		return nil, f.stmtErr
	}
	if f.stmt == nil {
		return &driver.StatementResult{}, nil
	}
	return f.stmt, nil
}

func (f *fakeSource) DescribeTable(context.Context, string) ([]driver.Column, error) {
	return f.cols, nil
}

func (f *fakeSource) Count(_ context.Context, _ string, args ...any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countArgs = args
	return int64(len(f.rows)), nil
}

func (f *fakeSource) PageQuery(q, orderBy string, limit, offset int64) string {
	if orderBy != "" {
		q += " ORDER BY " + orderBy
	}
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", q, limit, offset)
}

func (f *fakeSource) pageQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, q := range f.queries {
		if pageRe.MatchString(q) {
			out = append(out, q)
		}
	}
	return out
}

// fakeSink records inserted batches.
type fakeSink struct {
	mu          sync.Mutex
	namespaces  map[string]bool
	tables      map[string]bool
	ddl         []string
	failInserts int
	breakAfter  int // inserts fail once this many batches have landed
	onInsert    func(batch int)

	cols    []string
	batches [][][]any
}

func newFakeSink() *fakeSink {
	return &fakeSink{namespaces: map[string]bool{}, tables: map[string]bool{}}
}

func (f *fakeSink) Kind() model.ConnType          { return model.ColumnarStore }
func (f *fakeSink) DriverName() string            { return "fakesink" }
func (f *fakeSink) Close() error                  { return nil }
func (f *fakeSink) Ping(context.Context) error    { return nil }
func (f *fakeSink) QuoteIdent(name string) string { return `"` + name + `"` }
func (f *fakeSink) Query(context.Context, string, ...any) (*driver.ResultSet, error) {
	return &driver.ResultSet{}, nil
}
func (f *fakeSink) Execute(context.Context, string) (*driver.StatementResult, error) {
	return &driver.StatementResult{}, nil
}
func (f *fakeSink) NamespaceExists(_ context.Context, ns string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.namespaces[ns], nil
}
func (f *fakeSink) CreateNamespace(_ context.Context, ns string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.namespaces[ns] = true
	return nil
}
func (f *fakeSink) TableExists(_ context.Context, ns, table string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tables[ns+"."+table], nil
}
func (f *fakeSink) ExecDDL(_ context.Context, ddl string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ddl = append(f.ddl, ddl)
	return nil
}

func (f *fakeSink) InsertBatch(_ context.Context, _, _ string, cols []string, rows [][]any) (int64, error) {
	f.mu.Lock()
	if f.failInserts > 0 {
		f.failInserts--
		f.mu.Unlock()
		return 0, errors.New("deadlock detected")
	}
	if f.breakAfter > 0 && len(f.batches) >= f.breakAfter {
		f.mu.Unlock()
		return 0, errors.New("disk full")
	}
	f.cols = cols
	f.batches = append(f.batches, rows)
	n := len(f.batches)
	hook := f.onInsert
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return int64(len(rows)), nil
}

func (f *fakeSink) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

// fakeKV counts every method call so tests can assert it was never touched.
type fakeKV struct {
	mu      sync.Mutex
	calls   int
	entries map[string][]byte
	chunks  []int
	ttl     time.Duration
}

func newFakeKV() *fakeKV { return &fakeKV{entries: map[string][]byte{}} }

func (f *fakeKV) touch() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeKV) Kind() model.ConnType {
	f.touch()
	return model.KVStore
}
func (f *fakeKV) DriverName() string {
	f.touch()
	return "fakekv"
}
func (f *fakeKV) Close() error {
	f.touch()
	return nil
}
func (f *fakeKV) Ping(context.Context) error {
	f.touch()
	return nil
}
func (f *fakeKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.touch()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = value
	f.ttl = ttl
	return nil
}
func (f *fakeKV) SetMany(_ context.Context, entries []driver.Entry, ttl time.Duration) error {
	f.touch()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		f.entries[e.Key] = e.Value
	}
	f.chunks = append(f.chunks, len(entries))
	f.ttl = ttl
	return nil
}

type memCheckpoints struct {
	mu  sync.Mutex
	cps map[string]*model.Checkpoint
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{cps: map[string]*model.Checkpoint{}}
}

func (m *memCheckpoints) GetCheckpoint(_ context.Context, id string) (*model.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[id]
	if !ok {
		return nil, nil
	}
	c := *cp
	return &c, nil
}

func (m *memCheckpoints) SaveCheckpoint(_ context.Context, cp *model.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cp
	m.cps[cp.TaskID] = &c
	return nil
}

func (m *memCheckpoints) ClearCheckpoint(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cps, id)
	return nil
}

type memConfigs struct {
	saved map[string]model.Config
}

func (m *memConfigs) SaveConfig(_ context.Context, id string, cfg model.Config) error {
	if m.saved == nil {
		m.saved = map[string]model.Config{}
	}
	m.saved[id] = cfg
	return nil
}

type recordingProgress struct {
	mu    sync.Mutex
	total int64
	added int64
}

func (p *recordingProgress) SetTotal(n int64) {
	p.mu.Lock()
	p.total = n
	p.mu.Unlock()
}

func (p *recordingProgress) Add(n int64) {
	p.mu.Lock()
	p.added += n
	p.mu.Unlock()
}

type fakeResolver struct {
	conns   map[string]*model.Connection
	handles map[string]driver.Handle
}

func (r *fakeResolver) Get(_ context.Context, id string) (*model.Connection, error) {
	c, ok := r.conns[id]
	if !ok {
		return nil, fmt.Errorf("connection %q: not found", id)
	}
	return c, nil
}

func (r *fakeResolver) LiveHandle(_ context.Context, id string) (driver.Handle, error) {
	h, ok := r.handles[id]
	if !ok {
		return nil, fmt.Errorf("no handle for %q", id)
	}
	return h, nil
}

func userRows(n int) []driver.Row {
	rows := make([]driver.Row, n)
	for i := range rows {
		rows[i] = driver.Row{
			"id":         int64(i + 1),
			"name":       fmt.Sprintf("user-%d", i+1),
			"created_at": "2024-01-02 03:04:05",
			"tags":       []any{"a", "b"},
		}
	}
	return rows
}

func userColumns() []driver.Column {
	return []driver.Column{
		{Name: "id", Type: "int(11)", Key: true},
		{Name: "name", Type: "varchar(64)", Nullable: true},
		{Name: "created_at", Type: "datetime"},
		{Name: "tags", Type: "json", Nullable: true},
	}
}
