package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zh.xyz/dv/ora2pg/models"
)

type fakeWorker struct {
	mu         sync.Mutex
	fks        map[string][]string
	deps       map[models.ObjectKey][]models.ObjectKey
	extractErr map[string]error
	loadErr    map[string]error
	onLoad     func(name string)
	events     []string
}

func (f *fakeWorker) record(ev string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeWorker) index(ev string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.events {
		if e == ev {
			return i
		}
	}
	return -1
}

func (f *fakeWorker) ExtractTable(_ context.Context, name string) (*models.TableDescriptor, error) {
	if err := f.extractErr[name]; err != nil {
		return nil, err
	}
	desc := &models.TableDescriptor{Name: name}
	for _, ref := range f.fks[name] {
		desc.ForeignKeys = append(desc.ForeignKeys, models.ForeignKey{
			Name: fmt.Sprintf("FK_%s_%s", name, ref), Table: name, RefTable: ref,
		})
	}
	return desc, nil
}

func (f *fakeWorker) LoadTable(_ context.Context, t *models.TableDescriptor) error {
	return f.load(t.Name)
}

func (f *fakeWorker) ExtractObject(_ context.Context, key models.ObjectKey) (*models.SourceObject, error) {
	if err := f.extractErr[key.Name]; err != nil {
		return nil, err
	}
	return &models.SourceObject{Key: key, Dependencies: f.deps[key]}, nil
}

func (f *fakeWorker) LoadObject(_ context.Context, obj *models.SourceObject) error {
	return f.load(obj.Key.Name)
}

func (f *fakeWorker) load(name string) error {
	f.record("start:" + name)
	if f.onLoad != nil {
		f.onLoad(name)
	}
	f.record("end:" + name)
	return f.loadErr[name]
}

type recordingReporter struct {
	mu     sync.Mutex
	lines  []string
	states map[models.ObjectKey][]State
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{states: make(map[models.ObjectKey][]State)}
}

func (r *recordingReporter) Reportf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *recordingReporter) TaskChanged(key models.ObjectKey, state State, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[key] = append(r.states[key], state)
}

func table(name string) models.ObjectKey {
	return models.ObjectKey{Kind: models.KindTable, Name: name}
}

func TestReferencedTableLoadsFirst(t *testing.T) {
	for _, workers := range []int{1, 5} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			w := &fakeWorker{fks: map[string][]string{"ORDERS": {"CUSTOMERS"}}}
			rep := newRecordingReporter()

			out := New(workers, rep, nil).Run(context.Background(), []string{"ORDERS", "CUSTOMERS"}, nil, w, w)

			require.NoError(t, out.Err())
			assert.ElementsMatch(t, []models.ObjectKey{table("ORDERS"), table("CUSTOMERS")}, out.Done)
			assert.Less(t, w.index("end:CUSTOMERS"), w.index("start:ORDERS"))
			assert.Equal(t, Done, out.States[table("ORDERS")])
			if workers == 1 {
				assert.Equal(t, 1, out.Deferrals)
				assert.Contains(t, rep.states[table("ORDERS")], Deferred)
				assert.NotEmpty(t, rep.lines)
			}
		})
	}
}

func TestChainDrainsInDependencyOrder(t *testing.T) {
	w := &fakeWorker{fks: map[string][]string{"A": {"B"}, "B": {"C"}}}
	out := New(1, nil, nil).Run(context.Background(), []string{"A", "B", "C"}, nil, w, w)

	require.NoError(t, out.Err())
	assert.Equal(t, []models.ObjectKey{table("C"), table("B"), table("A")}, out.Done)
	assert.Equal(t, 3, out.Deferrals)
}

func TestSelfReferenceNeverDefers(t *testing.T) {
	w := &fakeWorker{fks: map[string][]string{"EMP": {"EMP"}}}
	out := New(1, nil, nil).Run(context.Background(), []string{"EMP"}, nil, w, w)

	require.NoError(t, out.Err())
	assert.Equal(t, []models.ObjectKey{table("EMP")}, out.Done)
	assert.Zero(t, out.Deferrals)
}

func TestCycleFailsInsteadOfLooping(t *testing.T) {
	for _, workers := range []int{1, 5} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			w := &fakeWorker{fks: map[string][]string{"A": {"B"}, "B": {"A"}}}
			out := New(workers, nil, nil).Run(context.Background(), []string{"A", "B"}, nil, w, w)

			assert.Empty(t, out.Done)
			assert.ErrorIs(t, out.Failed[table("A")], ErrDependencyCycle)
			assert.ErrorIs(t, out.Failed[table("B")], ErrDependencyCycle)
			assert.ErrorIs(t, out.Err(), ErrDependencyCycle)
			assert.Equal(t, -1, w.index("start:A"))
			assert.Equal(t, Failed, out.States[table("A")])
		})
	}
}

func TestFailedTaskDoesNotStopOthers(t *testing.T) {
	boom := errors.New("ORA-00942")
	w := &fakeWorker{
		fks:        map[string][]string{"ORDERS": {"CUSTOMERS"}},
		extractErr: map[string]error{"CUSTOMERS": boom},
	}
	out := New(2, nil, nil).Run(context.Background(), []string{"CUSTOMERS", "ORDERS", "ITEMS"}, nil, w, w)

	assert.ErrorIs(t, out.Failed[table("CUSTOMERS")], boom)
	assert.ElementsMatch(t, []models.ObjectKey{table("ORDERS"), table("ITEMS")}, out.Done)
	assert.ErrorIs(t, out.Err(), boom)
}

func TestLoadErrorMarksFailed(t *testing.T) {
	boom := errors.New("copy failed")
	w := &fakeWorker{loadErr: map[string]error{"EMP": boom}}
	out := New(1, nil, nil).Run(context.Background(), []string{"EMP", "DEPT"}, nil, w, w)

	assert.ErrorIs(t, out.Failed[table("EMP")], boom)
	assert.Equal(t, []models.ObjectKey{table("DEPT")}, out.Done)
}

func TestCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &fakeWorker{}
	out := New(2, nil, nil).Run(ctx, []string{"A", "B"}, []models.ObjectKey{{Kind: models.KindView, Name: "V"}}, w, w)

	assert.Empty(t, out.Done)
	assert.Len(t, out.Cancelled, 3)
	assert.Empty(t, w.events)
	assert.ErrorIs(t, out.Err(), ErrCancelled)
}

func TestRunningLoadFinishesAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &fakeWorker{onLoad: func(name string) {
		if name == "A" {
			cancel()
		}
	}}
	out := New(1, nil, nil).Run(ctx, []string{"A", "B", "C"}, nil, w, w)

	assert.Equal(t, []models.ObjectKey{table("A")}, out.Done)
	assert.ElementsMatch(t, []models.ObjectKey{table("B"), table("C")}, out.Cancelled)
	assert.GreaterOrEqual(t, w.index("end:A"), 0)
}

func TestObjectsRunAfterTables(t *testing.T) {
	proc := models.ObjectKey{Kind: models.KindProcedure, Name: "LOG_CHANGE"}
	view := models.ObjectKey{Kind: models.KindView, Name: "EMP_V"}
	trg := models.ObjectKey{Kind: models.KindTrigger, Name: "TRG_EMP"}
	w := &fakeWorker{
		deps:    map[models.ObjectKey][]models.ObjectKey{trg: {proc}},
		loadErr: map[string]error{"EMP_V": fmt.Errorf("manual: %w", ErrSkipped)},
	}

	out := New(1, nil, nil).Run(context.Background(), []string{"EMP"}, []models.ObjectKey{trg, proc, view}, w, w)

	require.NoError(t, out.Err())
	assert.Equal(t, []models.ObjectKey{table("EMP"), proc, trg}, out.Done)
	assert.Equal(t, []models.ObjectKey{view}, out.Skipped)
	assert.Less(t, w.index("end:EMP"), w.index("start:LOG_CHANGE"))
	assert.Less(t, w.index("end:LOG_CHANGE"), w.index("start:TRG_EMP"))
}

func TestDuplicateSelectionRunsOnce(t *testing.T) {
	w := &fakeWorker{}
	out := New(2, nil, nil).Run(context.Background(), []string{"EMP", "EMP"}, nil, w, w)

	require.NoError(t, out.Err())
	assert.Len(t, out.Done, 1)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "deferred", Deferred.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "state(9)", State(9).String())
}
