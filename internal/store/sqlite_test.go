package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/me/rtk/pkg/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleRun(id string) *model.Run {
	return &model.Run{
		ID:        id,
		Name:      "mutex-exclusivity",
		State:     model.RunStateRunning,
		Scenario:  "name: mutex-exclusivity\n",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func sampleEvents() []model.Event {
	return []model.Event{
		{Seq: 0, Tick: 0, Kind: model.EventCreate, Task: 0, Mutex: -1, Detail: "C=50 T=500", C: 50, T: 500},
		{Seq: 1, Tick: 0, Kind: model.EventStart, Task: -1, Mutex: -1},
		{Seq: 2, Tick: 0, Kind: model.EventSwitch, Task: 0, Mutex: -1, Detail: "5"},
		{Seq: 3, Tick: 0, Kind: model.EventAcquire, Task: 0, Mutex: 0},
		{Seq: 4, Tick: 3, Kind: model.EventUnlock, Task: 0, Mutex: 0},
		{Seq: 5, Tick: 3, Kind: model.EventWait, Task: 0, Mutex: -1},
		{Seq: 6, Tick: 3, Kind: model.EventSwitch, Task: 4, Mutex: -1, Detail: "0"},
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	st := testStore(t)
	for i := 0; i < 2; i++ {
		if err := st.Migrate(context.Background()); err != nil {
			t.Fatalf("migrate #%d: %v", i+2, err)
		}
	}
}

func TestRunCRUD(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	run := sampleRun("run_1")
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := st.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil {
		t.Fatal("GetRun returned nil")
	}
	if got.Name != run.Name || got.State != model.RunStateRunning || got.Scenario != run.Scenario {
		t.Errorf("run = %+v", got)
	}
	if !got.CreatedAt.Equal(run.CreatedAt) || got.CompletedAt != nil {
		t.Errorf("created %v completed %v", got.CreatedAt, got.CompletedAt)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	got.State = model.RunStateHalted
	got.Ticks = 1200
	got.Switches = 17
	got.EventCount = 42
	got.Error = "kernel halted: KERNEL_INTEGRITY_VIOLATION: task 0: killed while holding a mutex"
	got.Names = map[int]string{0: "fast", 1: "slow", 4: "idle"}
	got.Console = "[     0] fast: hello\n"
	got.CompletedAt = &now
	if err := st.UpdateRun(ctx, got); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	again, err := st.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if again.State != model.RunStateHalted || again.Ticks != 1200 || again.Switches != 17 || again.EventCount != 42 {
		t.Errorf("run = %+v", again)
	}
	if again.Error != got.Error || again.Console != got.Console {
		t.Errorf("error %q console %q", again.Error, again.Console)
	}
	if again.Names[1] != "slow" || len(again.Names) != 3 {
		t.Errorf("names = %v", again.Names)
	}
	if again.CompletedAt == nil || !again.CompletedAt.Equal(now) {
		t.Errorf("completed_at = %v, want %v", again.CompletedAt, now)
	}

	if err := st.DeleteRun(ctx, "run_1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	gone, err := st.GetRun(ctx, "run_1")
	if err != nil || gone != nil {
		t.Errorf("after delete: %v, %v", gone, err)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	st := testStore(t)
	got, err := st.GetRun(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestUpdateRun_NotFound(t *testing.T) {
	st := testStore(t)
	if err := st.UpdateRun(context.Background(), sampleRun("ghost")); err == nil {
		t.Error("expected error updating a missing run")
	}
	if err := st.DeleteRun(context.Background(), "ghost"); err == nil {
		t.Error("expected error deleting a missing run")
	}
}

func TestListRuns(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		run := sampleRun(fmt.Sprintf("run_%d", i))
		run.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if i%2 == 0 {
			run.State = model.RunStateCompleted
		}
		if err := st.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	tests := []struct {
		name      string
		opts      model.ListOptions
		wantIDs   []string
		wantTotal int
	}{
		{"first page", model.ListOptions{Limit: 2}, []string{"run_4", "run_3"}, 5},
		{"second page", model.ListOptions{Limit: 2, Offset: 2}, []string{"run_2", "run_1"}, 5},
		{"by state", model.ListOptions{Limit: 10, State: model.RunStateCompleted}, []string{"run_4", "run_2", "run_0"}, 3},
		{"no match", model.ListOptions{Limit: 10, State: model.RunStateFailed}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, total, err := st.ListRuns(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			var ids []string
			for _, r := range runs {
				ids = append(ids, r.ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.wantIDs) {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

func TestEvents(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.CreateRun(ctx, sampleRun("run_1")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	want := sampleEvents()
	if err := st.AppendEvents(ctx, "run_1", want); err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}

	all, err := st.AllEvents(ctx, "run_1")
	if err != nil {
		t.Fatalf("AllEvents: %v", err)
	}
	if len(all) != len(want) {
		t.Fatalf("got %d events, want %d", len(all), len(want))
	}
	for i := range want {
		if all[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, all[i], want[i])
		}
	}

	task0 := 0
	tests := []struct {
		name      string
		opts      model.ListOptions
		wantSeqs  []int
		wantTotal int
	}{
		{"page", model.ListOptions{Limit: 3, Offset: 2}, []int{2, 3, 4}, 7},
		{"by kind", model.ListOptions{Limit: 10, Kind: model.EventSwitch}, []int{2, 6}, 2},
		{"by task", model.ListOptions{Limit: 10, Task: &task0}, []int{0, 2, 3, 4, 5}, 5},
		{"kind and task", model.ListOptions{Limit: 10, Kind: model.EventSwitch, Task: &task0}, []int{2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evs, total, err := st.ListEvents(ctx, "run_1", tt.opts)
			if err != nil {
				t.Fatalf("ListEvents: %v", err)
			}
			var seqs []int
			for _, ev := range evs {
				seqs = append(seqs, ev.Seq)
			}
			if total != tt.wantTotal || fmt.Sprint(seqs) != fmt.Sprint(tt.wantSeqs) {
				t.Errorf("seqs = %v (total %d), want %v (total %d)", seqs, total, tt.wantSeqs, tt.wantTotal)
			}
		})
	}
}

func TestAppendEvents_DuplicateSeqRollsBack(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.CreateRun(ctx, sampleRun("run_1")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	evs := sampleEvents()
	evs[3].Seq = 1
	if err := st.AppendEvents(ctx, "run_1", evs); err == nil {
		t.Fatal("expected duplicate seq error")
	}
	all, err := st.AllEvents(ctx, "run_1")
	if err != nil {
		t.Fatalf("AllEvents: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("partial insert kept %d events", len(all))
	}
}

func TestDeleteRun_CascadesEvents(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.CreateRun(ctx, sampleRun("run_1")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := st.AppendEvents(ctx, "run_1", sampleEvents()); err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	if err := st.DeleteRun(ctx, "run_1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	all, err := st.AllEvents(ctx, "run_1")
	if err != nil {
		t.Fatalf("AllEvents: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("%d events survived their run", len(all))
	}
}

func TestAppendEvents_UnknownRun(t *testing.T) {
	st := testStore(t)
	if err := st.AppendEvents(context.Background(), "ghost", sampleEvents()); err == nil {
		t.Error("expected foreign key error")
	}
}
