package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/me/rtk/internal/config"
	"github.com/me/rtk/internal/server"
	"github.com/me/rtk/internal/store"
	"github.com/me/rtk/pkg/model"
)

// startTestServer starts a server with an in-memory SQLite store and returns the URL.
func startTestServer(t *testing.T) string {
	t.Helper()
	srvLogger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.NewSQLiteStore(":memory:", srvLogger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := server.New(config.DefaultServerConfig(), st, srvLogger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func testdataPath(name string) string {
	return filepath.Join("..", "scenario", "testdata", name)
}

func writeScenario(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := root.Execute()
	return buf.String(), err
}

func assertContains(t *testing.T, output string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}

const overload = `name: overload
tasks:
  - name: a
    priority: 0
    c: 3
    t: 4
    steps: [{compute: 3}, wait]
  - name: b
    priority: 1
    c: 3
    t: 4
    steps: [{compute: 3}, wait]
`

func TestCheckCommand(t *testing.T) {
	output, err := runCLI(t, "check", testdataPath("rm_order.yaml"))
	if err != nil {
		t.Fatalf("check error: %v\noutput: %s", err, output)
	}
	assertContains(t, output,
		"Scenario: rm-order",
		"Stack window: 1.0 KiB",
		"0x20008400",
		"Method: utilization-bound",
		"Schedulable: yes",
	)
}

func TestCheckCommand_MarksSpawnedTasks(t *testing.T) {
	output, err := runCLI(t, "check", testdataPath("spawn.yaml"))
	if err != nil {
		t.Fatalf("check error: %v", err)
	}
	assertContains(t, output, "child*", "parent")
}

func TestCheckCommand_Unschedulable(t *testing.T) {
	output, err := runCLI(t, "check", writeScenario(t, overload))
	if err == nil {
		t.Fatal("expected error for an unschedulable set")
	}
	assertContains(t, output, "Method: response-time", "Schedulable: no", "first failing task: b")
}

func TestCheckCommand_JSON(t *testing.T) {
	output, err := runCLI(t, "check", "--json", testdataPath("rm_order.yaml"))
	if err != nil {
		t.Fatalf("check error: %v", err)
	}
	assertContains(t, output, `"schedulable": true`, `"method": "utilization-bound"`)
}

func TestCheckCommand_InvalidScenario(t *testing.T) {
	if _, err := runCLI(t, "check", writeScenario(t, "name: empty\n")); err == nil {
		t.Error("expected validation error")
	}
	if _, err := runCLI(t, "check", "does-not-exist.yaml"); err == nil {
		t.Error("expected read error")
	}
}

func TestRunCommand(t *testing.T) {
	output, err := runCLI(t, "run", testdataPath("mutex.yaml"))
	if err != nil {
		t.Fatalf("run error: %v\noutput: %s", err, output)
	}
	assertContains(t, output,
		"fast: in critical section",
		"mutual exclusion: ok",
		"State: COMPLETED",
	)
}

func TestRunCommand_TickLimitAndTrace(t *testing.T) {
	output, err := runCLI(t, "run", "--quiet", "--trace", "--max-ticks", "100", testdataPath("rm_order.yaml"))
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	assertContains(t, output, "State: TICK_LIMIT  Ticks: 100", "switch", "0 t0")
	if strings.Contains(output, "t0: job") {
		t.Errorf("--quiet still streamed console output:\n%s", output)
	}
}

func TestRunCommand_JSON(t *testing.T) {
	output, err := runCLI(t, "run", "--json", testdataPath("spawn.yaml"))
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	assertContains(t, output, `"state": "COMPLETED"`, `"report": {`)
	if strings.Contains(output, `"events"`) {
		t.Error("events included without --trace")
	}
}

func TestRunCommand_Halt(t *testing.T) {
	path := writeScenario(t, `tasks:
  - name: t
    priority: 0
    c: 1
    t: 10
    steps:
      - fault: {status: 0x10, addr: 0}
`)
	output, err := runCLI(t, "run", path)
	if err == nil {
		t.Fatalf("expected halt error, output: %s", output)
	}
	assertContains(t, output, "State: HALTED", "MEMORY_PROTECTION_FAULT")
}

func TestRunCommand_AdmissionRejected(t *testing.T) {
	_, err := runCLI(t, "run", writeScenario(t, overload))
	if err == nil || !strings.Contains(err.Error(), "ADMISSION_REJECTED") {
		t.Errorf("err = %v, want admission rejection", err)
	}
}

func TestRegionCommands(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		want    []string
	}{
		{
			name: "check stack window",
			args: []string{"region", "check", "--number", "2", "--base", "0x20008000", "--size-log2", "8", "--user-write"},
			want: []string{"Region 2: valid", "0x20008000 - 0x200080ff (256 B)", "RASR:  0x1300000f"},
		},
		{
			name:    "check misaligned",
			args:    []string{"region", "check", "--number", "1", "--base", "0x20000010", "--size-log2", "8"},
			wantErr: true,
		},
		{
			name:    "check bad base",
			args:    []string{"region", "check", "--base", "nope"},
			wantErr: true,
		},
		{
			name: "log2ceil",
			args: []string{"region", "log2ceil", "1", "256", "257"},
			want: []string{"1\t0\t1 B", "256\t8\t256 B", "257\t9\t512 B"},
		},
		{
			name: "log2ceil words",
			args: []string{"region", "log2ceil", "--words", "1", "256"},
			want: []string{"1\t5\t32 B", "256\t10\t1.0 KiB"},
		},
		{
			name: "fault kill",
			args: []string{"region", "fault", "--status", "0x82", "--addr", "0x20008410"},
			want: []string{"data access violation at 0x20008410", "Kernel response: kill"},
		},
		{
			name: "fault halt",
			args: []string{"region", "fault", "--status", "0b10000"},
			want: []string{"stacking error", "Kernel response: halt"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := runCLI(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v\noutput: %s", err, tt.wantErr, output)
			}
			assertContains(t, output, tt.want...)
		})
	}
}

func TestRemoteCommands(t *testing.T) {
	url := startTestServer(t)

	output, err := runCLI(t, "--server", url, "submit", testdataPath("mutex.yaml"))
	if err != nil {
		t.Fatalf("submit error: %v\noutput: %s", err, output)
	}
	assertContains(t, output, "Run created: run_", "State:    COMPLETED", "Tasks:    0=fast 1=slow")
	runID := regexp.MustCompile(`run_[0-9a-f-]+`).FindString(output)

	output, err = runCLI(t, "--server", url, "runs", "list")
	if err != nil {
		t.Fatalf("runs list error: %v", err)
	}
	assertContains(t, output, "ID", runID, "mutex-exclusivity")

	output, err = runCLI(t, "--server", url, "runs", "show", "--console", runID)
	if err != nil {
		t.Fatalf("runs show error: %v", err)
	}
	assertContains(t, output, "Run: "+runID, "fast: in critical section", "mutual exclusion: ok")

	output, err = runCLI(t, "--server", url, "runs", "events", "--kind", "acquire", "--task", "0", "--limit", "3", runID)
	if err != nil {
		t.Fatalf("runs events error: %v", err)
	}
	assertContains(t, output, "acquire", "(3 of 9 shown, next --offset 3)")

	if _, err := runCLI(t, "--server", url, "runs", "delete", runID); err != nil {
		t.Fatalf("runs delete error: %v", err)
	}
	_, err = runCLI(t, "--server", url, "runs", "show", runID)
	var srvErr *ServerError
	if !errors.As(err, &srvErr) || srvErr.Status != http.StatusNotFound || srvErr.Err.Code != model.ErrNotFound {
		t.Errorf("show after delete: %v, want NOT_FOUND", err)
	}

	output, err = runCLI(t, "--server", url, "runs", "list")
	if err != nil {
		t.Fatalf("runs list error: %v", err)
	}
	assertContains(t, output, "No runs found.")
}

func TestClient_Errors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))

	t.Run("error envelope", func(t *testing.T) {
		c := NewClient(startTestServer(t)+"/", logger)
		_, err := c.GetRun(context.Background(), "run_missing")
		var srvErr *ServerError
		if !errors.As(err, &srvErr) {
			t.Fatalf("err = %v, want *ServerError", err)
		}
		if srvErr.Status != http.StatusNotFound || !strings.HasPrefix(srvErr.RequestID, "req_") {
			t.Errorf("status = %d request = %q", srvErr.Status, srvErr.RequestID)
		}
		if !strings.Contains(err.Error(), "NOT_FOUND") || !strings.Contains(err.Error(), srvErr.RequestID) {
			t.Errorf("message = %q", err)
		}
	})

	t.Run("validation details", func(t *testing.T) {
		c := NewClient(startTestServer(t), logger)
		_, err := c.CreateRun(context.Background(), model.CreateRunRequest{Scenario: "name: empty\n"})
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrValidation || len(apiErr.Details) == 0 {
			t.Errorf("err = %v, want validation error with details", err)
		}
	})

	t.Run("not an envelope", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		}))
		t.Cleanup(ts.Close)
		_, err := NewClient(ts.URL, logger).ListRuns(context.Background(), nil)
		if err == nil || !strings.Contains(err.Error(), "502") {
			t.Errorf("err = %v, want mention of the 502", err)
		}
	})
}

func TestPage_Footer(t *testing.T) {
	tests := []struct {
		name string
		page Page[model.Event]
		want string
	}{
		{"complete", Page[model.Event]{Items: make([]model.Event, 2), Pagination: model.Pagination{Total: 2, Limit: 20}}, ""},
		{"first page", Page[model.Event]{Items: make([]model.Event, 20), Pagination: model.Pagination{Total: 1500, Limit: 20, HasMore: true}}, "(20 of 1,500 shown, next --offset 20)"},
		{"middle page", Page[model.Event]{Items: make([]model.Event, 20), Pagination: model.Pagination{Total: 1500, Limit: 20, Offset: 40, HasMore: true}}, "(20 of 1,500 shown, next --offset 60)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.page.Footer(); got != tt.want {
				t.Errorf("Footer() = %q, want %q", got, tt.want)
			}
		})
	}
}
