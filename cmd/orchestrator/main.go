// Command orchestrator is a small dev harness for the orchestration
// core. It wires an in-memory Stores bundle, the builtin tool registry,
// and a scripted stub ModelClient together, then drives a job through
// the Planning loop so the wiring can be smoke-tested without a real
// browser extension or LLM provider on the other end.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/orchestrator/agent"
	"github.com/kadirpekel/orchestrator/metrics"
	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/scheduler"
	"github.com/kadirpekel/orchestrator/server"
	"github.com/kadirpekel/orchestrator/store"
	"github.com/kadirpekel/orchestrator/tool"
	"github.com/kadirpekel/orchestrator/tools"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Demo    DemoCmd    `cmd:"" help:"Run the happy-path planning scenario against an in-memory stub model."`
	Serve   ServeCmd   `cmd:"" help:"Start the read-only job-status HTTP server over an empty in-memory job store."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("orchestrator dev harness (dev build)")
	return nil
}

// DemoCmd drives one job through Planning using a scripted ModelClient
// that replays the "happy planning" scenario: preanalysis read, taxonomy,
// pipeline, finish-analysis request, then ask_user_categories.
type DemoCmd struct {
	JobID  string `default:"demo-job" help:"Job ID to construct."`
	TabID  string `default:"demo-tab" help:"Tab ID to construct."`
	Target string `default:"fr" help:"Target language."`
}

func (c *DemoCmd) Run() error {
	ctx := context.Background()

	reg := tool.NewRegistry()
	if err := tools.RegisterBuiltins(reg); err != nil {
		return fmt.Errorf("register builtins: %w", err)
	}
	stores := store.NewMemoryStores(nil)
	// A tab the tab-state store has no record of reads as not existing,
	// which Step fails with TAB_GONE, so the demo registers its tab first.
	if err := stores.TabState.Upsert(ctx, c.TabID, func(*store.TabState) {}); err != nil {
		return fmt.Errorf("register tab: %w", err)
	}
	engine := tool.NewEngine(reg, persistTo(stores))

	runner := agent.NewRunner(reg, engine, newHappyPlanningModel(), persistTo(stores), nowMillis)

	job := model.NewJob(c.JobID, c.TabID, c.Target)
	job.Status = model.JobPlanning
	if err := stores.Jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("save job: %w", err)
	}

	sched := scheduler.NewScheduler(stores, runner, noopCanceller{}, nowMillis, "dev-instance")
	sched.Flusher = engine

	for i := 0; i < 10; i++ {
		result, err := sched.Step(ctx, job)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if result.Terminal || job.Status == model.JobAwaitingCategories {
			break
		}
	}

	out, err := json.MarshalIndent(struct {
		JobID   string          `json:"jobId"`
		Status  model.JobStatus `json:"status"`
		Reports []model.Report  `json:"reports"`
	}{job.JobID, job.Status, job.AgentState.Reports}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// ServeCmd starts the status HTTP server over an empty in-memory store,
// useful for poking at /healthz and /metrics without a running job.
type ServeCmd struct {
	Addr string `default:":8089" help:"Listen address."`
}

func (c *ServeCmd) Run() error {
	jobs := store.NewMemoryJobStore()
	reg := metrics.New("orchestrator_dev")
	srv := server.New(jobs, reg)
	fmt.Printf("listening on %s\n", c.Addr)
	return http.ListenAndServe(c.Addr, srv)
}

func persistTo(stores *store.Stores) tool.Persist {
	return func(ctx context.Context, job *model.Job) error {
		return stores.Jobs.Save(ctx, job)
	}
}

type noopCanceller struct{}

func (noopCanceller) CancelByJobID(context.Context, string, int) error { return nil }

var clock int64

// nowMillis is a monotonically increasing stand-in clock so the demo
// harness doesn't depend on wall-clock time.
func nowMillis() int64 {
	clock++
	return clock
}

// happyPlanningModel is a scripted agent.ModelClient replaying the
// "happy planning" scenario in order, one tool call per turn, then a
// final no-tool-call turn once the script is exhausted.
type happyPlanningModel struct {
	turns []agent.ModelTurn
	next  int
}

func newHappyPlanningModel() *happyPlanningModel {
	script := []struct {
		name string
		args map[string]any
	}{
		{"page.get_preanalysis", map[string]any{}},
		{"agent.plan.set_taxonomy", map[string]any{
			"categories": []any{"heading", "paragraph", "button"},
			"mapping":    map[string]any{"heading": "h1", "paragraph": "p", "button": "button"},
		}},
		{"agent.plan.set_pipeline", map[string]any{"strategy": "batch"}},
		{"agent.plan.request_finish_analysis", map[string]any{}},
		{"agent.ui.ask_user_categories", map[string]any{"categories": []any{"heading", "paragraph", "button"}}},
	}
	turns := make([]agent.ModelTurn, 0, len(script))
	for i, step := range script {
		turns = append(turns, agent.ModelTurn{
			ResponseID: fmt.Sprintf("resp-%d", i),
			ToolCalls: []agent.ToolCall{
				{CallID: fmt.Sprintf("call-%d", i), Name: step.name, Args: step.args},
			},
		})
	}
	return &happyPlanningModel{turns: turns}
}

func (m *happyPlanningModel) Request(_ context.Context, _ agent.ModelRequest) (agent.ModelTurn, error) {
	if m.next >= len(m.turns) {
		return agent.ModelTurn{ResponseID: "resp-final"}, nil
	}
	turn := m.turns[m.next]
	m.next++
	return turn, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("orchestrator"),
		kong.Description("Agent orchestration core dev harness"),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
