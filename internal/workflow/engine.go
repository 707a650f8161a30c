package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"

	"github.com/desertthunder/narada/internal/shared"
)

// TaskDef is one node invocation in a Definition's graph.
type TaskDef struct {
	ID        string         `json:"id" validate:"required"`
	Type      string         `json:"type" validate:"required"`
	Config    map[string]any `json:"config"`
	Upstream  []string       `json:"upstream"`
	ResultKey *string        `json:"result_key"`
}

// Definition is a complete, declarative workflow graph, decoded from the
// JSON shape stored alongside a saved workflow (§4.H/I).
type Definition struct {
	ID          string    `json:"id" validate:"required"`
	Name        string    `json:"name" validate:"required"`
	Description *string   `json:"description"`
	Tasks       []TaskDef `json:"tasks" validate:"required,dive"`
}

// EventType names the four points the engine emits progress on, mirroring
// prefect.py's task_started/task_completed/workflow_started/workflow_completed.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventTaskStarted       EventType = "task_started"
	EventTaskCompleted     EventType = "task_completed"
)

// ProgressCallback receives every event the engine emits during a run.
type ProgressCallback func(EventType, map[string]any)

const (
	taskRetries    = 3
	taskRetryDelay = 30 * time.Second
)

var templatePattern = regexp.MustCompile(`\{([\w.]+)\}`)

// Engine executes Definitions against the process-wide node Registry.
type Engine struct {
	validate *validator.Validate
	log      *log.Logger

	mu        sync.Mutex
	callbacks []ProgressCallback
}

// NewEngine returns an Engine that logs through l.
func NewEngine(l *log.Logger) *Engine {
	return &Engine{validate: validator.New(), log: l}
}

// RegisterProgressCallback adds cb to the set invoked on every event this
// Engine emits, mirroring prefect.py's module-level _progress_callbacks
// list, scoped to this Engine instance instead of the whole process.
func (e *Engine) RegisterProgressCallback(cb ProgressCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

func (e *Engine) emit(evtType EventType, data map[string]any) {
	e.mu.Lock()
	cbs := make([]ProgressCallback, len(e.callbacks))
	copy(cbs, e.callbacks)
	e.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Warn("workflow progress callback panicked", "event", evtType, "recovered", r)
				}
			}()
			cb(evtType, data)
		}()
	}
}

// Run validates def, computes a topological task order, resolves each
// task's config templates against the accumulated context, and executes
// tasks in order, retrying each up to taskRetries times. It returns the
// final context: parameters plus every task's result keyed by task id
// (and by ResultKey, when given).
func (e *Engine) Run(ctx context.Context, def Definition, params map[string]any) (map[string]any, error) {
	if err := e.validate.Struct(def); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}

	order, err := topologicalSort(def.Tasks)
	if err != nil {
		return nil, err
	}

	runID := shared.GenerateID()
	wfctx := map[string]any{"parameters": params, "run_id": runID}
	e.emit(EventWorkflowStarted, map[string]any{"run_id": runID, "workflow_id": def.ID, "workflow_name": def.Name})

	for _, task := range order {
		e.emit(EventTaskStarted, map[string]any{"run_id": runID, "task_id": task.ID, "task_type": task.Type})

		resolved, _ := resolveTemplates(task.Config, wfctx).(map[string]any)
		if resolved == nil {
			resolved = map[string]any{}
		}

		result, err := e.executeWithRetry(ctx, task, wfctx, resolved)
		if err != nil {
			return nil, fmt.Errorf("task %q (%s): %w", task.ID, task.Type, err)
		}

		wfctx[task.ID] = result
		if task.ResultKey != nil {
			wfctx[*task.ResultKey] = result
		}

		e.emit(EventTaskCompleted, map[string]any{"run_id": runID, "task_id": task.ID, "task_type": task.Type, "result": result})
	}

	e.emit(EventWorkflowCompleted, map[string]any{"run_id": runID, "workflow_id": def.ID, "workflow_name": def.Name})
	return wfctx, nil
}

func (e *Engine) executeWithRetry(ctx context.Context, task TaskDef, wfctx, config map[string]any) (map[string]any, error) {
	fn, _, err := Get(task.Type)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= taskRetries; attempt++ {
		result, err := fn(ctx, wfctx, config)
		if err == nil {
			return result, nil
		}
		lastErr = err
		e.log.Warn("workflow task failed", "task", task.ID, "attempt", attempt+1, "error", err)
		if attempt == taskRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(taskRetryDelay):
		}
	}
	return nil, lastErr
}

// topologicalSort orders tasks so every task follows all of its Upstream
// dependencies, via a post-order DFS that visits tasks in declaration
// order, matching prefect.py's build_flow (which, despite being described
// elsewhere as Kahn's-algorithm-style, is actually a recursive DFS
// appending to the result list on the way back up the call stack).
func topologicalSort(tasks []TaskDef) ([]TaskDef, error) {
	byID := make(map[string]TaskDef, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	for _, t := range tasks {
		for _, up := range t.Upstream {
			if _, ok := byID[up]; !ok {
				return nil, fmt.Errorf("%w: task %q depends on unknown upstream task %q", shared.ErrValidation, t.ID, up)
			}
		}
	}

	visited := make(map[string]bool, len(tasks))
	visiting := make(map[string]bool, len(tasks))
	order := make([]TaskDef, 0, len(tasks))

	var visit func(id string) error
	visit = func(id string) error {
		if visited[id] {
			return nil
		}
		if visiting[id] {
			return fmt.Errorf("%w: cycle detected at task %q", shared.ErrValidation, id)
		}
		visiting[id] = true
		for _, up := range byID[id].Upstream {
			if err := visit(up); err != nil {
				return err
			}
		}
		visiting[id] = false
		visited[id] = true
		order = append(order, byID[id])
		return nil
	}

	for _, t := range tasks {
		if err := visit(t.ID); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// resolveTemplates walks value, replacing every "{a.b.c}" substring of a
// string with the stringified value at that dotted path in ctx. Maps and
// slices are recursed into; an unresolvable path is left verbatim rather
// than erroring, matching prefect.py's resolve_templates.
func resolveTemplates(value any, ctx map[string]any) any {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{") {
			return v
		}
		return templatePattern.ReplaceAllStringFunc(v, func(match string) string {
			sub := templatePattern.FindStringSubmatch(match)
			resolved, ok := walkPath(ctx, strings.Split(sub[1], "."))
			if !ok {
				return match
			}
			return fmt.Sprintf("%v", resolved)
		})
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, vv := range v {
			out[k] = resolveTemplates(vv, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, vv := range v {
			out[i] = resolveTemplates(vv, ctx)
		}
		return out
	default:
		return value
	}
}

func walkPath(ctx map[string]any, path []string) (any, bool) {
	var current any = ctx
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
