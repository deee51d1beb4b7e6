// Package graph implements the node/edge state machine that drives an
// agent session: named nodes over AgentState, conditional routing,
// checkpoint persistence between nodes, and cooperative interrupt/resume.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/loom/pkg/models"
)

// Reserved node names.
const (
	// End terminates the run when returned by a router or edge.
	End = "__end__"
)

// BudgetExhaustedMessage is appended as a synthetic assistant message when a
// run hits its loop or recursion ceiling.
const BudgetExhaustedMessage = "loop budget exhausted: stopping before completing the task"

// ErrUnknownNode indicates a route to a node that was never registered.
// This is a programmer error in graph construction, not a runtime
// condition, and is the only class of failure the runtime surfaces
// directly instead of funneling into the conversation.
var ErrUnknownNode = errors.New("graph: unknown node")

// NodeFunc executes one node against the current state and returns a
// partial update, an interrupt, or both (the update is applied before the
// interrupt suspends the run). The resume value is non-nil only when the
// node is re-entered after an interrupt.
type NodeFunc func(ctx context.Context, state *models.AgentState, resume *Resume) (NodeResult, error)

// Router picks the next node name given the post-update state.
type Router func(state *models.AgentState) string

// NodeResult is what a node hands back to the runtime.
type NodeResult struct {
	Update    *models.StateUpdate
	Interrupt *Interrupt
}

// Resume carries the value passed back by the host after an interrupt.
// A nil Value means the pending operation was cancelled.
type Resume struct {
	Value any
}

// Checkpointer persists state between node executions. Implementations are
// free to be no-ops; persistence failures are logged and never abort a run.
type Checkpointer interface {
	Save(ctx context.Context, state *models.AgentState) error
}

// Snapshot is one observable step of a run. Exactly one of the terminal
// fields (Interrupt, Err) may be set; consumers see snapshots in
// node-execution order.
type Snapshot struct {
	Node      string
	State     *models.AgentState
	Interrupt *Interrupt
	Err       error
}

// Graph is an immutable node/edge table. Build it once with the Add
// methods, then run it concurrently for any number of sessions; per-run
// state lives entirely in AgentState.
type Graph struct {
	entry   string
	nodes   map[string]NodeFunc
	edges   map[string]string
	routers map[string]Router

	checkpointer Checkpointer
	logger       *slog.Logger
}

// New creates an empty graph with the given entry node name.
func New(entry string) *Graph {
	return &Graph{
		entry:   entry,
		nodes:   make(map[string]NodeFunc),
		edges:   make(map[string]string),
		routers: make(map[string]Router),
	}
}

// AddNode registers a named node.
func (g *Graph) AddNode(name string, fn NodeFunc) *Graph {
	g.nodes[name] = fn
	return g
}

// AddEdge registers a static transition.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = to
	return g
}

// AddConditionalEdge registers a routing function for a node. A router
// takes precedence over a static edge from the same node.
func (g *Graph) AddConditionalEdge(from string, router Router) *Graph {
	g.routers[from] = router
	return g
}

// SetCheckpointer installs the persistence hook called after each applied
// update.
func (g *Graph) SetCheckpointer(cp Checkpointer) *Graph {
	g.checkpointer = cp
	return g
}

// SetLogger overrides the default logger.
func (g *Graph) SetLogger(l *slog.Logger) *Graph {
	g.logger = l
	return g
}

// RecursionLimit is the platform safety valve: three runtime steps per
// semantic plan-act cycle accounts for helper nodes between planner turns.
func RecursionLimit(maxLoops int) int {
	if maxLoops <= 0 {
		maxLoops = models.DefaultMaxLoops
	}
	return 3 * maxLoops
}

// Run executes the graph against state, streaming a snapshot per executed
// node. The channel closes when the run reaches End, suspends on an
// interrupt, or fails. The state passed in is mutated as updates apply;
// snapshots carry defensive clones so consumers may diff them freely.
func (g *Graph) Run(ctx context.Context, state *models.AgentState) (<-chan Snapshot, error) {
	return g.run(ctx, state, nil)
}

// Resume re-enters a run suspended at an interrupt. The value becomes the
// resume payload of the pending node; resuming a state with no pending
// node is an error.
func (g *Graph) Resume(ctx context.Context, state *models.AgentState, value any) (<-chan Snapshot, error) {
	if state.PendingNode == "" {
		return nil, errors.New("graph: resume called with no pending interrupt")
	}
	return g.run(ctx, state, &Resume{Value: value})
}

func (g *Graph) run(ctx context.Context, state *models.AgentState, resume *Resume) (<-chan Snapshot, error) {
	if state == nil {
		return nil, errors.New("graph: state is nil")
	}
	start := g.entry
	if state.PendingNode != "" {
		start = state.PendingNode
	}
	if _, ok := g.nodes[start]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, start)
	}

	log := g.logger
	if log == nil {
		log = slog.Default()
	}

	out := make(chan Snapshot, 8)
	go func() {
		defer close(out)

		node := start
		steps := 0
		limit := RecursionLimit(state.MaxLoops)

		for node != End {
			select {
			case <-ctx.Done():
				out <- Snapshot{Node: node, State: state.Clone(), Err: ctx.Err()}
				return
			default:
			}

			steps++
			if steps > limit {
				log.Warn("recursion limit reached", "limit", limit, "thread_id", state.ThreadID)
				state.Apply(&models.StateUpdate{
					AppendMessages: []models.Message{models.AssistantMessage(BudgetExhaustedMessage, nil)},
				})
				g.checkpoint(ctx, state, log)
				out <- Snapshot{Node: node, State: state.Clone()}
				return
			}

			fn, ok := g.nodes[node]
			if !ok {
				out <- Snapshot{Node: node, State: state.Clone(), Err: fmt.Errorf("%w: %q", ErrUnknownNode, node)}
				return
			}

			res, err := fn(ctx, state, resume)
			resume = nil // consumed by the first re-entered node
			if err != nil {
				out <- Snapshot{Node: node, State: state.Clone(), Err: err}
				return
			}

			state.Apply(res.Update)

			if res.Interrupt != nil {
				state.PendingNode = node
				g.checkpoint(ctx, state, log)
				out <- Snapshot{Node: node, State: state.Clone(), Interrupt: res.Interrupt}
				return
			}

			state.PendingNode = ""
			g.checkpoint(ctx, state, log)
			out <- Snapshot{Node: node, State: state.Clone()}

			node = g.next(node, state)
		}
	}()

	return out, nil
}

// next resolves the transition out of a node: router first, then static
// edge, End if neither exists.
func (g *Graph) next(node string, state *models.AgentState) string {
	if router, ok := g.routers[node]; ok {
		return router(state)
	}
	if to, ok := g.edges[node]; ok {
		return to
	}
	return End
}

func (g *Graph) checkpoint(ctx context.Context, state *models.AgentState, log *slog.Logger) {
	if g.checkpointer == nil {
		return
	}
	if err := g.checkpointer.Save(ctx, state); err != nil {
		log.Warn("checkpoint save failed", "error", err, "thread_id", state.ThreadID)
	}
}

// Drain consumes a snapshot stream to completion and returns the last
// snapshot seen. Convenient for callers that only care about the outcome.
func Drain(ch <-chan Snapshot) Snapshot {
	var last Snapshot
	for snap := range ch {
		last = snap
	}
	return last
}
