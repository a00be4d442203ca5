// Command agentplan runs one generation goal end to end and prints the
// resulting artifact and execution log.
//
//	agentplan -config agentplan.yaml -goal memo.yaml -checkpoints approve
//
// Checkpoints requested by the goal are decided by the -checkpoints policy:
// "approve", "reject" or "ask" (prompt on stdin).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/hupe1980/agentplan"
	"github.com/hupe1980/agentplan/artifact"
	"github.com/hupe1980/agentplan/config"
	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/engine"
	"github.com/hupe1980/agentplan/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.Fatalf("agentplan: %v", err)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("agentplan", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to the YAML configuration (defaults apply when empty)")
	goalPath := fs.String("goal", "", "Path to the YAML goal file")
	policy := fs.String("checkpoints", "approve", "Checkpoint policy: approve, reject or ask")
	asJSON := fs.Bool("json", false, "Print the request record as JSON")
	showLog := fs.Bool("log", true, "Print the execution log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *goalPath == "" {
		return fmt.Errorf("-goal is required")
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	goal, err := config.LoadGoal(*goalPath)
	if err != nil {
		return err
	}

	decide, err := newDecider(*policy, in, out)
	if err != nil {
		return err
	}

	callbacks := engine.NewCallbackManager()
	var ap *agentplan.AgentPlan
	callbacks.RegisterCallback(engine.NewFunctionCallback(engine.CallbackOnCheckpoint, func(ctx context.Context, c *engine.CallbackContext) error {
		cp := c.Checkpoint
		if cp == nil || cp.Decision != core.DecisionPending {
			return nil
		}
		// Resolve outside the opening call so the checkpoint manager is not re-entered.
		go func(rec core.CheckpointRecord) {
			decision := decide(rec)
			if _, err := ap.Engine().ResolveCheckpoint(context.WithoutCancel(ctx), rec.RequestID, rec.NodeID, decision, nil, "cli"); err != nil {
				log.Printf("agentplan: resolve %s: %v", rec.NodeID, err)
			}
		}(*cp)
		return nil
	}))

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	}).WithComponent("agentplan")

	ap, err = agentplan.New(ctx, cfg, func(o *agentplan.Options) {
		o.Callbacks = callbacks
		o.Logger = logger
	})
	if err != nil {
		return err
	}
	defer ap.Close()

	go func() {
		err := ap.Start(ctx)
		if err != nil && !errors.Is(err, engine.ErrNoQueue) && ctx.Err() == nil {
			log.Printf("agentplan: queue consumer stopped: %v", err)
		}
	}()

	rec, err := ap.Run(ctx, goal)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Fprintf(out, "request %s: %s\n", rec.ID, rec.State)
	if rec.Error != "" {
		fmt.Fprintf(out, "error: %s\n", rec.Error)
	}
	if rec.Artifact != nil {
		fmt.Fprintf(out, "\n%s", artifact.Render(rec.Artifact))
	}
	if *showLog {
		fmt.Fprintln(out, "\nexecution log:")
		for _, e := range rec.Log {
			fmt.Fprintln(out, e.String())
		}
	}
	return nil
}

// newDecider returns the function choosing a checkpoint decision.
func newDecider(policy string, in io.Reader, out io.Writer) (func(core.CheckpointRecord) core.Decision, error) {
	switch policy {
	case "approve":
		return func(core.CheckpointRecord) core.Decision { return core.DecisionApproved }, nil
	case "reject":
		return func(core.CheckpointRecord) core.Decision { return core.DecisionRejected }, nil
	case "ask":
		scanner := bufio.NewScanner(in)
		var mu sync.Mutex
		return func(rec core.CheckpointRecord) core.Decision {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(out, "\ncheckpoint %s (%s):\n%v\napprove? [y/N] ", rec.NodeID, rec.Label, rec.Payload)
			if scanner.Scan() && strings.HasPrefix(strings.ToLower(strings.TrimSpace(scanner.Text())), "y") {
				return core.DecisionApproved
			}
			return core.DecisionRejected
		}, nil
	}
	return nil, fmt.Errorf("unknown checkpoint policy %q", policy)
}
