// Command roundtable runs scripted deliberation scenarios: it generates
// a deterministic agent pool, assembles a roundtable per scenario, and
// drives each to finalization, optionally capturing the full event and
// snapshot stream to SQLite.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sort"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roundtable-engine/roundtable/rt/rtagent"
	"github.com/roundtable-engine/roundtable/rt/rtconfig"
	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
	"github.com/roundtable-engine/roundtable/rt/rtdriver"
	"github.com/roundtable-engine/roundtable/rt/rtengine"
	"github.com/roundtable-engine/roundtable/rt/rtstore"
	"github.com/roundtable-engine/roundtable/rtsqlite"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "roundtable",
		Short:        "Deterministic multi-agent deliberation engine",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newRunCommand(),
		newCheckConfigCommand(),
	)
	return rootCmd
}

type runFlags struct {
	configPath string
	scenarios  int
	poolSeed   int64
	runSeed    int64
	agents     int
	simID      string
	dbPath     string
	verbose    bool
}

func newRunCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run deliberation scenarios to finalization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), cmd, flags)
		},
	}

	bindRunFlags(cmd.Flags(), &flags)
	return cmd
}

func bindRunFlags(f *pflag.FlagSet, flags *runFlags) {
	f.StringVarP(&flags.configPath, "config", "c", "", "path to YAML config (defaults apply if unset)")
	f.IntVar(&flags.scenarios, "scenarios", 0, "override simulation.max_scenarios")
	f.Int64Var(&flags.poolSeed, "pool-seed", 0, "override simulation.pool_seed")
	f.Int64Var(&flags.runSeed, "run-seed", 0, "override simulation.run_seed")
	f.IntVar(&flags.agents, "agents", 0, "override simulation.num_agents")
	f.StringVar(&flags.simID, "sim-id", "", "simulation id (random petname if unset)")
	f.StringVar(&flags.dbPath, "db", "", "capture events and snapshots to this SQLite file")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
}

func newCheckConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config PATH",
		Short: "Validate a config file without running anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := rtconfig.Load(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		},
	}
}

func runSimulation(ctx context.Context, cmd *cobra.Command, flags runFlags) error {
	cfg := rtconfig.Default()
	if flags.configPath != "" {
		loaded, err := rtconfig.Load(flags.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	applyOverrides(cmd.Flags(), &cfg, flags)
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if flags.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	simID := flags.simID
	if simID == "" {
		simID = petname.Generate(2, "-")
	}

	var sink rtstore.EventSink = rtstore.NopSink{}
	var snaps rtstore.SnapshotStore
	if flags.dbPath != "" {
		store, err := rtsqlite.Open(ctx, flags.dbPath, simID)
		if err != nil {
			return err
		}
		defer store.Close()
		sink = store
		snaps = store
	}

	log.Info("Simulation starting",
		"sim_id", simID,
		"scenarios", cfg.Simulation.MaxScenarios,
		"agents", cfg.Simulation.NumAgents,
		"pool_seed", cfg.Simulation.PoolSeed,
		"run_seed", cfg.Simulation.RunSeed)

	emit(ctx, log, sink, rtstore.Entry{
		Type: rtstore.EventSimulationStart,
		Payload: map[string]any{
			"sim_id":    simID,
			"scenarios": cfg.Simulation.MaxScenarios,
		},
		Message: "Simulation started",
		Level:   slog.LevelInfo,
	})

	pool := rtagent.GeneratePool(
		cfg.Simulation.PoolSeed,
		cfg.PoolSize(),
		cfg.AgentPool.BalanceRange[0],
		cfg.AgentPool.BalanceRange[1],
	)

	failures := 0
	out := cmd.OutOrStdout()
	for i := 0; i < cfg.Simulation.MaxScenarios; i++ {
		scenarioSeed := cfg.Simulation.RunSeed + int64(i)
		issueID := fmt.Sprintf("%s-issue-%03d", simID, i+1)

		emit(ctx, log, sink, rtstore.Entry{
			Type:    rtstore.EventScenarioStart,
			Payload: map[string]any{"issue_id": issueID, "seed": scenarioSeed},
			Message: "Scenario starting",
			Level:   slog.LevelInfo,
		})

		result, err := runScenario(ctx, log, sink, snaps, cfg, pool, issueID, scenarioSeed)
		if err != nil {
			failures++
			log.Error("Scenario failed", "issue", issueID, "err", err)
			fmt.Fprintf(out, "scenario %d (%s): FAILED: %v\n", i+1, issueID, err)
			continue
		}

		fmt.Fprintf(out, "scenario %d (%s): proposal %d by %s (effective weight %.2f, %d contributors) in %d ticks\n",
			i+1, issueID,
			result.WinningProposalID, result.WinningAuthor,
			winningWeight(result), winningContributors(result),
			result.Tick)
		for rank, s := range rankedStandings(result) {
			fmt.Fprintf(out, "  %d. proposal %d: effective %.2f, raw %d CP, %d contributors\n",
				rank+1, s.ProposalID, s.EffectiveWeight, s.RawCP, s.Contributors)
		}
	}

	emit(ctx, log, sink, rtstore.Entry{
		Type: rtstore.EventSimulationComplete,
		Payload: map[string]any{
			"sim_id":   simID,
			"failures": failures,
		},
		Message: "Simulation complete",
		Level:   slog.LevelInfo,
	})

	if failures > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failures, cfg.Simulation.MaxScenarios)
	}
	return nil
}

// applyOverrides layers only the flags the user actually set, so an
// explicit zero seed overrides the config like any other value.
func applyOverrides(f *pflag.FlagSet, cfg *rtconfig.Config, flags runFlags) {
	if f.Changed("scenarios") {
		cfg.Simulation.MaxScenarios = flags.scenarios
	}
	if f.Changed("pool-seed") {
		cfg.Simulation.PoolSeed = flags.poolSeed
	}
	if f.Changed("run-seed") {
		cfg.Simulation.RunSeed = flags.runSeed
	}
	if f.Changed("agents") {
		cfg.Simulation.NumAgents = flags.agents
	}
}

func runScenario(
	ctx context.Context,
	log *slog.Logger,
	sink rtstore.EventSink,
	snaps rtstore.SnapshotStore,
	cfg rtconfig.Config,
	pool *rtagent.Pool,
	issueID string,
	seed int64,
) (rtengine.FinalizationResult, error) {
	agents := pool.Select(seed, cfg.Simulation.NumAgents)

	issue := rtconsensus.NewIssue(issueID, cfg.Issue.ProblemStatement, cfg.Issue.Background)
	issue.AgentIDs = rtagent.IDs(agents)

	drivers := make(map[string]rtdriver.AgentDriver, len(agents))
	for _, a := range agents {
		drivers[a.ID] = a
	}

	engine, err := rtengine.New(ctx, rtengine.Config{
		Log:                      log.With("issue", issueID),
		Sink:                     sink,
		Snapshots:                snaps,
		Issue:                    issue,
		Drivers:                  drivers,
		InitialBalances:          rtagent.Balances(agents),
		AssignmentAward:          cfg.Consensus.AssignmentAward,
		ProposalSelfStake:        cfg.Consensus.ProposalSelfStake,
		FeedbackStake:            cfg.Consensus.FeedbackStake,
		MaxFeedbackPerAgent:      cfg.Consensus.MaxFeedbackPerAgent,
		RevisionCycles:           cfg.Consensus.RevisionCycles,
		StakingRounds:            cfg.Consensus.StakingRounds,
		MaxThinkTicks:            cfg.Consensus.MaxThinkTicks,
		FeedbackCommentMaxLength: cfg.Consensus.FeedbackCommentMaxLength,
		ConvictionParams:         cfg.Consensus.ConvictionParams,
	})
	if err != nil {
		return rtengine.FinalizationResult{}, err
	}

	if err := engine.Run(ctx); err != nil {
		return rtengine.FinalizationResult{}, err
	}

	result, finalized := engine.Result()
	if !finalized || !result.Decided {
		return rtengine.FinalizationResult{}, fmt.Errorf("issue %s did not reach a decision", issueID)
	}
	return result, nil
}

// rankedStandings orders a result's standings by effective weight,
// heaviest first, ties toward the lower proposal id.
func rankedStandings(r rtengine.FinalizationResult) []rtengine.ProposalStanding {
	ranked := slices.Clone(r.Standings)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].EffectiveWeight != ranked[j].EffectiveWeight {
			return ranked[i].EffectiveWeight > ranked[j].EffectiveWeight
		}
		return ranked[i].ProposalID < ranked[j].ProposalID
	})
	return ranked
}

func winningWeight(r rtengine.FinalizationResult) float64 {
	for _, s := range r.Standings {
		if s.ProposalID == r.WinningProposalID {
			return s.EffectiveWeight
		}
	}
	return 0
}

func winningContributors(r rtengine.FinalizationResult) int {
	for _, s := range r.Standings {
		if s.ProposalID == r.WinningProposalID {
			return s.Contributors
		}
	}
	return 0
}

func emit(ctx context.Context, log *slog.Logger, sink rtstore.EventSink, e rtstore.Entry) {
	if err := sink.EmitEvent(ctx, e); err != nil {
		log.Warn("Event sink rejected event", "type", e.Type, "err", err)
	}
}
