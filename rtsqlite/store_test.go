package rtsqlite_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
	"github.com/roundtable-engine/roundtable/rt/rtstore"
	"github.com/roundtable-engine/roundtable/rtsqlite"
)

func openStore(t *testing.T) *rtsqlite.Store {
	t.Helper()

	s, err := rtsqlite.Open(context.Background(), filepath.Join(t.TempDir(), "run.db"), "run-1")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestStore_EventRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := openStore(t)

	entry := rtstore.Entry{
		Tick:    4,
		Phase:   rtconsensus.PhaseStake,
		Type:    rtstore.EventStakeRecorded,
		AgentID: "agent-01",
		Payload: map[string]any{
			"proposal_id": float64(1),
			"amount":      float64(25),
			"multiplier":  1.543,
		},
		Message: "Stake recorded",
		Level:   slog.LevelInfo,
	}
	require.NoError(t, s.EmitEvent(ctx, entry))
	require.NoError(t, s.EmitEvent(ctx, rtstore.Entry{
		Tick: 5, Phase: rtconsensus.PhaseStake,
		Type: rtstore.EventConsensusTick, Message: "Tick", Level: slog.LevelDebug,
	}))

	n, err := s.EventCount(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.EventCount(ctx, rtstore.EventStakeRecorded)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.EventsOfType(ctx, rtstore.EventStakeRecorded)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, entry, got[0])
}

func TestStore_SnapshotUpsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := openStore(t)

	first := rtstore.Snapshot{
		Tick:          3,
		Phase:         rtconsensus.PhasePropose,
		PhaseTick:     3,
		AgentBalances: map[string]int{"agent-01": 50},
		AgentStaked:   map[string]int{"agent-01": 50},
	}
	require.NoError(t, s.SaveSnapshot(ctx, first))

	// Re-saving the same tick replaces the row rather than duplicating it.
	first.AgentBalances["agent-01"] = 45
	require.NoError(t, s.SaveSnapshot(ctx, first))

	later := rtstore.Snapshot{
		Tick:           9,
		Phase:          rtconsensus.PhaseStake,
		PhaseTick:      1,
		IssueFinalized: false,
		AgentBalances:  map[string]int{"agent-01": 20},
	}
	require.NoError(t, s.SaveSnapshot(ctx, later))

	got, err := s.LastSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 9, got.Tick)
	require.Equal(t, rtconsensus.PhaseStake, got.Phase)
	require.Equal(t, map[string]int{"agent-01": 20}, got.AgentBalances)
}

func TestStore_RunScoping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "shared.db")

	a, err := rtsqlite.Open(ctx, path, "run-a")
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.EmitEvent(ctx, rtstore.Entry{
		Tick: 1, Phase: rtconsensus.PhaseInit,
		Type: rtstore.EventSimulationStart, Message: "start", Level: slog.LevelInfo,
	}))

	b, err := rtsqlite.Open(ctx, path, "run-b")
	require.NoError(t, err)
	defer b.Close()

	n, err := b.EventCount(ctx, "")
	require.NoError(t, err)
	require.Zero(t, n, "run-b must not see run-a's events")
}
