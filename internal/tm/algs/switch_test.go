package algs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kolkov/txmem/internal/tm/config"
)

func TestByName(t *testing.T) {
	id, err := ByName("nano")
	require.NoError(t, err)
	require.Equal(t, Nano, id)

	id, err = ByName("byteeager")
	require.NoError(t, err)
	require.Equal(t, ByteEager, id)

	_, err = ByName("bogus")
	require.Error(t, err)
}

func TestNames(t *testing.T) {
	require.Equal(t, []string{"nano", "byteeager"}, Names())
}

func TestSwitchToSameIDIsNoop(t *testing.T) {
	require.NoError(t, SwitchTo(Nano))
	require.NoError(t, SwitchTo(Nano))
	require.Equal(t, Nano, CurrentID())
}

func TestSwitchRejectsBadID(t *testing.T) {
	require.Error(t, SwitchTo(-1))
	require.Error(t, SwitchTo(algCount))
}

func TestSwitchWaitsForQuiescence(t *testing.T) {
	tx := newTestThread(t)

	require.NoError(t, SwitchTo(Nano))
	BeginTx(tx)
	require.Equal(t, Nano, tx.AlgID)

	done := make(chan error, 1)
	go func() { done <- SwitchTo(ByteEager) }()

	// the switch must not complete while tx is in flight
	select {
	case <-done:
		t.Fatal("switch completed with a transaction in flight")
	case <-time.After(20 * time.Millisecond):
	}

	tx.Commit(tx)
	require.NoError(t, <-done)
	require.Equal(t, ByteEager, CurrentID())

	// the thread's next begin dispatches to the new algorithm
	BeginTx(tx)
	require.Equal(t, ByteEager, tx.AlgID)
	tx.Commit(tx)

	require.NoError(t, SwitchTo(Nano))
}

func TestSwitchRefusesPrivatizationUnsafeTarget(t *testing.T) {
	cfg := config.NewTestConfig()
	cfg.RequirePrivatizationSafety = true
	Configure(cfg)
	defer Configure(config.NewTestConfig())

	require.NoError(t, SwitchTo(ByteEager))
	err := SwitchTo(Nano)
	require.Error(t, err, "nano is not privatization safe; the switch must be refused")
	require.Equal(t, ByteEager, CurrentID())

	// allow later tests to return to nano
	Configure(config.NewTestConfig())
	require.NoError(t, SwitchTo(Nano))
}

func TestPrivatizationSelfDescription(t *testing.T) {
	require.False(t, Get(Nano).PrivatizationSafe)
	require.True(t, Get(ByteEager).PrivatizationSafe)
}
