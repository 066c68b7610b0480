package sandbox

import (
	"context"
	"testing"

	"github.com/caffeineduck/newstate/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectTunables(t *testing.T) {
	sb := newSandbox(t)

	prev, err := sb.Collect(GCSetPause, 150)
	require.NoError(t, err)
	assert.Equal(t, 200, prev)

	prev, err = sb.Collect(GCSetPause, 120)
	require.NoError(t, err)
	assert.Equal(t, 150, prev)

	prev, err = sb.Collect(GCSetStepMul, 400)
	require.NoError(t, err)
	assert.Equal(t, 100, prev)
}

func TestCollectModes(t *testing.T) {
	sb := newSandbox(t)

	prev, err := sb.Collect(GCGen, 25, 0)
	require.NoError(t, err)
	assert.Equal(t, int(GCInc), prev)
	assert.Equal(t, 25, sb.st.gc.minorMul)
	assert.Equal(t, 100, sb.st.gc.majorMul, "zero keeps the current value")

	prev, err = sb.Collect(GCInc, 0, 300)
	require.NoError(t, err)
	assert.Equal(t, int(GCGen), prev)
	assert.Equal(t, 300, sb.st.gc.stepMul)
}

func TestCollectStopRestart(t *testing.T) {
	sb := newSandbox(t)

	running, err := sb.Collect(GCIsRunning)
	require.NoError(t, err)
	assert.Equal(t, 1, running)

	_, err = sb.Collect(GCStop)
	require.NoError(t, err)
	running, _ = sb.Collect(GCIsRunning)
	assert.Equal(t, 0, running)

	done, err := sb.Collect(GCStep)
	require.NoError(t, err)
	assert.Equal(t, 0, done)

	_, err = sb.Collect(GCRestart)
	require.NoError(t, err)
	done, _ = sb.Collect(GCStep)
	assert.Equal(t, 1, done)

	_, err = sb.Collect(GCCollect)
	require.NoError(t, err)
}

func TestCollectCount(t *testing.T) {
	sb := newSandbox(t)

	kb, err := sb.Collect(GCCount)
	require.NoError(t, err)
	assert.Greater(t, kb, 0)

	rem, err := sb.Collect(GCCountB)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rem, 0)
	assert.Less(t, rem, 1024)
}

func TestCollectUnknownOption(t *testing.T) {
	sb := newSandbox(t)

	_, err := sb.Collect(GCOption(42))
	requireStatus(t, err, StatusErrArg)
	assert.ErrorIs(t, err, ErrUnknownGCOption)

	_, err = sb.Collect(GCOption(8))
	assert.ErrorIs(t, err, ErrUnknownGCOption)
}

func TestCollectGarbageSharesPolicy(t *testing.T) {
	sb := newSandbox(t)
	ctx := context.Background()

	out, err := sb.DoString(ctx, `collectgarbage("stop") return collectgarbage("isrunning")`)
	require.NoError(t, err)
	assert.Equal(t, []transfer.Value{transfer.Bool(false)}, out)

	running, err := sb.Collect(GCIsRunning)
	require.NoError(t, err)
	assert.Equal(t, 0, running)

	_, err = sb.Collect(GCRestart)
	require.NoError(t, err)

	out, err = sb.DoString(ctx, `return collectgarbage("isrunning"), collectgarbage("setpause", 111), collectgarbage("generational"), collectgarbage()`)
	require.NoError(t, err)
	assert.Equal(t, []transfer.Value{
		transfer.Bool(true),
		transfer.Number(200),
		transfer.String("incremental"),
		transfer.Number(0),
	}, out)

	out, err = sb.DoString(ctx, `return type(collectgarbage("count"))`)
	require.NoError(t, err)
	assert.Equal(t, transfer.String("number"), out[0])

	_, err = sb.DoString(ctx, `collectgarbage("bogus")`)
	se := requireStatus(t, err, StatusErrRun)
	assert.Contains(t, se.Message, "invalid option 'bogus'")
}

func TestGCOptionNames(t *testing.T) {
	for name, opt := range GCOptions() {
		assert.NotContains(t, opt.String(), "gcoption(", name)
	}
	o, ok := ParseGCOption("setstepmul")
	assert.True(t, ok)
	assert.Equal(t, GCSetStepMul, o)
	assert.Equal(t, 11, len(GCOptions()))
}
