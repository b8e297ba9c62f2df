package resource

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestController_DataBudget(t *testing.T) {
	c := NewController(Config{DataLimitBytes: 100})

	require.True(t, c.TryReserveData(60))
	require.True(t, c.TryReserveData(40))
	require.False(t, c.TryReserveData(1))
	require.EqualValues(t, 100, c.DataUsage())

	c.ReleaseData(40)
	require.True(t, c.TryReserveData(10))
	require.EqualValues(t, 70, c.DataUsage())
}

func TestController_UnlimitedTracksOnly(t *testing.T) {
	c := NewController(Config{})
	require.NoError(t, c.ReserveData(context.Background(), 1<<30))
	require.EqualValues(t, 1<<30, c.DataUsage())
	c.ReleaseData(1 << 30)
	require.Zero(t, c.DataUsage())
}

func TestController_NilIsNoop(t *testing.T) {
	var c *Controller
	require.True(t, c.TryReserveData(10))
	require.NoError(t, c.ReserveData(context.Background(), 10))
	require.NoError(t, c.AcquireBackground(context.Background()))
	c.ReleaseData(10)
	c.ReleaseBackground()
}

func TestController_BackgroundSlots(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 2})
	require.True(t, c.TryAcquireBackground())
	require.True(t, c.TryAcquireBackground())
	require.False(t, c.TryAcquireBackground())
	c.ReleaseBackground()
	require.True(t, c.TryAcquireBackground())
}

func TestThrottledWriter_PassThrough(t *testing.T) {
	var buf bytes.Buffer
	c := NewController(Config{})
	w := NewThrottledWriter(context.Background(), &buf, c)
	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", buf.String())
}
