package sim

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/cogcal/core"
	"github.com/ftl/cogcal/core/transfer"
)

func TestSweep(t *testing.T) {
	device := New(0, 1)
	events := make(chan core.SampleEvent, 2*(core.N+1))
	device.OnSample(func(e core.SampleEvent) { events <- e })

	require.NoError(t, device.StartCalibration(core.CalibrationParams{SamplesPerPoint: 16}))

	var forward, reverse [core.N]float64
	for i := 0; i < 2*(core.N+1); i++ {
		e := waitForEvent(t, events)
		require.True(t, e.Success)
		if e.Index == core.N {
			assert.Equal(t, !e.Forward, e.Finished)
			continue
		}
		assert.False(t, e.Finished)
		if e.Forward {
			forward[e.Index] = e.IQ
		} else {
			reverse[e.Index] = e.IQ
		}
	}

	for i := 0; i < core.N; i++ {
		assert.InDelta(t, Cogging(i), (forward[i]+reverse[i])/2, 0.02, "common %d", i)
		assert.InDelta(t, Friction, (forward[i]-reverse[i])/2, 0.02, "differential %d", i)
	}

	assert.NoError(t, device.StartCalibration(core.CalibrationParams{}), "restart after finish")
	device.Close()
}

func TestStartTwice(t *testing.T) {
	device := New(time.Millisecond, 1)
	defer device.Close()

	require.NoError(t, device.StartCalibration(core.CalibrationParams{}))
	assert.Error(t, device.StartCalibration(core.CalibrationParams{}))
}

func TestCancel(t *testing.T) {
	device := New(time.Millisecond, 1)
	events := make(chan core.SampleEvent, 2*(core.N+1))
	device.OnSample(func(e core.SampleEvent) { events <- e })
	require.NoError(t, device.StartCalibration(core.CalibrationParams{}))
	waitForEvent(t, events)

	require.NoError(t, device.CancelCalibration())
	time.Sleep(20 * time.Millisecond)
	count := len(events)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, count, len(events))
	assert.True(t, count < core.N)
}

func TestReadBackWithoutData(t *testing.T) {
	device := New(0, 1)
	protocol := transfer.New(device)
	device.OnReadBack(protocol.ReadBackReceived)

	_, err := protocol.ReadBack(context.Background())

	assert.Equal(t, transfer.ErrNoValidData, err)
}

func TestUploadAndReadBack(t *testing.T) {
	device := New(0, 1)
	protocol := transfer.New(device)
	device.OnReadBack(protocol.ReadBackReceived)
	device.OnAck(protocol.AckReceived)

	var payload core.DecomposedTable
	for i := 0; i < core.N; i++ {
		payload.Common[i] = Cogging(i)
		payload.Differential[i] = Friction
	}

	require.NoError(t, protocol.Upload(context.Background(), payload))
	actual, err := protocol.ReadBack(context.Background())

	require.NoError(t, err)
	for i := 0; i < core.N; i++ {
		assert.Equal(t, float64(float32(payload.Common[i])), actual.Common[i])
		assert.InDelta(t, payload.Differential[i], actual.Differential[i], 1e-8)
	}
	assert.True(t, math.Abs(actual.Common[100]) > 0)
}

func TestIncompleteUploadIsRejected(t *testing.T) {
	device := New(0, 1)
	acks := make(chan bool, 1)
	device.OnAck(func(ok bool) { acks <- ok })

	device.UploadBlock(core.BlockStart, 0, nil)
	assert.True(t, <-acks)
	device.UploadBlock(core.BlockOngoing, 0, make([]byte, 500))
	assert.True(t, <-acks)
	device.UploadBlock(core.BlockOngoing, 1000, make([]byte, 500))
	assert.False(t, <-acks, "gap")
	device.UploadBlock(core.BlockEnd, 0, nil)
	assert.False(t, <-acks, "short")
}

func waitForEvent(t *testing.T, events chan core.SampleEvent) core.SampleEvent {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("no sample event")
		return core.SampleEvent{}
	}
}
