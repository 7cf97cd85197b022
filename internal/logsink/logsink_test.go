package logsink

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannelOverwritesOldest(t *testing.T) {
	rc := NewRingChannel[int](3)
	for i := 0; i < 5; i++ {
		rc.ForceSend(i)
	}

	var got []int
	for {
		v, ok := rc.TryReceive()
		if !ok {
			break
		}
		got = append(got, v)
	}

	assert.Equal(t, []int{2, 3, 4}, got)
	m := rc.GetMetrics()
	assert.Equal(t, int64(5), m.Written)
	assert.Equal(t, int64(2), m.Overwritten)
	assert.Equal(t, int64(3), m.Processed)
}

func TestRingChannelTrySendFull(t *testing.T) {
	rc := NewRingChannel[string](1)
	assert.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"))
	assert.Equal(t, 1, rc.Len())
	assert.Equal(t, 1, rc.Cap())
}

func TestRingChannelZeroCapacityPanics(t *testing.T) {
	assert.Panics(t, func() { NewRingChannel[int](0) })
}

func TestChannelNeverBlocks(t *testing.T) {
	ch := NewChannel(2)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			ch.Log(fmt.Sprintf("line %d", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked on a full buffer")
	}
	assert.Equal(t, int64(98), ch.Metrics().Overwritten)
}

func TestChannelWithSourceSharesBuffer(t *testing.T) {
	ch := NewChannel(4)
	ch.WithSource("2a37").Log("hello")

	rec := <-ch.C()
	assert.Equal(t, "hello", rec.Message)
	assert.Equal(t, "2a37", rec.Source)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestStoreKeepsMostRecent(t *testing.T) {
	store, err := NewStore(4)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, store.Add(Record{Message: fmt.Sprint(i)}))
	}

	msgs := store.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "19", msgs[len(msgs)-1])
	assert.Less(t, len(msgs), 20)
	assert.Greater(t, store.Overwritten(), int64(0))
	assert.Empty(t, store.Messages())
}

func TestStoreSizeValidation(t *testing.T) {
	_, err := NewStore(0)
	assert.Error(t, err)
	_, err = NewStore(MaxStoreSize + 1)
	assert.Error(t, err)
}

func TestDrainerForwardsToLoggerAndStore(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	store, err := NewStore(16)
	require.NoError(t, err)

	ch := NewChannel(16)
	d := NewDrainer(context.Background(), ch.C(), logger, store)

	ch.WithSource("180d").Log("first")
	ch.Log("second")

	d.Cancel()
	d.Wait()

	assert.Equal(t, []string{"first", "second"}, store.Messages())

	var infos []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.InfoLevel {
			infos = append(infos, e)
		}
	}
	require.Len(t, infos, 2)
	assert.Equal(t, "first", infos[0].Message)
	assert.Equal(t, "180d", infos[0].Data["characteristic"])
}

func TestDrainerStopsOnContextCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())

	ch := NewChannel(4)
	d := NewDrainer(ctx, ch.C(), logger, nil)
	cancel()

	waited := make(chan struct{})
	go func() {
		d.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("drainer did not stop on context cancel")
	}
}

func TestFuncSink(t *testing.T) {
	var mu sync.Mutex
	var got []string
	var s Sink = Func(func(m string) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	s.Log("x")
	Discard.Log("ignored")
	assert.Equal(t, []string{"x"}, got)
}
