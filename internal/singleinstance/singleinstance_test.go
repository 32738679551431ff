//go:build !windows

package singleinstance

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func testOpts(base string, extra ...Option) []Option {
	return append([]Option{
		WithBaseDir(base),
		WithLogger(zerolog.Nop()),
		WithMetricSink(&metrics.BlackholeSink{}),
	}, extra...)
}

func holder(t *testing.T, base string, extra ...Option) *Instance {
	t.Helper()
	inst, err := Acquire("demo", []string{"demo"}, testOpts(base, extra...)...)
	require.NoError(t, err)
	require.NotNil(t, inst)
	t.Cleanup(func() { inst.Close() })
	return inst
}

func send(t *testing.T, base string, args []string, extra ...Option) {
	t.Helper()
	inst, err := Acquire("demo", args, testOpts(base, extra...)...)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Nil(t, inst)
}

func checkWithin(t *testing.T, inst *Instance, d time.Duration) (Message, bool) {
	t.Helper()
	type result struct {
		msg Message
		ok  bool
	}
	ch := make(chan result, 1)
	go func() {
		msg, ok := inst.Check(true)
		ch <- result{msg, ok}
	}()
	select {
	case r := <-ch:
		return r.msg, r.ok
	case <-time.After(d):
		inst.Interrupt()
		<-ch
		t.Fatalf("Check(true) did not return within %s", d)
		return Message{}, false
	}
}

func TestAcquire_ForwardToHolder(t *testing.T) {
	base := t.TempDir()
	inst := holder(t, base)

	send(t, base, []string{"demo", "--open", "x.txt"})

	msg, ok := checkWithin(t, inst, 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, []string{"demo", "--open", "x.txt"}, msg.Args)
	assert.Equal(t, uint32(os.Getpid()), msg.Sender)

	// Check keeps returning the same message until Pop
	again, ok := inst.Check(false)
	require.True(t, ok)
	assert.Equal(t, msg, again)

	inst.Pop()
	_, ok = inst.Check(false)
	assert.False(t, ok)
}

func TestAcquire_ConcurrentForwarders(t *testing.T) {
	base := t.TempDir()
	inst := holder(t, base)

	var g errgroup.Group
	g.Go(func() error {
		_, err := Acquire("demo", []string{"demo", "a"}, testOpts(base, WithSenderID(101))...)
		if err != ErrAlreadyRunning {
			return fmt.Errorf("forwarder B: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		_, err := Acquire("demo", []string{"demo", "b"}, testOpts(base, WithSenderID(102))...)
		if err != ErrAlreadyRunning {
			return fmt.Errorf("forwarder C: %v", err)
		}
		return nil
	})
	require.NoError(t, g.Wait())

	var got []string
	for len(got) < 2 {
		msg, ok := checkWithin(t, inst, 5*time.Second)
		require.True(t, ok)
		got = append(got, strings.Join(msg.Args, " "))
		inst.Pop()
	}
	sort.Strings(got)
	assert.Equal(t, []string{"demo a", "demo b"}, got)

	_, ok := inst.Check(false)
	assert.False(t, ok)
}

func TestAcquire_RacingProcesses(t *testing.T) {
	base := t.TempDir()
	const racers = 8

	var (
		mu      sync.Mutex
		holders []*Instance
		winner  int
		g       errgroup.Group
	)
	for n := 0; n < racers; n++ {
		n := n
		g.Go(func() error {
			inst, err := Acquire("demo", []string{"demo", fmt.Sprint(n)}, testOpts(base, WithSenderID(uint32(1000+n)))...)
			if err == ErrAlreadyRunning {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			holders = append(holders, inst)
			winner = n
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, holders, 1, "exactly one racer must become the holder")
	inst := holders[0]
	t.Cleanup(func() { inst.Close() })

	var got []string
	for len(got) < racers-1 {
		msg, ok := checkWithin(t, inst, 5*time.Second)
		require.True(t, ok)
		got = append(got, msg.Args[1])
		inst.Pop()
	}

	var expected []string
	for n := 0; n < racers; n++ {
		if n != winner {
			expected = append(expected, fmt.Sprint(n))
		}
	}
	assert.ElementsMatch(t, expected, got)
}

func TestCheck_NonBlocking(t *testing.T) {
	base := t.TempDir()
	inst := holder(t, base)

	_, ok := inst.Check(false)
	assert.False(t, ok)

	long := strings.Repeat("y", 3000)
	send(t, base, []string{"demo", long})

	msg, ok := inst.Check(false)
	require.True(t, ok, "data already in the channel must be drained without blocking")
	assert.Equal(t, []string{"demo", long}, msg.Args)
}

func TestCheck_LargeMessage(t *testing.T) {
	base := t.TempDir()
	inst := holder(t, base)

	args := []string{"demo"}
	for n := 0; n < 40; n++ {
		args = append(args, strings.Repeat(fmt.Sprint(n%10), 250))
	}
	send(t, base, args)

	msg, ok := checkWithin(t, inst, 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, args, msg.Args)
}

func TestCheck_ZeroArguments(t *testing.T) {
	base := t.TempDir()
	inst := holder(t, base)

	send(t, base, nil)

	msg, ok := checkWithin(t, inst, 5*time.Second)
	require.True(t, ok)
	assert.Empty(t, msg.Args)
}

func TestCheck_OversizedMessageDropped(t *testing.T) {
	base := t.TempDir()
	inst := holder(t, base, WithMaxMessageSize(64))

	send(t, base, []string{"demo", strings.Repeat("z", 2048)})
	send(t, base, []string{"demo", "small"})

	msg, ok := checkWithin(t, inst, 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, []string{"demo", "small"}, msg.Args)
}

func TestInterrupt_BeforeCheck(t *testing.T) {
	base := t.TempDir()
	inst := holder(t, base)

	inst.Interrupt()
	_, ok := checkWithin(t, inst, time.Second)
	assert.False(t, ok)

	// The interrupt is consumed; the next blocking check waits again.
	result := make(chan Message, 1)
	go func() {
		msg, ok := inst.Check(true)
		if ok {
			result <- msg
		}
		close(result)
	}()

	select {
	case <-result:
		t.Fatal("Check(true) returned before anything was sent")
	case <-time.After(100 * time.Millisecond):
	}

	send(t, base, []string{"demo", "after"})
	select {
	case msg, ok := <-result:
		require.True(t, ok)
		assert.Equal(t, []string{"demo", "after"}, msg.Args)
	case <-time.After(5 * time.Second):
		inst.Interrupt()
		t.Fatal("Check(true) did not return after a message was sent")
	}
}

func TestInterrupt_WakesBlockedCheck(t *testing.T) {
	base := t.TempDir()
	inst := holder(t, base)

	done := make(chan bool, 1)
	go func() {
		_, ok := inst.Check(true)
		done <- ok
	}()

	time.Sleep(50 * time.Millisecond)
	inst.Interrupt()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("Interrupt did not wake the blocked Check")
	}
}

func TestInterrupt_WinsOverPendingData(t *testing.T) {
	base := t.TempDir()
	inst := holder(t, base)

	send(t, base, []string{"demo", "queued"})
	inst.Interrupt()

	_, ok := checkWithin(t, inst, time.Second)
	assert.False(t, ok, "a pending interrupt is reported before readable data")

	msg, ok := checkWithin(t, inst, 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, []string{"demo", "queued"}, msg.Args)
}

func TestClose_ReleasesSlot(t *testing.T) {
	base := t.TempDir()
	inst, err := Acquire("demo", []string{"demo"}, testOpts(base)...)
	require.NoError(t, err)

	send(t, base, []string{"demo", "unread"})
	_, ok := checkWithin(t, inst, 5*time.Second)
	require.True(t, ok)

	require.NoError(t, inst.Close())
	assert.Zero(t, inst.Pending())
	require.NoError(t, inst.Close(), "Close must be idempotent")

	_, ok = inst.Check(true)
	assert.False(t, ok)

	next, err := Acquire("demo", []string{"demo"}, testOpts(base)...)
	require.NoError(t, err, "slot must be free after Close")
	require.NoError(t, next.Close())
}

func TestAcquire_InvalidAppName(t *testing.T) {
	for _, name := range []string{"", "a/b", `a\b`, ".", ".."} {
		_, err := Acquire(name, nil, testOpts(t.TempDir())...)
		assert.ErrorIs(t, err, ErrInvalidAppName, "name %q", name)
	}
}

func TestAcquire_NoBaseDir(t *testing.T) {
	t.Setenv("HOME", "")
	t.Setenv("USER", "")

	_, err := Acquire("demo", nil, WithLogger(zerolog.Nop()))
	assert.ErrorIs(t, err, ErrNoBaseDir)
}

func TestAcquire_HomeFallback(t *testing.T) {
	t.Setenv("HOME", "")
	t.Setenv("USER", "someone")

	slot, err := ResolveSlot("demo")
	require.NoError(t, err)
	assert.Equal(t, "/home/someone/.demo", slot.Dir)
}

func TestAcquire_ResourceErrors(t *testing.T) {
	t.Run("base is a file", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(base, nil, 0600))

		_, err := Acquire("demo", nil, testOpts(base)...)
		var rerr *ResourceError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "mkdir", rerr.Op)
		assert.Contains(t, err.Error(), base)
	})

	t.Run("pipe is not a fifo", func(t *testing.T) {
		base := t.TempDir()
		dir := filepath.Join(base, ".demo")
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, pipeName), nil, 0600))

		_, err := Acquire("demo", nil, testOpts(base)...)
		var rerr *ResourceError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "mkfifo", rerr.Op)
		assert.ErrorIs(t, err, unix.EEXIST)
	})
}

func TestAcquire_InvalidOption(t *testing.T) {
	_, err := Acquire("demo", nil, WithBaseDir(t.TempDir()), WithMaxMessageSize(0))
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestHolderPID(t *testing.T) {
	base := t.TempDir()

	_, err := HolderPID("demo", testOpts(base)...)
	assert.ErrorIs(t, err, ErrNotRunning)

	inst := holder(t, base)
	pid, err := HolderPID("demo", testOpts(base)...)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, inst.Close())
	_, err = HolderPID("demo", testOpts(base)...)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestMetrics_Counters(t *testing.T) {
	base := t.TempDir()
	sink := metrics.NewInmemSink(time.Minute, 5*time.Minute)
	inst := holder(t, base, WithMetricSink(sink))

	send(t, base, []string{"demo", "x"})
	_, ok := checkWithin(t, inst, 5*time.Second)
	require.True(t, ok)

	assert.Equal(t, 1, counterCount(sink, MetricMessagesCount))
}

func counterCount(sink *metrics.InmemSink, key []string) int {
	prefix := strings.Join(key, ".")
	total := 0
	for _, interval := range sink.Data() {
		for name, c := range interval.Counters {
			if strings.HasPrefix(name, prefix) {
				total += c.Count
			}
		}
	}
	return total
}

func TestCheck_ReopensAfterReadError(t *testing.T) {
	base := t.TempDir()
	sink := metrics.NewInmemSink(time.Minute, 5*time.Minute)
	inst := holder(t, base, WithMetricSink(sink))

	// Keep the original descriptor so forwarders still find a reader.
	fifo := inst.ep.fd
	t.Cleanup(func() { unix.Close(fifo) })

	// Reading a directory fails with EISDIR.
	dir, err := unix.Open(base, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	inst.ep.fd = dir
	inst.ep.w.set(0, dir)

	send(t, base, []string{"demo", "healed"})

	msg, ok := checkWithin(t, inst, 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, []string{"demo", "healed"}, msg.Args)
	assert.Equal(t, 1, counterCount(sink, MetricReopenCount))
	assert.NotEqual(t, dir, inst.ep.fd)
}

func TestDispatch_DeliversUntilStop(t *testing.T) {
	base := t.TempDir()
	got := make(chan Message, 4)
	d, err := AcquireAuto("demo", []string{"demo"}, func(msg Message) { got <- msg }, testOpts(base)...)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	send(t, base, []string{"demo", "a"}, WithSenderID(201))
	fwd, err := AcquireAuto("demo", []string{"demo", "b"}, func(Message) {}, testOpts(base, WithSenderID(202))...)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Nil(t, fwd)

	var seen []string
	for len(seen) < 2 {
		select {
		case msg := <-got:
			seen = append(seen, msg.Args[1])
		case <-time.After(5 * time.Second):
			t.Fatalf("dispatched %v, want 2 messages", seen)
		}
	}
	assert.Equal(t, []string{"a", "b"}, seen)

	// The loop is blocked in Check again; Stop interrupts and joins it.
	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	select {
	case <-d.Done():
	default:
		t.Fatal("Done must be closed once Stop returns")
	}

	inst := d.Instance()
	assert.Zero(t, inst.Pending(), "dispatched messages are popped")

	send(t, base, []string{"demo", "c"})
	msg, ok := checkWithin(t, inst, 5*time.Second)
	require.True(t, ok, "the instance stays usable after Stop")
	assert.Equal(t, []string{"demo", "c"}, msg.Args)
	assert.Empty(t, got)
}

func TestDispatch_CallbackInterrupts(t *testing.T) {
	base := t.TempDir()
	inst := holder(t, base)

	var calls atomic.Int32
	d := inst.Dispatch(func(msg Message) {
		calls.Add(1)
		if len(msg.Args) == 2 && msg.Args[1] == "--stop" {
			inst.Interrupt()
		}
	})

	send(t, base, []string{"demo", "--stop"})
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		d.Stop()
		t.Fatal("interrupting from the callback did not end the loop")
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, inst.Pending())

	// Stop after the loop ended returns at once.
	d.Stop()
}
