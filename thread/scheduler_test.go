package thread

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tkernel/cpu"
	"tkernel/debug"
	"tkernel/intr"
	"tkernel/palloc"
	"tkernel/pic"
)

// newTestScheduler returns a scheduler on a machine without a timer, so
// threads only switch when they yield or block.
func newTestScheduler(t *testing.T, policy Policy) (*Scheduler, *palloc.Pool) {
	t.Helper()
	c := cpu.New()
	d := intr.New(c, pic.New(), io.Discard, zerolog.Nop())
	pool, err := palloc.NewPool(16)
	require.NoError(t, err)
	return New(c, d, pool, Options{Policy: policy}), pool
}

// boot brings the scheduler up the way the kernel does and runs main on
// the initial thread.
func boot(s *Scheduler, main func()) error {
	return s.Run(func() {
		s.intr.Disable()
		s.Init()
		s.intr.Init()
		if err := s.Start(); err != nil {
			debug.Panicf("%v", err)
		}
		main()
	})
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", RoundRobin, false},
		{"rr", RoundRobin, false},
		{"Round-Robin", RoundRobin, false},
		{"priority", PriorityOrder, false},
		{"mlfqs", RoundRobin, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "RUNNING", Running.String())
	assert.Equal(t, "DYING", Dying.String())
	assert.Equal(t, "Status(9)", Status(9).String())
}

func TestInitialThread(t *testing.T) {
	s, _ := newTestScheduler(t, RoundRobin)

	var name string
	var tid ID
	var prio int
	var threads []Info
	err := boot(s, func() {
		name = s.Name()
		tid = s.TID()
		prio = s.Priority()
		threads = s.Threads()
	})
	require.NoError(t, err)
	assert.Equal(t, "main", name)
	assert.Equal(t, ID(1), tid)
	assert.Equal(t, PriDefault, prio)
	require.Len(t, threads, 2)
	assert.Equal(t, Info{ID: 1, Name: "main", Status: Running, Priority: PriDefault}, threads[0])
	assert.Equal(t, Info{ID: 2, Name: "idle", Status: Blocked, Priority: PriMin}, threads[1])
}

func TestCreateRunsInArrivalOrder(t *testing.T) {
	s, _ := newTestScheduler(t, RoundRobin)

	var order []string
	var ids []ID
	err := boot(s, func() {
		for _, name := range []string{"a", "b", "c"} {
			id, err := s.Create(name, PriDefault, func(any) {
				order = append(order, s.Name())
			}, nil)
			debug.Assert(err == nil, "create")
			ids = append(ids, id)
		}
		s.Yield()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, []ID{3, 4, 5}, ids)
}

func TestNameTruncated(t *testing.T) {
	s, _ := newTestScheduler(t, RoundRobin)

	var name string
	err := boot(s, func() {
		id, _ := s.Create("a-rather-long-thread-name", PriDefault, func(any) {}, nil)
		name = s.Lookup(id).Name()
	})
	require.NoError(t, err)
	assert.Equal(t, "a-rather-long-t", name)
}

func TestPriorityOrderQueue(t *testing.T) {
	s, _ := newTestScheduler(t, PriorityOrder)

	var order []string
	err := boot(s, func() {
		record := func(any) { order = append(order, s.Name()) }
		for _, c := range []struct {
			name string
			prio int
		}{{"lo", 10}, {"hi", 50}, {"mid", 30}, {"mid2", 30}} {
			_, _ = s.Create(c.name, c.prio, record, nil)
		}
		s.SetPriority(PriMin)
		s.Yield()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "mid", "mid2", "lo"}, order)
}

func TestBlockUnblock(t *testing.T) {
	s, _ := newTestScheduler(t, RoundRobin)

	var worker *Thread
	var blocked, ready, queued, resumed bool
	err := boot(s, func() {
		id, _ := s.Create("worker", PriDefault, func(any) {
			old := s.intr.Disable()
			s.Block()
			s.intr.SetLevel(old)
			resumed = true
		}, nil)
		worker = s.Lookup(id)
		s.Yield()

		blocked = worker.Status() == Blocked
		s.Unblock(worker)
		ready = worker.Status() == Ready
		queued = s.InReady(worker)
		s.Yield()
	})
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.True(t, ready)
	assert.True(t, queued)
	assert.True(t, resumed)
}

func TestExitFreesStack(t *testing.T) {
	s, pool := newTestScheduler(t, RoundRobin)

	var before, during, after int
	var gone bool
	err := boot(s, func() {
		before = pool.Free()
		id, _ := s.Create("short", PriDefault, func(any) {}, nil)
		during = pool.Free()
		// the thread dies on the first switch, the second frees it
		s.Yield()
		s.Yield()
		after = pool.Free()
		gone = s.Lookup(id) == nil
	})
	require.NoError(t, err)
	assert.Equal(t, before-1, during)
	assert.Equal(t, before, after)
	assert.True(t, gone)
}

func TestContractViolations(t *testing.T) {
	tests := []struct {
		name string
		fn   func(s *Scheduler)
		msg  string
	}{
		{
			name: "unblock running thread",
			fn:   func(s *Scheduler) { s.Unblock(s.Current()) },
			msg:  "t->status == THREAD_BLOCKED",
		},
		{
			name: "block with interrupts on",
			fn:   func(s *Scheduler) { s.Block() },
			msg:  "intr_get_level () == INTR_OFF",
		},
		{
			name: "priority out of range",
			fn:   func(s *Scheduler) { s.SetPriority(PriMax + 1) },
			msg:  "PRI_MIN <= priority && priority <= PRI_MAX",
		},
		{
			name: "nil function",
			fn:   func(s *Scheduler) { _, _ = s.Create("nil", PriDefault, nil, nil) },
			msg:  "function != NULL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestScheduler(t, RoundRobin)
			err := boot(s, func() { tt.fn(s) })
			require.Error(t, err)
			assert.True(t, debug.IsPanic(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestPanicInThread(t *testing.T) {
	s, _ := newTestScheduler(t, RoundRobin)
	err := boot(s, func() {
		_, _ = s.Create("bad", PriDefault, func(any) { debug.Panicf("bad thread") }, nil)
		s.Yield()
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad thread")
	assert.Equal(t, err, s.Err())
}

func TestRegistersSavedAcrossSwitch(t *testing.T) {
	s, _ := newTestScheduler(t, RoundRobin)

	var mainRSP, workerRSP, mainAfter uint64
	err := boot(s, func() {
		mainRSP = s.cpu.Regs.RSP
		_, _ = s.Create("worker", PriDefault, func(any) {
			workerRSP = s.cpu.Regs.RSP
		}, nil)
		s.Yield()
		mainAfter = s.cpu.Regs.RSP
	})
	require.NoError(t, err)
	assert.NotEqual(t, mainRSP, workerRSP)
	assert.Equal(t, uint64(palloc.PageSize-8), workerRSP%palloc.PageSize)
	assert.Equal(t, mainRSP, mainAfter)
}
