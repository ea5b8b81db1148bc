package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/agentide/c3/db"
)

func newSchedulerFixture(t *testing.T) (*fixture, *Scheduler) {
	t.Helper()
	f := newFixture(t)
	// Installs itself as the manager's poker and the mux's idle handler.
	// The loop is not running; tests drive dispatchPass and onIdle directly.
	sched := NewScheduler(f.store, f.mgr, f.mux)
	return f, sched
}

func (f *fixture) setWorkerCapacity(t *testing.T, workerID string, n int) {
	t.Helper()
	if err := f.store.UpdateWorker(workerID, db.WorkerPatch{MaxSessions: &n}); err != nil {
		t.Fatalf("set worker capacity: %v", err)
	}
}

func (f *fixture) setGlobalCapacity(t *testing.T, n int) {
	t.Helper()
	if _, err := f.store.UpdateSettings(db.SettingsPatch{MaxConcurrentSessions: &n}); err != nil {
		t.Fatalf("set global capacity: %v", err)
	}
}

func TestDispatchHonorsGlobalCeiling(t *testing.T) {
	f, sched := newSchedulerFixture(t)
	local := f.localWorker(t)
	f.setWorkerCapacity(t, local.ID, 5)
	f.setGlobalCapacity(t, 2)

	s1 := f.create(t, filepath.Join(f.home, "a"))
	s2 := f.create(t, filepath.Join(f.home, "b"))
	s3 := f.create(t, filepath.Join(f.home, "c"))

	sched.dispatchPass()

	if got := f.getSession(t, s1.ID).Status; got != db.SessionStatusActive {
		t.Errorf("s1 = %q, want active", got)
	}
	if got := f.getSession(t, s2.ID).Status; got != db.SessionStatusActive {
		t.Errorf("s2 = %q, want active", got)
	}
	if got := f.getSession(t, s3.ID).Status; got != db.SessionStatusQueued {
		t.Errorf("s3 = %q, want queued past the ceiling", got)
	}

	// Freeing one slot admits the next session on the following pass.
	f.proc(t, s1.ID).exit(0)
	waitUntil(t, "s1 completed", func() bool {
		return f.getSession(t, s1.ID).Status == db.SessionStatusCompleted
	})
	sched.dispatchPass()
	if got := f.getSession(t, s3.ID).Status; got != db.SessionStatusActive {
		t.Errorf("s3 = %q, want active after capacity freed", got)
	}
}

func TestDispatchHonorsWorkerCapacity(t *testing.T) {
	f, sched := newSchedulerFixture(t)
	f.setGlobalCapacity(t, 10)
	// Local worker bootstraps with capacity 2.

	s1 := f.create(t, filepath.Join(f.home, "a"))
	s2 := f.create(t, filepath.Join(f.home, "b"))
	s3 := f.create(t, filepath.Join(f.home, "c"))

	sched.dispatchPass()

	if got := f.getSession(t, s1.ID).Status; got != db.SessionStatusActive {
		t.Errorf("s1 = %q, want active", got)
	}
	if got := f.getSession(t, s2.ID).Status; got != db.SessionStatusActive {
		t.Errorf("s2 = %q, want active", got)
	}
	if got := f.getSession(t, s3.ID).Status; got != db.SessionStatusQueued {
		t.Errorf("s3 = %q, want queued", got)
	}
}

func TestDispatchSkipsDisconnectedWorker(t *testing.T) {
	f, sched := newSchedulerFixture(t)
	remote := f.addRemoteWorker(t, 1)

	sess := f.createOn(t, remote.ID, "/srv/app")
	sched.dispatchPass()
	if got := f.getSession(t, sess.ID).Status; got != db.SessionStatusQueued {
		t.Fatalf("status = %q, want queued while worker is down", got)
	}

	if err := f.store.SetWorkerStatus(remote.ID, db.WorkerStatusConnected); err != nil {
		t.Fatal(err)
	}
	sched.dispatchPass()
	if got := f.getSession(t, sess.ID).Status; got != db.SessionStatusActive {
		t.Errorf("status = %q, want active once worker connects", got)
	}
}

func TestOnIdleFlagsPromptingSession(t *testing.T) {
	f, sched := newSchedulerFixture(t)
	sess := f.create(t, filepath.Join(f.home, "proj"))
	sched.dispatchPass()

	// No user input this cycle: the session is waiting on a prompt.
	sched.onIdle(sess.ID)

	row := f.getSession(t, sess.ID)
	if !row.NeedsInput {
		t.Error("needsInput not raised for promptless idle session")
	}
	if row.Status != db.SessionStatusActive {
		t.Errorf("status = %q, prompting session must stay active", row.Status)
	}
}

func TestOnIdleSuspendsSupervisedSessionWhenStarved(t *testing.T) {
	f, sched := newSchedulerFixture(t)
	local := f.localWorker(t)
	f.setWorkerCapacity(t, local.ID, 1)

	s1 := f.create(t, filepath.Join(f.home, "a"))
	sched.dispatchPass()
	if got := f.getSession(t, s1.ID).Status; got != db.SessionStatusActive {
		t.Fatalf("s1 = %q, want active", got)
	}
	// User input marks the session supervised.
	if err := f.mgr.RecordInput(s1.ID, []byte("run the tests\r")); err != nil {
		t.Fatal(err)
	}
	// A second session starves on the same worker.
	s2 := f.create(t, filepath.Join(f.home, "b"))

	sched.onIdle(s1.ID)

	waitUntil(t, "s1 suspended and requeued", func() bool {
		return f.getSession(t, s1.ID).Status == db.SessionStatusQueued
	})
	queue, err := f.store.QueuedSessionsInOrder()
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 2 || queue[0].ID != s1.ID || queue[1].ID != s2.ID {
		t.Fatalf("queue = %v, want suspended session at head", queueIDs(queue))
	}
	if queue[0].ContinuationCount != 1 {
		t.Errorf("continuationCount = %d, want 1 after suspension", queue[0].ContinuationCount)
	}

	// The next pass reactivates the suspended session first.
	sched.dispatchPass()
	if got := f.getSession(t, s1.ID).Status; got != db.SessionStatusActive {
		t.Errorf("s1 = %q, want active after redispatch", got)
	}
	if got := f.getSession(t, s2.ID).Status; got != db.SessionStatusQueued {
		t.Errorf("s2 = %q, want still queued", got)
	}
}

func TestOnIdleSuspendGuards(t *testing.T) {
	// Each case builds a supervised active session plus a starved queued one,
	// then flips a single guard that must prevent suspension.
	setup := func(t *testing.T) (*fixture, *Scheduler, *db.Session) {
		f, sched := newSchedulerFixture(t)
		local := f.localWorker(t)
		f.setWorkerCapacity(t, local.ID, 1)
		s1 := f.create(t, filepath.Join(f.home, "a"))
		sched.dispatchPass()
		if err := f.mgr.RecordInput(s1.ID, []byte("go\r")); err != nil {
			t.Fatal(err)
		}
		f.create(t, filepath.Join(f.home, "b"))
		return f, sched, s1
	}

	assertStaysActive := func(t *testing.T, f *fixture, sched *Scheduler, id string) {
		t.Helper()
		sched.onIdle(id)
		// Suspension would flip the row within milliseconds; give it room
		// to misbehave before asserting nothing happened.
		time.Sleep(100 * time.Millisecond)
		if got := f.getSession(t, id).Status; got != db.SessionStatusActive {
			t.Errorf("status = %q, want active (no suspension)", got)
		}
	}

	t.Run("locked session is never suspended", func(t *testing.T) {
		f, sched, s1 := setup(t)
		lock := true
		if err := f.store.UpdateSession(s1.ID, db.SessionPatch{Lock: &lock}); err != nil {
			t.Fatal(err)
		}
		assertStaysActive(t, f, sched, s1.ID)
	})

	t.Run("session waiting on input is never suspended", func(t *testing.T) {
		f, sched, s1 := setup(t)
		needs := true
		if err := f.store.UpdateSession(s1.ID, db.SessionPatch{NeedsInput: &needs}); err != nil {
			t.Fatal(err)
		}
		assertStaysActive(t, f, sched, s1.ID)
	})

	t.Run("empty queue means no suspension", func(t *testing.T) {
		f, sched := newSchedulerFixture(t)
		local := f.localWorker(t)
		f.setWorkerCapacity(t, local.ID, 1)
		s1 := f.create(t, filepath.Join(f.home, "a"))
		sched.dispatchPass()
		if err := f.mgr.RecordInput(s1.ID, []byte("go\r")); err != nil {
			t.Fatal(err)
		}
		assertStaysActive(t, f, sched, s1.ID)
	})

	t.Run("queue waiting on another worker does not starve this one", func(t *testing.T) {
		f, sched := newSchedulerFixture(t)
		local := f.localWorker(t)
		f.setWorkerCapacity(t, local.ID, 1)
		s1 := f.create(t, filepath.Join(f.home, "a"))
		sched.dispatchPass()
		if err := f.mgr.RecordInput(s1.ID, []byte("go\r")); err != nil {
			t.Fatal(err)
		}
		remote := f.addRemoteWorker(t, 5)
		f.createOn(t, remote.ID, "/srv/app")
		assertStaysActive(t, f, sched, s1.ID)
	})
}

func TestSchedulerRunDispatchesOnPoke(t *testing.T) {
	f := newFixture(t)
	sched := NewScheduler(f.store, f.mgr, f.mux)
	go sched.Run()
	defer sched.Stop()

	// Create pokes the scheduler; the session activates without waiting for
	// a full tick.
	sess := f.create(t, filepath.Join(f.home, "proj"))
	waitUntil(t, "scheduler activated the session", func() bool {
		return f.getSession(t, sess.ID).Status == db.SessionStatusActive
	})
}
