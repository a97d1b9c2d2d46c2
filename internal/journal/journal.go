package journal

import (
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/manpreetbhatti/codesync-relay/internal/db"
	"github.com/manpreetbhatti/codesync-relay/internal/room"
)

const DefaultBufferSize = 1024

type kind int

const (
	roomOpened kind = iota
	roomChanged
	roomClosed
	executionRun
)

type entry struct {
	kind      kind
	summary   room.Summary
	execution db.Execution
	at        time.Time
}

// Recorder writes room sessions and executions to the database from its
// own goroutine. Callers never block: when the queue is full the entry is
// dropped and counted.
type Recorder struct {
	database *db.Database
	log      *slog.Logger
	entries  chan entry
	stop     chan struct{}
	wg       sync.WaitGroup

	// Open session row per room id; owned by the worker
	sessions map[string]int64

	written atomic.Uint64
	dropped atomic.Uint64
}

func New(database *db.Database, log *slog.Logger, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Recorder{
		database: database,
		log:      log,
		entries:  make(chan entry, bufferSize),
		stop:     make(chan struct{}),
		sessions: make(map[string]int64),
	}
}

func (r *Recorder) Start() {
	if n, err := r.database.CloseOrphanedSessions(time.Now()); err != nil {
		r.log.Error("closing orphaned sessions failed", "err", err)
	} else if n > 0 {
		r.log.Info("closed orphaned sessions", "count", n)
	}

	r.wg.Add(1)
	go r.run()
	r.log.Info("journal started")
}

// Stop drains queued entries, closes sessions still open and waits for the
// worker to exit.
func (r *Recorder) Stop() {
	close(r.stop)
	r.wg.Wait()
	r.log.Info("journal stopped", "written", r.written.Load(), "dropped", r.dropped.Load())
}

func (r *Recorder) RoomOpened(s room.Summary)  { r.enqueue(entry{kind: roomOpened, summary: s}) }
func (r *Recorder) RoomChanged(s room.Summary) { r.enqueue(entry{kind: roomChanged, summary: s}) }
func (r *Recorder) RoomClosed(s room.Summary)  { r.enqueue(entry{kind: roomClosed, summary: s}) }

func (r *Recorder) RecordExecution(language string, isError bool, took time.Duration) {
	r.enqueue(entry{kind: executionRun, execution: db.Execution{
		Language:   language,
		IsError:    isError,
		DurationMs: took.Milliseconds(),
	}})
}

func (r *Recorder) Written() uint64 { return r.written.Load() }
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

func (r *Recorder) enqueue(e entry) {
	e.at = time.Now()
	select {
	case r.entries <- e:
	default:
		r.dropped.Inc()
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case e := <-r.entries:
			r.apply(e)
		case <-r.stop:
			for {
				select {
				case e := <-r.entries:
					r.apply(e)
				default:
					r.closeAll()
					return
				}
			}
		}
	}
}

func (r *Recorder) apply(e entry) {
	var err error
	switch e.kind {
	case roomOpened:
		_, err = r.open(e.summary.ID, e.at)
	case roomChanged:
		err = r.update(e)
	case roomClosed:
		err = r.close(e)
	case executionRun:
		e.execution.CreatedAt = e.at
		_, err = r.database.RecordExecution(e.execution)
	}

	if err != nil {
		r.log.Error("journal write failed", "room", e.summary.ID, "err", err)
		return
	}
	r.written.Inc()
}

func (r *Recorder) open(roomID string, at time.Time) (int64, error) {
	id, err := r.database.OpenSession(roomID, at)
	if err != nil {
		return 0, err
	}
	r.sessions[roomID] = id
	return id, nil
}

// Returns the open session for roomID, starting one if the open entry was
// lost.
func (r *Recorder) session(roomID string, at time.Time) (int64, error) {
	if id, ok := r.sessions[roomID]; ok {
		return id, nil
	}
	return r.open(roomID, at)
}

func (r *Recorder) update(e entry) error {
	id, err := r.session(e.summary.ID, e.at)
	if err != nil {
		return err
	}
	return r.database.UpdateSession(id, statsOf(e.summary))
}

func (r *Recorder) close(e entry) error {
	id, err := r.session(e.summary.ID, e.at)
	if err != nil {
		return err
	}
	delete(r.sessions, e.summary.ID)
	return r.database.CloseSession(id, statsOf(e.summary), e.at)
}

func (r *Recorder) closeAll() {
	if len(r.sessions) == 0 {
		return
	}
	if _, err := r.database.CloseOrphanedSessions(time.Now()); err != nil {
		r.log.Error("closing sessions on shutdown failed", "open", len(r.sessions), "err", err)
	}
	r.sessions = make(map[string]int64)
}

func statsOf(s room.Summary) db.SessionStats {
	return db.SessionStats{
		PeakMembers: s.PeakMembers,
		PeakVoice:   s.PeakVoice,
		Deltas:      int64(s.Deltas),
		Language:    s.Language,
	}
}
