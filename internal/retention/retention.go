package retention

import (
	"log/slog"
	"sync"
	"time"

	"github.com/manpreetbhatti/codesync-relay/internal/db"
)

type Config struct {
	Interval time.Duration
	MaxAge   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: time.Hour,
		MaxAge:   7 * 24 * time.Hour,
	}
}

// Pruner periodically deletes journal rows older than MaxAge.
type Pruner struct {
	database *db.Database
	config   Config
	log      *slog.Logger
	now      func() time.Time
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(database *db.Database, config Config, log *slog.Logger) *Pruner {
	return &Pruner{
		database: database,
		config:   config,
		log:      log,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (p *Pruner) Start() {
	p.wg.Add(1)
	go p.run()
	p.log.Info("retention pruner started", "interval", p.config.Interval, "max_age", p.config.MaxAge)
}

func (p *Pruner) Stop() {
	close(p.stop)
	p.wg.Wait()
	p.log.Info("retention pruner stopped")
}

func (p *Pruner) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.PruneNow()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.PruneNow()
		}
	}
}

// PruneNow runs one pass and returns the number of sessions and executions
// removed.
func (p *Pruner) PruneNow() (sessions, executions int64) {
	cutoff := p.now().Add(-p.config.MaxAge)
	sessions, executions, err := p.database.DeleteBefore(cutoff)
	if err != nil {
		p.log.Error("retention prune failed", "err", err)
		return 0, 0
	}

	if sessions > 0 || executions > 0 {
		p.log.Info("pruned journal", "sessions", sessions, "executions", executions, "cutoff", cutoff)
	}
	return sessions, executions
}
