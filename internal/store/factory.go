package store

import (
	"context"
	"sync"

	"basegraph.app/scambait/core/db"
)

// pgConn is what every Postgres sub-store shares: a connection, a way to
// group statements atomically, and the writer lock.
type pgConn struct {
	conn  db.DBTX
	tx    func(ctx context.Context, fn func(db.DBTX) error) error
	guard guard
}

// Stores is the Postgres Provider.
type Stores struct {
	pg pgConn
}

func NewStores(database *db.DB) *Stores {
	return &Stores{pg: pgConn{
		conn:  database.Conn(),
		tx:    database.WithTx,
		guard: guard{mu: &sync.RWMutex{}},
	}}
}

func (s *Stores) Events() EventStore {
	return newEventStore(s.pg)
}

func (s *Stores) Turns() TurnStore {
	return newTurnStore(s.pg)
}

func (s *Stores) Directives() DirectiveStore {
	return newDirectiveStore(s.pg)
}

func (s *Stores) Attempts() AttemptStore {
	return newAttemptStore(s.pg)
}

func (s *Stores) Profiles() ProfileStore {
	return newProfileStore(s.pg)
}

func (s *Stores) Memory() MemoryStore {
	return newMemoryStore(s.pg)
}

func (s *Stores) WithTx(ctx context.Context, fn func(Provider) error) error {
	if s.pg.guard.held {
		return fn(s)
	}
	unlock := s.pg.guard.write()
	defer unlock()

	return s.pg.tx(ctx, func(tx db.DBTX) error {
		return fn(&Stores{pg: pgConn{
			conn: tx,
			tx: func(_ context.Context, fn func(db.DBTX) error) error {
				return fn(tx)
			},
			guard: guard{mu: s.pg.guard.mu, held: true},
		}})
	})
}
