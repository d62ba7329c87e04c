package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/paychanhq/paychan/cache"
	"github.com/paychanhq/paychan/config"
	pgconn "github.com/paychanhq/paychan/internal/pg-conn"
)

// Package-level singleton so every component shares one pool.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := pgconn.ConnectDB(dns)
	if err != nil {
		return nil, err
	}
	err = createSchema(db)
	if err != nil {
		return nil, err
	}
	err = createChannelTable(db)
	if err != nil {
		return nil, err
	}
	err = createChannelStateTable(db)
	if err != nil {
		return nil, err
	}
	err = createPaymentTable(db)
	if err != nil {
		return nil, err
	}
	err = createDisputeTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Ping verifies the database connection is alive. Used by the health endpoint.
func (d Datasource) Ping() error {
	return d.Conn.Ping()
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS paychan`)
	if err != nil {
		log.Printf("Error creating schema: %v", err)
	}
	return err
}

// createChannelTable creates a PostgreSQL table for the Channel struct.
// current_sequence is the authoritative sequence pointer the append guard
// compares against.
func createChannelTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS paychan.channels (
			id SERIAL PRIMARY KEY,
			channel_id TEXT NOT NULL UNIQUE,
			party_a TEXT NOT NULL,
			party_b TEXT NOT NULL,
			status TEXT NOT NULL,
			current_sequence BIGINT NOT NULL DEFAULT 0,
			timeout_period_seconds BIGINT NOT NULL,
			settlement_ref TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			closed_at TIMESTAMP,
			meta_data JSONB
		)
	`)
	log.Println(err)
	return err
}

// createChannelStateTable creates a PostgreSQL table for the ChannelState
// struct. The (channel_id, sequence) unique constraint backs the gapless,
// append-only state log.
func createChannelStateTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS paychan.channel_states (
			id SERIAL PRIMARY KEY,
			state_id TEXT NOT NULL UNIQUE,
			channel_id TEXT NOT NULL REFERENCES paychan.channels(channel_id),
			sequence BIGINT NOT NULL,
			balance_a NUMERIC NOT NULL,
			balance_b NUMERIC NOT NULL,
			authorization_a TEXT NOT NULL,
			authorization_b TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (channel_id, sequence)
		)
	`)
	log.Println(err)
	return err
}

// createPaymentTable creates a PostgreSQL table for the Payment struct.
func createPaymentTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS paychan.payments (
			id SERIAL PRIMARY KEY,
			payment_id TEXT NOT NULL UNIQUE,
			channel_id TEXT NOT NULL REFERENCES paychan.channels(channel_id),
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			memo TEXT,
			reference TEXT NOT NULL UNIQUE,
			sequence BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	log.Println(err)
	return err
}

// createDisputeTable creates a PostgreSQL table for the Dispute struct.
func createDisputeTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS paychan.disputes (
			id SERIAL PRIMARY KEY,
			dispute_id TEXT NOT NULL UNIQUE,
			channel_id TEXT NOT NULL REFERENCES paychan.channels(channel_id),
			initiated_by TEXT NOT NULL,
			claimed_sequence BIGINT NOT NULL,
			counter_sequence BIGINT,
			deadline TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			settled_sequence BIGINT,
			settlement_ref TEXT,
			resolution_reason TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}
