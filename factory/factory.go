// Package factory constructs an application from environment configuration.
// The core itself consumes already constructed collaborators; this is the
// boundary where topic strings and connection settings become concrete
// recorders, ciphers and compressors.
package factory

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/gregbrowndev/eventsourcing"
	"github.com/gregbrowndev/eventsourcing/cipher"
	"github.com/gregbrowndev/eventsourcing/compressor"
	"github.com/gregbrowndev/eventsourcing/core"
	"github.com/gregbrowndev/eventsourcing/recorder/bbolt"
	"github.com/gregbrowndev/eventsourcing/recorder/memory"
	"github.com/gregbrowndev/eventsourcing/recorder/postgres"
	"github.com/gregbrowndev/eventsourcing/recorder/sqlite"
)

// Recorder topics the factory resolves
const (
	TopicMemory   = "recorder:memory"
	TopicSQLite   = "recorder:sqlite"
	TopicPostgres = "recorder:postgres"
	TopicBBolt    = "recorder:bbolt"
)

// InMemoryDBName is the SQLITE_DBNAME sentinel for a non-persistent database
const InMemoryDBName = ":memory:"

// Config holds the recognized configuration options
type Config struct {
	// Infrastructure selects the recorder backend by topic, empty means in memory
	Infrastructure string

	// SQLiteDBName is the database file path, or the in-memory sentinel
	SQLiteDBName string

	// BBoltDBName is the database file path for the bbolt backend
	BBoltDBName string

	PostgresDBName   string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string

	// CipherTopic selects the cipher, empty disables encryption
	CipherTopic string
	// CipherKey is the hex encoded key for the selected cipher
	CipherKey string

	// CompressorTopic selects the compressor, empty disables compression
	CompressorTopic string
}

// FromEnv reads the configuration from the environment
func FromEnv() Config {
	return Config{
		Infrastructure:   os.Getenv("INFRASTRUCTURE_FACTORY"),
		SQLiteDBName:     os.Getenv("SQLITE_DBNAME"),
		BBoltDBName:      os.Getenv("BBOLT_DBNAME"),
		PostgresDBName:   os.Getenv("POSTGRES_DBNAME"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     os.Getenv("POSTGRES_PORT"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		CipherTopic:      os.Getenv("CIPHER_TOPIC"),
		CipherKey:        os.Getenv("CIPHER_KEY"),
		CompressorTopic:  os.Getenv("COMPRESSOR_TOPIC"),
	}
}

// Recorder is what the constructed backends implement
type Recorder interface {
	core.Recorder
	core.SnapshotRecorder
}

// New constructs an application from the configuration. The returned close
// function releases the backend resources.
func New(ctx context.Context, cfg Config, opts ...eventsourcing.Option) (*eventsourcing.Application, func() error, error) {
	recorder, closer, err := newRecorder(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	options := []eventsourcing.Option{eventsourcing.WithSnapshots(recorder)}

	if cfg.CompressorTopic != "" {
		comp, err := compressor.Lookup(cfg.CompressorTopic)
		if err != nil {
			closer()
			return nil, nil, core.Classify(core.ErrProgramming, err)
		}
		options = append(options, eventsourcing.WithCompressor(comp))
	}

	if cfg.CipherTopic != "" {
		key, err := hex.DecodeString(cfg.CipherKey)
		if err != nil {
			closer()
			return nil, nil, core.Classify(core.ErrProgramming, fmt.Errorf("CIPHER_KEY is not hex: %v", err))
		}
		ciph, err := cipher.Lookup(cfg.CipherTopic, key)
		if err != nil {
			closer()
			return nil, nil, core.Classify(core.ErrProgramming, err)
		}
		options = append(options, eventsourcing.WithCipher(ciph))
	}

	options = append(options, opts...)

	logrus.WithFields(logrus.Fields{
		"infrastructure": infrastructureOrDefault(cfg),
		"cipher":         cfg.CipherTopic,
		"compressor":     cfg.CompressorTopic,
	}).Debug("constructed application")

	return eventsourcing.NewApplication(recorder, options...), closer, nil
}

func infrastructureOrDefault(cfg Config) string {
	if cfg.Infrastructure == "" {
		return TopicMemory
	}
	return cfg.Infrastructure
}

func newRecorder(ctx context.Context, cfg Config) (Recorder, func() error, error) {
	switch infrastructureOrDefault(cfg) {
	case TopicMemory:
		r := memory.Create()
		return r, func() error { r.Close(); return nil }, nil

	case TopicSQLite:
		dbname := cfg.SQLiteDBName
		if dbname == "" {
			dbname = InMemoryDBName
		}
		db, err := sql.Open("sqlite3", dbname)
		if err != nil {
			return nil, nil, core.Classify(core.ErrPersistence, err)
		}
		// the in-memory database lives per connection
		if dbname == InMemoryDBName {
			db.SetMaxOpenConns(1)
		}
		r := sqlite.Open(db)
		if err := r.Migrate(ctx); err != nil {
			r.Close()
			return nil, nil, err
		}
		return r, r.Close, nil

	case TopicPostgres:
		conninfo := fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
			cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDBName, cfg.PostgresUser, cfg.PostgresPassword)
		db, err := sql.Open("postgres", conninfo)
		if err != nil {
			return nil, nil, core.Classify(core.ErrPersistence, err)
		}
		r := postgres.Open(db)
		if err := r.Migrate(ctx); err != nil {
			r.Close()
			return nil, nil, err
		}
		return r, r.Close, nil

	case TopicBBolt:
		if cfg.BBoltDBName == "" {
			return nil, nil, core.Classify(core.ErrProgramming, fmt.Errorf("BBOLT_DBNAME is required for %s", TopicBBolt))
		}
		r := bbolt.MustOpenBBolt(cfg.BBoltDBName)
		return r, r.Close, nil

	default:
		return nil, nil, core.Classify(core.ErrProgramming, fmt.Errorf("unknown infrastructure topic %q", cfg.Infrastructure))
	}
}
