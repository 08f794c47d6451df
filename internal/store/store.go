package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

var (
	ErrNotInitialized    = errors.New("store not initialized")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	ErrPinNotFound       = errors.New("pin not found")
	ErrTaskRunNotFound   = errors.New("task run not found")
	ErrInvalidPinStatus  = errors.New("invalid pin status")
	ErrPinNotResettable  = errors.New("pin is not in failed state")
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options configures the connection pool and the passive cleanup heuristic.
type Options struct {
	Driver string
	// DSN defaults to <StateDir>/autopinner.db for SQLite.
	DSN      string
	StateDir string

	PoolSize        int
	MaxOverflow     int
	ConnMaxLifetime time.Duration

	CleanupInterval time.Duration
	// MemoryThreshold is the percentage of MemoryBudget above which cleanup runs.
	MemoryThreshold float64
	// MemoryBudget is used when the Go runtime has no memory limit set.
	MemoryBudget uint64

	// RunRetention is the number of audit rows kept per task.
	RunRetention int

	// OnCleanup is called after each cleanup with the sampled usage percentage.
	OnCleanup func(percent float64)
}

// DefaultOptions mirrors the pool settings the daemon ships with.
func DefaultOptions() Options {
	return Options{
		Driver:          DriverSQLite,
		StateDir:        ".",
		PoolSize:        20,
		MaxOverflow:     10,
		ConnMaxLifetime: 30 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MemoryThreshold: 80,
		MemoryBudget:    512 << 20,
		RunRetention:    200,
	}
}

// Store owns the pooled database handle. It is safe for concurrent use.
type Store struct {
	opts   Options
	logger *slog.Logger

	mu sync.RWMutex
	db *gorm.DB

	cleanupMu   sync.Mutex
	lastCleanup time.Time
	sample      memSampler
	now         func() time.Time
}

// New creates a store handle; call Init before use.
func New(opts Options, logger *slog.Logger) *Store {
	def := DefaultOptions()
	if opts.Driver == "" {
		opts.Driver = def.Driver
	}
	if opts.StateDir == "" {
		opts.StateDir = def.StateDir
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = def.PoolSize
	}
	if opts.MaxOverflow < 0 {
		opts.MaxOverflow = 0
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = def.CleanupInterval
	}
	if opts.MemoryThreshold <= 0 {
		opts.MemoryThreshold = def.MemoryThreshold
	}
	if opts.MemoryBudget == 0 {
		opts.MemoryBudget = def.MemoryBudget
	}
	if opts.RunRetention <= 0 {
		opts.RunRetention = def.RunRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
	s.sample = runtimeSampler(opts.MemoryBudget)
	s.lastCleanup = s.now()
	return s
}

// Init opens the pool and migrates the schema. It is idempotent; override, when
// non-nil, replaces the dialector built from the options.
func (s *Store) Init(ctx context.Context, override gorm.Dialector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	dialector := override
	if dialector == nil {
		var err error
		dialector, err = s.dialector()
		if err != nil {
			return err
		}
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}

	if db.Dialector.Name() == DriverSQLite {
		// SQLite allows only one writer; a single connection keeps writes
		// serialized. The pragmas ride on the DSN so recycled connections keep them.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxIdleConns(s.opts.PoolSize)
		sqlDB.SetMaxOpenConns(s.opts.PoolSize + s.opts.MaxOverflow)
	}
	sqlDB.SetConnMaxLifetime(s.opts.ConnMaxLifetime)

	if err := migrate(ctx, db); err != nil {
		sqlDB.Close()
		return err
	}
	s.db = db
	s.logger.Info("database initialized", "driver", db.Dialector.Name())
	return nil
}

func (s *Store) dialector() (gorm.Dialector, error) {
	switch s.opts.Driver {
	case DriverSQLite:
		dsn := s.opts.DSN
		if dsn == "" {
			if err := os.MkdirAll(s.opts.StateDir, 0o755); err != nil {
				return nil, fmt.Errorf("ensure state dir: %w", err)
			}
			dsn = filepath.Join(s.opts.StateDir, "autopinner.db")
		}
		return sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: sqliteDSN(dsn)}), nil
	case DriverPostgres:
		if s.opts.DSN == "" {
			return nil, fmt.Errorf("%w: postgres requires a DSN", ErrUnsupportedDriver)
		}
		return postgres.Open(s.opts.DSN), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, s.opts.Driver)
	}
}

// sqlitePragmas are applied by the driver to every connection it opens.
var sqlitePragmas = []string{"busy_timeout(3000)", "journal_mode(WAL)"}

// sqliteDSN appends the connection pragmas to dsn unless it already sets them.
func sqliteDSN(dsn string) string {
	var b strings.Builder
	b.WriteString(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		name := p[:strings.IndexByte(p, '(')]
		if strings.Contains(dsn, "_pragma="+name) {
			continue
		}
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

func migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&Pin{}, &TaskRun{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close releases the pool. The store may be initialized again afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	s.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) handle() (*gorm.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

// Session runs fn in a transaction. An error or panic from fn rolls back; the
// connection is always returned to the pool.
func (s *Store) Session(ctx context.Context, fn func(tx *gorm.DB) error) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	defer s.maybeCleanup()
	return db.WithContext(ctx).Transaction(fn)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// PoolStats reports open and in-use connection counts.
func (s *Store) PoolStats() (open, inUse int, err error) {
	db, err := s.handle()
	if err != nil {
		return 0, 0, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return 0, 0, err
	}
	st := sqlDB.Stats()
	return st.OpenConnections, st.InUse, nil
}
