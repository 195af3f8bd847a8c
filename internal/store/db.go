package store

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.AutoMigrate(&Decision{}, &Batch{}); err != nil {
		return nil, errors.Wrap(err, "auto migrate")
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, errors.Wrap(err, "apply indexes")
	}
	return &Database{gorm: db}, nil
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveDecision inserts a decision row.
func (d *Database) SaveDecision(decision *Decision) error {
	if d == nil {
		return errors.New("database is nil")
	}
	if decision == nil {
		return errors.New("decision is nil")
	}
	if decision.ChoicesJSON == "" {
		decision.ChoicesJSON = "[]"
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Create(decision).Error
}

// CreateBatch inserts a batch row and assigns its ID.
func (d *Database) CreateBatch(batch *Batch) error {
	if d == nil {
		return errors.New("database is nil")
	}
	if batch == nil {
		return errors.New("batch is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Create(batch).Error
}

// FinishBatch stores the outcome counters of a batch.
func (d *Database) FinishBatch(id uint, succeeded, failed int, durationMs int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Model(&Batch{}).Where("id = ?", id).Updates(map[string]any{
		"succeeded":   succeeded,
		"failed":      failed,
		"duration_ms": durationMs,
	}).Error
}

// GetBatch returns a batch by ID.
func (d *Database) GetBatch(id uint) (*Batch, error) {
	var batch Batch
	if err := d.gorm.First(&batch, id).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetDecision returns a decision by ID.
func (d *Database) GetDecision(id uint) (*Decision, error) {
	var decision Decision
	if err := d.gorm.First(&decision, id).Error; err != nil {
		return nil, err
	}
	return &decision, nil
}

// CountDecisions returns the number of stored decisions.
func (d *Database) CountDecisions() (int64, error) {
	var count int64
	if err := d.gorm.Model(&Decision{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// DecisionQuery encapsulates filters and pagination for listing decisions.
type DecisionQuery struct {
	Query     string
	Succeeded *bool
	Model     string
	BatchID   uint
	Sort      string
	Offset    int
	Limit     int
}

// ListDecisions returns paginated decision records applying optional filters.
func (d *Database) ListDecisions(opts DecisionQuery) ([]Decision, int64, error) {
	var total int64
	base := d.gorm.Model(&Decision{})
	if opts.BatchID > 0 {
		base = base.Where("batch_id = ?", opts.BatchID)
	}
	if q := strings.TrimSpace(opts.Query); q != "" {
		like := fmt.Sprintf("%%%s%%", q)
		base = base.Where("condition LIKE ? OR selected LIKE ?", like, like)
	}
	if opts.Succeeded != nil {
		base = base.Where("succeeded = ?", *opts.Succeeded)
	}
	if model := strings.TrimSpace(opts.Model); model != "" {
		base = base.Where("model = ?", model)
	}

	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	queryBuilder := base.Order(orderForSort(opts.Sort)).Offset(opts.Offset)
	if opts.Limit > 0 {
		queryBuilder = queryBuilder.Limit(opts.Limit)
	}

	var rows []Decision
	if err := queryBuilder.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func orderForSort(sort string) string {
	switch strings.ToLower(strings.TrimSpace(sort)) {
	case "created_asc":
		return "decisions.created_at ASC, decisions.id ASC"
	case "created_desc":
		return "decisions.created_at DESC, decisions.id DESC"
	case "latency_desc":
		return "decisions.latency_ms DESC, decisions.id DESC"
	case "latency_asc":
		return "decisions.latency_ms ASC, decisions.id DESC"
	default:
		return "decisions.id DESC"
	}
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_decisions_succeeded_created ON decisions(succeeded, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_decisions_batch_created ON decisions(batch_id, created_at)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
