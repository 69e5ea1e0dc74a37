package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/errors"
	"github.com/scan-io-git/vulnimpact/pkg/shared/files"
)

// SQLiteStore implements Store on SQLite through GORM.
type SQLiteStore struct {
	db *gorm.DB
}

type vulnerabilityModel struct {
	RecordKey        string `gorm:"primaryKey"`
	AdvisoryID       string `gorm:"index"`
	PackageName      string
	Ecosystem        string `gorm:"index"`
	Severity         string
	CVSSScore        *float64
	AffectedVersions string
	FixedVersions    string
	Description      string
	References       []string `gorm:"serializer:json"`
	Aliases          []string `gorm:"serializer:json"`
	Source           string
	DiscoveredAt     time.Time
	ZeroDay          bool
	ExploitAvailable bool
	KnownExploited   bool
}

func (vulnerabilityModel) TableName() string { return "vulnerabilities" }

type repositoryModel struct {
	ID               string `gorm:"primaryKey"`
	DefaultBranch    string
	Ecosystem        string
	ManifestPath     string
	LockfilePath     string
	ScanInterval     time.Duration
	Active           bool `gorm:"index"`
	CreatedAt        time.Time
	LastScannedAt    time.Time
	CriticalHitCount int
	TotalPackages    int
}

func (repositoryModel) TableName() string { return "repositories" }

type scanResultModel struct {
	Seq                       uint   `gorm:"primaryKey;autoIncrement"`
	ScanID                    string `gorm:"uniqueIndex"`
	RepositoryID              string `gorm:"index"`
	StartedAt                 time.Time
	FinishedAt                time.Time
	PackagesScanned           int
	VulnerabilitiesConsidered int
	CriticalHitCount          int
	LowPriorityCount          int
	Error                     string
	Hits                      []hitModel `gorm:"foreignKey:ScanSeq"`
}

func (scanResultModel) TableName() string { return "scan_results" }

type hitModel struct {
	ID              uint `gorm:"primaryKey"`
	ScanSeq         uint `gorm:"index"`
	Position        int
	VulnerabilityID string `gorm:"index"`
	PackageName     string
	ImpactLevel     string
	ThreatScore     int
	Hit             shared.CriticalHit `gorm:"serializer:json"`
}

func (hitModel) TableName() string { return "critical_hits" }

type remediationModel struct {
	RepositoryID string `gorm:"primaryKey"`
	HitKey       string `gorm:"primaryKey"`
	RequestID    string
	URL          string
	RequestedAt  time.Time `gorm:"autoCreateTime"`
}

func (remediationModel) TableName() string { return "remediations" }

// NewSQLiteStore opens (creating if needed) the database at path and migrates
// the schema. ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := files.CreateFolderIfNotExists(afero.NewOsFs(), filepath.Dir(path)); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite connection pool: %w", err)
	}
	// sqlite allows a single writer; one connection also keeps ":memory:" databases shared
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&vulnerabilityModel{}, &repositoryModel{}, &scanResultModel{}, &hitModel{}, &remediationModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) UpsertVulnerability(ctx context.Context, v shared.VulnerabilityRecord) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model vulnerabilityModel
		err := tx.First(&model, "record_key = ?", v.Key()).Error
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			created = true
			m := toVulnerabilityModel(v)
			return tx.Create(&m).Error
		}
		if err != nil {
			return err
		}

		stored := fromVulnerabilityModel(model)
		stored.RefineFlags(v)
		return tx.Model(&model).Updates(map[string]interface{}{
			"zero_day":          stored.ZeroDay,
			"exploit_available": stored.ExploitAvailable,
			"known_exploited":   stored.KnownExploited,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to upsert vulnerability %s: %w", v.Key(), err)
	}
	return created, nil
}

func (s *SQLiteStore) ListVulnerabilities(ctx context.Context, ecosystems ...string) ([]shared.VulnerabilityRecord, error) {
	query := s.db.WithContext(ctx)
	if len(ecosystems) > 0 {
		lowered := make([]string, len(ecosystems))
		for i, e := range ecosystems {
			lowered[i] = strings.ToLower(e)
		}
		query = query.Where("LOWER(ecosystem) IN ?", lowered)
	}

	var models []vulnerabilityModel
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list vulnerabilities: %w", err)
	}
	records := make([]shared.VulnerabilityRecord, len(models))
	for i, m := range models {
		records[i] = fromVulnerabilityModel(m)
	}
	sortVulnerabilities(records)
	return records, nil
}

func (s *SQLiteStore) RegisterRepository(ctx context.Context, reg shared.RepositoryRegistration) (shared.RepositoryRegistration, bool, error) {
	result := reg
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model repositoryModel
		err := tx.First(&model, "id = ?", reg.ID).Error
		if err == nil {
			result = fromRepositoryModel(model)
			return nil
		}
		if !stderrors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		created = true
		m := toRepositoryModel(reg)
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		result = fromRepositoryModel(m)
		return nil
	})
	if err != nil {
		return shared.RepositoryRegistration{}, false, fmt.Errorf("failed to register repository %s: %w", reg.ID, err)
	}
	return result, created, nil
}

func (s *SQLiteStore) GetRepository(ctx context.Context, id string) (shared.RepositoryRegistration, error) {
	var model repositoryModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return shared.RepositoryRegistration{}, errors.ErrNotFound
	}
	if err != nil {
		return shared.RepositoryRegistration{}, fmt.Errorf("failed to get repository %s: %w", id, err)
	}
	return fromRepositoryModel(model), nil
}

func (s *SQLiteStore) ListActiveRepositories(ctx context.Context) ([]shared.RepositoryRegistration, error) {
	var models []repositoryModel
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	regs := make([]shared.RepositoryRegistration, len(models))
	for i, m := range models {
		regs[i] = fromRepositoryModel(m)
	}
	return regs, nil
}

func (s *SQLiteStore) SetRepositoryActive(ctx context.Context, id string, active bool) error {
	res := s.db.WithContext(ctx).Model(&repositoryModel{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("failed to update repository %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RecordScan(ctx context.Context, result shared.ScanResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reg repositoryModel
		err := tx.First(&reg, "id = ?", result.RepositoryID).Error
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrNotFound
		}
		if err != nil {
			return err
		}

		m := toScanResultModel(result)
		if err := tx.Create(&m).Error; err != nil {
			return fmt.Errorf("failed to save scan result: %w", err)
		}
		return tx.Model(&reg).Updates(map[string]interface{}{
			"last_scanned_at":    result.FinishedAt,
			"critical_hit_count": result.CriticalHitCount,
			"total_packages":     result.PackagesScanned,
		}).Error
	})
}

func (s *SQLiteStore) SaveScanResult(ctx context.Context, result shared.ScanResult) error {
	m := toScanResultModel(result)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to save scan result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestScanResult(ctx context.Context, repositoryID string) (shared.ScanResult, error) {
	results, err := s.ListScanResults(ctx, repositoryID, 1)
	if err != nil {
		return shared.ScanResult{}, err
	}
	if len(results) == 0 {
		return shared.ScanResult{}, errors.ErrNotFound
	}
	return results[0], nil
}

func (s *SQLiteStore) ListScanResults(ctx context.Context, repositoryID string, limit int) ([]shared.ScanResult, error) {
	query := s.db.WithContext(ctx).
		Preload("Hits", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("repository_id = ?", repositoryID).
		Order("seq desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []scanResultModel
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list scan results of %s: %w", repositoryID, err)
	}
	results := make([]shared.ScanResult, len(models))
	for i, m := range models {
		results[i] = fromScanResultModel(m)
	}
	return results, nil
}

func (s *SQLiteStore) RecordRemediation(ctx context.Context, repositoryID, hitKey string, resp shared.RemediationResponse) error {
	m := remediationModel{RepositoryID: repositoryID, HitKey: hitKey, RequestID: resp.ID, URL: resp.URL}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to record remediation of %s: %w", repositoryID, err)
	}
	return nil
}

func (s *SQLiteStore) Remediations(ctx context.Context, repositoryID string) (map[string]shared.RemediationResponse, error) {
	var models []remediationModel
	if err := s.db.WithContext(ctx).Where("repository_id = ?", repositoryID).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list remediations of %s: %w", repositoryID, err)
	}
	out := make(map[string]shared.RemediationResponse, len(models))
	for _, m := range models {
		out[m.HitKey] = shared.RemediationResponse{ID: m.RequestID, URL: m.URL}
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toVulnerabilityModel(v shared.VulnerabilityRecord) vulnerabilityModel {
	return vulnerabilityModel{
		RecordKey:        v.Key(),
		AdvisoryID:       v.ID,
		PackageName:      v.PackageName,
		Ecosystem:        v.Ecosystem,
		Severity:         string(v.Severity),
		CVSSScore:        v.CVSSScore,
		AffectedVersions: v.AffectedVersions,
		FixedVersions:    v.FixedVersions,
		Description:      v.Description,
		References:       v.References,
		Aliases:          v.Aliases,
		Source:           v.Source,
		DiscoveredAt:     v.DiscoveredAt,
		ZeroDay:          v.ZeroDay,
		ExploitAvailable: v.ExploitAvailable,
		KnownExploited:   v.KnownExploited,
	}
}

func fromVulnerabilityModel(m vulnerabilityModel) shared.VulnerabilityRecord {
	return shared.VulnerabilityRecord{
		ID:               m.AdvisoryID,
		PackageName:      m.PackageName,
		Ecosystem:        m.Ecosystem,
		Severity:         shared.Severity(m.Severity),
		CVSSScore:        m.CVSSScore,
		AffectedVersions: m.AffectedVersions,
		FixedVersions:    m.FixedVersions,
		Description:      m.Description,
		References:       m.References,
		Aliases:          m.Aliases,
		Source:           m.Source,
		DiscoveredAt:     m.DiscoveredAt,
		ZeroDay:          m.ZeroDay,
		ExploitAvailable: m.ExploitAvailable,
		KnownExploited:   m.KnownExploited,
	}
}

func toRepositoryModel(r shared.RepositoryRegistration) repositoryModel {
	return repositoryModel{
		ID:               r.ID,
		DefaultBranch:    r.DefaultBranch,
		Ecosystem:        r.Ecosystem,
		ManifestPath:     r.ManifestPath,
		LockfilePath:     r.LockfilePath,
		ScanInterval:     r.ScanInterval,
		Active:           r.Active,
		CreatedAt:        r.CreatedAt,
		LastScannedAt:    r.LastScannedAt,
		CriticalHitCount: r.CriticalHitCount,
		TotalPackages:    r.TotalPackages,
	}
}

func fromRepositoryModel(m repositoryModel) shared.RepositoryRegistration {
	return shared.RepositoryRegistration{
		ID:               m.ID,
		DefaultBranch:    m.DefaultBranch,
		Ecosystem:        m.Ecosystem,
		ManifestPath:     m.ManifestPath,
		LockfilePath:     m.LockfilePath,
		ScanInterval:     m.ScanInterval,
		Active:           m.Active,
		CreatedAt:        m.CreatedAt,
		LastScannedAt:    m.LastScannedAt,
		CriticalHitCount: m.CriticalHitCount,
		TotalPackages:    m.TotalPackages,
	}
}

func toScanResultModel(r shared.ScanResult) scanResultModel {
	m := scanResultModel{
		ScanID:                    r.ID,
		RepositoryID:              r.RepositoryID,
		StartedAt:                 r.StartedAt,
		FinishedAt:                r.FinishedAt,
		PackagesScanned:           r.PackagesScanned,
		VulnerabilitiesConsidered: r.VulnerabilitiesConsidered,
		CriticalHitCount:          r.CriticalHitCount,
		LowPriorityCount:          r.LowPriorityCount,
		Error:                     r.Error,
	}
	for i, h := range r.Hits {
		m.Hits = append(m.Hits, hitModel{
			Position:        i,
			VulnerabilityID: h.Vulnerability.ID,
			PackageName:     h.Package.Name,
			ImpactLevel:     string(h.ImpactLevel()),
			ThreatScore:     h.ThreatScore,
			Hit:             h,
		})
	}
	return m
}

func fromScanResultModel(m scanResultModel) shared.ScanResult {
	r := shared.ScanResult{
		ID:                        m.ScanID,
		RepositoryID:              m.RepositoryID,
		StartedAt:                 m.StartedAt,
		FinishedAt:                m.FinishedAt,
		PackagesScanned:           m.PackagesScanned,
		VulnerabilitiesConsidered: m.VulnerabilitiesConsidered,
		CriticalHitCount:          m.CriticalHitCount,
		LowPriorityCount:          m.LowPriorityCount,
		Error:                     m.Error,
		Hits:                      make([]shared.CriticalHit, 0, len(m.Hits)),
	}
	for _, h := range m.Hits {
		r.Hits = append(r.Hits, h.Hit)
	}
	return r
}
