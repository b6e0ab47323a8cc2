// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/petenewcomb/wfsim"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// HostMetricRecord is the stored form of a wfsim.HostMetricRow. Undefined
// metrics are stored as NULL.
type HostMetricRecord struct {
	ID              uint   `gorm:"primaryKey"`
	InvocationID    string `gorm:"index"`
	RunID           string `gorm:"index"`
	HostName        string
	HostCoreCount   int
	CoreAllocations string
	TaskCount       int
	TraceSize       int
	AvgTaskDuration *float64
	FailedTaskCount int
	ComputeTime     float64
	IOTimeInput     float64
	IOTimeOutput    float64
	CommCompRatio   *float64
	TotalBytesRead  uint64
	TotalBytesWrite uint64
	CompletionTime  float64
	Power           *float64
	EnergyConsumed  float64
	CreatedAt       time.Time
}

// Store mirrors report rows into a SQLite database so that runs can be
// queried by run id or invocation.
type Store struct {
	db *gorm.DB
}

// OpenStore opens or creates the database at path and migrates its schema.
func OpenStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening report store %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := db.AutoMigrate(&HostMetricRecord{}); err != nil {
		return nil, errors.Join(fmt.Errorf("migrating report store %s: %w", path, err), s.Close())
	}
	return s, nil
}

// Save stores rows under invocationID in a single transaction.
func (s *Store) Save(invocationID string, rows []wfsim.HostMetricRow) error {
	if len(rows) == 0 {
		return nil
	}
	records := make([]HostMetricRecord, len(rows))
	for i := range rows {
		r := &rows[i]
		records[i] = HostMetricRecord{
			InvocationID:    invocationID,
			RunID:           r.RunID,
			HostName:        r.HostName,
			HostCoreCount:   r.HostCoreCount,
			CoreAllocations: r.CoreAllocationsJoined(),
			TaskCount:       r.TaskCount,
			TraceSize:       r.TraceSize,
			AvgTaskDuration: r.AvgTaskDuration.Ptr(),
			FailedTaskCount: r.FailedTaskCount,
			ComputeTime:     r.ComputeTime,
			IOTimeInput:     r.IOTimeInput,
			IOTimeOutput:    r.IOTimeOutput,
			CommCompRatio:   r.CommCompRatio.Ptr(),
			TotalBytesRead:  r.TotalBytesRead,
			TotalBytesWrite: r.TotalBytesWrite,
			CompletionTime:  r.CompletionTime,
			Power:           r.Power.Ptr(),
			EnergyConsumed:  r.EnergyConsumed,
		}
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
}

// RunRecords returns the records stored for runID in insertion order.
func (s *Store) RunRecords(runID string) ([]HostMetricRecord, error) {
	var records []HostMetricRecord
	err := s.db.Where("run_id = ?", runID).Order("id").Find(&records).Error
	return records, err
}

// InvocationRecords returns the records stored by one invocation.
func (s *Store) InvocationRecords(invocationID string) ([]HostMetricRecord, error) {
	var records []HostMetricRecord
	err := s.db.Where("invocation_id = ?", invocationID).Order("id").Find(&records).Error
	return records, err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
