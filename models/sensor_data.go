package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sensor is a known sensor identity. Rows are seeded outside the ingestion
// pipeline, which only checks for existence.
type Sensor struct {
	ID   int    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name string `gorm:"size:64" json:"name"`
}

// TableName customizes the table name
func (Sensor) TableName() string {
	return "sensors"
}

// SensorReading represents one row of a sensor report.
// FlowPerHour is derived and recomputed in bulk after ingestion.
type SensorReading struct {
	ID             uint                `gorm:"primaryKey;autoIncrement" json:"id"`
	SensorID       int                 `gorm:"index:idx_sensor_time;not null" json:"sensor_id"`
	Time           time.Time           `gorm:"column:time;index:idx_sensor_time;not null" json:"time"`
	WaterFlowValue decimal.NullDecimal `gorm:"type:decimal(14,4)" json:"water_flow_value"`
	TotalPulse     *int64              `json:"total_pulse"`
	LastPulse      *int64              `json:"last_pulse"`
	Battery        decimal.NullDecimal `gorm:"type:decimal(8,3)" json:"battery"`
	FlowPerHour    decimal.NullDecimal `gorm:"type:decimal(14,2)" json:"flow_per_hour"`
}

// TableName customizes the table name
func (SensorReading) TableName() string {
	return "sensor_data"
}

// ProcessedFile records a staged file name that completed the pipeline.
type ProcessedFile struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	FileName    string    `gorm:"uniqueIndex;not null;size:255" json:"file_name"`
	ProcessedAt time.Time `gorm:"autoCreateTime" json:"processed_at"`
}

// TableName customizes the table name
func (ProcessedFile) TableName() string {
	return "processed_files"
}

// GetAllModels returns all models for migration
func GetAllModels() []interface{} {
	return []interface{}{
		&Sensor{},
		&SensorReading{},
		&ProcessedFile{},
	}
}
