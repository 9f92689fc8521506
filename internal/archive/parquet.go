// Package archive batches generation audit rows into parquet files and
// ships them to the object store for long-term analysis.
package archive

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/querymesh/querymesh/internal/store"
)

type EncodeResult struct {
	Data        []byte
	RecordCount int64
	MinCreated  *time.Time
	MaxCreated  *time.Time
}

type parquetGeneration struct {
	GenerationID    string  `parquet:"generation_id"`
	TenantID        string  `parquet:"tenant_id"`
	Query           string  `parquet:"query"`
	Dialect         string  `parquet:"dialect"`
	SchemaVersion   string  `parquet:"schema_version"`
	Method          string  `parquet:"method"`
	SQLText         string  `parquet:"sql_text"`
	Confidence      float64 `parquet:"confidence"`
	Complexity      int32   `parquet:"complexity"`
	CacheHit        bool    `parquet:"cache_hit"`
	Valid           bool    `parquet:"valid"`
	ElapsedMS       int64   `parquet:"elapsed_ms"`
	CreatedAtUnixMs int64   `parquet:"created_at_unix_ms"`
}

// EncodeGenerations writes a batch of audit records into one parquet
// buffer.
func EncodeGenerations(records []store.GenerationRecord) (EncodeResult, error) {
	if len(records) == 0 {
		return EncodeResult{}, fmt.Errorf("records are required")
	}

	rows := make([]parquetGeneration, 0, len(records))
	var minCreated *time.Time
	var maxCreated *time.Time
	for _, record := range records {
		rows = append(rows, parquetGeneration{
			GenerationID:    record.ID,
			TenantID:        record.TenantID,
			Query:           record.Query,
			Dialect:         record.Dialect,
			SchemaVersion:   record.SchemaVersion,
			Method:          record.Method,
			SQLText:         record.SQL,
			Confidence:      record.Confidence,
			Complexity:      int32(record.Complexity),
			CacheHit:        record.CacheHit,
			Valid:           record.Valid,
			ElapsedMS:       record.ElapsedMS,
			CreatedAtUnixMs: record.CreatedAt.UnixMilli(),
		})

		created := record.CreatedAt.UTC()
		if minCreated == nil || created.Before(*minCreated) {
			value := created
			minCreated = &value
		}
		if maxCreated == nil || created.After(*maxCreated) {
			value := created
			maxCreated = &value
		}
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetGeneration](buf)
	if _, err := writer.Write(rows); err != nil {
		return EncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return EncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return EncodeResult{
		Data:        buf.Bytes(),
		RecordCount: int64(len(rows)),
		MinCreated:  minCreated,
		MaxCreated:  maxCreated,
	}, nil
}
