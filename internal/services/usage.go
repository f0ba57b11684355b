package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/patchin/backend/internal/models"
	"github.com/patchin/backend/pkg/logger"
)

// ObjectUploader is the slice of the object storage client the usage
// exporter needs.
type ObjectUploader interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
}

// UsageService records proxied requests and periodically ships them to
// object storage as NDJSON.
type UsageService struct {
	DB      *gorm.DB
	Storage ObjectUploader
}

func NewUsageService(db *gorm.DB, storage ObjectUploader) *UsageService {
	return &UsageService{DB: db, Storage: storage}
}

// UsageRecord describes one forwarded request.
type UsageRecord struct {
	UserID     uuid.UUID
	APIKeyID   uuid.UUID
	AccountID  *uuid.UUID
	Provider   string
	Method     string
	Path       string
	StatusCode int
	Duration   time.Duration
}

// Record appends a usage row. Failures are logged and swallowed so a
// logging problem never masks the proxied response.
func (s *UsageService) Record(record UsageRecord) {
	row := models.APIUsage{
		UserID:     record.UserID,
		APIKeyID:   record.APIKeyID,
		AccountID:  record.AccountID,
		Provider:   record.Provider,
		Method:     record.Method,
		Path:       record.Path,
		StatusCode: record.StatusCode,
		DurationMS: record.Duration.Milliseconds(),
	}
	if err := s.DB.Create(&row).Error; err != nil {
		logger.Error("usage_insert_failed", err, map[string]interface{}{
			"provider": record.Provider,
			"path":     record.Path,
		})
	}
}

// StartExporter runs a background goroutine that periodically exports
// new usage rows to object storage.
func (s *UsageService) StartExporter(interval time.Duration) {
	if s.Storage == nil {
		logger.Info("usage_exporter_disabled", map[string]interface{}{
			"reason": "no storage client configured",
		})
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			s.Export()
		}
	}()

	logger.Info("usage_exporter_started", map[string]interface{}{
		"interval": interval.String(),
	})
}

// Export ships every usage row newer than the cursor and advances it.
func (s *UsageService) Export() {
	if s.Storage == nil {
		return
	}

	var cursor models.UsageExportCursor
	err := s.DB.First(&cursor).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			cursor = models.UsageExportCursor{
				LastExportAt: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
			}
			if createErr := s.DB.Create(&cursor).Error; createErr != nil {
				logger.Error("usage_export_cursor_create_failed", createErr, nil)
				return
			}
		} else {
			logger.Error("usage_export_cursor_load_failed", err, nil)
			return
		}
	}

	var rows []models.APIUsage
	if err := s.DB.Where("created_at > ?", cursor.LastExportAt).
		Order("created_at ASC").
		Limit(10000).
		Find(&rows).Error; err != nil {
		logger.Error("usage_export_query_failed", err, nil)
		return
	}

	if len(rows) == 0 {
		return
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			logger.Error("usage_export_encode_failed", err, map[string]interface{}{
				"usage_id": row.ID.String(),
			})
			continue
		}
	}

	now := time.Now().UTC()
	objectName := fmt.Sprintf("api-usage/%s/%s.ndjson",
		now.Format("2006/01/02"),
		now.Format("15-04-05"),
	)

	if err := s.Storage.Upload(
		context.Background(),
		objectName,
		&buf,
		int64(buf.Len()),
		"application/x-ndjson",
	); err != nil {
		logger.Error("usage_export_upload_failed", err, map[string]interface{}{
			"object_name": objectName,
			"count":       len(rows),
		})
		return
	}

	lastCreatedAt := rows[len(rows)-1].CreatedAt
	s.DB.Model(&cursor).Updates(map[string]interface{}{
		"last_export_at": lastCreatedAt,
		"exported_count": gorm.Expr("exported_count + ?", len(rows)),
	})

	logger.Info("usage_export_success", map[string]interface{}{
		"object_name": objectName,
		"count":       len(rows),
	})
}
