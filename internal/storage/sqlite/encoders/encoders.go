package encoderstorage

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/storage/sqlite"
)

// EncoderStorage persists the single operator-editable settings row.
// The row is seeded by the migrations, so reads never miss.
type EncoderStorage struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *EncoderStorage {
	return &EncoderStorage{
		db: db,
	}
}

func (s *EncoderStorage) Settings() (models.EncoderSettings, error) {
	const op = "storage.sqlite.encoders.Settings"

	var settings models.EncoderSettings

	query := fmt.Sprintf(`SELECT * FROM %s WHERE id = 1`, sqlite.EncoderTable)

	if err := s.db.Get(&settings, query); err != nil {
		return models.EncoderSettings{}, fmt.Errorf("%s: %w", op, err)
	}

	return settings, nil
}

func (s *EncoderStorage) Update(upd models.UpdateEncoderSettings) (models.EncoderSettings, error) {
	const op = "storage.sqlite.encoders.Update"

	var setClauses []string
	var args []any

	if upd.Mode != nil {
		setClauses = append(setClauses, "encoder_mode = ?")
		args = append(args, *upd.Mode)
	}
	if upd.GPUEncoder != nil {
		setClauses = append(setClauses, "gpu_encoder = ?")
		args = append(args, *upd.GPUEncoder)
	}
	if upd.CPUEncoder != nil {
		setClauses = append(setClauses, "cpu_encoder = ?")
		args = append(args, *upd.CPUEncoder)
	}
	if upd.Preset != nil {
		setClauses = append(setClauses, "preset = ?")
		args = append(args, *upd.Preset)
	}
	if upd.Quality != nil {
		setClauses = append(setClauses, "quality = ?")
		args = append(args, *upd.Quality)
	}

	if len(setClauses) == 0 {
		return models.EncoderSettings{}, fmt.Errorf("%s: no fields to update: %w", op, errs.ErrInvalidInput)
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = 1", sqlite.EncoderTable, strings.Join(setClauses, ", "))

	if _, err := s.db.Exec(query, args...); err != nil {
		return models.EncoderSettings{}, fmt.Errorf("%s: %w", op, err)
	}

	return s.Settings()
}
