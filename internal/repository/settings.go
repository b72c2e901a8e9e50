package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vistorialab/vistoria/internal/vision"
)

// GetAnalysisSettings reads the single mutable settings row for the vision
// client. The row is edited by operators and hot-reloaded by the provider.
func (q *Queries) GetAnalysisSettings(ctx context.Context) (vision.Settings, error) {
	var s vision.Settings
	var apiKey, model, defaultPrompt sql.NullString
	var maxTokens, rpm, spacingMS sql.NullInt64

	err := q.db.QueryRowContext(ctx, `
		SELECT api_key, model, max_tokens, requests_per_minute, request_spacing_ms, default_prompt
		FROM analysis_settings WHERE id = 1`,
	).Scan(&apiKey, &model, &maxTokens, &rpm, &spacingMS, &defaultPrompt)
	if err != nil {
		return vision.Settings{}, err
	}

	s.APIKey = apiKey.String
	s.Model = model.String
	s.MaxTokens = int(maxTokens.Int64)
	s.RequestsPerMinute = int(rpm.Int64)
	s.RequestSpacing = time.Duration(spacingMS.Int64) * time.Millisecond
	s.DefaultPrompt = defaultPrompt.String
	return s, nil
}

// UpdateAnalysisSettingsParams are the operator-editable client settings.
type UpdateAnalysisSettingsParams struct {
	APIKey            string
	Model             string
	MaxTokens         int
	RequestsPerMinute int
	RequestSpacing    time.Duration
	DefaultPrompt     string
}

// UpdateAnalysisSettings overwrites the settings row.
func (q *Queries) UpdateAnalysisSettings(ctx context.Context, params UpdateAnalysisSettingsParams) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE analysis_settings
		SET api_key = $1, model = $2, max_tokens = $3, requests_per_minute = $4,
		    request_spacing_ms = $5, default_prompt = $6, updated_at = now()
		WHERE id = 1`,
		params.APIKey, params.Model, params.MaxTokens, params.RequestsPerMinute,
		params.RequestSpacing.Milliseconds(), params.DefaultPrompt,
	)
	return err
}
