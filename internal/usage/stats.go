package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GlobalStats aggregates all recorded requests since a point in time.
type GlobalStats struct {
	TotalRequests     int64 `json:"total_requests"`
	SuccessCount      int64 `json:"success_count"`
	FailureCount      int64 `json:"failure_count"`
	InputTokens       int64 `json:"input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
	WebSearchRequests int64 `json:"web_search_requests"`
}

// ModelStats aggregates requests per model.
type ModelStats struct {
	Model        string `json:"model"`
	Requests     int64  `json:"requests"`
	FailureCount int64  `json:"failure_count"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// DailyStats aggregates requests per calendar day.
type DailyStats struct {
	Day          string `json:"day"`
	Requests     int64  `json:"requests"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// QueryGlobalStats returns totals for records at or after since.
func (r *Recorder) QueryGlobalStats(ctx context.Context, since time.Time) (*GlobalStats, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN failed = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(web_search_requests), 0)
		FROM usage_records
		WHERE requested_at >= ?
	`, since)

	var stats GlobalStats
	var success, failure sql.NullInt64
	if err := row.Scan(&stats.TotalRequests, &success, &failure,
		&stats.InputTokens, &stats.OutputTokens, &stats.WebSearchRequests); err != nil {
		return nil, fmt.Errorf("failed to query global stats: %w", err)
	}
	stats.SuccessCount = success.Int64
	stats.FailureCount = failure.Int64
	return &stats, nil
}

// QueryModelStats returns per-model totals for records at or after since.
func (r *Recorder) QueryModelStats(ctx context.Context, since time.Time) ([]ModelStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			COALESCE(NULLIF(model, ''), 'unknown') as model,
			COUNT(*) as requests,
			SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END) as failure_count,
			COALESCE(SUM(input_tokens), 0) as input_tokens,
			COALESCE(SUM(output_tokens), 0) as output_tokens
		FROM usage_records
		WHERE requested_at >= ?
		GROUP BY model
		ORDER BY requests DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query model stats: %w", err)
	}
	defer rows.Close()

	var results []ModelStats
	for rows.Next() {
		var ms ModelStats
		if err := rows.Scan(&ms.Model, &ms.Requests, &ms.FailureCount, &ms.InputTokens, &ms.OutputTokens); err != nil {
			return nil, err
		}
		results = append(results, ms)
	}
	return results, rows.Err()
}

// QueryDailyStats returns per-day totals for records at or after since.
func (r *Recorder) QueryDailyStats(ctx context.Context, since time.Time) ([]DailyStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			DATE(requested_at) as day,
			COUNT(*) as requests,
			COALESCE(SUM(input_tokens), 0) as input_tokens,
			COALESCE(SUM(output_tokens), 0) as output_tokens
		FROM usage_records
		WHERE requested_at >= ?
		GROUP BY day
		ORDER BY day
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var results []DailyStats
	for rows.Next() {
		var d DailyStats
		var day sql.NullString
		if err := rows.Scan(&day, &d.Requests, &d.InputTokens, &d.OutputTokens); err != nil {
			return nil, err
		}
		if day.Valid && day.String != "" {
			d.Day = day.String
			results = append(results, d)
		}
	}
	return results, rows.Err()
}
