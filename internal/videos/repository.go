package videos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vidscribe/vidscribe/internal/db"
)

type Repository interface {
	// UpsertAsset creates the record for obs.AssetID or merges obs into it.
	// Missing fields are filled, set fields are kept, and status only moves
	// to a higher rank.
	UpsertAsset(ctx context.Context, obs AssetObservation, now time.Time) (*Video, error)

	// ClaimEnrichment moves a record below PROCESSING_AI into PROCESSING_AI.
	// Exactly one caller observes claimed == true per asset.
	ClaimEnrichment(ctx context.Context, assetID, trackID string, now time.Time) (bool, error)

	// ClaimRetry re-arms a PROCESSING_AI record whose updated_at still equals
	// seen. It fails for every caller but one when raced.
	ClaimRetry(ctx context.Context, assetID string, seen, now time.Time) (bool, error)

	SetPlaybackID(ctx context.Context, assetID, playbackID string, now time.Time) error
	RecordEnrichmentFailure(ctx context.Context, assetID, msg string, now time.Time) error
	CompleteEnrichment(ctx context.Context, assetID string, e Enrichment, now time.Time) (bool, error)

	// ListStalled returns PROCESSING_AI records not touched since
	// updatedBefore that have fewer than maxAttempts enrichment attempts.
	ListStalled(ctx context.Context, updatedBefore time.Time, maxAttempts, limit int) ([]*Video, error)

	Get(ctx context.Context, id string) (*Video, error)
	GetByAsset(ctx context.Context, assetID string) (*Video, error)
	List(ctx context.Context) ([]*Video, error)
	Delete(ctx context.Context, id string) error
}

const videoColumns = `id, upload_session_id, asset_id, playback_id, status, transcript_track_id,
	transcript, summary, description, enrichment_attempts, last_error, created_at, updated_at`

type SQLRepository struct {
	db      *sql.DB
	dialect db.Dialect
}

func NewRepository(conn *sql.DB, dialect db.Dialect) *SQLRepository {
	return &SQLRepository{db: conn, dialect: dialect}
}

func (r *SQLRepository) q(query string) string {
	return db.Rebind(r.dialect, query)
}

func (r *SQLRepository) UpsertAsset(ctx context.Context, obs AssetObservation, now time.Time) (*Video, error) {
	status := obs.Status
	if !status.Valid() {
		status = StatusUploaded
	}
	ts := formatTime(now)

	row := r.db.QueryRowContext(ctx, r.q(`
		INSERT INTO videos (id, upload_session_id, asset_id, playback_id, status, status_rank,
			enrichment_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (asset_id) DO UPDATE SET
			upload_session_id = COALESCE(videos.upload_session_id, excluded.upload_session_id),
			playback_id = COALESCE(videos.playback_id, excluded.playback_id),
			status = CASE WHEN excluded.status_rank > videos.status_rank
				THEN excluded.status ELSE videos.status END,
			status_rank = CASE WHEN excluded.status_rank > videos.status_rank
				THEN excluded.status_rank ELSE videos.status_rank END,
			updated_at = CASE WHEN excluded.status_rank > videos.status_rank
				OR (videos.upload_session_id IS NULL AND excluded.upload_session_id IS NOT NULL)
				OR (videos.playback_id IS NULL AND excluded.playback_id IS NOT NULL)
				THEN excluded.updated_at ELSE videos.updated_at END
		RETURNING `+videoColumns),
		NewID(), nullString(obs.UploadSessionID), obs.AssetID, nullString(obs.PlaybackID),
		string(status), status.Rank(), ts, ts,
	)
	return scanVideo(row)
}

func (r *SQLRepository) ClaimEnrichment(ctx context.Context, assetID, trackID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE videos SET
			status = ?, status_rank = ?, transcript_track_id = ?,
			enrichment_attempts = enrichment_attempts + 1, last_error = NULL, updated_at = ?
		WHERE asset_id = ? AND status_rank < ?
	`), string(StatusProcessingAI), StatusProcessingAI.Rank(), nullString(trackID), formatTime(now),
		assetID, StatusProcessingAI.Rank())
	return affectedOne(res, err)
}

func (r *SQLRepository) ClaimRetry(ctx context.Context, assetID string, seen, now time.Time) (bool, error) {
	if !now.After(seen) {
		now = seen.Add(time.Nanosecond)
	}
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE videos SET
			enrichment_attempts = enrichment_attempts + 1, last_error = NULL, updated_at = ?
		WHERE asset_id = ? AND status = ? AND updated_at = ?
	`), formatTime(now), assetID, string(StatusProcessingAI), formatTime(seen))
	return affectedOne(res, err)
}

func (r *SQLRepository) SetPlaybackID(ctx context.Context, assetID, playbackID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		UPDATE videos SET playback_id = ?, updated_at = ?
		WHERE asset_id = ? AND playback_id IS NULL
	`), playbackID, formatTime(now), assetID)
	return err
}

func (r *SQLRepository) RecordEnrichmentFailure(ctx context.Context, assetID, msg string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		UPDATE videos SET last_error = ?, updated_at = ?
		WHERE asset_id = ? AND status = ?
	`), msg, formatTime(now), assetID, string(StatusProcessingAI))
	return err
}

func (r *SQLRepository) CompleteEnrichment(ctx context.Context, assetID string, e Enrichment, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE videos SET
			transcript = ?, summary = ?, description = ?,
			status = ?, status_rank = ?, last_error = NULL, updated_at = ?
		WHERE asset_id = ? AND status = ? AND playback_id IS NOT NULL
	`), e.Transcript, e.Summary, e.Description,
		string(StatusCompleted), StatusCompleted.Rank(), formatTime(now),
		assetID, string(StatusProcessingAI))
	return affectedOne(res, err)
}

func (r *SQLRepository) ListStalled(ctx context.Context, updatedBefore time.Time, maxAttempts, limit int) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT `+videoColumns+`
		FROM videos WHERE status = ? AND updated_at < ? AND enrichment_attempts < ?
		ORDER BY updated_at ASC LIMIT ?
	`), string(StatusProcessingAI), formatTime(updatedBefore), maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	return scanVideos(rows)
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+videoColumns+` FROM videos WHERE id = ?`), id)
	return nilIfMissing(scanVideo(row))
}

func (r *SQLRepository) GetByAsset(ctx context.Context, assetID string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+videoColumns+` FROM videos WHERE asset_id = ?`), assetID)
	return nilIfMissing(scanVideo(row))
}

func (r *SQLRepository) List(ctx context.Context) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	return scanVideos(rows)
}

func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.q("DELETE FROM videos WHERE id = ?"), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*Video, error) {
	var v Video
	var status, createdAt, updatedAt string
	var uploadID, playbackID, trackID, transcript, summary, description, lastError sql.NullString

	err := row.Scan(&v.ID, &uploadID, &v.AssetID, &playbackID, &status, &trackID,
		&transcript, &summary, &description, &v.EnrichmentAttempts, &lastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	v.Status = Status(status)
	v.UploadSessionID = uploadID.String
	v.PlaybackID = playbackID.String
	v.TranscriptTrackID = trackID.String
	v.Transcript = transcript.String
	v.Summary = summary.String
	v.Description = description.String
	v.LastError = lastError.String
	v.CreatedAt = parseTime(createdAt)
	v.UpdatedAt = parseTime(updatedAt)
	return &v, nil
}

func scanVideos(rows *sql.Rows) ([]*Video, error) {
	defer rows.Close()

	var out []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nilIfMissing(v *Video, err error) (*Video, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
