package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	BuildQueued    = "queued"
	BuildRunning   = "running"
	BuildSucceeded = "succeeded"
	BuildFailed    = "failed"
)

type Build struct {
	ID          string     `json:"id"`
	AppID       string     `json:"app_id"`
	Status      string     `json:"status"`
	EnvDigest   *string    `json:"env_digest,omitempty"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func InsertBuild(ctx context.Context, pyhostDB *sql.DB, appID string) (*Build, error) {
	buildID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("error generating build uuid: %w", err)
	}
	now := time.Now().Unix()

	query := `
		INSERT INTO builds (id, app_id, status, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err = pyhostDB.ExecContext(ctx, query, buildID.String(), appID, BuildQueued, now)
	if err != nil {
		return nil, err
	}

	createdAtTime := time.Unix(now, 0)
	return &Build{
		ID:        buildID.String(),
		AppID:     appID,
		Status:    BuildQueued,
		CreatedAt: createdAtTime,
	}, nil
}

func MarkBuildRunning(ctx context.Context, pyhostDB *sql.DB, buildID string) error {
	query := `UPDATE builds SET status = ?, started_at = ? WHERE id = ?`
	_, err := pyhostDB.ExecContext(ctx, query, BuildRunning, time.Now().Unix(), buildID)
	return err
}

func MarkBuildSucceeded(ctx context.Context, pyhostDB *sql.DB, buildID, envDigest string) error {
	query := `UPDATE builds SET status = ?, env_digest = ?, completed_at = ? WHERE id = ?`
	_, err := pyhostDB.ExecContext(ctx, query, BuildSucceeded, envDigest, time.Now().Unix(), buildID)
	return err
}

func MarkBuildFailed(ctx context.Context, pyhostDB *sql.DB, buildID, buildErr string) error {
	query := `UPDATE builds SET status = ?, error = ?, completed_at = ? WHERE id = ?`
	_, err := pyhostDB.ExecContext(ctx, query, BuildFailed, buildErr, time.Now().Unix(), buildID)
	return err
}

func GetBuildByID(ctx context.Context, pyhostDB *sql.DB, buildID string) (*Build, error) {
	query := `SELECT id, app_id, status, env_digest, error, started_at, completed_at, created_at FROM builds WHERE id = ?`
	row := pyhostDB.QueryRowContext(ctx, query, buildID)
	return scanBuild(row.Scan)
}

// LatestBuildByAppID returns the most recently created build for an app
// or sql.ErrNoRows when the app was never built.
func LatestBuildByAppID(ctx context.Context, pyhostDB *sql.DB, appID string) (*Build, error) {
	query := `SELECT id, app_id, status, env_digest, error, started_at, completed_at, created_at FROM builds WHERE app_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`
	row := pyhostDB.QueryRowContext(ctx, query, appID)
	return scanBuild(row.Scan)
}

func ListBuildsByAppID(ctx context.Context, pyhostDB *sql.DB, appID string) ([]*Build, error) {
	query := `SELECT id, app_id, status, env_digest, error, started_at, completed_at, created_at FROM builds WHERE app_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := pyhostDB.QueryContext(ctx, query, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var builds []*Build
	for rows.Next() {
		build, err := scanBuild(rows.Scan)
		if err != nil {
			return nil, err
		}
		builds = append(builds, build)
	}

	return builds, rows.Err()
}

func scanBuild(scan func(dest ...any) error) (*Build, error) {
	var (
		createdAt            int64
		startedAt, completed sql.NullInt64
		digest, buildErr     sql.NullString
	)

	build := &Build{}
	err := scan(&build.ID, &build.AppID, &build.Status, &digest, &buildErr,
		&startedAt, &completed, &createdAt)
	if err != nil {
		return nil, err
	}

	build.CreatedAt = time.Unix(createdAt, 0)
	if digest.Valid {
		build.EnvDigest = &digest.String
	}
	if buildErr.Valid {
		build.Error = &buildErr.String
	}
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		build.StartedAt = &t
	}
	if completed.Valid {
		t := time.Unix(completed.Int64, 0)
		build.CompletedAt = &t
	}

	return build, nil
}
