package db

import (
	"context"
	"database/sql"
	"time"
)

const (
	InstanceRunning = "running"
	InstanceExited  = "exited"
)

// Instance represents a running process of an App.
type Instance struct {
	ID         string // UUID of this process instance
	AppID      string // which app is running
	Pid        int    // process group leader PID
	Port       int    // host port assigned to the instance, 0 when none
	PublicPort int    // port redirected to the instance port, 0 when none
	LogPath    string // file the process writes stdout and stderr to
	Status     string
	ExitCode   *int // set once the process exited
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// InsertInstance saves a new Instance to the database.
func InsertInstance(ctx context.Context, db *sql.DB, instance *Instance) error {
	query := `
		INSERT INTO instances (id, app_id, pid, port, public_port, log_path, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().Unix()
	_, err := db.ExecContext(ctx, query,
		instance.ID, instance.AppID, instance.Pid, instance.Port, instance.PublicPort,
		instance.LogPath, InstanceRunning, now, now)
	return err
}

// GetInstanceByID retrieves an Instance by ID from the database.
func GetInstanceByID(ctx context.Context, db *sql.DB, id string) (*Instance, error) {
	query := `SELECT id, app_id, pid, port, public_port, log_path, status, exit_code, created_at, updated_at FROM instances WHERE id = ?`
	row := db.QueryRowContext(ctx, query, id)
	return scanInstance(row.Scan)
}

// ListInstancesByAppID retrieves all Instances for an App from the database.
func ListInstancesByAppID(ctx context.Context, db *sql.DB, appID string) ([]*Instance, error) {
	query := `SELECT id, app_id, pid, port, public_port, log_path, status, exit_code, created_at, updated_at FROM instances WHERE app_id = ? ORDER BY created_at DESC`
	return listInstances(ctx, db, query, appID)
}

// ListRunningInstances retrieves all Instances the database believes are
// running. After a daemon restart some of them may be gone, callers have
// to verify against the process table.
func ListRunningInstances(ctx context.Context, db *sql.DB) ([]*Instance, error) {
	query := `SELECT id, app_id, pid, port, public_port, log_path, status, exit_code, created_at, updated_at FROM instances WHERE status = ? ORDER BY created_at DESC`
	return listInstances(ctx, db, query, InstanceRunning)
}

// MarkInstanceExited records that the process behind an Instance is gone.
// exitCode may be nil when the daemon never observed the exit.
func MarkInstanceExited(ctx context.Context, db *sql.DB, id string, exitCode *int) error {
	query := `UPDATE instances SET status = ?, exit_code = ?, updated_at = ? WHERE id = ?`

	var code sql.NullInt64
	if exitCode != nil {
		code = sql.NullInt64{Int64: int64(*exitCode), Valid: true}
	}

	_, err := db.ExecContext(ctx, query, InstanceExited, code, time.Now().Unix(), id)
	return err
}

func listInstances(ctx context.Context, db *sql.DB, query string, args ...any) ([]*Instance, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		instance, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}

	return instances, rows.Err()
}

func scanInstance(scan func(dest ...any) error) (*Instance, error) {
	var (
		createdAt, updatedAt int64
		exitCode             sql.NullInt64
	)

	instance := &Instance{}
	err := scan(&instance.ID, &instance.AppID, &instance.Pid, &instance.Port,
		&instance.PublicPort, &instance.LogPath, &instance.Status, &exitCode, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if exitCode.Valid {
		code := int(exitCode.Int64)
		instance.ExitCode = &code
	}
	instance.CreatedAt = time.Unix(createdAt, 0)
	instance.UpdatedAt = time.Unix(updatedAt, 0)
	return instance, nil
}
