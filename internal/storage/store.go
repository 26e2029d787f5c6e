// Package storage persists tracking sessions and accepted raw poses to
// SQLite for the history and summary endpoints.
package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"

	"github.com/arview/posebridge/internal/pose"
)

// Store wraps the pose database.
type Store struct {
	*sql.DB
}

// NewStore opens (or creates) the pose database at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			marker_id INTEGER,
			started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS poses (
			pose_id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			marker_id INTEGER,
			pos_x DOUBLE, pos_y DOUBLE, pos_z DOUBLE,
			rot_x DOUBLE, rot_y DOUBLE, rot_z DOUBLE,
			scale DOUBLE,
			confidence DOUBLE,
			recorded_at TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE INDEX IF NOT EXISTS idx_poses_session ON poses(session_id, recorded_at);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db}, nil
}

// CreateSession records the start of a tracking session.
func (s *Store) CreateSession(sessionID string, markerID int) error {
	_, err := s.Exec("INSERT INTO sessions (session_id, marker_id) VALUES (?, ?)", sessionID, markerID)
	return err
}

// RecordPose appends one accepted raw pose for a session.
func (s *Store) RecordPose(sessionID string, markerID int, p pose.RawPose, at time.Time) error {
	_, err := s.Exec(`
		INSERT INTO poses (session_id, marker_id, pos_x, pos_y, pos_z, rot_x, rot_y, rot_z, scale, confidence, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, markerID,
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Rotation.X, p.Rotation.Y, p.Rotation.Z,
		p.Scale, p.Confidence, at.UTC(),
	)
	return err
}

// PoseRecord is one stored raw pose.
type PoseRecord struct {
	SessionID  string       `json:"session_id"`
	MarkerID   int          `json:"marker_id"`
	Pose       pose.RawPose `json:"pose"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// RecentPoses returns the most recent poses for a session, newest first.
func (s *Store) RecentPoses(sessionID string, limit int) ([]PoseRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Query(`
		SELECT session_id, marker_id, pos_x, pos_y, pos_z, rot_x, rot_y, rot_z, scale, confidence, recorded_at
		FROM poses WHERE session_id = ? ORDER BY pose_id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []PoseRecord
	for rows.Next() {
		var r PoseRecord
		if err := rows.Scan(
			&r.SessionID, &r.MarkerID,
			&r.Pose.Position.X, &r.Pose.Position.Y, &r.Pose.Position.Z,
			&r.Pose.Rotation.X, &r.Pose.Rotation.Y, &r.Pose.Rotation.Z,
			&r.Pose.Scale, &r.Pose.Confidence, &r.RecordedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Summary aggregates the confidence distribution of a session.
type Summary struct {
	SessionID        string  `json:"session_id"`
	PoseCount        int     `json:"pose_count"`
	MeanConfidence   float64 `json:"mean_confidence"`
	StdDevConfidence float64 `json:"stddev_confidence"`
	P95Confidence    float64 `json:"p95_confidence"`
	MeanScale        float64 `json:"mean_scale"`
}

// SessionSummary computes summary statistics over every pose recorded for a
// session.
func (s *Store) SessionSummary(sessionID string) (Summary, error) {
	rows, err := s.Query("SELECT confidence, scale FROM poses WHERE session_id = ?", sessionID)
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()

	var confidences, scales []float64
	for rows.Next() {
		var c, sc float64
		if err := rows.Scan(&c, &sc); err != nil {
			return Summary{}, err
		}
		confidences = append(confidences, c)
		scales = append(scales, sc)
	}
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}

	summary := Summary{SessionID: sessionID, PoseCount: len(confidences)}
	if len(confidences) == 0 {
		return summary, nil
	}

	summary.MeanConfidence = stat.Mean(confidences, nil)
	summary.MeanScale = stat.Mean(scales, nil)
	if len(confidences) > 1 {
		summary.StdDevConfidence = stat.StdDev(confidences, nil)
	}

	sorted := append([]float64(nil), confidences...)
	sort.Float64s(sorted)
	summary.P95Confidence = stat.Quantile(0.95, stat.Empirical, sorted, nil)

	return summary, nil
}

// PruneBefore deletes poses recorded before the cutoff, returning how many
// rows were removed.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := s.Exec("DELETE FROM poses WHERE recorded_at < ?", cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rows: %w", err)
	}
	return n, nil
}
