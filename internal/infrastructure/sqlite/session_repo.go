package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/canarygate/canarygate/internal/domain"
)

// SessionRepo implements [domain.SessionRepository] backed by SQLite.
// Stages, config and baseline are stored as JSON columns; samples live in
// an append-only table ordered by insertion rowid.
type SessionRepo struct {
	DB *sql.DB
}

func (r *SessionRepo) Create(ctx context.Context, s domain.RolloutSession) error {
	stages, err := json.Marshal(s.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	config, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	baseline, err := marshalBaseline(s.Baseline)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO rollout_sessions
		   (id, service_id, version, stages, config, baseline, status,
		    current_stage_index, consecutive_failures, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(s.ID), s.ServiceID, s.Version, string(stages), string(config),
		nullString(baseline), string(s.Status),
		s.CurrentStageIndex, s.ConsecutiveFailures,
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session %q: %w", s.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, id domain.SessionID) (domain.RolloutSession, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, service_id, version, stages, config, baseline, status,
		        current_stage_index, consecutive_failures, created_at, updated_at
		 FROM rollout_sessions WHERE id = ?`,
		string(id),
	)
	s, err := scanSession(row)
	if err != nil {
		return domain.RolloutSession{}, err
	}

	samples, err := r.listSamples(ctx, id)
	if err != nil {
		return domain.RolloutSession{}, err
	}
	s.Samples = samples
	return s, nil
}

func (r *SessionRepo) List(ctx context.Context) ([]domain.RolloutSession, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, service_id, version, stages, config, baseline, status,
		        current_stage_index, consecutive_failures, created_at, updated_at
		 FROM rollout_sessions ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.RolloutSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepo) Update(ctx context.Context, s domain.RolloutSession) error {
	stages, err := json.Marshal(s.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	config, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	baseline, err := marshalBaseline(s.Baseline)
	if err != nil {
		return err
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE rollout_sessions
		 SET service_id = ?, version = ?, stages = ?, config = ?, baseline = ?,
		     status = ?, current_stage_index = ?, consecutive_failures = ?,
		     updated_at = ?
		 WHERE id = ?`,
		s.ServiceID, s.Version, string(stages), string(config), nullString(baseline),
		string(s.Status), s.CurrentStageIndex, s.ConsecutiveFailures,
		formatTime(s.UpdatedAt), string(s.ID),
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %q: %w", s.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *SessionRepo) AppendSample(ctx context.Context, id domain.SessionID, sample domain.MetricSample) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO rollout_samples (session_id, timestamp, source, error_rate, response_time_ms, throughput)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(id), formatTime(sample.Timestamp), sample.Source,
		sample.ErrorRate, sample.ResponseTimeMs, sample.Throughput,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("session %q: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("append sample: %w", err)
	}
	return nil
}

func (r *SessionRepo) Delete(ctx context.Context, id domain.SessionID) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM rollout_sessions WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *SessionRepo) listSamples(ctx context.Context, id domain.SessionID) ([]domain.MetricSample, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT timestamp, source, error_rate, response_time_ms, throughput
		 FROM rollout_samples WHERE session_id = ? ORDER BY id`,
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var samples []domain.MetricSample
	for rows.Next() {
		var sample domain.MetricSample
		var ts string
		if err := rows.Scan(&ts, &sample.Source, &sample.ErrorRate, &sample.ResponseTimeMs, &sample.Throughput); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		sample.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse sample timestamp: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

func scanSession(s scanner) (domain.RolloutSession, error) {
	var session domain.RolloutSession
	var id, stagesJSON, configJSON, statusStr, createdAtStr, updatedAtStr string
	var baselineJSON sql.NullString
	err := s.Scan(&id, &session.ServiceID, &session.Version, &stagesJSON, &configJSON,
		&baselineJSON, &statusStr, &session.CurrentStageIndex,
		&session.ConsecutiveFailures, &createdAtStr, &updatedAtStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return session, fmt.Errorf("scan session: %w", err)
	}
	session.ID = domain.SessionID(id)
	session.Status = domain.RolloutStatus(statusStr)

	if err := json.Unmarshal([]byte(stagesJSON), &session.Stages); err != nil {
		return session, fmt.Errorf("unmarshal stages: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &session.Config); err != nil {
		return session, fmt.Errorf("unmarshal config: %w", err)
	}
	if baselineJSON.Valid {
		session.Baseline = &domain.MetricSample{}
		if err := json.Unmarshal([]byte(baselineJSON.String), session.Baseline); err != nil {
			return session, fmt.Errorf("unmarshal baseline: %w", err)
		}
	}
	if session.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return session, fmt.Errorf("parse created_at: %w", err)
	}
	if session.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return session, fmt.Errorf("parse updated_at: %w", err)
	}
	return session, nil
}

func marshalBaseline(b *domain.MetricSample) ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal baseline: %w", err)
	}
	return data, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
