package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/nixos/hydra-evaluator/pkg/model"
)

// PostgresStore is the real Store implementation, backed by
// database/sql and github.com/lib/pq. Connection pooling is left to
// database/sql itself (SetMaxOpenConns), matching the "assumed:
// checkout/checkin with bounded size" note in the connection pool's
// contract.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore opens a connection pool against dsn and verifies it
// with a ping.
func NewPostgresStore(ctx context.Context, dsn string, maxOpenConns int, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db, logger: logger.With("component", "store")}, nil
}

const readJobsetsQuery = `
select p.name, j.name, j.lastcheckedtime, j.triggertime, j.checkinterval, j.evaluation_style
from jobsets j
join projects p on j.project = p.name
where j.enabled != 0 and p.enabled != 0
`

func (s *PostgresStore) ReadJobsets(ctx context.Context) ([]JobsetRow, error) {
	rows, err := s.db.QueryContext(ctx, readJobsetsQuery)
	if err != nil {
		return nil, fmt.Errorf("read jobsets: %w", err)
	}
	defer rows.Close()

	var out []JobsetRow
	for rows.Next() {
		var (
			project, name, style string
			lastChecked          sql.NullInt64
			trigger              sql.NullInt64
			checkIntervalSecs    int64
		)
		if err := rows.Scan(&project, &name, &lastChecked, &trigger, &checkIntervalSecs, &style); err != nil {
			return nil, fmt.Errorf("scan jobset row: %w", err)
		}
		row := JobsetRow{
			Name:            model.JobsetName{Project: project, Name: name},
			EvaluationStyle: model.EvaluationStyle(style),
			CheckInterval:   time.Duration(checkIntervalSecs) * time.Second,
			TriggerTime:     model.NotTriggered(),
		}
		if lastChecked.Valid {
			row.LastCheckedTime = time.Unix(lastChecked.Int64, 0)
		}
		if trigger.Valid {
			row.TriggerTime = time.Unix(trigger.Int64, 0)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobset rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkStarted(ctx context.Context, name model.JobsetName, startTime time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update jobsets set starttime = $1 where project = $2 and name = $3`,
		startTime.Unix(), name.Project, name.Name)
	if err != nil {
		return fmt.Errorf("mark started %s: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) RecordResult(ctx context.Context, name model.JobsetName, now time.Time, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record result %s: begin: %w", name, err)
	}
	defer tx.Rollback()

	// Only clear a trigger that predates (or coincides with) the run
	// that just finished: a trigger submitted while the evaluation was
	// still in flight asks for another run and must survive to be
	// picked up on the next pass.
	if _, err := tx.ExecContext(ctx,
		`update jobsets set triggertime = null
		 where project = $1 and name = $2
		 and starttime is not null and triggertime <= starttime`,
		name.Project, name.Name); err != nil {
		return fmt.Errorf("record result %s: clear trigger time: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx,
		`update jobsets set starttime = null where project = $1 and name = $2`,
		name.Project, name.Name); err != nil {
		return fmt.Errorf("record result %s: clear start time: %w", name, err)
	}

	if errMsg != "" {
		if _, err := tx.ExecContext(ctx,
			`update jobsets set errormsg = $1, lastcheckedtime = $2, errortime = $2, fetcherrormsg = null
			 where project = $3 and name = $4`,
			errMsg, now.Unix(), name.Project, name.Name); err != nil {
			return fmt.Errorf("record result %s: set error: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record result %s: commit: %w", name, err)
	}
	return nil
}

const unfinishedBuildsQuery = `
select exists (
	select 1
	from jobsetevals e
	join jobsetevalmembers m on m.eval = e.id
	join builds b on b.id = m.build
	where e.id = (select max(id) from jobsetevals where project = $1 and jobset = $2)
	and b.finished = 0
)
`

func (s *PostgresStore) HasUnfinishedBuilds(ctx context.Context, name model.JobsetName) (bool, error) {
	var unfinished bool
	err := s.db.QueryRowContext(ctx, unfinishedBuildsQuery, name.Project, name.Name).Scan(&unfinished)
	if err != nil {
		return false, fmt.Errorf("check unfinished builds %s: %w", name, err)
	}
	return unfinished, nil
}

func (s *PostgresStore) Unlock(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `update jobsets set starttime = null`)
	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
