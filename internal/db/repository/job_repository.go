package repository

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dkrish7/osprey/internal/db"
	"github.com/dkrish7/osprey/internal/tracer"
	"github.com/dkrish7/osprey/internal/util"
	"github.com/dkrish7/osprey/model"
)

type JobRepository struct {
	db *db.DB
}

func NewJobRepository(db *db.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
	id,
	owner_id,
	tool,
	status,
	input,
	output,
	progress,
	error_message,
	output_hash,
	degraded,
	creation_time,
	start_time,
	end_time`

func scanJob(row interface{ Scan(...any) error }, j *model.Job) error {
	return row.Scan(
		&j.ID,
		&j.OwnerID,
		&j.Tool,
		&j.Status,
		&j.Input,
		&j.Output,
		&j.Progress,
		&j.ErrorMessage,
		&j.OutputHash,
		&j.Degraded,
		&j.CreationTime,
		&j.StartTime,
		&j.EndTime,
	)
}

func (r *JobRepository) Create(ctx context.Context, job *model.Job) error {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/CreateJob")
	defer span.End()

	span.AddEvent("job.context",
		trace.WithAttributes(attribute.String("job_id", job.ID.String())),
	)

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		job.ID,
		job.OwnerID,
		job.Tool,
		job.Status,
		job.Input,
		job.Output,
		job.Progress,
		job.ErrorMessage,
		job.OutputHash,
		job.Degraded,
		job.CreationTime,
		job.StartTime,
		job.EndTime,
	)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*model.Job, error) {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/GetJob")
	defer span.End()

	var job model.Job
	row := r.db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err := scanJob(row, &job); err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) List(ctx context.Context, owner string, offset string) ([]*model.Job, error) {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/ListJobs")
	defer span.End()

	const limit = 25
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner_id = $1 ORDER BY id DESC LIMIT $2`
	args := []any{owner, limit}
	if offset != "" {
		query = `SELECT ` + jobColumns + ` FROM jobs WHERE owner_id = $1 AND id < $2 ORDER BY id DESC LIMIT $3`
		args = []any{owner, offset, limit}
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		var j model.Job
		if err := scanJob(rows, &j); err != nil {
			util.RecordSpanError(span, err)
			return nil, err
		}
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return jobs, nil
}

// UpdateProgress is guarded on status so a progress report racing a cancel
// can never resurrect the row.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/UpdateJobProgress")
	defer span.End()

	_, err := r.db.Pool.Exec(ctx, `
		UPDATE jobs
		SET progress = $2
		WHERE id = $1 AND status = 'running' AND progress < $2
	`, id, progress)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	return nil
}

// UpdateFrom is the compare-and-set status write: the row moves only if its
// status still equals from, and rows affected tells the caller whether it
// won the race.
func (r *JobRepository) UpdateFrom(ctx context.Context, job *model.Job, from model.JobStatus) (bool, error) {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/UpdateJob")
	defer span.End()

	span.AddEvent("job.context",
		trace.WithAttributes(
			attribute.String("id", job.ID.String()),
			attribute.String("status", string(job.Status)),
			attribute.String("from", string(from)),
		),
	)

	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE jobs
		SET
			status        = $2,
			output        = $3,
			progress      = $4,
			error_message = $5,
			output_hash   = $6,
			degraded      = $7,
			start_time    = $8,
			end_time      = $9
		WHERE id = $1 AND status = $10
	`,
		job.ID,
		job.Status,
		job.Output,
		job.Progress,
		job.ErrorMessage,
		job.OutputHash,
		job.Degraded,
		job.StartTime,
		job.EndTime,
		from,
	)
	if err != nil {
		util.RecordSpanError(span, err)
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
