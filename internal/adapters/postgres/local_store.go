package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/pkg/logging"
)

// loiChannel is the LISTEN/NOTIFY channel announcing local location changes.
// The payload is the survey id.
const loiChannel = "groundsync_lois"

// LocalStore implements ports.LocalStore with pgx. Every write touching an
// entity takes a transaction scoped advisory lock on the entity id, so cache
// updates and queue appends for one entity are serialised.
type LocalStore struct {
	db  *DB
	log *slog.Logger
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(db *DB) *LocalStore {
	return &LocalStore{db: db, log: logging.Component("localstore")}
}

func (s *LocalStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// inTx runs fn in a transaction holding the advisory lock for entityID.
func (s *LocalStore) inTx(ctx context.Context, entityID string, fn func(pgx.Tx) error) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entityID); err != nil {
		return fmt.Errorf("lock %s: %w", entityID, err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ApplyAndEnqueue appends m and applies it to the cache in one transaction.
func (s *LocalStore) ApplyAndEnqueue(ctx context.Context, m *domain.Mutation) error {
	if err := m.Validate(); err != nil {
		return &domain.StorageError{Op: "enqueue", Err: err}
	}
	payload, err := encodePayload(m)
	if err != nil {
		return &domain.StorageError{Op: "enqueue", Err: err}
	}
	status := m.Status
	if status == "" {
		status = domain.MutationPending
	}

	var seq int64
	err = s.inTx(ctx, m.EntityID, func(tx pgx.Tx) error {
		if err := applyEffect(ctx, tx, m); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `
			INSERT INTO mutations (id, survey_id, entity_type, entity_id, operation, author,
			                       client_timestamp, retry_count, status, last_error, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING seq
		`, m.ID, m.SurveyID, string(m.EntityType), m.EntityID, string(m.Operation), m.Author,
			m.ClientTimestamp, m.RetryCount, string(status), m.LastError, payload).Scan(&seq)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			err = fmt.Errorf("duplicate mutation id %s", m.ID)
		}
		return &domain.StorageError{Op: "enqueue", Err: err}
	}
	m.Seq, m.Status = seq, status
	return nil
}

func applyEffect(ctx context.Context, tx pgx.Tx, m *domain.Mutation) error {
	switch m.EntityType {
	case domain.EntityLocationOfInterest:
		if m.Operation == domain.OpDelete {
			_, err := tx.Exec(ctx, `DELETE FROM locations_of_interest WHERE survey_id = $1 AND id = $2`, m.SurveyID, m.EntityID)
			if err == nil {
				err = notify(ctx, tx, m.SurveyID)
			}
			return err
		}
		r, err := encodeLOI(m.LocationOfInterest)
		if err != nil {
			return err
		}
		// Local edits keep the last merged version; updates keep the creation audit.
		_, err = tx.Exec(ctx, `
			INSERT INTO locations_of_interest (survey_id, id, job_id, geometry, properties, created, last_modified)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (survey_id, id) DO UPDATE
			SET job_id = EXCLUDED.job_id, geometry = EXCLUDED.geometry,
			    properties = EXCLUDED.properties, last_modified = EXCLUDED.last_modified,
			    created = CASE WHEN $8 THEN locations_of_interest.created ELSE EXCLUDED.created END
		`, m.SurveyID, m.EntityID, m.LocationOfInterest.JobID, r.geometry, r.properties, r.created, r.lastModified,
			m.Operation == domain.OpUpdate)
		if err == nil {
			err = notify(ctx, tx, m.SurveyID)
		}
		return err

	case domain.EntitySubmission:
		if m.Operation == domain.OpDelete {
			_, err := tx.Exec(ctx, `DELETE FROM submissions WHERE survey_id = $1 AND id = $2`, m.SurveyID, m.EntityID)
			return err
		}
		sub := m.Submission
		r, err := encodeSubmission(sub)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO submissions (survey_id, id, loi_id, job_id, responses, created, last_modified)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (survey_id, id) DO UPDATE
			SET loi_id = EXCLUDED.loi_id, job_id = EXCLUDED.job_id,
			    responses = EXCLUDED.responses, last_modified = EXCLUDED.last_modified
		`, m.SurveyID, m.EntityID, sub.LocationOfInterestID, sub.JobID, r.responses, r.created, r.lastModified)
		return err

	case domain.EntitySurvey:
		if m.Operation == domain.OpDelete {
			_, err := tx.Exec(ctx, `DELETE FROM surveys WHERE id = $1`, m.EntityID)
			return err
		}
		jobs, err := json.Marshal(m.Survey.Jobs)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO surveys (id, title, description, jobs)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET title = EXCLUDED.title, description = EXCLUDED.description, jobs = EXCLUDED.jobs
		`, m.EntityID, m.Survey.Title, m.Survey.Description, jobs)
		return err
	}
	return fmt.Errorf("unknown entity type %q", m.EntityType)
}

func notify(ctx context.Context, tx pgx.Tx, surveyID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, loiChannel, surveyID)
	return err
}

// --- Mutation queue ---

const mutationColumns = `id, seq, survey_id, entity_type, entity_id, operation, author,
	client_timestamp, retry_count, status, last_error, payload`

func scanMutation(row pgx.Row) (*domain.Mutation, error) {
	var (
		m              domain.Mutation
		et, op, status string
		payload        []byte
	)
	err := row.Scan(&m.ID, &m.Seq, &m.SurveyID, &et, &m.EntityID, &op, &m.Author,
		&m.ClientTimestamp, &m.RetryCount, &status, &m.LastError, &payload)
	if err != nil {
		return nil, err
	}
	m.EntityType, m.Operation, m.Status = domain.EntityType(et), domain.Operation(op), domain.MutationStatus(status)
	m.ClientTimestamp = m.ClientTimestamp.UTC()
	if err := decodePayload(&m, payload); err != nil {
		return nil, err
	}
	return &m, nil
}

// PendingMutations returns matching mutations in enqueue order.
func (s *LocalStore) PendingMutations(ctx context.Context, f domain.MutationFilter) ([]domain.Mutation, error) {
	var (
		where []string
		args  []any
	)
	if f.SurveyID != "" {
		args = append(args, f.SurveyID)
		where = append(where, fmt.Sprintf("survey_id = $%d", len(args)))
	}
	if f.EntityID != "" {
		args = append(args, f.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	q := `SELECT ` + mutationColumns + ` FROM mutations`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY seq`

	rows, err := s.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *LocalStore) GetMutation(ctx context.Context, id string) (*domain.Mutation, error) {
	m, err := scanMutation(s.db.Pool.QueryRow(ctx, `SELECT `+mutationColumns+` FROM mutations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("Mutation", id)
	}
	return m, err
}

func (s *LocalStore) SurveysWithPendingMutations(ctx context.Context) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT survey_id FROM mutations
		WHERE status = 'pending'
		GROUP BY survey_id
		ORDER BY MIN(seq)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *LocalStore) ClaimMutation(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE mutations SET status = 'in_progress'
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *LocalStore) MarkMutation(ctx context.Context, id string, u domain.MutationUpdate) error {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE mutations SET status = $2, retry_count = $3, last_error = $4
		WHERE id = $1
	`, id, string(u.Status), u.RetryCount, u.LastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("Mutation", id)
	}
	return nil
}

func (s *LocalStore) RemoveMutation(ctx context.Context, id string) error {
	_, err := s.db.Pool.Exec(ctx, `DELETE FROM mutations WHERE id = $1`, id)
	return err
}

func (s *LocalStore) ResetInProgress(ctx context.Context) (int, error) {
	tag, err := s.db.Pool.Exec(ctx, `UPDATE mutations SET status = 'pending' WHERE status = 'in_progress'`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- Remote merges ---

// mergeGuard reports the stored version of an entity and whether any
// mutation for it is queued. Callers hold the entity lock.
func mergeGuard(ctx context.Context, tx pgx.Tx, table, surveyID, id string) (version int64, exists, queued bool, err error) {
	err = tx.QueryRow(ctx, `SELECT version FROM `+table+` WHERE survey_id = $1 AND id = $2`, surveyID, id).Scan(&version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = nil
	case err != nil:
		return
	default:
		exists = true
	}
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM mutations WHERE entity_id = $1)`, id).Scan(&queued)
	return
}

func (s *LocalStore) MergeLocationOfInterest(ctx context.Context, loi *domain.LocationOfInterest) (domain.MergeResult, error) {
	r, err := encodeLOI(loi)
	if err != nil {
		return domain.MergeNoop, err
	}
	res := domain.MergeApplied
	err = s.inTx(ctx, loi.ID, func(tx pgx.Tx) error {
		version, exists, queued, err := mergeGuard(ctx, tx, "locations_of_interest", loi.SurveyID, loi.ID)
		if err != nil {
			return err
		}
		if exists && version >= loi.Version {
			res = domain.MergeStale
			return nil
		}
		if queued {
			res = domain.MergeDeferred
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO locations_of_interest (survey_id, id, job_id, geometry, properties, created, last_modified, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (survey_id, id) DO UPDATE
			SET job_id = EXCLUDED.job_id, geometry = EXCLUDED.geometry, properties = EXCLUDED.properties,
			    created = EXCLUDED.created, last_modified = EXCLUDED.last_modified, version = EXCLUDED.version
		`, loi.SurveyID, loi.ID, loi.JobID, r.geometry, r.properties, r.created, r.lastModified, loi.Version)
		if err != nil {
			return err
		}
		return notify(ctx, tx, loi.SurveyID)
	})
	if err != nil {
		return domain.MergeNoop, err
	}
	return res, nil
}

func (s *LocalStore) RemoveLocationOfInterest(ctx context.Context, surveyID, id string, version int64) (domain.MergeResult, error) {
	res := domain.MergeApplied
	err := s.inTx(ctx, id, func(tx pgx.Tx) error {
		stored, exists, queued, err := mergeGuard(ctx, tx, "locations_of_interest", surveyID, id)
		if err != nil {
			return err
		}
		switch {
		case !exists:
			res = domain.MergeNoop
			return nil
		case version > 0 && stored > version:
			res = domain.MergeStale
			return nil
		case queued:
			res = domain.MergeDeferred
			return nil
		}
		if _, err := tx.Exec(ctx, `DELETE FROM locations_of_interest WHERE survey_id = $1 AND id = $2`, surveyID, id); err != nil {
			return err
		}
		return notify(ctx, tx, surveyID)
	})
	if err != nil {
		return domain.MergeNoop, err
	}
	return res, nil
}

func (s *LocalStore) MergeSubmission(ctx context.Context, sub *domain.Submission) (domain.MergeResult, error) {
	r, err := encodeSubmission(sub)
	if err != nil {
		return domain.MergeNoop, err
	}
	res := domain.MergeApplied
	err = s.inTx(ctx, sub.ID, func(tx pgx.Tx) error {
		version, exists, queued, err := mergeGuard(ctx, tx, "submissions", sub.SurveyID, sub.ID)
		if err != nil {
			return err
		}
		if exists && version >= sub.Version {
			res = domain.MergeStale
			return nil
		}
		if queued {
			res = domain.MergeDeferred
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO submissions (survey_id, id, loi_id, job_id, responses, created, last_modified, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (survey_id, id) DO UPDATE
			SET loi_id = EXCLUDED.loi_id, job_id = EXCLUDED.job_id, responses = EXCLUDED.responses,
			    created = EXCLUDED.created, last_modified = EXCLUDED.last_modified, version = EXCLUDED.version
		`, sub.SurveyID, sub.ID, sub.LocationOfInterestID, sub.JobID, r.responses, r.created, r.lastModified, sub.Version)
		return err
	})
	if err != nil {
		return domain.MergeNoop, err
	}
	return res, nil
}

// --- Reads ---

const loiColumns = `survey_id, id, job_id, geometry, properties, created, last_modified, version`

func scanLOI(row pgx.Row) (*domain.LocationOfInterest, error) {
	var (
		l domain.LocationOfInterest
		r loiRow
	)
	if err := row.Scan(&l.SurveyID, &l.ID, &l.JobID, &r.geometry, &r.properties, &r.created, &r.lastModified, &l.Version); err != nil {
		return nil, err
	}
	if err := r.decode(&l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *LocalStore) GetLocationOfInterest(ctx context.Context, surveyID, id string) (*domain.LocationOfInterest, error) {
	l, err := scanLOI(s.db.Pool.QueryRow(ctx, `
		SELECT `+loiColumns+` FROM locations_of_interest WHERE survey_id = $1 AND id = $2
	`, surveyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("Location of interest", id)
	}
	return l, err
}

func (s *LocalStore) ListLocationsOfInterest(ctx context.Context, surveyID string) ([]domain.LocationOfInterest, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+loiColumns+` FROM locations_of_interest WHERE survey_id = $1 ORDER BY id
	`, surveyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LocationOfInterest
	for rows.Next() {
		l, err := scanLOI(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// WatchLocationsOfInterest listens for local changes on a dedicated
// connection and re-lists the survey after each one.
func (s *LocalStore) WatchLocationsOfInterest(ctx context.Context, surveyID string) (<-chan []domain.LocationOfInterest, error) {
	conn, err := s.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, `LISTEN `+loiChannel); err != nil {
		conn.Release()
		return nil, err
	}

	out := make(chan []domain.LocationOfInterest, 1)
	go func() {
		defer close(out)
		defer func() {
			// The connection goes back to the pool; stop listening first.
			_, _ = conn.Exec(context.WithoutCancel(ctx), `UNLISTEN `+loiChannel)
			conn.Release()
		}()

		emit := func() bool {
			lois, err := s.ListLocationsOfInterest(ctx, surveyID)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Error("list locations for watch", "survey", surveyID, "error", err)
				}
				return ctx.Err() == nil
			}
			select {
			case out <- lois:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Error("wait for notification", "survey", surveyID, "error", err)
				}
				return
			}
			if n.Payload != surveyID {
				continue
			}
			if !emit() {
				return
			}
		}
	}()
	return out, nil
}

const submissionColumns = `survey_id, id, loi_id, job_id, responses, created, last_modified, version`

func scanSubmission(row pgx.Row) (*domain.Submission, error) {
	var (
		sub domain.Submission
		r   submissionRow
	)
	if err := row.Scan(&sub.SurveyID, &sub.ID, &sub.LocationOfInterestID, &sub.JobID,
		&r.responses, &r.created, &r.lastModified, &sub.Version); err != nil {
		return nil, err
	}
	if err := r.decode(&sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *LocalStore) GetSubmission(ctx context.Context, surveyID, id string) (*domain.Submission, error) {
	sub, err := scanSubmission(s.db.Pool.QueryRow(ctx, `
		SELECT `+submissionColumns+` FROM submissions WHERE survey_id = $1 AND id = $2
	`, surveyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("Submission", id)
	}
	return sub, err
}

func (s *LocalStore) ListSubmissions(ctx context.Context, surveyID, loiID string) ([]domain.Submission, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE survey_id = $1 AND ($2 = '' OR loi_id = $2)
		ORDER BY id
	`, surveyID, loiID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

// --- Surveys ---

// UpsertSurvey stores a survey downloaded from the remote store.
func (s *LocalStore) UpsertSurvey(ctx context.Context, sv *domain.Survey) error {
	jobs, err := json.Marshal(sv.Jobs)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO surveys (id, title, description, jobs, version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, description = EXCLUDED.description,
		    jobs = EXCLUDED.jobs, version = EXCLUDED.version
	`, sv.ID, sv.Title, sv.Description, jobs, sv.Version)
	return err
}

func scanSurvey(row pgx.Row) (*domain.Survey, error) {
	var (
		sv   domain.Survey
		jobs []byte
	)
	if err := row.Scan(&sv.ID, &sv.Title, &sv.Description, &jobs, &sv.Version); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(jobs, &sv.Jobs); err != nil {
		return nil, fmt.Errorf("survey %s jobs: %w", sv.ID, err)
	}
	return &sv, nil
}

func (s *LocalStore) GetSurvey(ctx context.Context, id string) (*domain.Survey, error) {
	sv, err := scanSurvey(s.db.Pool.QueryRow(ctx, `
		SELECT id, title, description, jobs, version FROM surveys WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("Survey", id)
	}
	return sv, err
}

func (s *LocalStore) ListSurveys(ctx context.Context) ([]domain.Survey, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT id, title, description, jobs, version FROM surveys ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Survey
	for rows.Next() {
		sv, err := scanSurvey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sv)
	}
	return out, rows.Err()
}

// DeleteSurvey removes the survey partition in one transaction.
func (s *LocalStore) DeleteSurvey(ctx context.Context, id string) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM mutations WHERE survey_id = $1`, id)
	batch.Queue(`DELETE FROM submissions WHERE survey_id = $1`, id)
	batch.Queue(`DELETE FROM locations_of_interest WHERE survey_id = $1`, id)
	batch.Queue(`DELETE FROM surveys WHERE id = $1`, id)
	batch.Queue(`SELECT pg_notify($1, $2)`, loiChannel, id)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("delete survey %s: %w", id, err)
	}
	return tx.Commit(ctx)
}
