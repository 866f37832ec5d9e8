package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/service"
	"github.com/jmoiron/sqlx"
)

// PostgresStore is the durable Store. Amounts are NUMERIC(78,0) and travel
// as decimal strings.
type PostgresStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

var _ service.Store = (*PostgresStore)(nil)

const planColumns = `id, owner, permission_id, asset_from, asset_to, amount_per_period::text AS amount_per_period,
	period, duration_seconds, start_time, last_execution_time, total_executions,
	total_amount_spent::text AS total_amount_spent, active, created_at, updated_at, deleted_at`

type planRow struct {
	ID                string       `db:"id"`
	Owner             string       `db:"owner"`
	PermissionID      string       `db:"permission_id"`
	AssetFrom         string       `db:"asset_from"`
	AssetTo           string       `db:"asset_to"`
	AmountPerPeriod   string       `db:"amount_per_period"`
	Period            string       `db:"period"`
	DurationSeconds   int64        `db:"duration_seconds"`
	StartTime         time.Time    `db:"start_time"`
	LastExecutionTime sql.NullTime `db:"last_execution_time"`
	TotalExecutions   int64        `db:"total_executions"`
	TotalAmountSpent  string       `db:"total_amount_spent"`
	Active            bool         `db:"active"`
	CreatedAt         time.Time    `db:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at"`
	DeletedAt         sql.NullTime `db:"deleted_at"`
}

func (r *planRow) toDomain() (*model.Plan, error) {
	amount, err := parseNumeric(r.AmountPerPeriod)
	if err != nil {
		return nil, err
	}
	spent, err := parseNumeric(r.TotalAmountSpent)
	if err != nil {
		return nil, err
	}
	p := &model.Plan{
		ID:               r.ID,
		Owner:            r.Owner,
		PermissionID:     r.PermissionID,
		AssetFrom:        r.AssetFrom,
		AssetTo:          r.AssetTo,
		AmountPerPeriod:  amount,
		Period:           model.Period(r.Period),
		DurationSeconds:  r.DurationSeconds,
		StartTime:        r.StartTime.UTC(),
		TotalExecutions:  r.TotalExecutions,
		TotalAmountSpent: spent,
		Active:           r.Active,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if r.LastExecutionTime.Valid {
		p.LastExecutionTime = r.LastExecutionTime.Time.UTC()
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time.UTC()
		p.DeletedAt = &t
	}
	return p, nil
}

const rebalancerColumns = `id, owner, permission_id, assets, threshold_percent, last_rebalance_time,
	total_rebalances, active, created_at, updated_at, deleted_at`

type rebalancerRow struct {
	ID                string       `db:"id"`
	Owner             string       `db:"owner"`
	PermissionID      string       `db:"permission_id"`
	AssetsJSON        []byte       `db:"assets"`
	ThresholdPercent  float64      `db:"threshold_percent"`
	LastRebalanceTime sql.NullTime `db:"last_rebalance_time"`
	TotalRebalances   int64        `db:"total_rebalances"`
	Active            bool         `db:"active"`
	CreatedAt         time.Time    `db:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at"`
	DeletedAt         sql.NullTime `db:"deleted_at"`
}

func (r *rebalancerRow) toDomain() (*model.RebalancerConfig, error) {
	c := &model.RebalancerConfig{
		ID:               r.ID,
		Owner:            r.Owner,
		PermissionID:     r.PermissionID,
		ThresholdPercent: r.ThresholdPercent,
		TotalRebalances:  r.TotalRebalances,
		Active:           r.Active,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal(r.AssetsJSON, &c.Assets); err != nil {
		return nil, fmt.Errorf("decode assets of %s: %w", r.ID, err)
	}
	if r.LastRebalanceTime.Valid {
		c.LastRebalanceTime = r.LastRebalanceTime.Time.UTC()
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time.UTC()
		c.DeletedAt = &t
	}
	return c, nil
}

const permissionColumns = `id, owner, delegatee, allowance::text AS allowance, spent::text AS spent,
	reset_window_seconds, next_reset_time, active, updated_at`

type permissionRow struct {
	ID                 string       `db:"id"`
	Owner              string       `db:"owner"`
	Delegatee          string       `db:"delegatee"`
	Allowance          string       `db:"allowance"`
	Spent              string       `db:"spent"`
	ResetWindowSeconds int64        `db:"reset_window_seconds"`
	NextResetTime      sql.NullTime `db:"next_reset_time"`
	Active             bool         `db:"active"`
	UpdatedAt          time.Time    `db:"updated_at"`
}

func (r *permissionRow) toDomain() (*model.Permission, error) {
	allowance, err := parseNumeric(r.Allowance)
	if err != nil {
		return nil, err
	}
	spent, err := parseNumeric(r.Spent)
	if err != nil {
		return nil, err
	}
	p := &model.Permission{
		ID:                 r.ID,
		Owner:              r.Owner,
		Delegatee:          r.Delegatee,
		Allowance:          allowance,
		Spent:              spent,
		ResetWindowSeconds: r.ResetWindowSeconds,
		Active:             r.Active,
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	if r.NextResetTime.Valid {
		p.NextResetTime = r.NextResetTime.Time.UTC()
	}
	return p, nil
}

const logColumns = `id, type, item_id, owner, permission_id, tx_ref, gas_used, legs, status, error, created_at`

type logRow struct {
	ID           string    `db:"id"`
	Type         string    `db:"type"`
	ItemID       string    `db:"item_id"`
	Owner        string    `db:"owner"`
	PermissionID string    `db:"permission_id"`
	TxRef        string    `db:"tx_ref"`
	GasUsed      int64     `db:"gas_used"`
	LegsJSON     []byte    `db:"legs"`
	Status       string    `db:"status"`
	Error        string    `db:"error"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r *logRow) toDomain() *model.ExecutionLog {
	entry := &model.ExecutionLog{
		ID:           r.ID,
		Type:         model.ExecutionType(r.Type),
		ItemID:       r.ItemID,
		Owner:        r.Owner,
		PermissionID: r.PermissionID,
		TxRef:        r.TxRef,
		GasUsed:      uint64(r.GasUsed),
		Status:       model.ExecutionStatus(r.Status),
		Error:        r.Error,
		CreatedAt:    r.CreatedAt.UTC(),
	}
	if len(r.LegsJSON) > 0 {
		_ = json.Unmarshal(r.LegsJSON, &entry.Legs)
	}
	return entry
}

// --- plans ---

func (s *PostgresStore) ActivePlans(ctx context.Context) ([]*model.Plan, error) {
	var rows []planRow
	query := `SELECT ` + planColumns + ` FROM plans WHERE active AND deleted_at IS NULL ORDER BY created_at, id`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	return plansFromRows(rows)
}

func (s *PostgresStore) ListPlans(ctx context.Context, owner string) ([]*model.Plan, error) {
	var rows []planRow
	query := `SELECT ` + planColumns + ` FROM plans WHERE ($1 = '' OR lower(owner) = lower($1)) ORDER BY created_at, id`
	if err := s.db.SelectContext(ctx, &rows, query, owner); err != nil {
		return nil, err
	}
	return plansFromRows(rows)
}

func (s *PostgresStore) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	var row planRow
	err := s.db.GetContext(ctx, &row, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
	if err != nil {
		return nil, notFound("plan", id, err)
	}
	return row.toDomain()
}

func (s *PostgresStore) CreatePlan(ctx context.Context, p *model.Plan) error {
	now := s.now().UTC()
	created := p.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (
			id, owner, permission_id, asset_from, asset_to, amount_per_period,
			period, duration_seconds, start_time, last_execution_time, total_executions,
			total_amount_spent, active, created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6::numeric,
			$7,$8,$9,$10,$11,
			$12::numeric,$13,$14,$15
		)
	`, p.ID, p.Owner, p.PermissionID, p.AssetFrom, p.AssetTo, numeric(p.AmountPerPeriod),
		string(p.Period), p.DurationSeconds, p.StartTime, nullTime(p.LastExecutionTime), p.TotalExecutions,
		numeric(p.TotalAmountSpent), p.Active, created, now)
	return err
}

func (s *PostgresStore) UpdatePlan(ctx context.Context, id string, patch model.PlanPatch) (*model.Plan, error) {
	var row planRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE plans SET
			active = CASE WHEN $3::boolean THEN false ELSE COALESCE($2::boolean, active) END,
			deleted_at = CASE WHEN $3::boolean THEN $4 ELSE deleted_at END,
			updated_at = $4
		WHERE id = $1
		RETURNING `+planColumns,
		id, patch.Active, patch.Deleted, s.now().UTC())
	if err != nil {
		return nil, notFound("plan", id, err)
	}
	return row.toDomain()
}

// RecordPlanExecution bumps the counters and appends the log in one transaction.
func (s *PostgresStore) RecordPlanExecution(ctx context.Context, id string, at time.Time, amount *big.Int, entry *model.ExecutionLog) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE plans SET
				last_execution_time = GREATEST(COALESCE(last_execution_time, $2), $2),
				total_executions = total_executions + 1,
				total_amount_spent = total_amount_spent + $3::numeric,
				updated_at = $4
			WHERE id = $1
		`, id, at.UTC(), numeric(amount), s.now().UTC())
		if err != nil {
			return err
		}
		if err := requireRow(res, "plan", id); err != nil {
			return err
		}
		return insertLog(ctx, tx, entry)
	})
}

// --- rebalancers ---

func (s *PostgresStore) ActiveRebalancers(ctx context.Context) ([]*model.RebalancerConfig, error) {
	var rows []rebalancerRow
	query := `SELECT ` + rebalancerColumns + ` FROM rebalancers WHERE active AND deleted_at IS NULL ORDER BY created_at, id`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	return rebalancersFromRows(rows)
}

func (s *PostgresStore) ListRebalancers(ctx context.Context, owner string) ([]*model.RebalancerConfig, error) {
	var rows []rebalancerRow
	query := `SELECT ` + rebalancerColumns + ` FROM rebalancers WHERE ($1 = '' OR lower(owner) = lower($1)) ORDER BY created_at, id`
	if err := s.db.SelectContext(ctx, &rows, query, owner); err != nil {
		return nil, err
	}
	return rebalancersFromRows(rows)
}

func (s *PostgresStore) GetRebalancer(ctx context.Context, id string) (*model.RebalancerConfig, error) {
	var row rebalancerRow
	err := s.db.GetContext(ctx, &row, `SELECT `+rebalancerColumns+` FROM rebalancers WHERE id = $1`, id)
	if err != nil {
		return nil, notFound("rebalancer", id, err)
	}
	return row.toDomain()
}

func (s *PostgresStore) CreateRebalancer(ctx context.Context, c *model.RebalancerConfig) error {
	assets, err := json.Marshal(c.Assets)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	created := c.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rebalancers (
			id, owner, permission_id, assets, threshold_percent, last_rebalance_time,
			total_rebalances, active, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, c.ID, c.Owner, c.PermissionID, assets, c.ThresholdPercent, nullTime(c.LastRebalanceTime),
		c.TotalRebalances, c.Active, created, now)
	return err
}

func (s *PostgresStore) UpdateRebalancer(ctx context.Context, id string, patch model.RebalancerPatch) (*model.RebalancerConfig, error) {
	var row rebalancerRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE rebalancers SET
			active = CASE WHEN $3::boolean THEN false ELSE COALESCE($2::boolean, active) END,
			deleted_at = CASE WHEN $3::boolean THEN $4 ELSE deleted_at END,
			updated_at = $4
		WHERE id = $1
		RETURNING `+rebalancerColumns,
		id, patch.Active, patch.Deleted, s.now().UTC())
	if err != nil {
		return nil, notFound("rebalancer", id, err)
	}
	return row.toDomain()
}

func (s *PostgresStore) RecordRebalance(ctx context.Context, id string, at time.Time, entry *model.ExecutionLog) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE rebalancers SET
				last_rebalance_time = GREATEST(COALESCE(last_rebalance_time, $2), $2),
				total_rebalances = total_rebalances + 1,
				updated_at = $3
			WHERE id = $1
		`, id, at.UTC(), s.now().UTC())
		if err != nil {
			return err
		}
		if err := requireRow(res, "rebalancer", id); err != nil {
			return err
		}
		return insertLog(ctx, tx, entry)
	})
}

// --- permissions ---

func (s *PostgresStore) GetPermission(ctx context.Context, id string) (*model.Permission, error) {
	var row permissionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id)
	if err != nil {
		return nil, notFound("permission", id, err)
	}
	return row.toDomain()
}

func (s *PostgresStore) UpsertPermission(ctx context.Context, p *model.Permission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (
			id, owner, delegatee, allowance, spent, reset_window_seconds, next_reset_time, active, updated_at
		) VALUES ($1,$2,$3,$4::numeric,$5::numeric,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			delegatee = EXCLUDED.delegatee,
			allowance = EXCLUDED.allowance,
			spent = EXCLUDED.spent,
			reset_window_seconds = EXCLUDED.reset_window_seconds,
			next_reset_time = EXCLUDED.next_reset_time,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.Owner, p.Delegatee, numeric(p.Allowance), numeric(p.Spent), p.ResetWindowSeconds,
		nullTime(p.NextResetTime), p.Active, s.now().UTC())
	return err
}

func (s *PostgresStore) RevokePermission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE permissions SET active = false, updated_at = $2 WHERE id = $1`, id, s.now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res, "permission", id)
}

// --- execution logs ---

func (s *PostgresStore) AppendLog(ctx context.Context, entry *model.ExecutionLog) error {
	return insertLog(ctx, s.db, entry)
}

func (s *PostgresStore) ListLogs(ctx context.Context, filter model.LogFilter) ([]*model.ExecutionLog, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT ` + logColumns + ` FROM execution_logs`
	clauses := []string{}
	args := []interface{}{}
	idx := 1

	if filter.Type != "" {
		clauses = append(clauses, fmt.Sprintf("type = $%d", idx))
		args = append(args, string(filter.Type))
		idx++
	}
	if filter.ItemID != "" {
		clauses = append(clauses, fmt.Sprintf("item_id = $%d", idx))
		args = append(args, filter.ItemID)
		idx++
	}
	if filter.Owner != "" {
		clauses = append(clauses, fmt.Sprintf("lower(owner) = lower($%d)", idx))
		args = append(args, filter.Owner)
		idx++
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", idx)
	args = append(args, limit)

	var rows []logRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	records := make([]*model.ExecutionLog, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toDomain())
	}
	return records, nil
}

func (s *PostgresStore) DeactivateAll(ctx context.Context) (int, int, error) {
	var plans, configs int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now().UTC()
		res, err := tx.ExecContext(ctx, `UPDATE plans SET active = false, updated_at = $1 WHERE active`, now)
		if err != nil {
			return err
		}
		plans, _ = res.RowsAffected()
		res, err = tx.ExecContext(ctx, `UPDATE rebalancers SET active = false, updated_at = $1 WHERE active`, now)
		if err != nil {
			return err
		}
		configs, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return int(plans), int(configs), nil
}

// --- helpers ---

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertLog(ctx context.Context, exec sqlx.ExecerContext, entry *model.ExecutionLog) error {
	if entry == nil {
		return nil
	}
	legs, err := json.Marshal(entry.Legs)
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO execution_logs (
			id, type, item_id, owner, permission_id, tx_ref, gas_used, legs, status, error, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, string(entry.Type), entry.ItemID, entry.Owner, entry.PermissionID, entry.TxRef,
		int64(entry.GasUsed), legs, string(entry.Status), entry.Error, entry.CreatedAt)
	return err
}

func plansFromRows(rows []planRow) ([]*model.Plan, error) {
	out := make([]*model.Plan, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func rebalancersFromRows(rows []rebalancerRow) ([]*model.RebalancerConfig, error) {
	out := make([]*model.RebalancerConfig, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
	}
	return err
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
	}
	return nil
}

func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseNumeric(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	// NUMERIC(78,0) may still render a trailing ".0" through some drivers.
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s)
	}
	return v, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
