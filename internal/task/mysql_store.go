package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	xerrors "AIJudge-Chain/internal/errors"
	"AIJudge-Chain/internal/storage/mysql"
)

const taskColumns = `id, market_id, question, evidence, salt, analysis, status, attempts, max_retries,
        last_error, error_code, result, created_at, updated_at`

// MySQLStore 使用 MySQL 记录任务状态。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 创建连接池并执行内嵌迁移。
func NewMySQLStore(ctx context.Context, cfg mysql.Config) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	db, err := mysql.Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}
	if err := mysql.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 attestation_tasks 表失败")
	}
	return NewMySQLStoreFromDB(db), nil
}

// NewMySQLStoreFromDB 复用已有连接。
func NewMySQLStoreFromDB(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := s.now().Unix()
	task.CreatedAt = now
	task.UpdatedAt = now

	const stmt = `INSERT INTO attestation_tasks
        (id, market_id, question, evidence, salt, analysis, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		task.ID,
		task.MarketID,
		task.Question,
		task.Evidence,
		task.Salt,
		task.Analysis,
		string(task.Status),
		task.Attempts,
		task.MaxRetries,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysqldriver.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM attestation_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return task, nil
}

// Claim 将任务标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Task, error) {
	const updateStmt = `UPDATE attestation_tasks SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, updateStmt,
		string(StatusRunning),
		s.now().Unix(),
		id,
		string(StatusPending),
		string(StatusFailed),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}

	task, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if affected > 0 {
		return task, nil
	}
	switch {
	case task.Status == StatusSucceeded:
		return task, ErrTaskCompleted
	case task.Status != StatusRunning && task.Attempts >= task.MaxRetries:
		return task, ErrTaskExhausted
	default:
		return task, ErrTaskConflict
	}
}

// MarkSucceeded 将任务标记为成功。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务结果失败")
	}
	const stmt = `UPDATE attestation_tasks SET status = ?, result = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt, string(StatusSucceeded), string(encoded), s.now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// MarkFailed 将任务标记为失败，terminal 为 true 时将 max_retries 收敛到当前尝试次数。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	const stmt = `UPDATE attestation_tasks SET status = ?, last_error = ?, error_code = ?, updated_at = ?,
        max_retries = CASE WHEN ? THEN attempts ELSE max_retries END WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusFailed),
		lastError,
		string(code),
		s.now().Unix(),
		terminal,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// List 返回符合过滤条件的任务。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()

	query := `SELECT ` + taskColumns + ` FROM attestation_tasks`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	tasks := make([]*Task, 0, opts.Limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return tasks, nil
}

// Stats 返回符合过滤条件的任务聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (TaskStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(CASE WHEN result LIKE ? THEN 1 ELSE 0 END), 0) AS yes_outcomes,
        COALESCE(SUM(CASE WHEN result LIKE ? THEN 1 ELSE 0 END), 0) AS no_outcomes,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM attestation_tasks`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed),
		outcomePattern("YES"), outcomePattern("NO")}
	args = append(args, filterArgs...)

	var stats TaskStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.YesOutcomes,
		&stats.NoOutcomes,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task      Task
		status    string
		question  sql.NullString
		analysis  sql.NullString
		lastError sql.NullString
		result    sql.NullString
	)
	if err := row.Scan(
		&task.ID,
		&task.MarketID,
		&question,
		&task.Evidence,
		&task.Salt,
		&analysis,
		&status,
		&task.Attempts,
		&task.MaxRetries,
		&lastError,
		&task.ErrorCode,
		&result,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.Status = Status(status)
	task.Question = question.String
	task.Analysis = analysis.String
	task.LastError = lastError.String
	if result.Valid && strings.TrimSpace(result.String) != "" {
		var decoded ExecutionResult
		if err := json.Unmarshal([]byte(result.String), &decoded); err != nil {
			return nil, fmt.Errorf("解析任务结果失败: %w", err)
		}
		task.Result = &decoded
	}
	return &task, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.MarketID != "" {
		conditions = append(conditions, "market_id = ?")
		args = append(args, opts.MarketID)
	}
	if opts.Outcome != "" {
		conditions = append(conditions, "result LIKE ?")
		args = append(args, outcomePattern(opts.Outcome))
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "(result IS NOT NULL AND result <> '')")
		} else {
			conditions = append(conditions, "(result IS NULL OR result = '')")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR market_id LIKE ? OR question LIKE ? OR last_error LIKE ? OR result LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

// outcomePattern 匹配 json.Marshal 写入的 result 列中的裁决结果。
func outcomePattern(outcome string) string {
	return `%"outcome":"` + outcome + `"%`
}

var _ Store = (*MySQLStore)(nil)
