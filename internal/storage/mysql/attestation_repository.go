package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const memoryRecordLimit = 512

// AttestationRecord 表示一次争议裁决的落库结构，哈希字段均为 0x 前缀的十六进制串。
type AttestationRecord struct {
	ID             string `json:"id"`
	TaskID         string `json:"task_id,omitempty"`
	MarketID       string `json:"market_id,omitempty"`
	EvidenceHash   string `json:"evidence_hash"`
	Commitment     string `json:"commitment"`
	ValidLength    bool   `json:"valid_length"`
	Outcome        uint8  `json:"outcome"`
	Confidence     uint16 `json:"confidence"`
	ReasoningHash  string `json:"reasoning_hash"`
	Linked         bool   `json:"linked"`
	VoteCommit     string `json:"vote_commit,omitempty"`
	EvidenceDigest string `json:"evidence_digest,omitempty"`
	AnalysisDigest string `json:"analysis_digest,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}

// AttestationRepository 抽象裁决记录的持久化接口。
type AttestationRepository interface {
	Save(ctx context.Context, record AttestationRecord) error
	ListLatest(ctx context.Context, limit int) ([]AttestationRecord, error)
	FindByEvidenceHash(ctx context.Context, evidenceHash string) ([]AttestationRecord, error)
}

// MemoryAttestationRepository 将记录追加写入本地 JSON lines 文件，并在内存中保留最近的记录。
type MemoryAttestationRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []AttestationRecord
}

// NewMemoryAttestationRepository 创建基于文件的仓库，并恢复历史记录。
func NewMemoryAttestationRepository(dataDir string) (*MemoryAttestationRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryAttestationRepository{dataFile: filepath.Join(dataDir, "attestations.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录裁决结果，同一 ID 重复写入时以最新一次为准。
func (m *MemoryAttestationRepository) Save(_ context.Context, record AttestationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开裁决日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化裁决记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入裁决日志失败: %w", err)
	}

	m.records = prependRecord(m.records, record)
	return nil
}

// prependRecord 把记录放到最前面，并移除同 ID 的旧记录。
func prependRecord(records []AttestationRecord, record AttestationRecord) []AttestationRecord {
	kept := make([]AttestationRecord, 0, len(records)+1)
	kept = append(kept, record)
	for _, existing := range records {
		if existing.ID != record.ID {
			kept = append(kept, existing)
		}
	}
	if len(kept) > memoryRecordLimit {
		kept = kept[:memoryRecordLimit]
	}
	return kept
}

// ListLatest 返回最近的记录，按写入时间倒序排列。
func (m *MemoryAttestationRepository) ListLatest(_ context.Context, limit int) ([]AttestationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]AttestationRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// FindByEvidenceHash 返回引用同一份证据的全部记录。
func (m *MemoryAttestationRepository) FindByEvidenceHash(_ context.Context, evidenceHash string) ([]AttestationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := normalizeHash(evidenceHash)
	var results []AttestationRecord
	for _, record := range m.records {
		if normalizeHash(record.EvidenceHash) == want {
			results = append(results, record)
		}
	}
	return results, nil
}

func (m *MemoryAttestationRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取裁决日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []AttestationRecord
	for scanner.Scan() {
		var record AttestationRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = prependRecord(restored, record)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析裁决日志失败: %w", err)
	}
	m.records = restored
	return nil
}

// SQLAttestationRepository 使用 MySQL 存储裁决记录。
type SQLAttestationRepository struct {
	db *sql.DB
}

// NewSQLAttestationRepository 创建连接池并执行内嵌迁移。
func NewSQLAttestationRepository(ctx context.Context, cfg Config) (*SQLAttestationRepository, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLAttestationRepository{db: db}, nil
}

// NewSQLAttestationRepositoryFromDB 复用已有连接，不执行迁移。
func NewSQLAttestationRepositoryFromDB(db *sql.DB) *SQLAttestationRepository {
	return &SQLAttestationRepository{db: db}
}

const attestationColumns = `id, task_id, market_id, evidence_hash, commitment, valid_length, outcome, confidence,
        reasoning_hash, linked, vote_commit, evidence_digest, analysis_digest, created_at`

// Save 将记录写入 MySQL。任务重试会以同一 ID 再次写入，此时覆盖除创建时间外的全部字段。
func (s *SQLAttestationRepository) Save(ctx context.Context, record AttestationRecord) error {
	const stmt = `INSERT INTO attestations (` + attestationColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            task_id = VALUES(task_id),
            market_id = VALUES(market_id),
            evidence_hash = VALUES(evidence_hash),
            commitment = VALUES(commitment),
            valid_length = VALUES(valid_length),
            outcome = VALUES(outcome),
            confidence = VALUES(confidence),
            reasoning_hash = VALUES(reasoning_hash),
            linked = VALUES(linked),
            vote_commit = VALUES(vote_commit),
            evidence_digest = VALUES(evidence_digest),
            analysis_digest = VALUES(analysis_digest)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.TaskID,
		record.MarketID,
		normalizeHash(record.EvidenceHash),
		record.Commitment,
		record.ValidLength,
		record.Outcome,
		record.Confidence,
		record.ReasoningHash,
		record.Linked,
		record.VoteCommit,
		record.EvidenceDigest,
		record.AnalysisDigest,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条记录。
func (s *SQLAttestationRepository) ListLatest(ctx context.Context, limit int) ([]AttestationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+attestationColumns+`
        FROM attestations ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询裁决记录失败: %w", err)
	}
	return scanRecords(rows)
}

// FindByEvidenceHash 查询引用同一证据哈希的记录。
func (s *SQLAttestationRepository) FindByEvidenceHash(ctx context.Context, evidenceHash string) ([]AttestationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attestationColumns+`
        FROM attestations WHERE evidence_hash = ? ORDER BY created_at DESC`, normalizeHash(evidenceHash))
	if err != nil {
		return nil, fmt.Errorf("查询裁决记录失败: %w", err)
	}
	return scanRecords(rows)
}

// Close 关闭底层数据库连接。
func (s *SQLAttestationRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]AttestationRecord, error) {
	defer rows.Close()

	var records []AttestationRecord
	for rows.Next() {
		var record AttestationRecord
		if err := rows.Scan(
			&record.ID,
			&record.TaskID,
			&record.MarketID,
			&record.EvidenceHash,
			&record.Commitment,
			&record.ValidLength,
			&record.Outcome,
			&record.Confidence,
			&record.ReasoningHash,
			&record.Linked,
			&record.VoteCommit,
			&record.EvidenceDigest,
			&record.AnalysisDigest,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("解析裁决记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历裁决记录失败: %w", err)
	}
	return records, nil
}

func normalizeHash(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value != "" && !strings.HasPrefix(value, "0x") {
		value = "0x" + value
	}
	return value
}
