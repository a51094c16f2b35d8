package mysql

import (
	"context"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func sampleRecord(id string, createdAt int64) AttestationRecord {
	return AttestationRecord{
		ID:            id,
		MarketID:      "market-1",
		EvidenceHash:  "0xAB",
		Commitment:    "0xcd",
		ValidLength:   true,
		Outcome:       1,
		Confidence:    8500,
		ReasoningHash: "0xef",
		Linked:        true,
		CreatedAt:     createdAt,
	}
}

func TestMemoryAttestationRepositoryPersists(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewMemoryAttestationRepository(dir)
	if err != nil {
		t.Fatalf("创建仓库失败: %v", err)
	}

	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		if err := repo.Save(ctx, sampleRecord(id, int64(i))); err != nil {
			t.Fatalf("保存失败: %v", err)
		}
	}

	latest, err := repo.ListLatest(ctx, 2)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(latest) != 2 || latest[0].ID != "c" || latest[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", latest)
	}

	reopened, err := NewMemoryAttestationRepository(dir)
	if err != nil {
		t.Fatalf("重新打开仓库失败: %v", err)
	}
	all, err := reopened.ListLatest(ctx, 0)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" {
		t.Fatalf("记录未恢复: %+v", all)
	}

	found, err := reopened.FindByEvidenceHash(ctx, "ab")
	if err != nil {
		t.Fatalf("按证据查询失败: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(found))
	}
	none, err := reopened.FindByEvidenceHash(ctx, "0x01")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no matches, got %v %v", none, err)
	}
}

func TestMemoryAttestationRepositoryReplacesSameID(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewMemoryAttestationRepository(dir)
	if err != nil {
		t.Fatalf("创建仓库失败: %v", err)
	}

	ctx := context.Background()
	first := sampleRecord("task-1", 1)
	first.VoteCommit = "0x01"
	second := sampleRecord("task-1", 2)
	second.VoteCommit = "0x02"
	for _, record := range []AttestationRecord{first, sampleRecord("task-2", 1), second} {
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("保存失败: %v", err)
		}
	}

	check := func(r *MemoryAttestationRepository) {
		t.Helper()
		all, err := r.ListLatest(ctx, 0)
		if err != nil {
			t.Fatalf("查询失败: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 records, got %+v", all)
		}
		if all[0].ID != "task-1" || all[0].VoteCommit != "0x02" || all[1].ID != "task-2" {
			t.Fatalf("unexpected records: %+v", all)
		}
	}
	check(repo)

	reopened, err := NewMemoryAttestationRepository(dir)
	if err != nil {
		t.Fatalf("重新打开仓库失败: %v", err)
	}
	check(reopened)
}

func TestSQLAttestationRepositorySave(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("创建 sqlmock 失败: %v", err)
	}
	defer db.Close()

	repo := NewSQLAttestationRepositoryFromDB(db)
	record := sampleRecord("rec-1", 42)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attestations")).
		WithArgs("rec-1", "", "market-1", "0xab", "0xcd", true, sqlmock.AnyArg(), sqlmock.AnyArg(), "0xef", true, "", "", "", int64(42)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Save(context.Background(), record); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("未满足的期望: %v", err)
	}
}

func TestSQLAttestationRepositorySaveUpsertsOnRetry(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("创建 sqlmock 失败: %v", err)
	}
	defer db.Close()

	repo := NewSQLAttestationRepositoryFromDB(db)
	record := sampleRecord("task-1", 42)
	record.VoteCommit = "0x02"

	// MySQL 对命中主键的 upsert 返回 2 行受影响。
	mock.ExpectExec(regexp.QuoteMeta("ON DUPLICATE KEY UPDATE")).
		WithArgs("task-1", "", "market-1", "0xab", "0xcd", true, sqlmock.AnyArg(), sqlmock.AnyArg(), "0xef", true, "0x02", "", "", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := repo.Save(context.Background(), record); err != nil {
		t.Fatalf("重复保存应当覆盖旧记录: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("未满足的期望: %v", err)
	}
}

func TestSQLAttestationRepositoryQueries(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("创建 sqlmock 失败: %v", err)
	}
	defer db.Close()

	columns := []string{"id", "task_id", "market_id", "evidence_hash", "commitment", "valid_length", "outcome", "confidence",
		"reasoning_hash", "linked", "vote_commit", "evidence_digest", "analysis_digest", "created_at"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM attestations ORDER BY created_at DESC LIMIT ?")).
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r2", "t2", "m", "0xab", "0xcd", true, 1, 7000, "0xef", true, "", "", "", 2).
			AddRow("r1", "t1", "m", "0xab", "0xcd", false, 0, 5000, "0xef", true, "", "", "", 1))

	mock.ExpectQuery(regexp.QuoteMeta("FROM attestations WHERE evidence_hash = ?")).
		WithArgs("0xab").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r2", "t2", "m", "0xab", "0xcd", true, 1, 7000, "0xef", true, "", "", "", 2))

	repo := NewSQLAttestationRepositoryFromDB(db)
	latest, err := repo.ListLatest(context.Background(), 0)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(latest) != 2 || latest[0].Confidence != 7000 || latest[0].Outcome != 1 || latest[1].ValidLength {
		t.Fatalf("unexpected records: %+v", latest)
	}

	found, err := repo.FindByEvidenceHash(context.Background(), "AB")
	if err != nil {
		t.Fatalf("按证据查询失败: %v", err)
	}
	if len(found) != 1 || found[0].ID != "r2" {
		t.Fatalf("unexpected match: %+v", found)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("未满足的期望: %v", err)
	}
}

func TestMigrateAppliesPendingFiles(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("创建 sqlmock 失败: %v", err)
	}
	defer db.Close()

	files := fstest.MapFS{
		"0001_init.sql":  {Data: []byte("CREATE TABLE a (id INT);\nCREATE TABLE b (id INT);")},
		"0002_index.sql": {Data: []byte("CREATE INDEX idx ON a (id);")},
		"README.md":      {Data: []byte("ignored")},
	}

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX idx ON a (id)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WithArgs("0002", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := migrate(context.Background(), db, files); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("未满足的期望: %v", err)
	}
}

func TestSplitSQLStatements(t *testing.T) {
	got := splitSQLStatements("CREATE TABLE a (id INT);\n\n ; CREATE TABLE b (id INT);  ")
	if len(got) != 2 || got[0] != "CREATE TABLE a (id INT)" || got[1] != "CREATE TABLE b (id INT)" {
		t.Fatalf("unexpected statements: %q", got)
	}
}
