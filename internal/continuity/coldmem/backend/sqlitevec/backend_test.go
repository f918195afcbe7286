package sqlitevec

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/cortexd/runtime/internal/continuity/coldmem/backend"
	"github.com/cortexd/runtime/pkg/models"
)

func setupMockBackend(t *testing.T) (sqlmock.Sqlmock, *Backend) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return mock, &Backend{db: db, dimension: 4}
}

func TestBackend_Upsert(t *testing.T) {
	tests := []struct {
		name      string
		nodes     []*models.MemoryNode
		setupMock func(sqlmock.Sqlmock)
		wantErr   bool
	}{
		{
			name:  "no nodes is a no-op",
			nodes: nil,
			setupMock: func(mock sqlmock.Sqlmock) {
				// No expectations: Upsert must not touch the database.
			},
		},
		{
			name: "single node",
			nodes: []*models.MemoryNode{
				{ID: "n1", EntityID: "e1", UserID: "u1", Type: models.NodeAnchor, Content: "hi"},
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectPrepare("INSERT INTO memory_nodes")
				mock.ExpectExec("INSERT INTO memory_nodes").
					WithArgs("n1", "e1", "u1", string(models.NodeAnchor), "hi", sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "exec failure rolls back",
			nodes: []*models.MemoryNode{
				{ID: "n1", EntityID: "e1", UserID: "u1", Type: models.NodeAnchor, Content: "hi"},
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectPrepare("INSERT INTO memory_nodes")
				mock.ExpectExec("INSERT INTO memory_nodes").
					WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, b := setupMockBackend(t)
			tt.setupMock(mock)

			err := b.Upsert(context.Background(), tt.nodes)
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestBackend_Get(t *testing.T) {
	mock, b := setupMockBackend(t)
	rows := sqlmock.NewRows([]string{"node_json"}).
		AddRow(`{"id":"n1","entity_id":"e1","user_id":"u1","type":"ANCHOR","content":"hi"}`)
	mock.ExpectQuery("SELECT node_json FROM memory_nodes WHERE id IN").
		WithArgs("n1").
		WillReturnRows(rows)

	got, err := b.Get(context.Background(), []string{"n1"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 || got[0].ID != "n1" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBackend_Get_empty(t *testing.T) {
	_, b := setupMockBackend(t)
	got, err := b.Get(context.Background(), nil)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
}

func TestBackend_Delete(t *testing.T) {
	mock, b := setupMockBackend(t)
	mock.ExpectExec("DELETE FROM memory_nodes WHERE id IN").
		WithArgs("n1", "n2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := b.Delete(context.Background(), []string{"n1", "n2"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBackend_Count(t *testing.T) {
	mock, b := setupMockBackend(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM memory_nodes WHERE entity_id = \\? AND user_id = \\?").
		WithArgs("e1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	got, err := b.Count(context.Background(), "e1", "u1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

var _ backend.Backend = (*Backend)(nil)
