package sidetables

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T, schema string) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return New(db, schema, nil), mock, func() { db.Close() }
}

func TestEnabledTagKeysReadsFromQuery(t *testing.T) {
	store, mock, closeFn := newMockStore(t, "public")
	defer closeFn()

	rows := sqlmock.NewRows([]string{"key"}).AddRow("team").AddRow("environment")
	mock.ExpectQuery(`SELECT key FROM "public"\.reporting_ocpenabledtagkeys WHERE enabled = true`).WillReturnRows(rows)

	got, err := store.EnabledTagKeys(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("EnabledTagKeys() error = %v", err)
	}
	if len(got) != 2 || got[0] != "team" || got[1] != "environment" {
		t.Fatalf("EnabledTagKeys() = %v, want [team environment]", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnabledTagKeysPropagatesQueryError(t *testing.T) {
	store, mock, closeFn := newMockStore(t, "public")
	defer closeFn()

	mock.ExpectQuery(`SELECT key FROM`).WillReturnError(errors.New("query failed"))

	if _, err := store.EnabledTagKeys(context.Background(), "org-1"); err == nil {
		t.Fatalf("EnabledTagKeys() should propagate the query error")
	}
}

func TestCostCategoryRulesReadsFromQuery(t *testing.T) {
	store, mock, closeFn := newMockStore(t, "public")
	defer closeFn()

	rows := sqlmock.NewRows([]string{"id", "name", "namespace_pattern"}).
		AddRow(int64(1), "platform", "kube-*")
	mock.ExpectQuery(`SELECT id, name, namespace_pattern FROM "public"\.reporting_ocp_cost_category`).WillReturnRows(rows)

	got, err := store.CostCategoryRules(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("CostCategoryRules() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != 1 || got[0].NamespacePattern != "kube-*" {
		t.Fatalf("CostCategoryRules() = %+v", got)
	}
}

