package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var convCols = []string{"id", "participant_a", "participant_b", "created_at", "updated_at", "deleted_at"}

func TestFindOrCreateReturnsExistingSymmetrically(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("(?s)select .*from conversations.*participant_a=.*participant_b=").
		WithArgs("u2", "u1").
		WillReturnRows(sqlmock.NewRows(convCols).AddRow("c1", "u1", "u2", now, now, nil))

	store := NewPGStore(db)

	// Lookup with reversed participant order still finds the thread.
	conv, err := store.FindOrCreate(context.Background(), "u2", "u1")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if conv == nil || conv.ID != "c1" {
		t.Fatalf("expected existing conversation, got %+v", conv)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindOrCreateInsertsWhenAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("(?s)select .*from conversations.*participant_a=").
		WithArgs("u1", "u2").
		WillReturnRows(sqlmock.NewRows(convCols))
	mock.ExpectQuery(`select count\(\*\) from users where id in`).
		WithArgs("u1", "u2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("(?s)insert into conversations.*returning created_at, updated_at").
		WithArgs(sqlmock.AnyArg(), "u1", "u2").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	store := NewPGStore(db)
	conv, err := store.FindOrCreate(context.Background(), "u1", "u2")
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if conv.ID == "" || conv.ParticipantA != "u1" || conv.ParticipantB != "u2" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindOrCreateRejectsSelfConversation(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGStore(db)
	if _, err := store.FindOrCreate(context.Background(), "u1", "u1"); !errors.Is(err, ErrSelfConversation) {
		t.Fatalf("expected ErrSelfConversation, got %v", err)
	}
}

func TestFindOrCreateRejectsUnknownParticipant(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("(?s)select .*from conversations.*participant_a=").
		WithArgs("u1", "ghost").
		WillReturnRows(sqlmock.NewRows(convCols))
	mock.ExpectQuery(`select count\(\*\) from users where id in`).
		WithArgs("u1", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	store := NewPGStore(db)
	if _, err := store.FindOrCreate(context.Background(), "u1", "ghost"); !errors.Is(err, ErrInvalidParticipant) {
		t.Fatalf("expected ErrInvalidParticipant, got %v", err)
	}
}

func TestGetExcludesSoftDeleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("(?s)select .*from conversations.*where id=.*deleted_at is null").
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows(convCols))

	store := NewPGStore(db)
	if _, err := store.Get(context.Background(), "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListForUserOrdersByActivity(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(convCols).
		AddRow("c2", "u1", "u3", now, now, nil).
		AddRow("c1", "u2", "u1", now.Add(-time.Hour), now.Add(-time.Hour), nil)
	mock.ExpectQuery("(?s)select .*from conversations.*order by updated_at desc.*limit").
		WithArgs("u1", 20, 0).
		WillReturnRows(rows)

	store := NewPGStore(db)
	list, err := store.ListForUser(context.Background(), "u1", 0, 0)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(list) != 2 || list[0].ID != "c2" || list[1].ID != "c1" {
		t.Fatalf("unexpected listing: %+v", list)
	}
	if other := list[1].Other("u1"); other != "u2" {
		t.Fatalf("Other: expected u2, got %s", other)
	}
}

func TestTouchTargetsLiveRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update conversations set updated_at=now\\(\\) where id=.* and deleted_at is null").
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db)
	if err := store.Touch(context.Background(), "c1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
