package repository

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"transfer_cavity_lock/internal/models"
)

var eventColumns = []string{"id", "occurred_at", "type", "message", "meta"}

func TestEventAppend_FillsDefaults(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventSQLite(db)

	isTimestamp := argFunc(func(v any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := time.Parse(sqliteTimestamp, s)
		return err == nil
	})
	isID := argFunc(func(v any) bool {
		s, ok := v.(string)
		return ok && len(s) == 36
	})

	mock.ExpectExec(regexp.QuoteMeta(insertEventSQL)).
		WithArgs(isID, isTimestamp, "STATE_CHANGE", "FREERUNNING -> LASERLOCKING", `{"to":"LASERLOCKING"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Append(testCtx(t), models.LockEvent{
		Type:        "  state_change ",
		Description: "FREERUNNING -> LASERLOCKING",
		Metadata:    map[string]any{"to": "LASERLOCKING"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestEventAppend_DBError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventSQLite(db)

	mock.ExpectExec("INSERT INTO lock_events").WillReturnError(errors.New("down"))

	err := repo.Append(testCtx(t), models.LockEvent{Type: models.EventWarning, Description: "x"})
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected error, got %v", err)
	}
}

func TestEventList_NoFilters(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventSQLite(db)

	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	js, _ := json.Marshal(map[string]any{"kind": "fit_implausible"})
	rows := sqlmock.NewRows(eventColumns).
		AddRow("1", now, "WARNING", "cavity peak: implausible fit", string(js)).
		AddRow("2", now.Add(time.Second), "STOP", "loop stopped", nil)

	mock.ExpectQuery(regexp.QuoteMeta(selectEventSQL + " ORDER BY occurred_at ASC")).WillReturnRows(rows)

	got, err := repo.List(testCtx(t), time.Time{}, time.Time{}, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].EventID != "1" || got[1].EventID != "2" {
		t.Fatalf("unexpected events: %+v", got)
	}
	b, _ := json.Marshal(got[0].Metadata)
	if string(b) != string(js) {
		t.Fatalf("metadata mismatch: %s vs %s", b, js)
	}
	if got[1].Metadata != nil {
		t.Fatalf("expected nil metadata, got %#v", got[1].Metadata)
	}
}

func TestEventList_Filters(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventSQLite(db)

	from := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(selectEventSQL+" WHERE occurred_at >= ? AND occurred_at <= ? AND type = ? ORDER BY occurred_at ASC")).
		WithArgs("2026-01-01 11:00:00.000", "2026-01-01 12:00:00.000", "ERROR").
		WillReturnRows(sqlmock.NewRows(eventColumns).AddRow("3", from, "ERROR", "hardware fault", nil))

	got, err := repo.List(testCtx(t), from, to, " error ")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Type != "ERROR" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestEventList_ScanError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventSQLite(db)

	mock.ExpectQuery(regexp.QuoteMeta(selectEventSQL)).
		WillReturnRows(sqlmock.NewRows(eventColumns).AddRow("x", 123, "INFO", "msg", nil))

	if _, err := repo.List(testCtx(t), time.Time{}, time.Time{}, ""); err == nil {
		t.Fatalf("expected scan error, got nil")
	}
}
