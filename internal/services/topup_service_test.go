package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ficore/backend/internal/models"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestTopUpService_SubmitRequest(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewTopUpService(db, redisClient, NewCreditLedgerService(db, nil), nil)

	t.Run("successful submission", func(t *testing.T) {
		userID := "trader1"

		redisMock.ExpectGet("topup:ratelimit:trader1").RedisNil()

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		mock.ExpectExec("INSERT INTO topup_requests").
			WithArgs(sqlmock.AnyArg(), userID, int64(50), "bank_transfer", "receipt-001", "pending", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		redisMock.ExpectIncr("topup:ratelimit:trader1").SetVal(1)
		redisMock.ExpectExpire("topup:ratelimit:trader1", 24*time.Hour).SetVal(true)

		req, err := service.SubmitRequest(context.Background(), userID, 50, "bank_transfer", "receipt-001", "")
		assert.NoError(t, err)
		assert.Equal(t, models.TopUpPending, req.Status)
		assert.NotEmpty(t, req.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("disallowed amount", func(t *testing.T) {
		_, err := service.SubmitRequest(context.Background(), "trader1", 37, "card", "", "")
		assert.ErrorIs(t, err, ErrAmountNotAllowed)
	})

	t.Run("rate limited", func(t *testing.T) {
		redisMock.ExpectGet("topup:ratelimit:trader1").SetVal("10")

		_, err := service.SubmitRequest(context.Background(), "trader1", 50, "card", "", "")
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		redisMock.ExpectGet("topup:ratelimit:ghost").RedisNil()

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := service.SubmitRequest(context.Background(), "ghost", 10, "cash", "", "")
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTopUpService_ResolveRequest(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, _ := redismock.NewClientMock()
	service := NewTopUpService(db, redisClient, NewCreditLedgerService(db, nil), nil)

	t.Run("approval credits the account in the same transaction", func(t *testing.T) {
		requestID := "req1"
		userID := "trader1"
		amount := int64(50)

		mock.ExpectBegin()

		mock.ExpectQuery("UPDATE topup_requests").
			WithArgs(requestID, "approved", "admin1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "payment_method", "receipt_reference", "facilitated_by_agent", "created_at"}).
				AddRow(userID, amount, "bank_transfer", "receipt-001", "", time.Now()))

		mock.ExpectExec("UPDATE accounts").
			WithArgs(amount, sqlmock.AnyArg(), userID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(userID, amount, "add", "top-up approval req1 via bank_transfer", "admin1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO audit_logs").
			WithArgs("admin1", "ledger_add", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		req, err := service.ResolveRequest(context.Background(), requestID, true, "admin1")
		assert.NoError(t, err)
		assert.Equal(t, models.TopUpApproved, req.Status)
		assert.Equal(t, userID, req.UserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("denial never touches the ledger", func(t *testing.T) {
		requestID := "req2"

		mock.ExpectBegin()

		mock.ExpectQuery("UPDATE topup_requests").
			WithArgs(requestID, "denied", "admin1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "payment_method", "receipt_reference", "facilitated_by_agent", "created_at"}).
				AddRow("trader1", int64(10), "cash", "", "", time.Now()))

		mock.ExpectCommit()

		req, err := service.ResolveRequest(context.Background(), requestID, false, "admin1")
		assert.NoError(t, err)
		assert.Equal(t, models.TopUpDenied, req.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second resolution fails", func(t *testing.T) {
		requestID := "req1"

		mock.ExpectBegin()

		// Conditional flip matches nothing once the request left pending.
		mock.ExpectQuery("UPDATE topup_requests").
			WithArgs(requestID, "denied", "admin2", sqlmock.AnyArg()).
			WillReturnError(sql.ErrNoRows)

		mock.ExpectQuery("SELECT status FROM topup_requests WHERE id = \\$1").
			WithArgs(requestID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("approved"))

		mock.ExpectRollback()

		_, err := service.ResolveRequest(context.Background(), requestID, false, "admin2")
		assert.ErrorIs(t, err, ErrAlreadyResolved)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown request", func(t *testing.T) {
		requestID := "ghost"

		mock.ExpectBegin()

		mock.ExpectQuery("UPDATE topup_requests").
			WithArgs(requestID, "approved", "admin1", sqlmock.AnyArg()).
			WillReturnError(sql.ErrNoRows)

		mock.ExpectQuery("SELECT status FROM topup_requests WHERE id = \\$1").
			WithArgs(requestID).
			WillReturnError(sql.ErrNoRows)

		mock.ExpectRollback()

		_, err := service.ResolveRequest(context.Background(), requestID, true, "admin1")
		assert.ErrorIs(t, err, ErrRequestNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed credit rolls back the status flip", func(t *testing.T) {
		requestID := "req3"
		userID := "ghost"
		amount := int64(100)

		mock.ExpectBegin()

		mock.ExpectQuery("UPDATE topup_requests").
			WithArgs(requestID, "approved", "admin1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "payment_method", "receipt_reference", "facilitated_by_agent", "created_at"}).
				AddRow(userID, amount, "ussd", "", "", time.Now()))

		mock.ExpectExec("UPDATE accounts").
			WithArgs(amount, sqlmock.AnyArg(), userID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectRollback()

		_, err := service.ResolveRequest(context.Background(), requestID, true, "admin1")
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTopUpService_ListPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, _ := redismock.NewClientMock()
	service := NewTopUpService(db, redisClient, NewCreditLedgerService(db, nil), nil)

	t.Run("returns oldest first", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, amount, payment_method, receipt_reference, facilitated_by_agent, created_at, updated_at FROM topup_requests").
			WithArgs(50).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "payment_method", "receipt_reference", "facilitated_by_agent", "created_at", "updated_at"}).
				AddRow("req1", "trader1", int64(50), "bank_transfer", "receipt-001", "", time.Now(), time.Now()).
				AddRow("req2", "trader2", int64(10), "cash", "", "agent1", time.Now(), time.Now()))

		requests, err := service.ListPending(context.Background(), 50)
		assert.NoError(t, err)
		assert.Len(t, requests, 2)
		assert.Equal(t, models.TopUpPending, requests[0].Status)
		assert.Equal(t, "agent1", requests[1].FacilitatedByAgent)
	})
}

func TestTopUpService_PaymentReferenceQR(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, _ := redismock.NewClientMock()
	service := NewTopUpService(db, redisClient, NewCreditLedgerService(db, nil), nil)

	t.Run("encodes the payment payload", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id, amount, payment_method, receipt_reference, status, admin_id, facilitated_by_agent, created_at, updated_at FROM topup_requests").
			WithArgs("req1").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "payment_method", "receipt_reference", "status", "admin_id", "facilitated_by_agent", "created_at", "updated_at"}).
				AddRow("trader1", int64(50), "bank_transfer", "receipt-001", "pending", nil, "", time.Now(), time.Now()))

		png, err := service.PaymentReferenceQR(context.Background(), "req1")
		assert.NoError(t, err)
		assert.NotEmpty(t, png)
	})

	t.Run("unknown request", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id, amount, payment_method, receipt_reference, status, admin_id, facilitated_by_agent, created_at, updated_at FROM topup_requests").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := service.PaymentReferenceQR(context.Background(), "ghost")
		assert.ErrorIs(t, err, ErrRequestNotFound)
	})
}
