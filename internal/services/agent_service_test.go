package services

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ficore/backend/internal/models"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func newAgentServiceForTest(t *testing.T) (*AgentService, sqlmock.Sqlmock, redismock.ClientMock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	redisClient, redisMock := redismock.NewClientMock()
	ledger := NewCreditLedgerService(db, nil)
	topups := NewTopUpService(db, redisClient, ledger, nil)
	service := NewAgentService(db, topups, ledger, nil)

	return service, mock, redisMock, func() { db.Close() }
}

func TestAgentService_RegisterTrader(t *testing.T) {
	service, mock, _, cleanup := newAgentServiceForTest(t)
	defer cleanup()

	input := RegisterTraderInput{
		Username:  "Amina",
		Email:     "Amina@Example.com",
		FirstName: "Amina",
		LastName:  "Bello",
	}

	t.Run("creates trader with signup bonus and credential", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM users WHERE username = \\$1\\)").
			WithArgs("amina", "amina@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"username_taken", "email_taken"}).AddRow(false, false))

		mock.ExpectBegin()

		mock.ExpectQuery("INSERT INTO users").
			WithArgs("amina", "amina@example.com", "Amina", "Bello", "trader", "agent1", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs("amina", 0, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(20), sqlmock.AnyArg(), "amina").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("amina", int64(20), "signup_bonus", "signup bonus for amina registered by agent agent1", "agent1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO audit_logs").
			WithArgs("agent1", "ledger_signup_bonus", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO temp_credentials").
			WithArgs("amina", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		trader, err := service.RegisterTrader(context.Background(), "agent1", input)
		assert.NoError(t, err)
		assert.Equal(t, "amina", trader.User.Username)
		assert.Equal(t, models.RoleTrader, trader.User.Role)
		assert.Equal(t, "agent1", trader.User.RegisteredByAgent)
		assert.Equal(t, int64(20), trader.Balance)
		assert.Len(t, trader.Credential.Secret, 10)
		assert.True(t, trader.Credential.ExpiresAt.After(time.Now()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("username taken", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM users WHERE username = \\$1\\)").
			WithArgs("amina", "amina@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"username_taken", "email_taken"}).AddRow(true, false))

		_, err := service.RegisterTrader(context.Background(), "agent1", input)
		assert.ErrorIs(t, err, ErrUsernameTaken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("email taken", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM users WHERE username = \\$1\\)").
			WithArgs("amina", "amina@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"username_taken", "email_taken"}).AddRow(false, true))

		_, err := service.RegisterTrader(context.Background(), "agent1", input)
		assert.ErrorIs(t, err, ErrEmailTaken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAgentService_SubmitCreditRequestForTrader(t *testing.T) {
	service, mock, redisMock, cleanup := newAgentServiceForTest(t)
	defer cleanup()

	t.Run("tags the facilitating agent", func(t *testing.T) {
		mock.ExpectQuery("SELECT role FROM users WHERE username = \\$1").
			WithArgs("amina").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("trader"))

		redisMock.ExpectGet("topup:ratelimit:amina").RedisNil()

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("amina").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		mock.ExpectExec("INSERT INTO topup_requests").
			WithArgs(sqlmock.AnyArg(), "amina", int64(50), "cash", "", "pending", "agent1", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		redisMock.ExpectIncr("topup:ratelimit:amina").SetVal(1)
		redisMock.ExpectExpire("topup:ratelimit:amina", 24*time.Hour).SetVal(true)

		req, err := service.SubmitCreditRequestForTrader(context.Background(), "agent1", "amina", 50, "cash")
		assert.NoError(t, err)
		assert.Equal(t, "agent1", req.FacilitatedByAgent)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("target must be a trader", func(t *testing.T) {
		mock.ExpectQuery("SELECT role FROM users WHERE username = \\$1").
			WithArgs("admin1").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("admin"))

		_, err := service.SubmitCreditRequestForTrader(context.Background(), "agent1", "admin1", 50, "cash")
		assert.ErrorIs(t, err, ErrTraderNotFound)
	})

	t.Run("unknown trader", func(t *testing.T) {
		mock.ExpectQuery("SELECT role FROM users WHERE username = \\$1").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := service.SubmitCreditRequestForTrader(context.Background(), "agent1", "ghost", 50, "cash")
		assert.ErrorIs(t, err, ErrTraderNotFound)
	})
}

func TestAgentService_AssistTrader(t *testing.T) {
	service, mock, _, cleanup := newAgentServiceForTest(t)
	defer cleanup()

	t.Run("adds the agent to the assisted-by set", func(t *testing.T) {
		mock.ExpectQuery("SELECT role FROM users WHERE username = \\$1").
			WithArgs("amina").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("trader"))

		mock.ExpectExec("UPDATE users").
			WithArgs("amina", "agent2", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := service.AssistTrader(context.Background(), "agent2", "amina")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("re-adding an existing member is a no-op", func(t *testing.T) {
		mock.ExpectQuery("SELECT role FROM users WHERE username = \\$1").
			WithArgs("amina").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("trader"))

		// The guarded update matches no row when the agent is already
		// a member.
		mock.ExpectExec("UPDATE users").
			WithArgs("amina", "agent2", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.AssistTrader(context.Background(), "agent2", "amina")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAgentService_VerifyCredential(t *testing.T) {
	service, mock, _, cleanup := newAgentServiceForTest(t)
	defer cleanup()

	t.Run("valid credential is consumed once", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT used, expires_at FROM temp_credentials").
			WithArgs("amina", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"used", "expires_at"}).
				AddRow(false, time.Now().Add(time.Hour)))

		mock.ExpectExec("UPDATE temp_credentials").
			WithArgs("amina", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		err := service.VerifyCredential(context.Background(), "amina", "ABCDEFGH23")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired credential", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT used, expires_at FROM temp_credentials").
			WithArgs("amina", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"used", "expires_at"}).
				AddRow(false, time.Now().Add(-time.Minute)))

		mock.ExpectRollback()

		err := service.VerifyCredential(context.Background(), "amina", "ABCDEFGH23")
		assert.ErrorIs(t, err, ErrCredentialInvalid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already used credential", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT used, expires_at FROM temp_credentials").
			WithArgs("amina", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"used", "expires_at"}).
				AddRow(true, time.Now().Add(time.Hour)))

		mock.ExpectRollback()

		err := service.VerifyCredential(context.Background(), "amina", "ABCDEFGH23")
		assert.ErrorIs(t, err, ErrCredentialInvalid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown credential", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT used, expires_at FROM temp_credentials").
			WithArgs("amina", sqlmock.AnyArg()).
			WillReturnError(sql.ErrNoRows)

		mock.ExpectRollback()

		err := service.VerifyCredential(context.Background(), "amina", "WRONGSECRT")
		assert.ErrorIs(t, err, ErrCredentialInvalid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAgentService_CleanupExpiredCredentials(t *testing.T) {
	service, mock, _, cleanup := newAgentServiceForTest(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM temp_credentials").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := service.CleanupExpiredCredentials(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAgentService_Secrets(t *testing.T) {
	service, _, _, cleanup := newAgentServiceForTest(t)
	defer cleanup()

	t.Run("generated secrets use the unambiguous charset", func(t *testing.T) {
		const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
		secret := service.generateSecret()
		assert.Len(t, secret, 10)
		for _, c := range secret {
			assert.True(t, strings.ContainsRune(charset, c))
		}
	})

	t.Run("hashing is deterministic", func(t *testing.T) {
		first := service.hashSecret("ABCDEFGH23")
		second := service.hashSecret("ABCDEFGH23")
		assert.Equal(t, first, second)
		assert.Len(t, first, 64)
		assert.NotEqual(t, first, service.hashSecret("ABCDEFGH24"))
	})
}
