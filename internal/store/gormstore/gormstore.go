// Package gormstore persists the monetization aggregates with GORM,
// supporting both PostgreSQL and sqlite.
package gormstore

import (
	"errors"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	constraintTransactionEvent = "uniq_token_transactions_event"
	constraintBreakdownBooking = "fee_breakdowns_pkey"
	constraintPayoutBooking    = "uniq_payouts_booking"
	defaultMetadataJSON        = "{}"
	pgUniqueViolationCode      = "23505"
	sqliteConstraintCode       = 19

	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectTransaction = "transaction"
	errorSubjectBoost       = "boost"
	errorSubjectBreakdown   = "breakdown"
	errorSubjectPayout      = "payout"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeUpdate         = "update"
	errorCodeUpdateStatus   = "update_status"
)

func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintName
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}
