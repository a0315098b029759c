package store

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type contextKey int

const (
	transactionKey contextKey = iota
)

type tx struct {
	db *gorm.DB
}

// Commit finishes the transaction carried by the context, if any.
func Commit(ctx context.Context) (context.Context, error) {
	t, ok := ctx.Value(transactionKey).(*tx)
	if !ok {
		return ctx, nil
	}

	newCtx := context.WithValue(ctx, transactionKey, nil)
	return newCtx, t.db.Commit().Error
}

// Rollback aborts the transaction carried by the context, if any.
func Rollback(ctx context.Context) (context.Context, error) {
	t, ok := ctx.Value(transactionKey).(*tx)
	if !ok {
		return ctx, nil
	}

	newCtx := context.WithValue(ctx, transactionKey, nil)
	return newCtx, t.db.Rollback().Error
}

// FromContext returns the transaction bound to the context, or nil.
func FromContext(ctx context.Context) *gorm.DB {
	if t, found := ctx.Value(transactionKey).(*tx); found && t != nil {
		return t.db
	}
	return nil
}

func newTransactionContext(ctx context.Context, db *gorm.DB) (context.Context, error) {
	// nested transactions reuse the outer one
	if _, found := ctx.Value(transactionKey).(*tx); found {
		return ctx, nil
	}

	conn := db.Session(&gorm.Session{Context: ctx}).Begin()
	if conn.Error != nil {
		zap.S().Named("store").Errorw("failed to begin transaction", "error", conn.Error)
		return ctx, conn.Error
	}

	return context.WithValue(ctx, transactionKey, &tx{db: conn}), nil
}
