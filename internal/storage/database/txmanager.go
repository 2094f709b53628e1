// Package database передаёт локальную транзакцию через context.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// txKey - ключ context для открытой транзакции.
type txKey struct{}

// detached помечает context, из которого намеренно убрана транзакция.
type detached struct{}

// Querier - общий интерфейс *sql.DB и *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ContextWithTx кладёт транзакцию (любого хранилища) в context.
func ContextWithTx(ctx context.Context, tx any) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext возвращает транзакцию из context.
func TxFromContext(ctx context.Context) (any, bool) {
	tx := ctx.Value(txKey{})
	if tx == nil {
		return nil, false
	}
	if _, ok := tx.(detached); ok {
		return nil, false
	}
	return tx, true
}

// Detach возвращает context без транзакции: следующий WithTx откроет независимую единицу работы.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey{}, detached{})
}

// SQLTxManager реализует domain.TxManager поверх database/sql.
type SQLTxManager struct {
	db *sql.DB
}

// NewTxManager создаёт менеджер транзакций для db.
func NewTxManager(db *sql.DB) *SQLTxManager {
	return &SQLTxManager{db: db}
}

// WithTx выполняет fn в транзакции. Если ctx уже несёт транзакцию, fn выполняется в ней.
func (m *SQLTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		if _, isSQL := tx.(*sql.Tx); isSQL {
			return fn(ctx)
		}
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(ContextWithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetTx возвращает транзакцию из context или само подключение.
func GetTx(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := TxFromContext(ctx); ok {
		if sqlTx, ok := tx.(*sql.Tx); ok {
			return sqlTx
		}
	}
	return db
}
