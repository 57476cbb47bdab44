package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	commits   int
	rollbacks int
}

func (f *fakeTx) Commit(context.Context) error   { f.commits++; return nil }
func (f *fakeTx) Rollback(context.Context) error { f.rollbacks++; return nil }

type fakeBeginner struct {
	begins int
	tx     *fakeTx
}

func (f *fakeBeginner) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	f.begins++
	return f.tx, nil
}

func TestWithTxNestedCallsJoinOuterTransaction(t *testing.T) {
	conn := &fakeBeginner{tx: &fakeTx{}}

	err := WithTx(context.Background(), conn, func(ctx context.Context, outer pgx.Tx) error {
		return WithTx(ctx, conn, func(ctx context.Context, inner pgx.Tx) error {
			require.Same(t, outer, inner)
			return nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, 1, conn.begins)
	require.Equal(t, 1, conn.tx.commits)
}

func TestWithTxInnerFailureRollsBackOuter(t *testing.T) {
	conn := &fakeBeginner{tx: &fakeTx{}}
	boom := errors.New("insert failed")

	err := WithTx(context.Background(), conn, func(ctx context.Context, _ pgx.Tx) error {
		if err := WithTx(ctx, conn, func(context.Context, pgx.Tx) error { return nil }); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, conn.begins)
	require.Zero(t, conn.tx.commits)
	require.Equal(t, 1, conn.tx.rollbacks)

	_, ok := TxFromContext(context.Background())
	require.False(t, ok)
}
