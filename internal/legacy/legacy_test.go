package legacy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls []execCall
	err   error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func settledFlow() model.FlowRecord {
	return model.FlowRecord{
		ID:       uuid.MustParse("6c1d7a52-2f4e-4a55-9d1b-0b8a1f6f5e21"),
		ClientID: "acme",
		State:    model.FlowSettled,
		Bundle: &model.Bundle{
			MatchResult: model.MatchResult{
				BaseMint:    "0xbase",
				QuoteMint:   "0xquote",
				BaseAmount:  model.NewAmount(4),
				QuoteAmount: model.NewAmount(10),
				Direction:   model.SideBuy,
			},
		},
		TxHash:    "0xabc",
		UpdatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecordSettledTrade_Upserts(t *testing.T) {
	db := &fakeDB{}
	w := NewTradeSyncWriter(db, zap.NewNop(), "darkpool-adapter", "renegade")

	require.NoError(t, w.RecordSettledTrade(context.Background(), settledFlow()))
	require.Len(t, db.calls, 1)

	call := db.calls[0]
	assert.Contains(t, call.sql, "activity.t_order")
	require.Len(t, call.args, 16)
	assert.Equal(t, "6c1d7a52-2f4e-4a55-9d1b-0b8a1f6f5e21", call.args[0])
	assert.Equal(t, "0xbase/0xquote", call.args[1])
	assert.True(t, decimal.RequireFromString("2.5").Equal(call.args[2].(decimal.Decimal)))
	assert.True(t, decimal.NewFromInt(4).Equal(call.args[3].(decimal.Decimal)))
	assert.Equal(t, "buy", call.args[4])
	assert.Equal(t, "settled", call.args[5])
	assert.Equal(t, "acme", call.args[7])
	assert.Equal(t, "renegade", call.args[10])
	assert.Equal(t, "darkpool-adapter", call.args[12])
	assert.Equal(t, "0xabc", call.args[14])
}

func TestRecordSettledTrade_SkipsUnsettled(t *testing.T) {
	db := &fakeDB{}
	w := NewTradeSyncWriter(db, nil, "darkpool-adapter", "renegade")

	rec := settledFlow()
	rec.State = model.FlowExpired
	require.NoError(t, w.RecordSettledTrade(context.Background(), rec))

	rec = settledFlow()
	rec.Bundle = nil
	require.NoError(t, w.RecordSettledTrade(context.Background(), rec))

	assert.Empty(t, db.calls)
}

func TestRecordSettledTrade_ZeroBaseAmount(t *testing.T) {
	db := &fakeDB{}
	w := NewTradeSyncWriter(db, nil, "darkpool-adapter", "renegade")

	rec := settledFlow()
	rec.Bundle.MatchResult.BaseAmount = model.NewAmount(0)
	require.NoError(t, w.RecordSettledTrade(context.Background(), rec))
	require.Len(t, db.calls, 1)
	assert.True(t, db.calls[0].args[2].(decimal.Decimal).IsZero())
}

func TestRecordSettledTrade_ExecError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	w := NewTradeSyncWriter(db, nil, "darkpool-adapter", "renegade")

	err := w.RecordSettledTrade(context.Background(), settledFlow())
	assert.ErrorContains(t, err, "connection refused")
}
