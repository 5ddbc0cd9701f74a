package legacy

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

// DBExecutor is the subset of pgxpool.Pool the writer needs.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const upsertOrderQuery = `
	INSERT INTO activity.t_order (
		s_id_order,
		s_instrument_pair,
		dec_price,
		dec_quantity,
		s_side,
		s_status,
		s_type,
		s_id_client,
		dt_order,
		s_id_rfq,
		s_provider,
		s_notes,
		s_source,
		s_source_type,
		s_id_order_external,
		s_id_rfq_external
	)
	VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9,
		$10, $11, $12, $13, $14, $15, $16
	)
	ON CONFLICT (s_id_order)
	DO UPDATE SET
		s_status = EXCLUDED.s_status,
		dec_price = EXCLUDED.dec_price,
		dec_quantity = EXCLUDED.dec_quantity,
		dt_order = EXCLUDED.dt_order,
		s_notes = EXCLUDED.s_notes,
		s_id_order_external = EXCLUDED.s_id_order_external;
`

// TradeSyncWriter mirrors settled darkpool matches into the legacy
// activity.t_order table.
type TradeSyncWriter struct {
	db       DBExecutor
	logger   *zap.Logger
	source   string
	provider string
}

// NewTradeSyncWriter constructs a writer for activity.t_order. source
// identifies the adapter writing the record (e.g. "darkpool-adapter").
func NewTradeSyncWriter(db DBExecutor, logger *zap.Logger, source, provider string) *TradeSyncWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradeSyncWriter{
		db:       db,
		logger:   logger,
		source:   source,
		provider: provider,
	}
}

// RecordSettledTrade upserts the trade for a settled flow. Flows without a
// bundle are ignored.
func (w *TradeSyncWriter) RecordSettledTrade(ctx context.Context, rec model.FlowRecord) error {
	if rec.State != model.FlowSettled || rec.Bundle == nil {
		return nil
	}
	m := rec.Bundle.MatchResult

	price := decimal.Zero
	if m.BaseAmount.IsPositive() {
		price = m.QuoteAmount.Decimal.Div(m.BaseAmount.Decimal)
	}
	flowID := rec.ID.String()

	_, err := w.db.Exec(ctx, upsertOrderQuery,
		flowID,                               // s_id_order
		m.BaseMint+"/"+m.QuoteMint,           // s_instrument_pair
		price,                                // dec_price
		m.BaseAmount.Decimal,                 // dec_quantity
		strings.ToLower(string(m.Direction)), // s_side
		string(model.FlowSettled),            // s_status
		"MARKET",                             // s_type
		rec.ClientID,                         // s_id_client
		rec.UpdatedAt,                        // dt_order
		flowID,                               // s_id_rfq
		w.provider,                           // s_provider
		"tx "+rec.TxHash,                     // s_notes
		w.source,                             // s_source
		"automated",                          // s_source_type
		rec.TxHash,                           // s_id_order_external
		nil,                                  // s_id_rfq_external
	)
	if err != nil {
		w.logger.Error("legacy.trade_sync_failed",
			zap.String("flow", flowID),
			zap.String("client_id", rec.ClientID),
			zap.Error(err),
		)
		return err
	}

	w.logger.Info("legacy.trade_sync_upsert",
		zap.String("flow", flowID),
		zap.String("client_id", rec.ClientID),
		zap.String("tx_hash", rec.TxHash),
		zap.Time("settled_at", rec.UpdatedAt),
	)
	return nil
}
