package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.RaffleStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.RandomnessStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// --- RaffleStore ------------------------------------------------------------

type roundRow struct {
	Number           int64        `db:"number"`
	State            string       `db:"state"`
	Entries          []byte       `db:"entries"`
	Pool             string       `db:"pool"`
	OpenedAt         time.Time    `db:"opened_at"`
	ClosedAt         sql.NullTime `db:"closed_at"`
	PendingRequestID uint64       `db:"pending_request_id"`
}

// SaveRound upserts the single live round row.
func (s *Store) SaveRound(ctx context.Context, round raffle.Round) error {
	entries, err := json.Marshal(nonNilStrings(round.Entries))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO raffle_rounds (id, number, state, entries, pool, opened_at, closed_at, pending_request_id, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			number = EXCLUDED.number,
			state = EXCLUDED.state,
			entries = EXCLUDED.entries,
			pool = EXCLUDED.pool,
			opened_at = EXCLUDED.opened_at,
			closed_at = EXCLUDED.closed_at,
			pending_request_id = EXCLUDED.pending_request_id,
			updated_at = EXCLUDED.updated_at
	`, round.Number, string(round.State), entries, intString(round.Pool), round.OpenedAt,
		nullableTime(round.ClosedAt), uint64(round.PendingRequestID), time.Now().UTC())
	return err
}

func (s *Store) LoadRound(ctx context.Context) (raffle.Round, error) {
	var row roundRow
	err := s.db.GetContext(ctx, &row, `
		SELECT number, state, entries, pool, opened_at, closed_at, pending_request_id
		FROM raffle_rounds
		WHERE id = 1
	`)
	if err != nil {
		return raffle.Round{}, notFound(err)
	}
	pool, err := parseInt(row.Pool)
	if err != nil {
		return raffle.Round{}, err
	}
	round := raffle.Round{
		Number:           row.Number,
		State:            raffle.State(row.State),
		Pool:             pool,
		OpenedAt:         row.OpenedAt.UTC(),
		PendingRequestID: random.RequestID(row.PendingRequestID),
	}
	if row.ClosedAt.Valid {
		round.ClosedAt = row.ClosedAt.Time.UTC()
	}
	if len(row.Entries) > 0 {
		if err := json.Unmarshal(row.Entries, &round.Entries); err != nil {
			return raffle.Round{}, fmt.Errorf("decode entries: %w", err)
		}
	}
	return round, nil
}

type settlementRow struct {
	Round       int64     `db:"round"`
	RequestID   uint64    `db:"request_id"`
	Winner      string    `db:"winner"`
	WinnerIndex int       `db:"winner_index"`
	Amount      string    `db:"amount"`
	EntryCount  int       `db:"entry_count"`
	TransferID  string    `db:"transfer_id"`
	OpenedAt    time.Time `db:"opened_at"`
	ClosedAt    time.Time `db:"closed_at"`
	SettledAt   time.Time `db:"settled_at"`
}

const settlementColumns = `round, request_id, winner, winner_index, amount, entry_count, transfer_id, opened_at, closed_at, settled_at`

func (s *Store) RecordSettlement(ctx context.Context, settlement raffle.Settlement) (raffle.Settlement, error) {
	if settlement.SettledAt.IsZero() {
		settlement.SettledAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raffle_settlements (`+settlementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, settlement.Round, uint64(settlement.RequestID), settlement.Winner, settlement.WinnerIndex,
		intString(settlement.Amount), settlement.EntryCount, settlement.TransferID,
		settlement.OpenedAt, settlement.ClosedAt, settlement.SettledAt)
	if err != nil {
		return raffle.Settlement{}, err
	}
	return settlement, nil
}

func (s *Store) LatestSettlement(ctx context.Context) (raffle.Settlement, error) {
	var row settlementRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+settlementColumns+`
		FROM raffle_settlements
		ORDER BY round DESC
		LIMIT 1
	`)
	if err != nil {
		return raffle.Settlement{}, notFound(err)
	}
	return row.toDomain()
}

func (s *Store) ListSettlements(ctx context.Context, limit int) ([]raffle.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM raffle_settlements ORDER BY round DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	var rows []settlementRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]raffle.Settlement, 0, len(rows))
	for _, row := range rows {
		settlement, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, settlement)
	}
	return result, nil
}

func (r settlementRow) toDomain() (raffle.Settlement, error) {
	amount, err := parseInt(r.Amount)
	if err != nil {
		return raffle.Settlement{}, err
	}
	return raffle.Settlement{
		Round:       r.Round,
		RequestID:   random.RequestID(r.RequestID),
		Winner:      r.Winner,
		WinnerIndex: r.WinnerIndex,
		Amount:      amount,
		EntryCount:  r.EntryCount,
		TransferID:  r.TransferID,
		OpenedAt:    r.OpenedAt.UTC(),
		ClosedAt:    r.ClosedAt.UTC(),
		SettledAt:   r.SettledAt.UTC(),
	}, nil
}

// --- LedgerStore ------------------------------------------------------------

type accountRow struct {
	Address   string    `db:"address"`
	Balance   string    `db:"balance"`
	UpdatedAt time.Time `db:"updated_at"`
}

type transferRow struct {
	ID          string    `db:"id"`
	Kind        string    `db:"kind"`
	FromAddress string    `db:"from_address"`
	ToAddress   string    `db:"to_address"`
	Amount      string    `db:"amount"`
	Status      string    `db:"status"`
	Error       string    `db:"error"`
	CreatedAt   time.Time `db:"created_at"`
}

func (s *Store) GetLedgerAccount(ctx context.Context, address string) (ledger.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		SELECT address, balance, updated_at
		FROM raffle_ledger_accounts
		WHERE address = $1
	`, address)
	if err != nil {
		return ledger.Account{}, notFound(err)
	}
	balance, err := parseInt(row.Balance)
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{Address: row.Address, Balance: balance, UpdatedAt: row.UpdatedAt.UTC()}, nil
}

func (s *Store) ApplyTransfer(ctx context.Context, tx ledger.Transfer) (ledger.Transfer, error) {
	if tx.Amount == nil || tx.Amount.Sign() <= 0 {
		return ledger.Transfer{}, errors.New("transfer amount must be positive")
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	amount := tx.Amount.String()

	dbtx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ledger.Transfer{}, err
	}
	defer func() { _ = dbtx.Rollback() }()

	if tx.Kind == ledger.KindPayout {
		result, err := dbtx.ExecContext(ctx, `
			UPDATE raffle_ledger_accounts
			SET balance = balance - $2, updated_at = $3
			WHERE address = $1 AND balance >= $2
		`, tx.From, amount, now)
		if err != nil {
			return ledger.Transfer{}, err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ledger.Transfer{}, storage.ErrInsufficientBalance
		}
	}

	if _, err := dbtx.ExecContext(ctx, `
		INSERT INTO raffle_ledger_accounts (address, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE
		SET balance = raffle_ledger_accounts.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
	`, tx.To, amount, now); err != nil {
		return ledger.Transfer{}, err
	}

	if err := insertTransfer(ctx, dbtx, tx); err != nil {
		return ledger.Transfer{}, err
	}
	if err := dbtx.Commit(); err != nil {
		return ledger.Transfer{}, err
	}
	return tx, nil
}

func (s *Store) RecordTransfer(ctx context.Context, tx ledger.Transfer) (ledger.Transfer, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if err := insertTransfer(ctx, s.db, tx); err != nil {
		return ledger.Transfer{}, err
	}
	return tx, nil
}

func (s *Store) ListTransfers(ctx context.Context, address string) ([]ledger.Transfer, error) {
	var rows []transferRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, kind, from_address, to_address, amount, status, error, created_at
		FROM raffle_ledger_transfers
		WHERE $1 = '' OR from_address = $1 OR to_address = $1
		ORDER BY created_at, id
	`, address)
	if err != nil {
		return nil, err
	}

	result := make([]ledger.Transfer, 0, len(rows))
	for _, row := range rows {
		amount, err := parseInt(row.Amount)
		if err != nil {
			return nil, err
		}
		result = append(result, ledger.Transfer{
			ID:        row.ID,
			Kind:      ledger.Kind(row.Kind),
			From:      row.FromAddress,
			To:        row.ToAddress,
			Amount:    amount,
			Status:    ledger.Status(row.Status),
			Error:     row.Error,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return result, nil
}

func insertTransfer(ctx context.Context, exec sqlx.ExecerContext, tx ledger.Transfer) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO raffle_ledger_transfers (id, kind, from_address, to_address, amount, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tx.ID, string(tx.Kind), tx.From, tx.To, intString(tx.Amount), string(tx.Status), tx.Error, tx.CreatedAt)
	return err
}

// --- RandomnessStore --------------------------------------------------------

type subscriptionRow struct {
	ID        uint64 `db:"id"`
	Owner     string `db:"owner"`
	Balance   string `db:"balance"`
	Consumers []byte `db:"consumers"`
}

type requestRow struct {
	ID               uint64         `db:"id"`
	KeyHash          string         `db:"key_hash"`
	SubscriptionID   uint64         `db:"subscription_id"`
	Confirmations    uint16         `db:"confirmations"`
	CallbackGasLimit uint32         `db:"callback_gas_limit"`
	NumWords         uint32         `db:"num_words"`
	Consumer         string         `db:"consumer"`
	Status           string         `db:"status"`
	Words            []byte         `db:"words"`
	Attempts         int            `db:"attempts"`
	LastError        string         `db:"last_error"`
	Payment          sql.NullString `db:"payment"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	FulfilledAt      sql.NullTime   `db:"fulfilled_at"`
}

const requestColumns = `id, key_hash, subscription_id, confirmations, callback_gas_limit, num_words, consumer, status, words, attempts, last_error, payment, created_at, updated_at, fulfilled_at`

func (s *Store) CreateSubscription(ctx context.Context, sub random.Subscription) (random.Subscription, error) {
	if sub.Balance == nil {
		sub.Balance = new(big.Int)
	}
	consumers, err := json.Marshal(nonNilStrings(sub.Consumers))
	if err != nil {
		return random.Subscription{}, err
	}
	err = s.db.QueryRowxContext(ctx, `
		INSERT INTO raffle_vrf_subscriptions (owner, balance, consumers)
		VALUES ($1, $2, $3)
		RETURNING id
	`, sub.Owner, sub.Balance.String(), consumers).Scan(&sub.ID)
	if err != nil {
		return random.Subscription{}, err
	}
	return sub, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub random.Subscription) (random.Subscription, error) {
	consumers, err := json.Marshal(nonNilStrings(sub.Consumers))
	if err != nil {
		return random.Subscription{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE raffle_vrf_subscriptions
		SET owner = $2, balance = $3, consumers = $4
		WHERE id = $1
	`, sub.ID, sub.Owner, intString(sub.Balance), consumers)
	if err != nil {
		return random.Subscription{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return random.Subscription{}, storage.ErrNotFound
	}
	return sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, id uint64) (random.Subscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, owner, balance, consumers
		FROM raffle_vrf_subscriptions
		WHERE id = $1
	`, id)
	if err != nil {
		return random.Subscription{}, notFound(err)
	}
	balance, err := parseInt(row.Balance)
	if err != nil {
		return random.Subscription{}, err
	}
	sub := random.Subscription{ID: row.ID, Owner: row.Owner, Balance: balance}
	if len(row.Consumers) > 0 {
		if err := json.Unmarshal(row.Consumers, &sub.Consumers); err != nil {
			return random.Subscription{}, fmt.Errorf("decode consumers: %w", err)
		}
	}
	return sub, nil
}

func (s *Store) CreateRandomnessRequest(ctx context.Context, rec random.Record) (random.Record, error) {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	words, err := encodeWords(rec.Words)
	if err != nil {
		return random.Record{}, err
	}

	var id uint64
	err = s.db.QueryRowxContext(ctx, `
		INSERT INTO raffle_vrf_requests (key_hash, subscription_id, confirmations, callback_gas_limit, num_words,
			consumer, status, words, attempts, last_error, payment, created_at, updated_at, fulfilled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, rec.Request.KeyHash, rec.Request.SubscriptionID, rec.Request.Confirmations, rec.Request.CallbackGasLimit,
		rec.Request.NumWords, rec.Request.Consumer, string(rec.Status), words, rec.Attempts, rec.LastError,
		nullableInt(rec.Payment), rec.CreatedAt, rec.UpdatedAt, nullableTime(rec.FulfilledAt)).Scan(&id)
	if err != nil {
		return random.Record{}, err
	}
	rec.ID = random.RequestID(id)
	return rec, nil
}

func (s *Store) UpdateRandomnessRequest(ctx context.Context, rec random.Record) (random.Record, error) {
	rec.UpdatedAt = time.Now().UTC()
	words, err := encodeWords(rec.Words)
	if err != nil {
		return random.Record{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE raffle_vrf_requests
		SET status = $2, words = $3, attempts = $4, last_error = $5, payment = $6, updated_at = $7, fulfilled_at = $8
		WHERE id = $1
	`, uint64(rec.ID), string(rec.Status), words, rec.Attempts, rec.LastError,
		nullableInt(rec.Payment), rec.UpdatedAt, nullableTime(rec.FulfilledAt))
	if err != nil {
		return random.Record{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return random.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) GetRandomnessRequest(ctx context.Context, id random.RequestID) (random.Record, error) {
	var row requestRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+requestColumns+`
		FROM raffle_vrf_requests
		WHERE id = $1
	`, uint64(id))
	if err != nil {
		return random.Record{}, notFound(err)
	}
	return row.toDomain()
}

func (s *Store) ListPendingRandomnessRequests(ctx context.Context) ([]random.Record, error) {
	var rows []requestRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+requestColumns+`
		FROM raffle_vrf_requests
		WHERE status = $1
		ORDER BY id
	`, string(random.StatusPending))
	if err != nil {
		return nil, err
	}
	result := make([]random.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func (r requestRow) toDomain() (random.Record, error) {
	rec := random.Record{
		ID: random.RequestID(r.ID),
		Request: random.Request{
			Params: random.Params{
				KeyHash:          r.KeyHash,
				SubscriptionID:   r.SubscriptionID,
				Confirmations:    r.Confirmations,
				CallbackGasLimit: r.CallbackGasLimit,
				NumWords:         r.NumWords,
			},
			Consumer: r.Consumer,
		},
		Status:    random.Status(r.Status),
		Attempts:  r.Attempts,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if len(r.Words) > 0 {
		if err := json.Unmarshal(r.Words, &rec.Words); err != nil {
			return random.Record{}, fmt.Errorf("decode words: %w", err)
		}
	}
	if r.Payment.Valid {
		payment, err := parseInt(r.Payment.String)
		if err != nil {
			return random.Record{}, err
		}
		rec.Payment = payment
	}
	if r.FulfilledAt.Valid {
		rec.FulfilledAt = r.FulfilledAt.Time.UTC()
	}
	return rec, nil
}

// --- helpers ----------------------------------------------------------------

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func parseInt(raw string) (*big.Int, error) {
	if raw == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", raw)
	}
	return v, nil
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func nullableInt(v *big.Int) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func encodeWords(words []*big.Int) (any, error) {
	if words == nil {
		return nil, nil
	}
	raw, err := json.Marshal(words)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
