// Package httpapi exposes the raffle over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	app "github.com/R3E-Network/raffle_layer/internal/app"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	"github.com/R3E-Network/raffle_layer/internal/app/metrics"
	automationsvc "github.com/R3E-Network/raffle_layer/internal/app/services/automation"
	ledgersvc "github.com/R3E-Network/raffle_layer/internal/app/services/ledger"
	rafflesvc "github.com/R3E-Network/raffle_layer/internal/app/services/raffle"
	randomsvc "github.com/R3E-Network/raffle_layer/internal/app/services/random"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	"github.com/R3E-Network/raffle_layer/internal/middleware"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

const defaultWinnersLimit = 20

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app      *app.Application
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewHandler returns a router exposing the raffle API.
func NewHandler(application *app.Application, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{
		app: application,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	server := application.Config().Server
	limiter := middleware.NewRateLimiter(server.EntryRateLimit, server.EntryRateBurst, log)

	router := mux.NewRouter()
	router.Use(middleware.Logging(log))

	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/raffle", h.raffleState).Methods(http.MethodGet)
	router.Handle("/raffle/entries", limiter.Handler(http.HandlerFunc(h.enter))).Methods(http.MethodPost)
	router.HandleFunc("/raffle/entries/{index}", h.entry).Methods(http.MethodGet)
	router.HandleFunc("/raffle/upkeep", h.checkUpkeep).Methods(http.MethodGet)
	router.HandleFunc("/raffle/upkeep", h.performUpkeep).Methods(http.MethodPost)
	router.HandleFunc("/raffle/winners", h.winners).Methods(http.MethodGet)
	router.HandleFunc("/raffle/events", h.streamEvents).Methods(http.MethodGet)

	router.HandleFunc("/oracle/requests/{id}", h.oracleRequest).Methods(http.MethodGet)
	router.HandleFunc("/oracle/subscriptions/{id}", h.subscription).Methods(http.MethodGet)
	if application.DevRoutes() {
		router.HandleFunc("/oracle/requests/{id}/fulfill", h.fulfill).Methods(http.MethodPost)
		router.HandleFunc("/oracle/subscriptions/{id}/fund", h.fundSubscription).Methods(http.MethodPost)
	}

	router.HandleFunc("/ledger/accounts/{address}", h.ledgerAccount).Methods(http.MethodGet)

	return metrics.InstrumentHandler(router)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"network": h.app.Config().Network,
		"state":   h.app.Raffle.State(),
	})
}

type raffleView struct {
	Round        raffle.Round  `json:"round"`
	EntranceFee  *big.Int      `json:"entrance_fee"`
	Interval     string        `json:"interval"`
	RecentWinner string        `json:"recent_winner,omitempty"`
	Consumer     string        `json:"consumer"`
	Randomness   random.Params `json:"randomness"`
}

func (h *handler) raffleState(w http.ResponseWriter, r *http.Request) {
	engine := h.app.Raffle
	writeJSON(w, http.StatusOK, raffleView{
		Round:        engine.Snapshot(),
		EntranceFee:  engine.EntranceFee(),
		Interval:     engine.Interval().String(),
		RecentWinner: engine.RecentWinner(),
		Consumer:     engine.Consumer(),
		Randomness:   engine.RandomnessParams(),
	})
}

func (h *handler) enter(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Participant string `json:"participant"`
		Stake       string `json:"stake"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stake, err := parseAmount(payload.Stake)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("stake: %w", err))
		return
	}

	index, err := h.app.Raffle.Enter(r.Context(), payload.Participant, stake)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"round":       h.app.Raffle.RoundNumber(),
		"index":       index,
		"participant": strings.TrimSpace(payload.Participant),
		"stake":       stake,
		"pool":        h.app.Raffle.Pool(),
	})
}

func (h *handler) entry(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid entry index"))
		return
	}
	participant, err := h.app.Raffle.Entry(index)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"index": index, "participant": participant})
}

func (h *handler) checkUpkeep(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"readiness": h.app.Raffle.CheckReady(r.Context(), time.Now()),
		"keeper":    h.app.Keeper.Status(),
	})
}

func (h *handler) performUpkeep(w http.ResponseWriter, r *http.Request) {
	run, err := h.app.Keeper.RunOnce(r.Context())
	switch {
	case err != nil:
		writeJSON(w, errorStatus(err), run)
	case run.Outcome == automationsvc.OutcomePerformed:
		writeJSON(w, http.StatusAccepted, run)
	default:
		writeJSON(w, http.StatusConflict, run)
	}
}

func (h *handler) winners(w http.ResponseWriter, r *http.Request) {
	limit := defaultWinnersLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit"))
			return
		}
		limit = v
	}
	settlements, err := h.app.Settlements.ListSettlements(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if settlements == nil {
		settlements = []raffle.Settlement{}
	}
	writeJSON(w, http.StatusOK, settlements)
}

func (h *handler) oracleRequest(w http.ResponseWriter, r *http.Request) {
	id, err := random.ParseRequestID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request id"))
		return
	}
	rec, err := h.app.Oracle.Request(r.Context(), id)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// fulfill delivers words for a pending request immediately. Callers may
// choose the words, mirroring the mock coordinator's override hook.
func (h *handler) fulfill(w http.ResponseWriter, r *http.Request) {
	id, err := random.ParseRequestID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request id"))
		return
	}
	var payload struct {
		Words []string `json:"words"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var rec random.Record
	if len(payload.Words) > 0 {
		words := make([]*big.Int, 0, len(payload.Words))
		for _, raw := range payload.Words {
			word, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid word %q", raw))
				return
			}
			words = append(words, word)
		}
		rec, err = h.app.Oracle.FulfillRandomWordsWithOverride(r.Context(), id, words)
	} else {
		rec, err = h.app.Oracle.FulfillRandomWords(r.Context(), id)
	}
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) subscription(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid subscription id"))
		return
	}
	sub, err := h.app.Oracle.Subscription(r.Context(), id)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// fundSubscription tops up a subscription so blocked draws can be fulfilled.
func (h *handler) fundSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid subscription id"))
		return
	}
	var payload struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sub, err := h.app.Oracle.FundSubscription(r.Context(), id, amount)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *handler) ledgerAccount(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	balance, err := h.app.Ledger.BalanceOf(r.Context(), address)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	transfers, err := h.app.Ledger.ListTransfers(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   address,
		"balance":   balance,
		"escrow":    address == h.app.Ledger.Escrow(),
		"transfers": transfers,
	})
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, rafflesvc.ErrInsufficientStake),
		errors.Is(err, rafflesvc.ErrInvalidParticipant),
		errors.Is(err, ledgersvc.ErrInvalidAmount),
		errors.Is(err, ledgersvc.ErrInvalidAddress),
		errors.Is(err, randomsvc.ErrInvalidFunding):
		return http.StatusBadRequest
	case errors.Is(err, rafflesvc.ErrRoundNotOpen),
		errors.Is(err, rafflesvc.ErrUpkeepNotNeeded),
		errors.Is(err, rafflesvc.ErrUnknownOrStaleRequest),
		errors.Is(err, randomsvc.ErrCallbackRejected),
		errors.Is(err, randomsvc.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, rafflesvc.ErrEntryNotFound),
		errors.Is(err, randomsvc.ErrNonexistentRequest),
		errors.Is(err, randomsvc.ErrInvalidSubscription),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rafflesvc.ErrPayoutFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("amount required")
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%q is not an integer amount", raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return v, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
