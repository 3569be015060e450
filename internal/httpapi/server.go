// Package httpapi exposes the monetization engine to the rest of the
// platform: webhook-style event intake, provider dashboard reads, and
// the search subsystem's ranking-multiplier lookup.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lumibook/monetize/internal/notify"
	"github.com/lumibook/monetize/pkg/boost"
	"github.com/lumibook/monetize/pkg/fees"
	"github.com/lumibook/monetize/pkg/payout"
	"github.com/lumibook/monetize/pkg/tokens"
)

// Server is the HTTP facade over the monetization services.
type Server struct {
	logger  *zap.Logger
	tokens  *tokens.Service
	boosts  *boost.Service
	fees    *fees.Service
	payouts *payout.Service
	emitter notify.Emitter
	nowFn   func() int64
	cfg     Config
}

// NewServer wires the facade. The configuration must be validated first.
func NewServer(cfg Config, logger *zap.Logger, tokensService *tokens.Service, boostService *boost.Service, feeService *fees.Service, payoutService *payout.Service, emitter notify.Emitter, now func() int64) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:  logger,
		tokens:  tokensService,
		boosts:  boostService,
		fees:    feeService,
		payouts: payoutService,
		emitter: emitter,
		nowFn:   now,
		cfg:     cfg,
	}
}

// Run serves until the context is cancelled.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("monetize api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router builds the gin engine with all routes mounted.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	events := router.Group("/events")
	events.POST("/token-purchase", server.handleTokenPurchase)
	events.POST("/booking-completed", server.handleBookingCompleted)

	providers := router.Group("/providers")
	providers.POST("/:provider_id/boosts", server.handleActivateBoost)
	providers.GET("/:provider_id/balance", server.handleBalance)
	providers.GET("/:provider_id/transactions", server.handleTransactions)
	providers.GET("/:provider_id/boosts", server.handleListBoosts)
	providers.GET("/:provider_id/payouts", server.handleListPayouts)
	providers.GET("/:provider_id/multiplier", server.handleMultiplier)

	admin := router.Group("/admin")
	admin.POST("/boosts/:boost_id/cancel", server.handleCancelBoost)

	return router
}

type tokenPurchaseRequest struct {
	ProviderID         string         `json:"provider_id"`
	Tokens             int64          `json:"tokens"`
	ExternalEventID    string         `json:"external_event_id"`
	AmountChargedCents int64          `json:"amount_charged_cents"`
	Currency           string         `json:"currency"`
	Metadata           map[string]any `json:"metadata"`
}

// chargeMetadata folds the gateway's charge details into the free-form
// metadata so the transaction log keeps what the provider actually paid.
func (request tokenPurchaseRequest) chargeMetadata() map[string]any {
	metadata := request.Metadata
	if request.AmountChargedCents <= 0 && request.Currency == "" {
		return metadata
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	if request.AmountChargedCents > 0 {
		metadata["amount_charged_cents"] = request.AmountChargedCents
	}
	if request.Currency != "" {
		metadata["currency"] = request.Currency
	}
	return metadata
}

func (server *Server) handleTokenPurchase(ctx *gin.Context) {
	var request tokenPurchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	providerID, err := tokens.NewProviderID(request.ProviderID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_provider", err.Error()))
		return
	}
	amount, err := tokens.NewTokenAmount(request.Tokens)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", err.Error()))
		return
	}
	eventID, err := tokens.NewEventID(request.ExternalEventID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_event_id", err.Error()))
		return
	}
	metadata, err := tokens.NewMetadataJSON(marshalMetadata(request.chargeMetadata()))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", err.Error()))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	transaction, err := server.tokens.Credit(requestCtx, providerID, amount, tokens.ReasonPurchase, &eventID, metadata)
	if err != nil {
		server.logger.Error("token purchase credit failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "credit failed"))
		return
	}
	account, err := server.tokens.Balance(requestCtx, providerID)
	if err != nil {
		server.logger.Error("balance fetch failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "balance unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"transaction": transactionPayloadFrom(transaction),
		"account":     accountPayloadFrom(account),
	})
}

type bookingCompletedRequest struct {
	BookingID        string `json:"booking_id"`
	ProviderID       string `json:"provider_id"`
	GrossAmountCents int64  `json:"gross_amount_cents"`
	CompletedUnixUTC int64  `json:"completed_unix_utc"`
}

func (server *Server) handleBookingCompleted(ctx *gin.Context) {
	var request bookingCompletedRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	bookingID, err := fees.NewBookingID(request.BookingID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_booking", err.Error()))
		return
	}
	providerID, err := tokens.NewProviderID(request.ProviderID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_provider", err.Error()))
		return
	}
	grossAmount, err := fees.NewAmountCents(request.GrossAmountCents)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", err.Error()))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	breakdown, err := server.fees.Compute(requestCtx, bookingID, grossAmount)
	if err != nil {
		server.logger.Error("fee computation failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("fees_error", "fee computation failed"))
		return
	}
	// The settlement delay counts from booking completion, not delivery:
	// a redelivered or backlogged event must not push settlement out.
	completedUnixUTC := request.CompletedUnixUTC
	if completedUnixUTC <= 0 {
		completedUnixUTC = server.nowFn()
	}
	record, err := server.payouts.Schedule(requestCtx, breakdown, providerID, completedUnixUTC)
	if err != nil {
		server.logger.Error("payout scheduling failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("payout_error", "payout scheduling failed"))
		return
	}
	server.emitter.Emit(ctx.Request.Context(), notify.Event{
		Kind:       notify.KindPayoutScheduled,
		ProviderID: providerID.String(),
		Payload: map[string]any{
			"payout_id":     record.PayoutID,
			"booking_id":    record.BookingID,
			"amount_cents":  record.AmountCents,
			"scheduled_for": record.ScheduledForUnixUTC,
		},
	})
	ctx.JSON(http.StatusOK, gin.H{
		"breakdown": breakdownPayloadFrom(breakdown),
		"payout":    payoutPayloadFrom(record),
	})
}

type activateBoostRequest struct {
	Scope         string `json:"scope"`
	DurationHours int64  `json:"duration_hours"`
}

func (server *Server) handleActivateBoost(ctx *gin.Context) {
	providerID, err := tokens.NewProviderID(ctx.Param("provider_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_provider", err.Error()))
		return
	}
	var request activateBoostRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	scope, err := boost.ParseScope(request.Scope)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_scope", err.Error()))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	record, err := server.boosts.Activate(requestCtx, providerID, scope, request.DurationHours)
	if err != nil {
		var shortfall tokens.ShortfallError
		switch {
		case errors.As(err, &shortfall):
			server.emitter.Emit(ctx.Request.Context(), notify.Event{
				Kind:       notify.KindInsufficientBalance,
				ProviderID: providerID.String(),
				Payload: map[string]any{
					"requested": shortfall.Requested,
					"available": shortfall.Available,
					"shortfall": shortfall.Shortfall(),
				},
			})
			ctx.JSON(http.StatusPaymentRequired, gin.H{
				"error": gin.H{
					"code":      "insufficient_balance",
					"message":   "not enough tokens for this boost",
					"requested": shortfall.Requested,
					"available": shortfall.Available,
					"shortfall": shortfall.Shortfall(),
				},
			})
		case errors.Is(err, boost.ErrInvalidDuration):
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_duration", err.Error()))
		default:
			server.logger.Error("boost activation failed", zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, errorResponse("boost_error", "activation failed"))
		}
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"boost": boostPayloadFrom(record)})
}

func (server *Server) handleBalance(ctx *gin.Context) {
	providerID, err := tokens.NewProviderID(ctx.Param("provider_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_provider", err.Error()))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	account, err := server.tokens.Balance(requestCtx, providerID)
	if err != nil {
		server.logger.Error("balance fetch failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "balance unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": accountPayloadFrom(account)})
}

func (server *Server) handleTransactions(ctx *gin.Context) {
	providerID, err := tokens.NewProviderID(ctx.Param("provider_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_provider", err.Error()))
		return
	}
	before := server.nowFn() + 1
	if raw := ctx.Query("before"); raw != "" {
		parsed, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_cursor", "before must be a unix timestamp"))
			return
		}
		before = parsed
	}
	limit := server.cfg.HistoryLimit
	if raw := ctx.Query("limit"); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be a positive integer"))
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	transactions, err := server.tokens.ListTransactions(requestCtx, providerID, before, limit)
	if err != nil {
		server.logger.Error("transaction list failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "transactions unavailable"))
		return
	}
	payloads := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payloads = append(payloads, transactionPayloadFrom(transaction))
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": payloads})
}

func (server *Server) handleListBoosts(ctx *gin.Context) {
	providerID, err := tokens.NewProviderID(ctx.Param("provider_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_provider", err.Error()))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	records, err := server.boosts.ListBoosts(requestCtx, providerID)
	if err != nil {
		server.logger.Error("boost list failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("boost_error", "boosts unavailable"))
		return
	}
	payloads := make([]boostPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, boostPayloadFrom(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"boosts": payloads})
}

func (server *Server) handleListPayouts(ctx *gin.Context) {
	providerID, err := tokens.NewProviderID(ctx.Param("provider_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_provider", err.Error()))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	records, err := server.payouts.ListPayouts(requestCtx, providerID)
	if err != nil {
		server.logger.Error("payout list failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("payout_error", "payouts unavailable"))
		return
	}
	payloads := make([]payoutPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, payoutPayloadFrom(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"payouts": payloads})
}

func (server *Server) handleMultiplier(ctx *gin.Context) {
	providerID, err := tokens.NewProviderID(ctx.Param("provider_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_provider", err.Error()))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	multiplier, err := server.boosts.CurrentMultiplier(requestCtx, providerID)
	if err != nil {
		server.logger.Error("multiplier lookup failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("boost_error", "multiplier unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"provider_id": providerID.String(),
		"multiplier":  multiplier,
	})
}

func (server *Server) handleCancelBoost(ctx *gin.Context) {
	boostID := ctx.Param("boost_id")
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	record, err := server.boosts.Cancel(requestCtx, boostID)
	switch {
	case errors.Is(err, boost.ErrUnknownBoost):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_boost", "no such boost"))
		return
	case errors.Is(err, boost.ErrBoostClosed):
		ctx.JSON(http.StatusConflict, errorResponse("boost_closed", err.Error()))
		return
	case err != nil:
		server.logger.Error("boost cancel failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("boost_error", "cancel failed"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"boost": boostPayloadFrom(record)})
}

func marshalMetadata(metadata map[string]any) string {
	if metadata == nil {
		return "{}"
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type accountPayload struct {
	ProviderID        string `json:"provider_id"`
	Balance           int64  `json:"balance"`
	TotalPurchased    int64  `json:"total_purchased"`
	TotalSpent        int64  `json:"total_spent"`
	AchievementPoints int64  `json:"achievement_points"`
	Tier              string `json:"tier"`
}

func accountPayloadFrom(account tokens.Account) accountPayload {
	return accountPayload{
		ProviderID:        account.ProviderID,
		Balance:           account.Balance,
		TotalPurchased:    account.TotalPurchased,
		TotalSpent:        account.TotalSpent,
		AchievementPoints: account.AchievementPoints,
		Tier:              account.Tier.String(),
	}
}

type transactionPayload struct {
	TransactionID   string          `json:"transaction_id"`
	ProviderID      string          `json:"provider_id"`
	Kind            string          `json:"kind"`
	Amount          int64           `json:"amount"`
	Reason          string          `json:"reason"`
	ExternalEventID string          `json:"external_event_id,omitempty"`
	Metadata        json.RawMessage `json:"metadata"`
	CreatedUnixUTC  int64           `json:"created_unix_utc"`
}

func transactionPayloadFrom(transaction tokens.Transaction) transactionPayload {
	metadata := transaction.MetadataJSON
	if metadata == "" {
		metadata = "{}"
	}
	return transactionPayload{
		TransactionID:   transaction.TransactionID,
		ProviderID:      transaction.ProviderID,
		Kind:            transaction.Kind.String(),
		Amount:          transaction.Amount.Int64(),
		Reason:          transaction.Reason.String(),
		ExternalEventID: transaction.ExternalEventID,
		Metadata:        json.RawMessage(metadata),
		CreatedUnixUTC:  transaction.CreatedUnixUTC,
	}
}

type boostPayload struct {
	BoostID      string `json:"boost_id"`
	ProviderID   string `json:"provider_id"`
	Scope        string `json:"scope"`
	TokensSpent  int64  `json:"tokens_spent"`
	StartUnixUTC int64  `json:"start_unix_utc"`
	EndUnixUTC   int64  `json:"end_unix_utc"`
	Status       string `json:"status"`
}

func boostPayloadFrom(record boost.Boost) boostPayload {
	return boostPayload{
		BoostID:      record.BoostID,
		ProviderID:   record.ProviderID,
		Scope:        record.Scope.String(),
		TokensSpent:  record.TokensSpent,
		StartUnixUTC: record.StartUnixUTC,
		EndUnixUTC:   record.EndUnixUTC,
		Status:       record.Status.String(),
	}
}

type breakdownPayload struct {
	BookingID           string `json:"booking_id"`
	GrossCents          int64  `json:"gross_cents"`
	CommissionCents     int64  `json:"commission_cents"`
	ServiceFeeCents     int64  `json:"service_fee_cents"`
	ProviderPayoutCents int64  `json:"provider_payout_cents"`
	ComputedUnixUTC     int64  `json:"computed_unix_utc"`
}

func breakdownPayloadFrom(breakdown fees.Breakdown) breakdownPayload {
	return breakdownPayload{
		BookingID:           breakdown.BookingID,
		GrossCents:          breakdown.GrossCents,
		CommissionCents:     breakdown.CommissionCents,
		ServiceFeeCents:     breakdown.ServiceFeeCents,
		ProviderPayoutCents: breakdown.ProviderPayoutCents,
		ComputedUnixUTC:     breakdown.ComputedUnixUTC,
	}
}

type payoutPayload struct {
	PayoutID            string `json:"payout_id"`
	BookingID           string `json:"booking_id"`
	ProviderID          string `json:"provider_id"`
	AmountCents         int64  `json:"amount_cents"`
	Currency            string `json:"currency"`
	ScheduledForUnixUTC int64  `json:"scheduled_for_unix_utc"`
	Status              string `json:"status"`
	FailureReason       string `json:"failure_reason,omitempty"`
	Attempts            int    `json:"attempts"`
	GatewayPayoutID     string `json:"gateway_payout_id,omitempty"`
}

func payoutPayloadFrom(record payout.Payout) payoutPayload {
	return payoutPayload{
		PayoutID:            record.PayoutID,
		BookingID:           record.BookingID,
		ProviderID:          record.ProviderID,
		AmountCents:         record.AmountCents,
		Currency:            record.Currency,
		ScheduledForUnixUTC: record.ScheduledForUnixUTC,
		Status:              record.Status.String(),
		FailureReason:       record.FailureReason,
		Attempts:            record.Attempts,
		GatewayPayoutID:     record.GatewayPayoutID,
	}
}
