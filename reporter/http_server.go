// This is a http type of reporter.
// It exposes the bridge coordination operations (deposit address
// allocation, reserve ledger, redemption processing, fee quoting)
// on json http routes.

package reporter

import (
	"context"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/flashbridge-io/bridge-go/allocator"
	"github.com/flashbridge-io/bridge-go/classification"
	"github.com/flashbridge-io/bridge-go/common"
	"github.com/flashbridge-io/bridge-go/fees"
	"github.com/flashbridge-io/bridge-go/redemption"
	"github.com/flashbridge-io/bridge-go/reserve"
)

const (
	ROUTE_HELLO              = "/hello"
	ROUTE_ALLOCATION         = "/allocation"
	ROUTE_ALLOCATION_FUNDED  = "/allocation/funded"
	ROUTE_ALLOCATION_CLAIMED = "/allocation/claimed"
	ROUTE_CLASSIFY           = "/classify"
	ROUTE_REDEMPTION         = "/redemption"
	ROUTE_RESERVE            = "/reserve"
	ROUTE_RESERVE_CONFIRM    = "/reserve/confirm"
	ROUTE_RESERVE_RELEASE    = "/reserve/release"
	ROUTE_RESERVE_POOL       = "/reserve/pool"
	ROUTE_FEE_QUOTE          = "/fee/quote"
	ROUTE_FEE_RECORD         = "/fee/record"
)

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream components
	alloc   *allocator.Allocator
	engine  *redemption.Engine
	ledger  *reserve.Ledger
	classdb *classification.ClassDB
	feedb   *fees.FeeDB
}

func NewHttpReporter(
	serverIP string,
	serverPort string,
	alloc *allocator.Allocator,
	engine *redemption.Engine,
	ledger *reserve.Ledger,
	classdb *classification.ClassDB,
	feedb *fees.FeeDB,
) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		alloc:      alloc,
		engine:     engine,
		ledger:     ledger,
		classdb:    classdb,
		feedb:      feedb,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET(ROUTE_HELLO, Hello)

	router.POST(ROUTE_ALLOCATION, h.Allocate)
	router.GET(ROUTE_ALLOCATION, h.GetAllocation)
	router.POST(ROUTE_ALLOCATION_FUNDED, h.MarkFunded)
	router.POST(ROUTE_ALLOCATION_CLAIMED, h.MarkClaimed)

	router.POST(ROUTE_CLASSIFY, h.Classify)
	router.POST(ROUTE_REDEMPTION, h.ProcessRedemption)

	router.POST(ROUTE_RESERVE, h.Reserve)
	router.POST(ROUTE_RESERVE_CONFIRM, h.ConfirmReserve)
	router.POST(ROUTE_RESERVE_RELEASE, h.ReleaseReserve)
	router.GET(ROUTE_RESERVE_POOL, h.PoolStatus)

	router.GET(ROUTE_FEE_QUOTE, h.QuoteFee)
	router.POST(ROUTE_FEE_RECORD, h.RecordFee)

	return router
}

// Hook up router & ip:port
func (h *HttpReporter) Run() {
	router := h.SetupRouter()
	address := h.serverIP + ":" + h.serverPort
	if err := router.Run(address); err != nil {
		panic(err)
	}
}

// Example route.
func Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "world",
	})
}

type allocateRequest struct {
	OwnerAddress string `json:"owner_address" binding:"required"`
	SessionID    string `json:"session_id"`
	ClientLabel  string `json:"client_label"`
	ForceNew     bool   `json:"force_new"`
	Metadata     string `json:"metadata"`
}

// Owner addresses are destination-chain (solana) pubkeys; reject
// anything that does not parse as base58 before touching storage.
func validOwnerAddress(addr string) bool {
	_, err := solana.PublicKeyFromBase58(addr)
	return err == nil
}

func validTransferSignature(sig string) bool {
	_, err := solana.SignatureFromBase58(sig)
	return err == nil
}

func (h *HttpReporter) Allocate(c *gin.Context) {
	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validOwnerAddress(req.OwnerAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_address is not a valid solana pubkey"})
		return
	}

	alloc, err := h.alloc.Allocate(c.Request.Context(), allocator.AllocateCommand{
		OwnerAddress: req.OwnerAddress,
		SessionID:    req.SessionID,
		ClientLabel:  req.ClientLabel,
		ForceNew:     req.ForceNew,
		Metadata:     req.Metadata,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": allocationView(alloc)})
}

// Fetch an allocation by receive_address, id or owner.
func (h *HttpReporter) GetAllocation(c *gin.Context) {
	ctx := c.Request.Context()

	if receiveAddress := c.Query("receive_address"); receiveAddress != "" {
		alloc, ok, err := h.alloc.Get(ctx, receiveAddress)
		h.replyAllocation(c, alloc, ok, err)
		return
	}
	if id := c.Query("id"); id != "" {
		alloc, ok, err := h.alloc.GetByID(ctx, id)
		h.replyAllocation(c, alloc, ok, err)
		return
	}
	if owner := c.Query("owner"); owner != "" {
		allocs, err := h.alloc.GetByOwner(ctx, owner)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		views := make([]gin.H, 0, len(allocs))
		for _, a := range allocs {
			views = append(views, allocationView(a))
		}
		c.JSON(http.StatusOK, gin.H{"data": views})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Either receive_address, id or owner must be provided"})
}

func (h *HttpReporter) replyAllocation(c *gin.Context, alloc *allocator.Allocation, ok bool, err error) {
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No allocation found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": allocationView(alloc)})
}

func allocationView(a *allocator.Allocation) gin.H {
	return gin.H{
		"id":                 a.ID,
		"owner_address":      a.OwnerAddress,
		"receive_address":    a.ReceiveAddress,
		"derivation_index":   a.DerivationIndex,
		"derivation_path":    a.DerivationPath,
		"status":             a.Status,
		"session_id":         a.SessionID,
		"client_label":       a.ClientLabel,
		"expires_at":         a.ExpiresAt.UTC().Format(time.RFC3339),
		"funded_amount_sats": a.FundedAmountSats,
		"funding_ref":        a.FundingRef,
		"claim_ref":          a.ClaimRef,
	}
}

type markFundedRequest struct {
	ReceiveAddress string `json:"receive_address" binding:"required"`
	FundingRef     string `json:"funding_ref" binding:"required"`
	AmountSats     int64  `json:"amount_sats" binding:"required,gt=0"`
}

func (h *HttpReporter) MarkFunded(c *gin.Context) {
	var req markFundedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	_, err := h.alloc.MarkFunded(c.Request.Context(), req.ReceiveAddress, req.FundingRef, req.AmountSats)
	h.replyTransition(c, err)
}

type markClaimedRequest struct {
	ReceiveAddress string `json:"receive_address" binding:"required"`
	ClaimRef       string `json:"claim_ref" binding:"required"`
}

func (h *HttpReporter) MarkClaimed(c *gin.Context) {
	var req markClaimedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.alloc.MarkClaimed(c.Request.Context(), req.ReceiveAddress, req.ClaimRef)
	h.replyTransition(c, err)
}

func (h *HttpReporter) replyTransition(c *gin.Context, err error) {
	switch err {
	case nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case allocator.ErrorNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case allocator.ErrorAlreadyExpired, allocator.ErrorInvalidStateTransition:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type classifyRequest struct {
	TransferSignature string `json:"transfer_signature" binding:"required"`
	Type              string `json:"type" binding:"required"`
	OwnerAddress      string `json:"owner_address"`
	CreatedBy         string `json:"created_by"`
}

func (h *HttpReporter) Classify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validTransferSignature(req.TransferSignature) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transfer_signature is not a valid solana signature"})
		return
	}

	err := h.classdb.Classify(c.Request.Context(), &classification.Classification{
		TransferSignature: req.TransferSignature,
		Type:              classification.TransferType(req.Type),
		OwnerAddress:      req.OwnerAddress,
		CreatedBy:         req.CreatedBy,
	})
	switch err {
	case nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case classification.ErrorAlreadyClassified:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case classification.ErrorBadType:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type redemptionRequest struct {
	OwnerAddress         string `json:"owner_address" binding:"required"`
	TransferSignature    string `json:"transfer_signature" binding:"required"`
	EncryptedDestination string `json:"encrypted_destination" binding:"required"` // hex
	AmountSats           int64  `json:"amount_sats" binding:"required,gt=0"`
}

func (h *HttpReporter) ProcessRedemption(c *gin.Context) {
	var req redemptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validOwnerAddress(req.OwnerAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_address is not a valid solana pubkey"})
		return
	}
	if !validTransferSignature(req.TransferSignature) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transfer_signature is not a valid solana signature"})
		return
	}
	ciphertext := common.HexStrToByteSlice(req.EncryptedDestination)
	if len(ciphertext) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "encrypted_destination is not valid hex"})
		return
	}

	out, err := h.engine.ProcessRedemption(c.Request.Context(), &redemption.Request{
		OwnerAddress:         req.OwnerAddress,
		TransferSignature:    req.TransferSignature,
		EncryptedDestination: ciphertext,
		AmountSats:           req.AmountSats,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	view := gin.H{"outcome": out.Kind}
	if out.PayoutRef != "" {
		view["payout_ref"] = out.PayoutRef
	}
	if out.Reason != "" {
		view["reason"] = out.Reason
	}
	switch out.Kind {
	case redemption.Rejected:
		c.JSON(http.StatusUnprocessableEntity, view)
	default:
		c.JSON(http.StatusOK, view)
	}
}

type reserveRequest struct {
	PoolID        string `json:"pool_id" binding:"required"`
	AmountSats    int64  `json:"amount_sats" binding:"required,gt=0"`
	CommitmentRef string `json:"commitment_ref" binding:"required"`
	Recipient     string `json:"recipient"`
}

func (h *HttpReporter) Reserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.ledger.CheckAndReserve(c.Request.Context(),
		req.PoolID, req.AmountSats, req.CommitmentRef, req.Recipient)
	switch err {
	case nil:
	case reserve.ErrorPoolNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case reserve.ErrorAmountInvalid:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case reserve.ErrorPoolHalted, reserve.ErrorOverMaxPayout, reserve.ErrorCommitmentExists:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if result == reserve.InsufficientReserve {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"result": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

type commitmentRefRequest struct {
	CommitmentRef string `json:"commitment_ref" binding:"required"`
}

func (h *HttpReporter) ConfirmReserve(c *gin.Context) {
	h.transitionCommitment(c, h.ledger.Confirm)
}

func (h *HttpReporter) ReleaseReserve(c *gin.Context) {
	h.transitionCommitment(c, h.ledger.Release)
}

func (h *HttpReporter) transitionCommitment(c *gin.Context, fn func(ctx context.Context, ref string) error) {
	var req commitmentRefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch err := fn(c.Request.Context(), req.CommitmentRef); err {
	case nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case reserve.ErrorCommitmentNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case reserve.ErrorNotPending:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *HttpReporter) PoolStatus(c *gin.Context) {
	poolID := c.Query("pool_id")
	if poolID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pool_id must be provided"})
		return
	}
	ctx := c.Request.Context()

	pool, ok, err := h.ledger.GetPool(ctx, poolID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No pool found"})
		return
	}
	committed, err := h.ledger.Committed(ctx, poolID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"pool_id":         pool.PoolID,
		"bootstrap_sats":  pool.BootstrapSats,
		"deposited_sats":  pool.DepositedSats,
		"capacity_sats":   pool.Capacity(),
		"committed_sats":  committed,
		"available_sats":  pool.Capacity() - committed,
		"max_payout_sats": pool.MaxPayoutSats,
		"halted":          pool.Halted,
	}})
}

func (h *HttpReporter) QuoteFee(c *gin.Context) {
	amountUSD, err := decimal.NewFromString(c.Query("amount_usd"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount_usd must be a decimal number"})
		return
	}
	tier := fees.Tier(c.DefaultQuery("tier", string(fees.TierStandard)))

	b, err := h.feedb.Quote(c.Request.Context(), amountUSD, tier, c.Query("referral_code"))
	switch err {
	case nil:
	case fees.ErrorBadTier, fees.ErrorAmountInvalid:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"tier":                  b.Tier,
		"amount_usd":            b.AmountUSD.String(),
		"base_fee_usd":          b.BaseFeeUSD.String(),
		"fast_fee_usd":          b.FastFeeUSD.String(),
		"privacy_fee_usd":       b.PrivacyFeeUSD.String(),
		"referral_discount_usd": b.ReferralDiscountUSD.String(),
		"total_fee_usd":         b.TotalFeeUSD.String(),
		"effective_percent":     b.EffectivePercent.String(),
		"referral_code":         b.ReferralCode,
	}})
}

type recordFeeRequest struct {
	TransferSignature string `json:"transfer_signature" binding:"required"`
	Tier              string `json:"tier" binding:"required"`
	AmountUSD         string `json:"amount_usd" binding:"required"`
	ReferralCode      string `json:"referral_code"`
}

// RecordFee re-quotes server side and posts the result; clients never
// submit fee amounts directly.
func (h *HttpReporter) RecordFee(c *gin.Context) {
	var req recordFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amountUSD, err := decimal.NewFromString(req.AmountUSD)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount_usd must be a decimal number"})
		return
	}
	ctx := c.Request.Context()

	b, err := h.feedb.Quote(ctx, amountUSD, fees.Tier(req.Tier), req.ReferralCode)
	switch err {
	case nil:
	case fees.ErrorBadTier, fees.ErrorAmountInvalid:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	rec := &fees.FeeRecord{
		TransferSignature:   req.TransferSignature,
		Tier:                b.Tier,
		AmountUSD:           b.AmountUSD,
		BaseFeeUSD:          b.BaseFeeUSD,
		FastFeeUSD:          b.FastFeeUSD,
		PrivacyFeeUSD:       b.PrivacyFeeUSD,
		ReferralDiscountUSD: b.ReferralDiscountUSD,
		TotalFeeUSD:         b.TotalFeeUSD,
		EffectivePercent:    b.EffectivePercent,
		ReferralCode:        b.ReferralCode,
	}
	switch err := h.feedb.Record(ctx, rec); err {
	case nil:
	case fees.ErrorRecordExists:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"id":            rec.ID,
		"total_fee_usd": rec.TotalFeeUSD.String(),
	}})
}
