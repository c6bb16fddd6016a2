package httpapi

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
	"github.com/ThorbenD/htlc-rental-escrow/escrow"
	"github.com/ThorbenD/htlc-rental-escrow/registry"
	"github.com/ThorbenD/htlc-rental-escrow/settlement"
)

func listingID(c *gin.Context) (domain.ListingID, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "listing id must be a positive integer")
		return 0, false
	}
	return domain.ListingID(id), true
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /listings/:id
func (s *Server) getListing(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	l, err := s.engine.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newListingResponse(l))
}

// POST /invoices
func (s *Server) requestInvoice(c *gin.Context) {
	var req invoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	reason, ok := purposes[req.Purpose]
	if !ok {
		badRequest(c, "purpose must be publish, rent or renew")
		return
	}
	if reason != settlement.DepositPublishFee && req.ListingID == 0 {
		badRequest(c, "listing_id is required")
		return
	}

	inv, err := s.engine.RequestDeposit(c.Request.Context(), callerFrom(c), req.ListingID, reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invoiceResponse{
		Ref:            inv.Ref,
		PaymentRequest: inv.PaymentRequest,
		Amount:         inv.Amount,
		ExpiresAt:      inv.ExpiresAt,
	})
}

// POST /listings
func (s *Server) publish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := s.engine.Publish(c.Request.Context(), callerFrom(c), registry.PublishRequest{
		Address: req.Address,
		Area:    req.Area,
		Rent:    req.Rent,
	}, settlement.Payment{Amount: req.Fee, Ref: req.PaymentRef})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newResultResponse(res))
}

// POST /listings/:id/rent
func (s *Server) rentStart(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	var req rentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	lock, err := domain.ParseHashLock(req.HashLock)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	s.respond(c)(s.engine.RentStart(c.Request.Context(), callerFrom(c), id, lock, settlement.Payment{Amount: req.Payment, Ref: req.PaymentRef}))
}

// POST /listings/:id/unlock
func (s *Server) unlock(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	preimage, err := hex.DecodeString(req.Preimage)
	if err != nil {
		badRequest(c, "preimage must be hex encoded")
		return
	}

	s.respond(c)(s.engine.Unlock(c.Request.Context(), callerFrom(c), id, preimage))
}

// POST /listings/:id/refund
func (s *Server) refund(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	s.respond(c)(s.engine.RefundTimeout(c.Request.Context(), callerFrom(c), id))
}

// POST /listings/:id/renew
func (s *Server) renew(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	var req renewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	s.respond(c)(s.engine.RenewLease(c.Request.Context(), callerFrom(c), id, settlement.Payment{Amount: req.Payment, Ref: req.PaymentRef}))
}

// POST /listings/:id/return-deposit
func (s *Server) returnDeposit(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	s.respond(c)(s.engine.ReturnDeposit(c.Request.Context(), callerFrom(c), id))
}

func (s *Server) respond(c *gin.Context) func(*escrow.Result, error) {
	return func(res *escrow.Result, err error) {
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, newResultResponse(res))
	}
}
