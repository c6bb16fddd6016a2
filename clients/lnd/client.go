package lnd

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/lightningnetwork/lnd/macaroons"
	"github.com/lightningnetwork/lnd/record"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"gopkg.in/macaroon.v2"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
	"github.com/ThorbenD/htlc-rental-escrow/settlement"
)

// keysendMessageType carries a plain-text memo alongside a keysend payment.
const keysendMessageType = 34349334

// holdCltvExpiry is the final CLTV delta of deposit hold invoices. It bounds
// how long a payer's HTLC can stay locked if the daemon never resolves it.
const holdCltvExpiry = 80

// Client implements settlement.LightningClient using lnrpc.
type Client struct {
	lnClient       lnrpc.LightningClient
	routerClient   routerrpc.RouterClient
	invoicesClient invoicesrpc.InvoicesClient
	conn           *grpc.ClientConn
	cfg            Config
}

// Config holds connection configuration.
type Config struct {
	Host         string
	TLSCertPath  string
	MacaroonPath string
	Network      string

	// Payment limits for outgoing keysends.
	PaymentTimeoutSeconds int32
	FeeLimitSats          int64
}

// NewClient creates a new LND client.
func NewClient(cfg Config) (*Client, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS cert: %w", err)
	}

	macBytes, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read macaroon: %w", err)
	}

	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal macaroon: %w", err)
	}

	macCreds, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return nil, fmt.Errorf("failed to create macaroon credential: %w", err)
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(macCreds),
	}

	conn, err := grpc.Dial(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial LND: %w", err)
	}

	c := newClient(lnrpc.NewLightningClient(conn), routerrpc.NewRouterClient(conn), invoicesrpc.NewInvoicesClient(conn), cfg)
	c.conn = conn
	return c, nil
}

func newClient(ln lnrpc.LightningClient, router routerrpc.RouterClient, invoices invoicesrpc.InvoicesClient, cfg Config) *Client {
	if cfg.PaymentTimeoutSeconds <= 0 {
		cfg.PaymentTimeoutSeconds = 60
	}
	if cfg.FeeLimitSats <= 0 {
		cfg.FeeLimitSats = 100
	}
	return &Client{
		lnClient:       ln,
		routerClient:   router,
		invoicesClient: invoices,
		cfg:            cfg,
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// GetInfo returns basic information about the connected LND node.
func (c *Client) GetInfo(ctx context.Context) (*settlement.NodeInfo, error) {
	resp, err := c.lnClient.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return nil, err
	}
	info := &settlement.NodeInfo{
		Pubkey: resp.IdentityPubkey,
		Alias:  resp.Alias,
		Synced: resp.SyncedToChain,
	}
	if len(resp.Chains) > 0 {
		info.Network = resp.Chains[0].Network
	}
	return info, nil
}

// SendKeysend pays amtSats to destPubkey without an invoice. The preimage is
// generated locally and carried in the keysend TLV record.
//
// Once SendPaymentV2 has accepted the payment, losing the status stream does
// not stop LND from completing it. The payment is then tracked by hash on a
// context detached from ctx; if no final state can be recovered the error
// wraps domain.ErrUncertainSettlement.
func (c *Client) SendKeysend(ctx context.Context, destPubkey string, amtSats uint64, memo string) (*settlement.PaymentResult, error) {
	dest, err := hex.DecodeString(destPubkey)
	if err != nil {
		return nil, fmt.Errorf("invalid pubkey: %w", err)
	}

	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return nil, fmt.Errorf("failed to generate preimage: %w", err)
	}
	hash := sha256.Sum256(preimage)

	records := map[uint64][]byte{
		record.KeySendType: preimage,
	}
	if memo != "" {
		records[keysendMessageType] = []byte(memo)
	}

	req := &routerrpc.SendPaymentRequest{
		Dest:              dest,
		Amt:               int64(amtSats),
		PaymentHash:       hash[:],
		DestCustomRecords: records,
		DestFeatures:      []lnrpc.FeatureBit{lnrpc.FeatureBit_TLV_ONION_OPT},
		TimeoutSeconds:    c.cfg.PaymentTimeoutSeconds,
		FeeLimitSat:       c.cfg.FeeLimitSats,
	}

	stream, err := c.routerClient.SendPaymentV2(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to send payment: %w", err)
	}

	res, err := awaitPayment(stream)
	if err == nil {
		return res, nil
	}

	res, trackErr := c.trackPayment(ctx, hash[:])
	if trackErr == nil {
		return res, nil
	}
	return nil, fmt.Errorf("%w: keysend %x: %v (tracking: %v)", domain.ErrUncertainSettlement, hash, err, trackErr)
}

// trackPayment reattaches to a dispatched payment and waits for its final
// state, for at most the configured payment timeout.
func (c *Client) trackPayment(ctx context.Context, hash []byte) (*settlement.PaymentResult, error) {
	timeout := time.Duration(c.cfg.PaymentTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	stream, err := c.routerClient.TrackPaymentV2(ctx, &routerrpc.TrackPaymentRequest{
		PaymentHash:       hash,
		NoInflightUpdates: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to track payment: %w", err)
	}
	return awaitPayment(stream)
}

type paymentStream interface {
	Recv() (*lnrpc.Payment, error)
}

func awaitPayment(stream paymentStream) (*settlement.PaymentResult, error) {
	for {
		payment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("payment stream closed before final state")
		}
		if err != nil {
			return nil, fmt.Errorf("payment stream recv error: %w", err)
		}

		switch payment.Status {
		case lnrpc.Payment_SUCCEEDED:
			return &settlement.PaymentResult{
				PaymentHash: payment.PaymentHash,
				Preimage:    payment.PaymentPreimage,
				FeeSats:     payment.FeeSat,
				Status:      "SUCCEEDED",
			}, nil
		case lnrpc.Payment_FAILED:
			return &settlement.PaymentResult{
				PaymentHash: payment.PaymentHash,
				Status:      "FAILED",
				Failure:     payment.FailureReason.String(),
			}, nil
		}
		// IN_FLIGHT: keep waiting
	}
}

// AddHoldInvoice adds a hold invoice for hash to the LND node and returns its
// payment request.
func (c *Client) AddHoldInvoice(ctx context.Context, memo string, hash string, val uint64, expirySeconds int64) (string, error) {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return "", fmt.Errorf("invalid hash: %w", err)
	}

	resp, err := c.invoicesClient.AddHoldInvoice(ctx, &invoicesrpc.AddHoldInvoiceRequest{
		Memo:       memo,
		Hash:       hashBytes,
		Value:      int64(val),
		Expiry:     expirySeconds,
		CltvExpiry: holdCltvExpiry,
	})
	if err != nil {
		return "", fmt.Errorf("failed to add hold invoice: %w", err)
	}
	return resp.PaymentRequest, nil
}

// SettleInvoice settles a hold invoice with the given preimage.
func (c *Client) SettleInvoice(ctx context.Context, preimage string) error {
	preimageBytes, err := hex.DecodeString(preimage)
	if err != nil {
		return fmt.Errorf("invalid preimage: %w", err)
	}

	if _, err := c.invoicesClient.SettleInvoice(ctx, &invoicesrpc.SettleInvoiceMsg{
		Preimage: preimageBytes,
	}); err != nil {
		return fmt.Errorf("failed to settle invoice: %w", err)
	}
	return nil
}

// CancelInvoice cancels a hold invoice, failing any HTLCs locked to it back
// to the payer.
func (c *Client) CancelInvoice(ctx context.Context, hash string) error {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return fmt.Errorf("invalid hash: %w", err)
	}

	if _, err := c.invoicesClient.CancelInvoice(ctx, &invoicesrpc.CancelInvoiceMsg{
		PaymentHash: hashBytes,
	}); err != nil {
		return fmt.Errorf("failed to cancel invoice: %w", err)
	}
	return nil
}

// SubscribeSingleInvoice streams state changes of one invoice. Both channels
// close once the invoice is settled or canceled, the stream fails, or ctx is
// done.
func (c *Client) SubscribeSingleInvoice(ctx context.Context, hash string) (<-chan *settlement.InvoiceUpdate, <-chan error, error) {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid hash: %w", err)
	}

	stream, err := c.invoicesClient.SubscribeSingleInvoice(ctx, &invoicesrpc.SubscribeSingleInvoiceRequest{
		RHash: hashBytes,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to invoice: %w", err)
	}

	updateChan := make(chan *settlement.InvoiceUpdate)
	errChan := make(chan error, 1)

	go func() {
		defer close(updateChan)
		defer close(errChan)

		for {
			invoice, err := stream.Recv()
			if err != nil {
				errChan <- err
				return
			}

			var state string
			switch invoice.State {
			case lnrpc.Invoice_OPEN:
				state = "OPEN"
			case lnrpc.Invoice_SETTLED:
				state = "SETTLED"
			case lnrpc.Invoice_CANCELED:
				state = "CANCELED"
			case lnrpc.Invoice_ACCEPTED:
				state = "ACCEPTED"
			}

			update := &settlement.InvoiceUpdate{
				Hash:    hex.EncodeToString(invoice.RHash),
				State:   state,
				Amt:     uint64(invoice.Value),
				AmtPaid: uint64(invoice.AmtPaidSat),
			}
			select {
			case updateChan <- update:
			case <-ctx.Done():
				return
			}

			if state == "SETTLED" || state == "CANCELED" {
				return
			}
		}
	}()

	return updateChan, errChan, nil
}
