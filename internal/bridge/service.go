// Package bridge submits cross-chain bridges through the relay using one of
// the supported authorisation flows and keeps their status.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/chain"
	"github.com/Checker-Finance/relay-adapter/internal/metrics"
	"github.com/Checker-Finance/relay-adapter/internal/relay"
	"github.com/Checker-Finance/relay-adapter/internal/secrets"
	"github.com/Checker-Finance/relay-adapter/internal/store"
	"github.com/Checker-Finance/relay-adapter/internal/wallet"
	"github.com/Checker-Finance/relay-adapter/pkg/config"
	"github.com/Checker-Finance/relay-adapter/pkg/model"
	"github.com/Checker-Finance/relay-adapter/pkg/units"
)

// ErrNotFound is returned when a request id is unknown to the caller's client.
var ErrNotFound = errors.New("bridge request not found")

// ClientResolver resolves per-client relay settings and keys.
type ClientResolver interface {
	Resolve(ctx context.Context, clientID string) (*secrets.ClientSettings, error)
}

// RelayAPI is the part of relay.Client the flows use.
type RelayAPI interface {
	GetQuote(ctx context.Context, cfg *relay.ClientConfig, req *relay.QuoteRequest) (*relay.QuoteResponse, error)
	Execute(ctx context.Context, cfg *relay.ClientConfig, req *relay.ExecuteRequest) (*relay.ExecuteResponse, error)
	PostSignature(ctx context.Context, cfg *relay.ClientConfig, post *relay.StepPost, signature string) (*relay.ExecuteResponse, error)
	GetStatus(ctx context.Context, cfg *relay.ClientConfig, requestID string) (*relay.StatusResponse, error)
}

// Config holds the contract addresses and execution options shared by all clients.
type Config struct {
	CaliburImplementation common.Address
	MultiSendCallOnly     common.Address
	EntryPoint            common.Address
	Beneficiary           common.Address // zero: the signer collects the handleOps refund
	SignatureDeadline     time.Duration
	SubsidizeFees         bool
}

// ConfigFrom extracts the bridge settings from the service config.
func ConfigFrom(cfg *config.Config) (Config, error) {
	out := Config{
		SignatureDeadline: cfg.SignatureDeadline,
		SubsidizeFees:     cfg.RelaySubsidizeFees,
	}
	for _, a := range []struct {
		name  string
		value string
		dst   *common.Address
		opt   bool
	}{
		{"CALIBUR_IMPLEMENTATION", cfg.CaliburImplementation, &out.CaliburImplementation, false},
		{"SAFE_MULTISEND_CALL_ONLY", cfg.MultiSendCallOnly, &out.MultiSendCallOnly, false},
		{"ERC4337_ENTRYPOINT", cfg.EntryPoint, &out.EntryPoint, false},
		{"ERC4337_BENEFICIARY", cfg.Beneficiary, &out.Beneficiary, true},
	} {
		if a.value == "" && a.opt {
			continue
		}
		if !common.IsHexAddress(a.value) {
			return Config{}, fmt.Errorf("%s: invalid address %q", a.name, a.value)
		}
		*a.dst = common.HexToAddress(a.value)
	}
	if out.SignatureDeadline <= 0 {
		out.SignatureDeadline = 30 * time.Minute
	}
	return out, nil
}

// Service orchestrates quote, signing, submission and status tracking.
type Service struct {
	logger   *zap.Logger
	resolver ClientResolver
	relay    RelayAPI
	chain    chain.Reader
	store    store.Store
	poller   *relay.Poller
	cfg      Config
	now      func() time.Time
}

// NewService constructs a bridge service. chainReader may be nil when only the
// permit flow is used; st may be nil when records are not persisted.
func NewService(
	logger *zap.Logger,
	resolver ClientResolver,
	api RelayAPI,
	chainReader chain.Reader,
	st store.Store,
	cfg Config,
) *Service {
	return &Service{
		logger:   logger,
		resolver: resolver,
		relay:    api,
		chain:    chainReader,
		store:    st,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetPoller sets the poller used for Wait and background tracking. The poller
// needs the service as its StatusFetcher, hence the setter.
func (s *Service) SetPoller(p *relay.Poller) {
	s.poller = p
}

// flowContext is what a flow needs to build and sign one bridge.
type flowContext struct {
	req      model.BridgeRequest
	settings *secrets.ClientSettings
	signer   *wallet.Signer
	account  common.Address // EOA, Safe or smart account that holds the funds
	amount   *big.Int
}

func (s *Service) resolveConfig(ctx context.Context, clientID string) (*secrets.ClientSettings, error) {
	settings, err := s.resolver.Resolve(ctx, clientID)
	if err != nil {
		s.logger.Error("bridge.resolve_config_failed",
			zap.String("client", clientID),
			zap.Error(err))
		return nil, fmt.Errorf("resolve client config for %q: %w", clientID, err)
	}
	return settings, nil
}

// prepare validates req and loads everything a flow needs.
func (s *Service) prepare(ctx context.Context, req model.BridgeRequest) (*flowContext, error) {
	req, err := NormalizeRequest(req)
	if err != nil {
		return nil, err
	}
	amount, err := units.ToBaseUnits(req.Amount, req.Decimals)
	if err != nil {
		return nil, err
	}
	settings, err := s.resolveConfig(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	signer, err := settings.Signer()
	if err != nil {
		return nil, err
	}

	fc := &flowContext{req: req, settings: settings, signer: signer, amount: amount}
	switch req.Flow {
	case model.FlowPermit, model.FlowEIP7702:
		fc.account = signer.Address()
		if req.User != "" && common.HexToAddress(req.User) != fc.account {
			return nil, fmt.Errorf("user %s does not match signer %s", req.User, fc.account.Hex())
		}
	default:
		fc.account = common.HexToAddress(req.User)
	}
	return fc, nil
}

// Submit quotes, signs and submits req, then starts background tracking.
func (s *Service) Submit(ctx context.Context, req model.BridgeRequest) (*model.BridgeRecord, error) {
	fc, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	flow := fc.req.Flow

	s.logger.Info("bridge.submit.start",
		zap.String("client", fc.req.ClientID),
		zap.String("flow", string(flow)),
		zap.String("account", fc.account.Hex()),
		zap.Uint64("origin_chain", fc.req.OriginChainID),
		zap.Uint64("destination_chain", fc.req.DestinationChainID),
		zap.String("amount", fc.amount.String()))

	var requestID string
	switch flow {
	case model.FlowPermit:
		requestID, err = s.submitPermit(ctx, fc)
	case model.FlowEIP7702:
		requestID, err = s.submitEIP7702(ctx, fc)
	case model.FlowSafe:
		requestID, err = s.submitSafe(ctx, fc)
	case model.FlowERC4337:
		requestID, err = s.submitERC4337(ctx, fc)
	default:
		err = fmt.Errorf("unsupported flow %q", flow)
	}
	if err != nil {
		metrics.IncSubmitted(string(flow), "error")
		s.logger.Error("bridge.submit.failed",
			zap.String("client", fc.req.ClientID),
			zap.String("flow", string(flow)),
			zap.Error(err))
		return nil, fmt.Errorf("%s bridge failed: %w", flow, err)
	}

	now := s.now().UTC()
	rec := &model.BridgeRecord{
		RequestID:           requestID,
		ClientID:            fc.req.ClientID,
		Flow:                flow,
		User:                fc.account.Hex(),
		Recipient:           recipientOf(fc),
		OriginChainID:       fc.req.OriginChainID,
		DestinationChainID:  fc.req.DestinationChainID,
		OriginCurrency:      fc.req.OriginCurrency,
		DestinationCurrency: fc.req.DestinationCurrency,
		AmountBaseUnits:     fc.amount.String(),
		Status:              model.StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if s.store != nil {
		if err := s.store.SaveRecord(ctx, rec); err != nil {
			// The relay already accepted the request; tracking still runs.
			s.logger.Warn("bridge.save_record_failed",
				zap.String("request_id", requestID),
				zap.Error(err))
		}
	}
	metrics.IncSubmitted(string(flow), "ok")

	s.logger.Info("bridge.submitted",
		zap.String("client", rec.ClientID),
		zap.String("flow", string(flow)),
		zap.String("request_id", requestID))

	if s.poller != nil {
		s.poller.Track(context.WithoutCancel(ctx), rec.ClientID, flow, requestID)
	}
	return rec, nil
}

// Quote returns the relay quote req would be submitted with, without signing anything.
func (s *Service) Quote(ctx context.Context, req model.BridgeRequest) (*model.QuoteSummary, error) {
	fc, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	quote, err := s.quote(ctx, fc)
	if err != nil {
		return nil, err
	}
	return Summarize(quote), nil
}

// Wait blocks until requestID reaches a terminal status or the flow's attempt
// budget is spent.
func (s *Service) Wait(
	ctx context.Context,
	clientID, requestID string,
	flow model.Flow,
	onProgress relay.ProgressFunc,
) (*relay.StatusResponse, error) {
	if s.poller == nil {
		return nil, errors.New("poller not configured")
	}
	return s.poller.Wait(ctx, clientID, requestID, onProgress, s.poller.FlowOptions(flow)...)
}

// FetchStatus loads the live relay status of requestID. It implements relay.StatusFetcher.
func (s *Service) FetchStatus(ctx context.Context, clientID, requestID string) (*relay.StatusResponse, error) {
	settings, err := s.resolveConfig(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return s.relay.GetStatus(ctx, &settings.Relay, requestID)
}

// Status returns the latest known state of requestID. Final records come from
// the store; otherwise the live relay status is merged in. With a store
// configured, only requests recorded for clientID are visible. Without one
// (the CLI), the relay is asked directly.
func (s *Service) Status(ctx context.Context, clientID, requestID string) (*model.BridgeRecord, error) {
	var rec *model.BridgeRecord
	if s.store != nil {
		stored, err := s.store.GetRecord(ctx, requestID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrNotFound
		case err != nil:
			s.logger.Warn("bridge.status_store_failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			return nil, fmt.Errorf("load bridge %s: %w", requestID, err)
		}
		if clientID != "" && stored.ClientID != "" && stored.ClientID != clientID {
			return nil, ErrNotFound
		}
		if stored.Final {
			return stored, nil
		}
		rec = stored
	}

	if clientID == "" && rec != nil {
		clientID = rec.ClientID
	}
	live, err := s.FetchStatus(ctx, clientID, requestID)
	if err != nil {
		if rec != nil {
			s.logger.Warn("bridge.status_live_failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			return rec, nil
		}
		return nil, err
	}

	status := relay.NormalizeStatus(live.Status)
	if rec == nil {
		rec = &model.BridgeRecord{
			RequestID:          requestID,
			ClientID:           clientID,
			OriginChainID:      live.OriginChainID,
			DestinationChainID: live.DestinationChainID,
		}
	} else if status != rec.Status && s.store != nil {
		evt := model.StatusEvent{
			RequestID:  requestID,
			ClientID:   rec.ClientID,
			Flow:       rec.Flow,
			Status:     status,
			Changed:    true,
			InTxHashes: live.InTxHashes,
			TxHashes:   live.TxHashes,
			Final:      relay.IsTerminalStatus(status),
			Timestamp:  s.now().UTC(),
		}
		if _, err := s.store.ApplyStatus(ctx, evt); err != nil {
			s.logger.Warn("bridge.status_apply_failed",
				zap.String("request_id", requestID),
				zap.Error(err))
		}
	}

	merged := *rec
	merged.Status = status
	merged.Final = relay.IsTerminalStatus(status)
	if len(live.InTxHashes) > 0 {
		merged.InTxHashes = live.InTxHashes
	}
	if len(live.TxHashes) > 0 {
		merged.TxHashes = live.TxHashes
	}
	merged.UpdatedAt = s.now().UTC()
	return &merged, nil
}

// HandleStatusEvent persists a tracked status event. It is subscribed to the event bus.
func (s *Service) HandleStatusEvent(ctx context.Context, evt model.StatusEvent) {
	if s.store == nil {
		return
	}
	if _, err := s.store.ApplyStatus(ctx, evt); err != nil {
		s.logger.Error("bridge.apply_status_failed",
			zap.String("request_id", evt.RequestID),
			zap.String("status", evt.Status),
			zap.Error(err))
	}
}

// quote requests a relay quote for the flow's account.
func (s *Service) quote(ctx context.Context, fc *flowContext) (*relay.QuoteResponse, error) {
	req := &relay.QuoteRequest{
		User:                fc.account.Hex(),
		Recipient:           recipientOf(fc),
		OriginChainID:       fc.req.OriginChainID,
		DestinationChainID:  fc.req.DestinationChainID,
		OriginCurrency:      fc.req.OriginCurrency,
		DestinationCurrency: fc.req.DestinationCurrency,
		Amount:              fc.amount.String(),
		TradeType:           relay.TradeTypeExactInput,
		UsePermit:           fc.req.Flow == model.FlowPermit,
		Referrer:            fc.settings.Relay.Referrer,
	}
	quote, err := s.relay.GetQuote(ctx, &fc.settings.Relay, req)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	s.logger.Debug("bridge.quote",
		zap.String("client", fc.req.ClientID),
		zap.String("request_id", quote.RequestID()),
		zap.Int("steps", len(quote.Steps)))
	return quote, nil
}

// execute submits one raw call through the relayer and returns the request id.
func (s *Service) execute(
	ctx context.Context,
	fc *flowContext,
	to common.Address,
	data []byte,
	auths []relay.Authorization,
	quoteRequestID string,
) (string, error) {
	req := &relay.ExecuteRequest{
		ExecutionKind: relay.ExecutionKindRawCalls,
		Data: relay.ExecuteData{
			ChainID:           fc.req.OriginChainID,
			To:                to.Hex(),
			Data:              hexutil.Encode(data),
			Value:             "0",
			AuthorizationList: auths,
		},
		ExecutionOptions: relay.ExecutionOptions{
			Referrer:      fc.settings.Relay.Referrer,
			SubsidizeFees: s.cfg.SubsidizeFees,
		},
		RequestID: quoteRequestID,
	}
	resp, err := s.relay.Execute(ctx, &fc.settings.Relay, req)
	if err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}
	requestID := firstNonEmpty(resp.RequestID, quoteRequestID)
	if requestID == "" {
		return "", errors.New("relay returned no request id")
	}
	return requestID, nil
}

func (s *Service) requireChain() error {
	if s.chain == nil {
		return errors.New("no chain RPC configured")
	}
	return nil
}

func recipientOf(fc *flowContext) string {
	if fc.req.Recipient != "" {
		return common.HexToAddress(fc.req.Recipient).Hex()
	}
	return fc.account.Hex()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
