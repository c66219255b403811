package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"custodial-wallet-go/internal/alchemypay"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/notify"
	"custodial-wallet-go/internal/store"

	"go.uber.org/zap"
)

type OnrampRequest struct {
	Asset      string `json:"asset" validate:"required,max=16"`
	Network    string `json:"network" validate:"required,max=32"`
	Fiat       string `json:"fiat" validate:"required,len=3,alpha"`
	FiatAmount string `json:"fiat_amount" validate:"required,numeric"`
}

type SellRequest struct {
	Asset        string `json:"asset" validate:"required,max=16"`
	Network      string `json:"network" validate:"required,max=32"`
	Fiat         string `json:"fiat" validate:"required,len=3,alpha"`
	CryptoAmount string `json:"crypto_amount" validate:"required,numeric"`
}

// CreateOnramp opens a buy session that delivers crypto to the user's own
// deposit address. The ledger is credited when that deposit arrives.
func (s *LedgerService) CreateOnramp(ctx context.Context, userId string, req OnrampRequest) (*models.RampSession, error) {
	if s.alchemyPay == nil {
		return nil, fmt.Errorf("%w: alchemypay", ErrUnavailable)
	}
	entry, err := s.lookupAsset(req.Asset, req.Network)
	if err != nil {
		return nil, err
	}
	if entry.AlchemyPayNetwork == "" {
		return nil, fmt.Errorf("%w: %s has no ramp network", ErrUnsupportedAsset, entry.Key())
	}
	fiatAmount, err := parseAmount(req.FiatAmount)
	if err != nil {
		return nil, err
	}

	address, err := s.GetOrCreateAddress(ctx, userId, AddressRequest{Asset: entry.Symbol, Network: entry.Network})
	if err != nil {
		return nil, err
	}

	order := &models.OnrampOrder{
		Id:         newReference(),
		UserId:     userId,
		Side:       models.RampSideBuy,
		Asset:      entry.Symbol,
		Network:    entry.Network,
		Fiat:       strings.ToUpper(req.Fiat),
		FiatAmount: fiatAmount,
		Address:    address.Address,
	}
	return s.openRamp(ctx, order, entry.AlchemyPayNetwork)
}

// CreateSellRamp opens a sell session for crypto the user holds.
func (s *LedgerService) CreateSellRamp(ctx context.Context, userId string, req SellRequest) (*models.RampSession, error) {
	if s.alchemyPay == nil {
		return nil, fmt.Errorf("%w: alchemypay", ErrUnavailable)
	}
	entry, err := s.lookupAsset(req.Asset, req.Network)
	if err != nil {
		return nil, err
	}
	if entry.AlchemyPayNetwork == "" {
		return nil, fmt.Errorf("%w: %s has no ramp network", ErrUnsupportedAsset, entry.Key())
	}
	cryptoAmount, err := parseAmount(req.CryptoAmount)
	if err != nil {
		return nil, err
	}

	balance, err := s.ledger.GetUserBalance(ctx, userId, entry.Symbol)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(cryptoAmount) {
		return nil, fmt.Errorf("%w: balance %s, requested %s", store.ErrInsufficientFunds, balance, cryptoAmount)
	}

	order := &models.OnrampOrder{
		Id:           newReference(),
		UserId:       userId,
		Side:         models.RampSideSell,
		Asset:        entry.Symbol,
		Network:      entry.Network,
		Fiat:         strings.ToUpper(req.Fiat),
		CryptoAmount: cryptoAmount,
	}
	return s.openRamp(ctx, order, entry.AlchemyPayNetwork)
}

func (s *LedgerService) openRamp(ctx context.Context, order *models.OnrampOrder, network string) (*models.RampSession, error) {
	url, err := s.alchemyPay.BuildRampURL(alchemypay.RampRequest{
		Side:            order.Side,
		Crypto:          order.Asset,
		Network:         network,
		Fiat:            order.Fiat,
		FiatAmount:      order.FiatAmount,
		CryptoAmount:    order.CryptoAmount,
		Address:         order.Address,
		MerchantOrderNo: order.Id,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.store.CreateOnramp(ctx, order); err != nil {
		return nil, err
	}

	zap.L().Info("Ramp session created",
		zap.String("order_id", order.Id),
		zap.String("user_id", order.UserId),
		zap.String("side", order.Side),
		zap.String("asset", order.Asset))
	return &models.RampSession{Order: order, URL: url}, nil
}

func onrampFinal(status models.OnrampStatus) bool {
	return status == models.OnrampCompleted || status == models.OnrampFailed || status == models.OnrampCancelled
}

// HandleAlchemyPayEvent records the provider's view of a ramp order.
func (s *LedgerService) HandleAlchemyPayEvent(ctx context.Context, cb *alchemypay.Callback) error {
	order, err := s.store.GetOnramp(ctx, cb.MerchantOrderNo)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			zap.L().Warn("AlchemyPay callback for unknown order", zap.String("merchant_order_no", cb.MerchantOrderNo))
			return nil
		}
		return err
	}

	status := cb.OnrampStatus()
	if onrampFinal(order.Status) || status == order.Status {
		return nil
	}
	if err := s.store.UpdateOnrampStatus(ctx, order.Id, status, cb.OrderNo, cb.TxHash, cb.CryptoAmount); err != nil {
		return err
	}

	s.notify(ctx, order.UserId, notify.Event{
		Type:  notify.EventOnrampUpdate,
		Title: "Ramp order " + strings.ToLower(string(status)),
		Body:  fmt.Sprintf("Your %s %s order is now %s", order.Asset, order.Side, strings.ToLower(string(status))),
		Data:  map[string]string{"order_id": order.Id, "status": string(status)},
	})
	return nil
}

type DeviceRequest struct {
	Token    string `json:"token" validate:"required,max=255"`
	Platform string `json:"platform" validate:"required,oneof=ios android web"`
}

// RegisterDevice stores a push token for the user. Re-registering moves the
// token to the caller.
func (s *LedgerService) RegisterDevice(ctx context.Context, userId string, req DeviceRequest) (*models.Device, error) {
	return s.store.UpsertDevice(ctx, userId, req.Token, req.Platform)
}
