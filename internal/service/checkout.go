package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/payment"
	"github.com/tradesignal/billing-server-go/internal/repository"
)

const proOrderDescription = "TradeSignal AI PRO Monthly Subscription"

var popularCryptocurrencies = []string{
	"btc", "eth", "usdt", "usdc", "bnb", "sol", "ada", "xrp",
	"ltc", "doge", "matic", "trx", "dot", "avax", "link", "atom",
}

type CardSessionCreator interface {
	Configured() bool
	CreateSession(ctx context.Context, p payment.CardCheckoutParams) (*payment.CardCheckoutSession, error)
}

type CryptoGateway interface {
	Configured() bool
	CreateInvoice(ctx context.Context, params payment.CreateInvoiceParams) (*payment.CryptoInvoice, error)
	Currencies(ctx context.Context) ([]string, error)
	PaymentStatus(ctx context.Context, paymentID string) (*payment.CryptoPaymentStatus, error)
}

type CryptoCheckout struct {
	InvoiceID   string `json:"invoiceId"`
	InvoiceURL  string `json:"invoiceUrl"`
	PayAddress  string `json:"payAddress,omitempty"`
	PayAmount   string `json:"payAmount,omitempty"`
	PayCurrency string `json:"payCurrency,omitempty"`
	OrderID     string `json:"orderId"`
}

type CurrencyList struct {
	Currencies    []string `json:"currencies"`
	AllCurrencies int      `json:"allCurrencies"`
}

type CheckoutConfig struct {
	BaseURL     string
	ProPriceUSD float64
}

// CheckoutService starts PRO purchases with either provider. Entitlement only
// changes later, when the provider's webhook is reconciled.
type CheckoutService struct {
	accounts repository.AccountRepository
	card     CardSessionCreator
	crypto   CryptoGateway
	cfg      CheckoutConfig
	now      func() time.Time
}

func NewCheckoutService(accounts repository.AccountRepository, card CardSessionCreator, crypto CryptoGateway, cfg CheckoutConfig) *CheckoutService {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &CheckoutService{accounts: accounts, card: card, crypto: crypto, cfg: cfg, now: time.Now}
}

func (s *CheckoutService) CardCheckout(ctx context.Context, accountID string) (*payment.CardCheckoutSession, error) {
	if s.card == nil || !s.card.Configured() {
		return nil, apperrors.NotConfigured("Card checkout")
	}
	account, err := s.requireAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.IsPro() {
		return nil, apperrors.Conflict("Account already has PRO")
	}

	params := payment.CardCheckoutParams{
		AccountID:  account.ID,
		SuccessURL: s.cfg.BaseURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.cfg.BaseURL + "/pricing",
	}
	if account.Email != nil {
		params.CustomerEmail = *account.Email
	}

	session, err := s.card.CreateSession(ctx, params)
	if err != nil {
		return nil, apperrors.External("card provider", err)
	}
	log.Info().Str("account_id", account.ID).Str("session_id", session.ID).Msg("Card checkout session created")
	return session, nil
}

// CryptoCheckout opens an invoice whose order id embeds the account id and links
// that order id to the account before the first callback can arrive.
func (s *CheckoutService) CryptoCheckout(ctx context.Context, accountID, cryptocurrency string) (*CryptoCheckout, error) {
	if s.crypto == nil || !s.crypto.Configured() {
		return nil, apperrors.NotConfigured("Crypto checkout")
	}
	cryptocurrency = strings.ToLower(strings.TrimSpace(cryptocurrency))
	if cryptocurrency == "" {
		return nil, apperrors.MissingRequired("cryptocurrency")
	}
	account, err := s.requireAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.IsPro() {
		return nil, apperrors.Conflict("Account already has PRO")
	}

	orderID := payment.NewOrderID(account.ID, s.now())
	if err := s.accounts.LinkProvider(ctx, account.ID, model.ProviderCrypto, orderID); err != nil {
		return nil, apperrors.Database(err)
	}

	invoice, err := s.crypto.CreateInvoice(ctx, payment.CreateInvoiceParams{
		PriceAmount:      s.cfg.ProPriceUSD,
		PriceCurrency:    "USD",
		PayCurrency:      cryptocurrency,
		OrderID:          orderID,
		OrderDescription: proOrderDescription,
		IPNCallbackURL:   s.cfg.BaseURL + "/webhooks/crypto-provider",
		SuccessURL:       s.cfg.BaseURL + "/payment/success",
		CancelURL:        s.cfg.BaseURL + "/pricing",
	})
	if err != nil {
		return nil, apperrors.External("crypto provider", err)
	}

	log.Info().Str("account_id", account.ID).Str("order_id", orderID).Msg("Crypto invoice created")
	return &CryptoCheckout{
		InvoiceID:   invoice.ID.String(),
		InvoiceURL:  invoice.InvoiceURL,
		PayAddress:  invoice.PayAddress,
		PayAmount:   invoice.PayAmount.String(),
		PayCurrency: invoice.PayCurrency,
		OrderID:     orderID,
	}, nil
}

func (s *CheckoutService) Currencies(ctx context.Context) (*CurrencyList, error) {
	if s.crypto == nil || !s.crypto.Configured() {
		return nil, apperrors.NotConfigured("Crypto checkout")
	}
	all, err := s.crypto.Currencies(ctx)
	if err != nil {
		return nil, apperrors.External("crypto provider", err)
	}

	popular := make([]string, 0, len(popularCryptocurrencies))
	for _, c := range all {
		if slices.Contains(popularCryptocurrencies, strings.ToLower(c)) {
			popular = append(popular, c)
		}
	}
	return &CurrencyList{Currencies: popular, AllCurrencies: len(all)}, nil
}

// PaymentStatus only reports payments whose order belongs to the caller.
func (s *CheckoutService) PaymentStatus(ctx context.Context, accountID, paymentID string) (*payment.CryptoPaymentStatus, error) {
	if s.crypto == nil || !s.crypto.Configured() {
		return nil, apperrors.NotConfigured("Crypto checkout")
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, apperrors.MissingRequired("payment_id")
	}
	status, err := s.crypto.PaymentStatus(ctx, paymentID)
	if err != nil {
		return nil, apperrors.External("crypto provider", err)
	}
	if owner, ok := payment.OrderAccountID(status.OrderID); !ok || owner != accountID {
		return nil, apperrors.NotFound("Payment")
	}
	return status, nil
}

func (s *CheckoutService) requireAccount(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, apperrors.Unauthorized("Account not found")
	}
	return account, nil
}
