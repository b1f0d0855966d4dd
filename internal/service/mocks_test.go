package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/payment"
)

type MockSignalRepository struct {
	mock.Mock
}

func (m *MockSignalRepository) FindLatestDaily(ctx context.Context, from, to time.Time) (*model.DailySignal, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DailySignal), args.Error(1)
}

func (m *MockSignalRepository) FindRecentPublishedDaily(ctx context.Context, limit int) ([]model.DailySignal, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DailySignal), args.Error(1)
}

func (m *MockSignalRepository) FindCompletedTrades(ctx context.Context, filter model.TradeSignalFilter) ([]model.TradeSignal, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TradeSignal), args.Error(1)
}

func (m *MockSignalRepository) CountCompletedTrades(ctx context.Context, filter model.TradeSignalFilter) (int, error) {
	args := m.Called(ctx, filter)
	return args.Int(0), args.Error(1)
}

type MockCryptoGateway struct {
	mock.Mock
}

func (m *MockCryptoGateway) Configured() bool {
	return m.Called().Bool(0)
}

func (m *MockCryptoGateway) CreateInvoice(ctx context.Context, params payment.CreateInvoiceParams) (*payment.CryptoInvoice, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.CryptoInvoice), args.Error(1)
}

func (m *MockCryptoGateway) Currencies(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockCryptoGateway) PaymentStatus(ctx context.Context, paymentID string) (*payment.CryptoPaymentStatus, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.CryptoPaymentStatus), args.Error(1)
}

type MockCardSessionCreator struct {
	mock.Mock
}

func (m *MockCardSessionCreator) Configured() bool {
	return m.Called().Bool(0)
}

func (m *MockCardSessionCreator) CreateSession(ctx context.Context, p payment.CardCheckoutParams) (*payment.CardCheckoutSession, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.CardCheckoutSession), args.Error(1)
}
