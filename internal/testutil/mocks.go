package testutil

import (
	"context"

	"github.com/dgellow/agrosense/internal/authclient"
	"github.com/stretchr/testify/mock"
)

// MockAuthClient satisfies the AuthClient interfaces of the entry and otp
// packages
type MockAuthClient struct {
	mock.Mock
}

func (m *MockAuthClient) RequestSignup(ctx context.Context, name, phone string) (*authclient.Response, error) {
	args := m.Called(ctx, name, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authclient.Response), args.Error(1)
}

func (m *MockAuthClient) RequestOTP(ctx context.Context, phone string) (*authclient.Response, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authclient.Response), args.Error(1)
}

func (m *MockAuthClient) VerifyOTP(ctx context.Context, phone, code string, authType authclient.AuthType) (*authclient.Verification, error) {
	args := m.Called(ctx, phone, code, authType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authclient.Verification), args.Error(1)
}
