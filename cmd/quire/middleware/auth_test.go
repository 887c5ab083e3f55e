package middleware

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/TFMV/quire/cmd/quire/config"
)

func setupTestAuthMiddleware(t *testing.T, enabled bool) *AuthMiddleware {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	cfg := config.AuthConfig{
		Enabled: enabled,
		Users:   map[string]string{"root": "root"},
		JWT: config.JWTAuthConfig{
			Secret: "test-secret",
			Issuer: "test-issuer",
			TTL:    time.Hour,
		},
	}

	m, err := NewAuthMiddleware(cfg, logger)
	require.NoError(t, err)
	return m
}

func bearerContext(token string) context.Context {
	md := metadata.New(map[string]string{"authorization": "Bearer " + token})
	return metadata.NewIncomingContext(context.Background(), md)
}

func TestNewAuthMiddleware_GeneratesSecret(t *testing.T) {
	m, err := NewAuthMiddleware(config.AuthConfig{Enabled: true}, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, m.secret, 32)
	assert.Equal(t, 12*time.Hour, m.config.JWT.TTL)
}

func TestAuthMiddleware_ValidateHandshakePayload(t *testing.T) {
	m := setupTestAuthMiddleware(t, true)

	tests := []struct {
		name    string
		payload string
		user    string
		wantErr bool
	}{
		{name: "plain credentials", payload: "root:root", user: "root"},
		{name: "basic credentials", payload: "Basic " + base64.StdEncoding.EncodeToString([]byte("root:root")), user: "root"},
		{name: "wrong password", payload: "root:nope", wantErr: true},
		{name: "unknown user", payload: "admin:root", wantErr: true},
		{name: "no separator", payload: "root", wantErr: true},
		{name: "bad base64", payload: "Basic !!!", wantErr: true},
		{name: "empty", payload: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := m.ValidateHandshakePayload([]byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, codes.Unauthenticated, status.Code(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.user, user)
		})
	}

	t.Run("disabled accepts anything", func(t *testing.T) {
		user, err := setupTestAuthMiddleware(t, false).ValidateHandshakePayload(nil)
		require.NoError(t, err)
		assert.Equal(t, "anonymous", user)
	})
}

func TestAuthMiddleware_AuthenticateJWT(t *testing.T) {
	m := setupTestAuthMiddleware(t, true)

	t.Run("session token round trip", func(t *testing.T) {
		token, err := m.CreateSessionToken("root")
		require.NoError(t, err)

		authCtx, err := m.authenticateJWT(bearerContext(token))
		require.NoError(t, err)

		user, ok := GetUser(authCtx)
		assert.True(t, ok)
		assert.Equal(t, "root", user)
	})

	t.Run("missing metadata", func(t *testing.T) {
		_, err := m.authenticateJWT(context.Background())
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("missing authorization header", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.New(nil))
		_, err := m.authenticateJWT(ctx)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("basic header rejected", func(t *testing.T) {
		md := metadata.New(map[string]string{"authorization": "Basic cm9vdDpyb290"})
		_, err := m.authenticateJWT(metadata.NewIncomingContext(context.Background(), md))
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := m.authenticateJWT(bearerContext("invalid.token.here"))
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("expired token", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   "root",
			Issuer:    "test-issuer",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
		require.NoError(t, err)

		_, err = m.authenticateJWT(bearerContext(token))
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   "root",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
		require.NoError(t, err)

		_, err = m.authenticateJWT(bearerContext(token))
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("wrong secret", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   "root",
			Issuer:    "test-issuer",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other"))
		require.NoError(t, err)

		_, err = m.authenticateJWT(bearerContext(token))
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("unsigned token", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   "root",
			Issuer:    "test-issuer",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = m.authenticateJWT(bearerContext(token))
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})
}

func TestAuthMiddleware_UnaryInterceptor(t *testing.T) {
	m := setupTestAuthMiddleware(t, true)
	interceptor := m.UnaryInterceptor()

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		user, _ := GetUser(ctx)
		return user, nil
	}

	t.Run("health bypasses auth", func(t *testing.T) {
		info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
		_, err := interceptor(context.Background(), nil, info, handler)
		require.NoError(t, err)
	})

	t.Run("rejects anonymous", func(t *testing.T) {
		info := &grpc.UnaryServerInfo{FullMethod: "/arrow.flight.protocol.FlightService/GetFlightInfo"}
		_, err := interceptor(context.Background(), nil, info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("passes user through", func(t *testing.T) {
		token, err := m.CreateSessionToken("root")
		require.NoError(t, err)

		info := &grpc.UnaryServerInfo{FullMethod: "/arrow.flight.protocol.FlightService/GetFlightInfo"}
		resp, err := interceptor(bearerContext(token), nil, info, handler)
		require.NoError(t, err)
		assert.Equal(t, "root", resp)
	})

	t.Run("disabled lets everything through", func(t *testing.T) {
		info := &grpc.UnaryServerInfo{FullMethod: "/arrow.flight.protocol.FlightService/GetFlightInfo"}
		_, err := setupTestAuthMiddleware(t, false).UnaryInterceptor()(context.Background(), nil, info, handler)
		require.NoError(t, err)
	})
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeServerStream) Context() context.Context { return s.ctx }

func TestAuthMiddleware_StreamInterceptor(t *testing.T) {
	m := setupTestAuthMiddleware(t, true)
	interceptor := m.StreamInterceptor()

	var seen string
	handler := func(srv interface{}, ss grpc.ServerStream) error {
		seen, _ = GetUser(ss.Context())
		return nil
	}

	t.Run("handshake bypasses auth", func(t *testing.T) {
		info := &grpc.StreamServerInfo{FullMethod: HandshakeMethod}
		require.NoError(t, interceptor(nil, &fakeServerStream{ctx: context.Background()}, info, handler))
	})

	t.Run("do get requires token", func(t *testing.T) {
		info := &grpc.StreamServerInfo{FullMethod: "/arrow.flight.protocol.FlightService/DoGet"}
		err := interceptor(nil, &fakeServerStream{ctx: context.Background()}, info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))

		token, err := m.CreateSessionToken("root")
		require.NoError(t, err)
		require.NoError(t, interceptor(nil, &fakeServerStream{ctx: bearerContext(token)}, info, handler))
		assert.Equal(t, "root", seen)
	})
}
