// Package middleware provides gRPC middleware for the quire query server.
package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/TFMV/quire/cmd/quire/config"
)

// HandshakeMethod is the Flight RPC that exchanges credentials for a token.
const HandshakeMethod = "/arrow.flight.protocol.FlightService/Handshake"

// AuthMiddleware authenticates requests. Clients log in with "user:password"
// through the Flight handshake and receive a signed session token which they
// present as a bearer token on every later call.
type AuthMiddleware struct {
	config config.AuthConfig
	logger zerolog.Logger
	secret []byte
	now    func() time.Time
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(cfg config.AuthConfig, logger zerolog.Logger) (*AuthMiddleware, error) {
	secret := []byte(cfg.JWT.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
	}
	if cfg.JWT.TTL <= 0 {
		cfg.JWT.TTL = 12 * time.Hour
	}

	return &AuthMiddleware{
		config: cfg,
		logger: logger,
		secret: secret,
		now:    time.Now,
	}, nil
}

// Enabled reports whether authentication is enforced.
func (m *AuthMiddleware) Enabled() bool {
	return m.config.Enabled
}

// UnaryInterceptor returns a unary server interceptor for authentication.
func (m *AuthMiddleware) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if skipAuth(info.FullMethod) {
			return handler(ctx, req)
		}

		authCtx, err := m.authenticate(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Str("method", info.FullMethod).Msg("Authentication failed")
			return nil, err
		}

		return handler(authCtx, req)
	}
}

// StreamInterceptor returns a stream server interceptor for authentication.
func (m *AuthMiddleware) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if skipAuth(info.FullMethod) {
			return handler(srv, ss)
		}

		authCtx, err := m.authenticate(ss.Context())
		if err != nil {
			m.logger.Warn().Err(err).Str("method", info.FullMethod).Msg("Authentication failed")
			return err
		}

		return handler(srv, &authServerStream{ServerStream: ss, ctx: authCtx})
	}
}

// skipAuth lets health probes and the login handshake through.
func skipAuth(method string) bool {
	return strings.Contains(method, "grpc.health") || method == HandshakeMethod
}

// ValidateHandshakePayload checks a "user:password" payload and returns the
// user. A "Basic <base64>" form is accepted too.
func (m *AuthMiddleware) ValidateHandshakePayload(payload []byte) (string, error) {
	if !m.config.Enabled {
		return "anonymous", nil
	}

	creds := string(payload)
	if strings.HasPrefix(creds, "Basic ") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(creds, "Basic "))
		if err != nil {
			return "", status.Error(codes.Unauthenticated, "invalid credentials encoding")
		}
		creds = string(decoded)
	}

	username, password, ok := strings.Cut(creds, ":")
	if !ok || username == "" {
		return "", status.Error(codes.Unauthenticated, "invalid credentials format")
	}

	expected, ok := m.config.Users[username]
	if !ok {
		return "", status.Error(codes.Unauthenticated, "invalid credentials")
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(expected)) != 1 {
		return "", status.Error(codes.Unauthenticated, "invalid credentials")
	}

	return username, nil
}

// CreateSessionToken signs a session token for user.
func (m *AuthMiddleware) CreateSessionToken(user string) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   user,
		Issuer:    m.config.JWT.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.config.JWT.TTL)),
		ID:        uuid.NewString(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", status.Errorf(codes.Internal, "sign session token: %v", err)
	}
	return token, nil
}

func (m *AuthMiddleware) authenticate(ctx context.Context) (context.Context, error) {
	if !m.config.Enabled {
		return ctx, nil
	}
	return m.authenticateJWT(ctx)
}

// authenticateJWT validates the bearer session token.
func (m *AuthMiddleware) authenticateJWT(ctx context.Context) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing authorization header")
	}

	authHeader := authHeaders[0]
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, status.Error(codes.Unauthenticated, "invalid authorization header")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.config.JWT.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.config.JWT.Issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimPrefix(authHeader, "Bearer "), claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
	}
	if claims.Subject == "" {
		return nil, status.Error(codes.Unauthenticated, "token has no subject")
	}

	return context.WithValue(ctx, contextKeyUser, claims.Subject), nil
}

type contextKey string

const contextKeyUser contextKey = "user"

// GetUser extracts the authenticated user from context.
func GetUser(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(contextKeyUser).(string)
	return user, ok
}

// authServerStream wraps a ServerStream with authenticated context.
type authServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authServerStream) Context() context.Context {
	return s.ctx
}
