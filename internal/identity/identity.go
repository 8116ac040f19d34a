// Package identity resolves the anonymous voter key of a browser session.
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"interactive-report-service/internal/domain"
)

// Identity is a stable anonymous voter.
type Identity struct {
	ID    string `json:"id"`
	Token string `json:"token,omitempty"`
}

// Provider resolves the session identity. Ensure is idempotent and caches its result.
type Provider interface {
	Ensure(ctx context.Context) (Identity, error)
}

// AnonymousProvider mints a random identity on first use and keeps it for the session.
type AnonymousProvider struct {
	mu       sync.Mutex
	identity *Identity
	newID    func() string
}

func NewAnonymousProvider() *AnonymousProvider {
	return &AnonymousProvider{newID: uuid.NewString}
}

func (p *AnonymousProvider) Ensure(ctx context.Context) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", domain.ErrMissingIdentity, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identity == nil {
		p.identity = &Identity{ID: p.newID()}
	}
	return *p.identity, nil
}

// Static always returns the same identity.
type Static Identity

func (s Static) Ensure(context.Context) (Identity, error) {
	return Identity(s), nil
}

// Issuer signs identity tokens so a browser can present the same anonymous id across
// connections without the server keeping a session table.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

const issuerName = "interactive-report-service"

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue mints a new anonymous identity with a signed token.
func (i *Issuer) Issue() (Identity, error) {
	return i.Sign(uuid.NewString())
}

// Sign produces a token for an existing id.
func (i *Issuer) Sign(id string) (Identity, error) {
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:  id,
		Issuer:   issuerName,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Identity{}, fmt.Errorf("sign identity: %w", err)
	}
	return Identity{ID: id, Token: token}, nil
}

// Parse validates a token and returns its identity.
func (i *Issuer) Parse(token string) (Identity, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuerName), jwt.WithTimeFunc(i.now))
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", domain.ErrMissingIdentity, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: empty subject", domain.ErrMissingIdentity)
	}
	return Identity{ID: claims.Subject, Token: token}, nil
}

// TokenProvider resolves the identity carried by a session token, minting a new one when
// the session has none. The result is cached.
type TokenProvider struct {
	issuer *Issuer
	token  string

	mu       sync.Mutex
	identity *Identity
}

func NewTokenProvider(issuer *Issuer, token string) *TokenProvider {
	return &TokenProvider{issuer: issuer, token: token}
}

func (p *TokenProvider) Ensure(ctx context.Context) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", domain.ErrMissingIdentity, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identity != nil {
		return *p.identity, nil
	}
	var (
		id  Identity
		err error
	)
	if p.token != "" {
		id, err = p.issuer.Parse(p.token)
	} else {
		id, err = p.issuer.Issue()
	}
	if err != nil {
		return Identity{}, err
	}
	p.identity = &id
	return id, nil
}
