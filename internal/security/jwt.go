package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"

	"github.com/golang-jwt/jwt"
)

var (
	ErrInvalidToken    = fmt.Errorf("%w: invalid token", domain.ErrUnauthenticated)
	ErrTokenExpired    = fmt.Errorf("%w: token expired", domain.ErrUnauthenticated)
	ErrInvalidIssuer   = fmt.Errorf("%w: invalid issuer", domain.ErrUnauthenticated)
	ErrInvalidAudience = fmt.Errorf("%w: invalid audience", domain.ErrUnauthenticated)
	ErrInvalidSubject  = fmt.Errorf("%w: invalid subject", domain.ErrUnauthenticated)
)

// Используется SigningMethodRS256
type JWTSigner struct {
	private   *rsa.PrivateKey
	public    *rsa.PublicKey
	issuer    string
	audience  string
	ttl       time.Duration
	clockSkew time.Duration
	now       func() time.Time
}

func NewJWTSigner(private *rsa.PrivateKey, public *rsa.PublicKey, issuer, audience string, ttl, clockSkew time.Duration) *JWTSigner {
	return &JWTSigner{
		private:   private,
		public:    public,
		issuer:    issuer,
		audience:  audience,
		ttl:       ttl,
		clockSkew: clockSkew,
		now:       time.Now,
	}
}

func (s *JWTSigner) TTL() time.Duration {
	return s.ttl
}

type AccessClaims struct {
	jwt.StandardClaims        // Issuer, Audience, ExpiresAt, NotBefore, IssuedAt, Subject
	Username           string `json:"username"`
	IsAdmin            bool   `json:"is_admin,omitempty"`
}

// SignAccessToken выпускает JWT с sub=userID и exp=now+ttl
func (s *JWTSigner) SignAccessToken(p domain.Principal, now time.Time) (string, error) {
	claims := AccessClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   strconv.FormatInt(int64(p.UserID), 10),
			Issuer:    s.issuer,
			Audience:  s.audience,
			IssuedAt:  now.Unix(),
			NotBefore: now.Add(-s.clockSkew).Unix(),
			ExpiresAt: now.Add(s.ttl).Unix(),
		},
		Username: p.Username,
		IsAdmin:  p.IsAdmin,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)

	return token.SignedString(s.private)
}

func (s *JWTSigner) ParseAndValidate(tokenStr string) (*AccessClaims, error) {
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}

	claims := &AccessClaims{}
	parser := &jwt.Parser{SkipClaimsValidation: true} // exp/nbf проверяем сами, с учётом clockSkew
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok || t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, ErrInvalidToken
		}
		return s.public, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if !claims.VerifyIssuer(s.issuer, true) {
		return nil, ErrInvalidIssuer
	}
	if s.audience != "" && !claims.VerifyAudience(s.audience, true) {
		return nil, ErrInvalidAudience
	}

	now := s.now()
	nbf := time.Unix(claims.NotBefore, 0).Add(-s.clockSkew)
	exp := time.Unix(claims.ExpiresAt, 0).Add(s.clockSkew) // даём люфт на «часы»
	if now.Before(nbf) || now.After(exp) {
		return nil, ErrTokenExpired
	}

	return claims, nil
}

// Verify проверяет токен и возвращает Principal.
func (s *JWTSigner) Verify(tokenStr string) (domain.Principal, error) {
	claims, err := s.ParseAndValidate(tokenStr)
	if err != nil {
		return domain.Principal{}, err
	}
	id, err := SubjectAsUserID(claims)
	if err != nil {
		return domain.Principal{}, err
	}
	return domain.Principal{UserID: id, Username: claims.Username, IsAdmin: claims.IsAdmin}, nil
}

// SubjectAsUserID парсит sub в domain.UserID.
func SubjectAsUserID(claims *AccessClaims) (domain.UserID, error) {
	if claims == nil || claims.Subject == "" {
		return 0, ErrInvalidSubject
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidSubject
	}

	return domain.UserID(id), nil
}

func LoadRSAPrivateKeyFromPEM(path string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not RSA private key")
	}

	return pk, nil
}

func LoadRSAPublicKeyFromPEM(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(b)
}
