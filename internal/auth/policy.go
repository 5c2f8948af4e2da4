package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var signingMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
)

// Claims are the token claims the catalog reads
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Policy validates bearer tokens against the issuer and shared secret
// obtained at startup. It is immutable and safe for concurrent use.
type Policy struct {
	issuer   string
	secret   []byte
	audience string
	parser   *jwt.Parser
}

// NewPolicy builds a policy that checks signature, issuer and expiry, and the
// audience only when validateAudience is set.
func NewPolicy(material TrustMaterial, validateAudience bool, audience string) *Policy {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(signingMethods),
		jwt.WithIssuer(material.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
	}
	if validateAudience {
		opts = append(opts, jwt.WithAudience(audience))
	}

	return &Policy{
		issuer:   material.Issuer,
		secret:   []byte(material.Secret),
		audience: audience,
		parser:   jwt.NewParser(opts...),
	}
}

// Issuer returns the issuer every accepted token must carry
func (p *Policy) Issuer() string {
	return p.issuer
}

// Validate parses tokenString and returns its claims
func (p *Policy) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := p.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Join(ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// Sign issues an HS256 token accepted by the policy. An empty issuer claim is
// filled with the policy's issuer.
func (p *Policy) Sign(claims Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = p.issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}
