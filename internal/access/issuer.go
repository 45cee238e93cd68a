package access

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/golang-jwt/jwt/v5"

	"access.org/internal/ids"
)

// Token classes. The user token only carries the capability to request
// transaction tokens; transaction tokens carry the fully resolved scope set.
const (
	TokenClassUser        = "user"
	TokenClassTransaction = "transaction"
)

// Default token lifetimes.
const (
	DefaultUserTokenValidity        = 365 * 24 * time.Hour
	DefaultTransactionTokenValidity = 5 * time.Minute
)

// Claims is the claim set of every token minted by the Issuer.
type Claims struct {
	Tenant           string   `json:"ten"`
	IncludesCritical bool     `json:"crt"`
	Roles            []string `json:"rls"`
	jwt.RegisteredClaims
}

// HasAudience reports whether the scope code is present in the audience list.
func (c *Claims) HasAudience(code string) bool {
	for _, aud := range c.Audience {
		if aud == code {
			return true
		}
	}
	return false
}

// Issuer signs and verifies JWTs with an ES512 key pair. The private key is
// held only by the issuing process; anything holding the public key (or the
// published JWKS) can verify without being able to mint.
type Issuer struct {
	privateKey *ecdsa.PrivateKey
	keyID      string
	issuer     string
	now        func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer) error

// WithKeyPEM loads the ES512 signing key from a PEM-encoded EC private key.
func WithKeyPEM(privatePEM []byte) IssuerOption {
	return func(i *Issuer) error {
		key, err := jwt.ParseECPrivateKeyFromPEM(privatePEM)
		if err != nil {
			return fmt.Errorf("parse ec private key: %w", err)
		}
		return WithKey(key)(i)
	}
}

// WithKey uses the given ECDSA key directly. The curve must be P-521.
func WithKey(key *ecdsa.PrivateKey) IssuerOption {
	return func(i *Issuer) error {
		if key == nil {
			return errors.New("signing key is required")
		}
		if key.Curve != elliptic.P521() {
			return fmt.Errorf("ES512 requires a P-521 key, got %s", key.Curve.Params().Name)
		}
		i.privateKey = key
		return nil
	}
}

// WithGeneratedKey generates an ephemeral P-521 key. Tokens do not survive a
// restart; intended for tests and local development.
func WithGeneratedKey() IssuerOption {
	return func(i *Issuer) error {
		key, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
		if err != nil {
			return err
		}
		i.privateKey = key
		return nil
	}
}

// WithIssuerName sets the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) error {
		if name != "" {
			i.issuer = name
		}
		return nil
	}
}

// WithKeyID sets the kid embedded in token headers and the JWKS.
func WithKeyID(kid string) IssuerOption {
	return func(i *Issuer) error {
		i.keyID = kid
		return nil
	}
}

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) error {
		if fn != nil {
			i.now = fn
		}
		return nil
	}
}

// NewIssuer constructs an Issuer. A signing key option is required.
func NewIssuer(opts ...IssuerOption) (*Issuer, error) {
	i := &Issuer{
		issuer: "access",
		keyID:  "access-es512",
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	if i.privateKey == nil {
		return nil, errors.New("access: issuer requires a signing key")
	}
	return i, nil
}

// CreateToken signs a JWT for the user with the given validity and audience
// list and returns the compact token together with its jti. Callers persist
// the jti as a UserToken when the token must be revocable.
func (i *Issuer) CreateToken(user *User, validity time.Duration, audiences []string, includeCritical bool, roleNames []string) (token, tokenID string, err error) {
	if validity <= 0 {
		return "", "", errors.New("validity must be greater than zero")
	}
	now := i.now().UTC()
	tokenID = ids.NewString(TokenIDLength)
	if audiences == nil {
		audiences = []string{}
	}

	claims := Claims{
		Tenant:           user.TenantID,
		IncludesCritical: includeCritical,
		Roles:            roleNames,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings(audiences),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
			ID:        tokenID,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES512, claims)
	tok.Header["kid"] = i.keyID
	signed, err := tok.SignedString(i.privateKey)
	if err != nil {
		return "", "", fmt.Errorf("sign token: %w", err)
	}
	return signed, tokenID, nil
}

// Verify checks the token signature and time claims against the issuing key
// and returns the parsed claims.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return &i.privateKey.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodES512.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return i.now().UTC() }),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// JWKS returns the public half of the signing key as a JSON Web Key Set,
// served to downstream verifiers.
func (i *Issuer) JWKS() ([]byte, error) {
	jwk, err := jwkset.NewJWKFromKey(&i.privateKey.PublicKey, jwkset.JWKOptions{
		Metadata: jwkset.JWKMetadataOptions{
			ALG: jwkset.AlgES512,
			KID: i.keyID,
			USE: jwkset.UseSig,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build jwk: %w", err)
	}
	set := jwkset.JWKSMarshal{Keys: []jwkset.JWKMarshal{jwk.Marshal()}}
	return json.Marshal(set)
}
