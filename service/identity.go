package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zlnvch/layerlink/models"
)

// IdentityRequired reports whether connections must present a signed
// identity token.
func (s *Service) IdentityRequired() bool {
	return len(s.IdentitySecret) > 0
}

// CreateIdentityToken signs the identity of user. It is used by whatever
// resolves users upstream, and by tests.
func (s *Service) CreateIdentityToken(user models.User, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"id":    user.Id,
		"name":  user.Name,
		"color": user.Color,
		"exp":   time.Now().Add(ttl).Unix(),
		"iat":   time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.IdentitySecret)
	if err != nil {
		return "", err
	}

	return signedToken, nil
}

func (s *Service) VerifyIdentity(tokenString string) (models.User, error) {
	if len(tokenString) == 0 {
		return models.User{}, ErrIdentityRequired
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return s.IdentitySecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.User{}, fmt.Errorf("%w: invalid claims", ErrInvalidIdentity)
	}

	var user models.User
	for claim, dst := range map[string]*string{"id": &user.Id, "name": &user.Name, "color": &user.Color} {
		value, ok := claims[claim].(string)
		if !ok {
			return models.User{}, fmt.Errorf("%w: missing %s claim", ErrInvalidIdentity, claim)
		}
		*dst = value
	}

	if err := models.ValidateUser(user); err != nil {
		return models.User{}, fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}
	return user, nil
}
