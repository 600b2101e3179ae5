package exts

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync"

	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// SessionClaims is the session token issued by the auth provider.
// Profile fields come from the provider's session token template.
type SessionClaims struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
	jwt.RegisteredClaims
}

var (
	publicKey     *rsa.PublicKey
	publicKeyOnce sync.Once
)

func sessionPublicKey() *rsa.PublicKey {
	publicKeyOnce.Do(func() {
		raw := viper.GetString("auth.public_key")
		if len(raw) == 0 {
			return
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(raw))
		if err != nil {
			log.Error().Err(err).Msg("Unable to parse auth provider public key...")
			return
		}
		publicKey = key
	})
	return publicKey
}

func ParseSessionToken(tk string) (SessionClaims, error) {
	var claims SessionClaims

	opts := []jwt.ParserOption{jwt.WithLeeway(viper.GetDuration("auth.leeway"))}
	if issuer := viper.GetString("auth.issuer"); len(issuer) > 0 {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tk, &claims, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA:
			if key := sessionPublicKey(); key != nil {
				return key, nil
			}
		case *jwt.SigningMethodHMAC:
			if secret := viper.GetString("auth.secret"); len(secret) > 0 {
				return []byte(secret), nil
			}
		}
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}, opts...)
	if err != nil {
		return claims, err
	}
	if !token.Valid {
		return claims, fmt.Errorf("invalid token")
	}
	if len(claims.Subject) == 0 {
		return claims, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

func tokenFromRequest(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); len(header) > 0 {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	cookie := viper.GetString("auth.cookie")
	if len(cookie) == 0 {
		cookie = "__session"
	}
	if tk := c.Cookies(cookie); len(tk) > 0 {
		return tk
	}
	return c.Query("tk")
}

// AuthMiddleware resolves the current user from the provider session.
// Requests without a token continue anonymously.
func AuthMiddleware(c *fiber.Ctx) error {
	tk := tokenFromRequest(c)
	if len(tk) == 0 {
		return c.Next()
	}

	claims, err := ParseSessionToken(tk)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, fmt.Sprintf("invalid session token: %v", err))
	}

	account, err := services.EnsureAccount(models.Account{
		ID:     claims.Subject,
		Name:   claims.Username,
		Nick:   claims.Name,
		Avatar: claims.Picture,
	})
	if err != nil {
		log.Warn().Err(err).Str("account", claims.Subject).Msg("Unable to sync account profile...")
	}
	c.Locals("user", account)

	return c.Next()
}

var ErrUnauthenticated = errors.New("user is not authenticated")

func EnsureAuthenticated(c *fiber.Ctx) error {
	if _, ok := GetUser(c); !ok {
		return fiber.NewError(fiber.StatusUnauthorized, ErrUnauthenticated.Error())
	}
	return nil
}

func GetUser(c *fiber.Ctx) (models.Account, bool) {
	user, ok := c.Locals("user").(models.Account)
	return user, ok
}
