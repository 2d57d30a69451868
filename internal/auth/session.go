// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// privateKey and publicKey sign and verify every token this service issues:
// the auth_token session cookie and the per-seat reconnect token.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// TOKEN_EXPIRE_TIME_SEC indicates how many seconds until session JWT expiration (0 => never).
	TOKEN_EXPIRE_TIME_SEC int
)

// ReconnectTokenTTL bounds how long a dropped client may resume its seat.
const ReconnectTokenTTL = 5 * time.Minute

func parseTokenExpireTime() {
	duration := os.Getenv("TOKEN_EXPIRE_TIME")
	if duration == "never" || duration == "0" || duration == "" {
		TOKEN_EXPIRE_TIME_SEC = 0
		return
	}
	d, err := time.ParseDuration(duration)
	if err != nil {
		fmt.Printf("failed to parse token expire time: %v\n", err)
		os.Exit(1)
	}
	TOKEN_EXPIRE_TIME_SEC = int(d.Seconds())
}

// Init generates a fresh ed25519 key pair at runtime and sets the token expiration.
// Tokens do not survive a process restart; reconnect seats are also held in
// Redis, so a restarted server simply refuses stale tokens.
func Init() {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		fmt.Printf("failed to generate ed25519 key pair: %v\n", err)
		os.Exit(1)
	}
	parseTokenExpireTime()
}

// InitFromPath reads ed25519 private/public keys from file and sets the token expiration.
func InitFromPath(privatePath, publicPath string) error {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}

	privateKey = ed25519.PrivateKey(privateKeyData)
	publicKey = ed25519.PublicKey(publicKeyData)
	parseTokenExpireTime()
	return nil
}

// CreateJWT creates a signed session token with "sub" = userID.
func CreateJWT(userID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
	}
	if TOKEN_EXPIRE_TIME_SEC > 0 {
		claims["exp"] = time.Now().Add(time.Duration(TOKEN_EXPIRE_TIME_SEC) * time.Second).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateJWT verifies a session token and returns its "sub" field.
func AuthenticateJWT(tokenString string) (string, error) {
	claims, err := verify(tokenString)
	if err != nil {
		return "", err
	}
	userID, ok := claims["sub"].(string)
	if !ok {
		return "", fmt.Errorf("missing sub in jwt")
	}
	return userID, nil
}

// ReconnectClaims identify a held seat: which player, which room, which seat.
type ReconnectClaims struct {
	PlayerID uuid.UUID
	RoomID   uuid.UUID
	Seat     int
}

// CreateReconnectToken issues the opaque credential handed to a client on a
// successful room join. Presenting it after a socket drop resumes the same
// seat instead of creating a duplicate session.
func CreateReconnectToken(c ReconnectClaims) (string, error) {
	claims := jwt.MapClaims{
		"sub":  c.PlayerID.String(),
		"room": c.RoomID.String(),
		"seat": c.Seat,
		"exp":  time.Now().Add(ReconnectTokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// VerifyReconnectToken validates a reconnect token and returns its claims.
func VerifyReconnectToken(tokenString string) (ReconnectClaims, error) {
	var rc ReconnectClaims

	claims, err := verify(tokenString)
	if err != nil {
		return rc, err
	}

	sub, _ := claims["sub"].(string)
	room, _ := claims["room"].(string)
	seat, seatOK := claims["seat"].(float64)
	if sub == "" || room == "" || !seatOK {
		return rc, fmt.Errorf("reconnect token missing claims")
	}

	if rc.PlayerID, err = uuid.Parse(sub); err != nil {
		return rc, fmt.Errorf("invalid player id in reconnect token: %w", err)
	}
	if rc.RoomID, err = uuid.Parse(room); err != nil {
		return rc, fmt.Errorf("invalid room id in reconnect token: %w", err)
	}
	rc.Seat = int(seat)
	return rc, nil
}

func verify(tokenString string) (jwt.MapClaims, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid jwt claims")
	}
	return claims, nil
}
