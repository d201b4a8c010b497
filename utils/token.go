package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// OperatorClaims identify the cashier behind a request.
type OperatorClaims struct {
	OperatorId   string `json:"operator_id"`
	OperatorName string `json:"operator_name"`
	BusinessId   string `json:"business_id"`
	IsAdmin      bool   `json:"is_admin,omitempty"`
	jwt.StandardClaims
}

func jwtSecret() []byte {
	secret := os.Getenv("API_SECRET")
	if secret == "" {
		return []byte("Cashier-Secret")
	}
	return []byte(secret)
}

func tokenLifespan() time.Duration {
	hours, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil || hours <= 0 {
		hours = 12
	}
	return time.Duration(hours) * time.Hour
}

func JwtGenerate(businessId, operatorId, operatorName string, isAdmin bool) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &OperatorClaims{
		OperatorId:   operatorId,
		OperatorName: operatorName,
		BusinessId:   businessId,
		IsAdmin:      isAdmin,
		StandardClaims: jwt.StandardClaims{
			Id:        fmt.Sprintf("%s:%d", operatorId, now.UnixNano()),
			ExpiresAt: now.Add(tokenLifespan()).Unix(),
			IssuedAt:  now.Unix(),
		},
	})
	return t.SignedString(jwtSecret())
}

func JwtValidate(token string) (*OperatorClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &OperatorClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*OperatorClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.OperatorId == "" || claims.BusinessId == "" {
		return nil, errors.New("token missing operator or business")
	}
	return claims, nil
}
