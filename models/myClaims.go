package models

import (
	jwt "github.com/dgrijalva/jwt-go"
)

// MyClaims はゲストトークンに内包するJWTクレームの構造体定義です。
type MyClaims struct {
	UserID   uint   `json:"userid"`
	NickName string `json:"nickname"`
	jwt.StandardClaims
}
