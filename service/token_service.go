/*
 * Copyright (C) 2025. MagicalSheep and contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package service

import (
	"github.com/golang-jwt/jwt/v5"
	"yggdrasil-proxy/dto"
	"yggdrasil-proxy/util"
)

// TokenService signs and verifies the session claims document. The signed
// token is the whole session; the proxy keeps no token state of its own.
type TokenService interface {
	Mint(claims *dto.AccessClaims) string
	Verify(token string) (*dto.AccessClaims, error)
}

type tokenServiceImpl struct {
	secret []byte
}

func NewTokenService(secret string) TokenService {
	return &tokenServiceImpl{
		secret: []byte(secret),
	}
}

func (t *tokenServiceImpl) Mint(claims *dto.AccessClaims) string {
	// HMAC signing over an in-memory document cannot fail
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	return token
}

func (t *tokenServiceImpl) Verify(token string) (*dto.AccessClaims, error) {
	claims := dto.AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, util.NewForbiddenOperationError(util.MessageInvalidToken)
	}
	return &claims, nil
}
