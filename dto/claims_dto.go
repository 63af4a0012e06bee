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

package dto

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the whole session state, carried inside the signed access
// token the proxy hands to clients. There is no server-side session store:
// every value needed to route a follow-up request lives here.
//
// Invariant: every value of Uuids is a key of both Tokens and Selected, and
// SelectedUuid (when set) is a key of Uuids.
type AccessClaims struct {
	// Exp is the absolute expiry in milliseconds since epoch
	Exp int64 `json:"exp"`
	// Tokens maps backend id to the access token that backend issued
	Tokens map[string]string `json:"tokens"`
	// Uuids maps a proxy profile uuid to the backend it came from
	Uuids map[string]string `json:"uuids"`
	// Selected records, per backend, whether its token is already bound
	// to a profile on the backend side
	Selected map[string]bool `json:"selected"`
	// SelectedUuid is the proxy uuid the client committed to, if any
	SelectedUuid *string `json:"selected_uuid"`
}

// Exp is stored in milliseconds on the wire, so expose it to the JWT
// validator ourselves instead of letting it read seconds.
func (c *AccessClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.UnixMilli(c.Exp)), nil
}

func (c *AccessClaims) GetIssuedAt() (*jwt.NumericDate, error)  { return nil, nil }
func (c *AccessClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c *AccessClaims) GetIssuer() (string, error)              { return "", nil }
func (c *AccessClaims) GetSubject() (string, error)             { return "", nil }
func (c *AccessClaims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }
