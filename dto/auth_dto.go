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

// Yggdrasil wire shapes. Field names must match the protocol exactly:
// game clients and launchers parse these bodies, not the HTTP status.

// Property represents a name-value pair optionally carrying a base64
// RSA-SHA1 signature (skin/texture metadata)
type Property struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature,omitempty"`
}

// Profile represents a player profile as seen on the wire
type Profile struct {
	Id         string     `json:"id"`
	Name       string     `json:"name"`
	Properties []Property `json:"properties,omitempty"`
}

// User represents the optional user block of authenticate/refresh replies
type User struct {
	Id         string     `json:"id"`
	Properties []Property `json:"properties"`
}

// MinecraftAgent represents the Minecraft client agent information
type MinecraftAgent struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// AuthenticateRequest is forwarded to every backend unchanged
type AuthenticateRequest struct {
	Username    string          `json:"username"`
	Password    string          `json:"password"`
	ClientToken *string         `json:"clientToken,omitempty"`
	RequestUser bool            `json:"requestUser"`
	Agent       *MinecraftAgent `json:"agent,omitempty"`
}

// AuthenticateReply is both the backend reply shape and the aggregated
// reply the proxy returns to the client
type AuthenticateReply struct {
	AccessToken       string    `json:"accessToken"`
	ClientToken       *string   `json:"clientToken"`
	AvailableProfiles []Profile `json:"availableProfiles"`
	SelectedProfile   *Profile  `json:"selectedProfile,omitempty"`
	User              *User     `json:"user,omitempty"`
}

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	AccessToken     string   `json:"accessToken"`
	ClientToken     *string  `json:"clientToken,omitempty"`
	RequestUser     bool     `json:"requestUser"`
	SelectedProfile *Profile `json:"selectedProfile,omitempty"`
}

// RefreshReply represents a token refresh reply
type RefreshReply struct {
	AccessToken     string   `json:"accessToken"`
	ClientToken     *string  `json:"clientToken"`
	SelectedProfile *Profile `json:"selectedProfile,omitempty"`
	User            *User    `json:"user,omitempty"`
}

// ValidateRequest serves both validate and invalidate
type ValidateRequest struct {
	AccessToken string  `json:"accessToken"`
	ClientToken *string `json:"clientToken,omitempty"`
}

// SignoutRequest represents a credential-based signout request
type SignoutRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// JoinServerRequest represents a request to join a Minecraft server
type JoinServerRequest struct {
	AccessToken     string `json:"accessToken"`
	SelectedProfile string `json:"selectedProfile"`
	ServerId        string `json:"serverId"`
}

// ErrorReply is the structured error shape shared by all Yggdrasil servers
type ErrorReply struct {
	Error        string `json:"error"`
	ErrorMessage string `json:"errorMessage"`
	Cause        string `json:"cause,omitempty"`
}

// KeyPair represents a PEM-encoded public/private key pair
type KeyPair struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// CertificatesReply represents an ephemeral player certificate
type CertificatesReply struct {
	ExpiresAt            string  `json:"expiresAt"`
	KeyPair              KeyPair `json:"keyPair"`
	PublicKeySignature   string  `json:"publicKeySignature"`
	PublicKeySignatureV2 string  `json:"publicKeySignatureV2"`
	RefreshedAfter       string  `json:"refreshedAfter"`
}
