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
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"log"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"yggdrasil-proxy/dto"
	"yggdrasil-proxy/util"
)

// SignatureService signs content with the proxy's long-term private key and
// verifies signatures presented by backends against the public key each
// backend advertises in its metadata document.
type SignatureService interface {
	Sign(content string) (string, error)
	// VerifyUpstream never fails with an error: any trouble fetching,
	// parsing or checking yields false, so an invalid upstream signature
	// simply stays un-resigned and the client rejects it on its own.
	VerifyUpstream(ctx context.Context, backendId string, signature string, content string) bool
}

type signatureServiceImpl struct {
	privateKey *rsa.PrivateKey
	backends   map[string]string
	client     *http.Client
	// advertised public keys, keyed by backend id; the metadata fetch is
	// on the hot path of every property resignature
	keyCache *lru.Cache
}

func NewSignatureService(privateKey *rsa.PrivateKey, backends map[string]string) SignatureService {
	cache, _ := lru.New(64)
	return &signatureServiceImpl{
		privateKey: privateKey,
		backends:   backends,
		client:     &http.Client{Timeout: 30 * time.Second},
		keyCache:   cache,
	}
}

func (s *signatureServiceImpl) Sign(content string) (string, error) {
	return util.Sign(s.privateKey, content)
}

func (s *signatureServiceImpl) VerifyUpstream(ctx context.Context, backendId string, signature string, content string) bool {
	publicKey := s.upstreamPublicKey(ctx, backendId)
	if publicKey == nil {
		return false
	}
	return util.VerifySign(publicKey, content, signature)
}

// upstreamPublicKey fetches the backend metadata document and extracts
// signaturePublickey, caching the parsed key per backend.
func (s *signatureServiceImpl) upstreamPublicKey(ctx context.Context, backendId string) *rsa.PublicKey {
	if cached, ok := s.keyCache.Get(backendId); ok {
		return cached.(*rsa.PublicKey)
	}
	baseUrl, ok := s.backends[backendId]
	if !ok {
		return nil
	}
	resp, err := util.DoHTTPRequestWithContext(ctx, s.client, http.MethodGet, baseUrl, nil, 10*time.Second)
	if err != nil || !resp.IsSuccess {
		log.Printf("fetch metadata of backend <%s> failed: %v", backendId, err)
		return nil
	}
	meta := dto.ServerMeta{}
	if err := json.Unmarshal(resp.Body, &meta); err != nil {
		return nil
	}
	block, _ := pem.Decode([]byte(meta.SignaturePublickey))
	if block == nil {
		return nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil
	}
	publicKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil
	}
	s.keyCache.Add(backendId, publicKey)
	return publicKey
}
