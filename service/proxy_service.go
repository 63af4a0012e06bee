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
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"log"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
	"yggdrasil-proxy/dto"
	"yggdrasil-proxy/util"
)

const (
	certificateLifetime = 48 * time.Hour
	certificateRefresh  = 36 * time.Hour
)

// ProxyService implements the Yggdrasil operations the proxy exposes, by
// fanning requests out to the configured backends and merging their replies.
// An operation returning a non-nil *dto.ErrorReply means a backend rejected
// the request with a structured Yggdrasil error, which the handler relays
// verbatim.
type ProxyService interface {
	Authenticate(ctx context.Context, ip string, request *dto.AuthenticateRequest) (*dto.AuthenticateReply, *dto.ErrorReply, error)
	Refresh(ctx context.Context, request *dto.RefreshRequest) (*dto.RefreshReply, *dto.ErrorReply, error)
	// Validate returns nil when at least one backend accepted the token
	Validate(ctx context.Context, request *dto.ValidateRequest) error
	Invalidate(request *dto.ValidateRequest)
	Signout(request *dto.SignoutRequest)
	Join(ctx context.Context, request *dto.JoinServerRequest) (*dto.ErrorReply, error)
	// HasJoined returns (nil, nil) when no backend recorded the join
	HasJoined(ctx context.Context, username string, serverId string, ip string) (*dto.Profile, error)
	// Profile returns (nil, nil) when the destination backend answered 204
	Profile(ctx context.Context, uuid string, unsigned *bool) (*dto.Profile, error)
	Profiles(ctx context.Context, names []string) ([]dto.Profile, error)
	Certificates(ctx context.Context, authorization string) (*dto.CertificatesReply, error)
}

type proxyServiceImpl struct {
	cfg        *ProxyConfig
	upstream   UpstreamService
	preProxy   PreProxyService
	postProxy  PostProxyService
	tokens     TokenService
	signatures SignatureService
	// per-address token buckets for authenticate, to keep a misbehaving
	// client from burning credential attempts on every backend at once
	limiters *lru.Cache
}

func NewProxyService(cfg *ProxyConfig, upstream UpstreamService, preProxy PreProxyService,
	postProxy PostProxyService, tokens TokenService, signatures SignatureService) ProxyService {
	limiters, _ := lru.New(10000)
	return &proxyServiceImpl{
		cfg:        cfg,
		upstream:   upstream,
		preProxy:   preProxy,
		postProxy:  postProxy,
		tokens:     tokens,
		signatures: signatures,
		limiters:   limiters,
	}
}

func (p *proxyServiceImpl) allowAuthenticate(ip string) bool {
	if cached, ok := p.limiters.Get(ip); ok {
		return cached.(*rate.Limiter).Allow()
	}
	limiter := rate.NewLimiter(rate.Limit(0.2), 3)
	p.limiters.Add(ip, limiter)
	return limiter.Allow()
}

func (p *proxyServiceImpl) Authenticate(ctx context.Context, ip string, request *dto.AuthenticateRequest) (*dto.AuthenticateReply, *dto.ErrorReply, error) {
	if !p.allowAuthenticate(ip) {
		return nil, nil, util.NewForbiddenOperationError(util.MessageAccessDenied)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	replies := make(map[string]*dto.AuthenticateReply)
	rejections := make(map[string]*dto.ErrorReply)

	for id := range p.cfg.Backends {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := p.upstream.Pool().Acquire(ctx); err != nil {
				return
			}
			defer p.upstream.Pool().Release()
			reply, errReply, err := p.upstream.Authenticate(ctx, id, request)
			if err != nil {
				log.Printf("authenticate at <%s> failed: %v", id, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if errReply != nil {
				// a backend refusing the credentials only narrows the
				// profile set, it does not fail the whole login
				rejections[id] = errReply
				return
			}
			replies[id] = reply
		}(id)
	}
	wg.Wait()

	if len(replies) == 0 {
		// every backend refused or was unreachable; relay a structured
		// rejection with 200, the way a single backend would have answered
		if rejection, ok := rejections[p.cfg.Main]; ok {
			return nil, rejection, nil
		}
		if ids := sortedKeys(rejections); len(ids) > 0 {
			return nil, rejections[ids[0]], nil
		}
		return nil, &dto.ErrorReply{
			Error:        "ForbiddenOperationException",
			ErrorMessage: util.MessageInvalidCredentials,
		}, nil
	}

	merged, err := p.postProxy.Authenticate(ctx, replies)
	return merged, nil, err
}

func sortedKeys(m map[string]*dto.ErrorReply) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *proxyServiceImpl) Refresh(ctx context.Context, request *dto.RefreshRequest) (*dto.RefreshReply, *dto.ErrorReply, error) {
	dst, claims, out, err := p.preProxy.Refresh(ctx, request)
	if err != nil {
		return nil, nil, err
	}
	if err := p.upstream.Pool().Acquire(ctx); err != nil {
		return nil, nil, err
	}
	defer p.upstream.Pool().Release()
	reply, errReply, err := p.upstream.Refresh(ctx, dst, out)
	if err != nil {
		return nil, nil, util.NewHttpError(http.StatusInternalServerError, err.Error())
	}
	if errReply != nil {
		return nil, errReply, nil
	}
	merged, err := p.postProxy.Refresh(ctx, dst, claims, reply)
	return merged, nil, err
}

func (p *proxyServiceImpl) Validate(ctx context.Context, request *dto.ValidateRequest) error {
	requests, err := p.preProxy.Validate(request)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	var valid atomic.Bool

	for dst, upstreamReq := range requests {
		wg.Add(1)
		go func(dst string, upstreamReq dto.ValidateRequest) {
			defer wg.Done()
			if err := p.upstream.Pool().Acquire(ctx); err != nil {
				return
			}
			defer p.upstream.Pool().Release()
			status, err := p.upstream.Validate(ctx, dst, &upstreamReq)
			if err == nil && status == http.StatusNoContent {
				valid.Store(true)
			}
		}(dst, upstreamReq)
	}
	wg.Wait()

	if !valid.Load() {
		return util.NewForbiddenOperationError(util.MessageInvalidToken)
	}
	return nil
}

// Invalidate forwards the stored backend tokens for invalidation without
// waiting for the outcome; the proxy answers 204 either way, matching how
// backends treat invalidate themselves.
func (p *proxyServiceImpl) Invalidate(request *dto.ValidateRequest) {
	claims, err := p.tokens.Verify(request.AccessToken)
	if err != nil {
		return
	}
	for dst, token := range claims.Tokens {
		go func(dst string, token string) {
			ctx := context.Background()
			if err := p.upstream.Pool().Acquire(ctx); err != nil {
				return
			}
			defer p.upstream.Pool().Release()
			upstreamReq := dto.ValidateRequest{AccessToken: token}
			if err := p.upstream.Invalidate(ctx, dst, &upstreamReq); err != nil {
				log.Printf("invalidate at <%s> failed: %v", dst, err)
			}
		}(dst, token)
	}
}

// Signout fans the credentials out to every backend and does not wait; a
// backend that rejects them had no session to revoke anyway.
func (p *proxyServiceImpl) Signout(request *dto.SignoutRequest) {
	for id := range p.cfg.Backends {
		go func(id string) {
			ctx := context.Background()
			if err := p.upstream.Pool().Acquire(ctx); err != nil {
				return
			}
			defer p.upstream.Pool().Release()
			if err := p.upstream.Signout(ctx, id, request); err != nil {
				log.Printf("signout at <%s> failed: %v", id, err)
			}
		}(id)
	}
}

func (p *proxyServiceImpl) Join(ctx context.Context, request *dto.JoinServerRequest) (*dto.ErrorReply, error) {
	dst, out, err := p.preProxy.Join(ctx, request)
	if err != nil {
		return nil, err
	}
	if err := p.upstream.Pool().Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.upstream.Pool().Release()
	errReply, err := p.upstream.Join(ctx, dst, out)
	if err != nil {
		return nil, util.NewHttpError(http.StatusInternalServerError, err.Error())
	}
	return errReply, nil
}

func (p *proxyServiceImpl) HasJoined(ctx context.Context, username string, serverId string, ip string) (*dto.Profile, error) {
	dst, srcName, err := p.preProxy.HasJoined(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := p.upstream.Pool().Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.upstream.Pool().Release()
	profile, err := p.upstream.HasJoined(ctx, dst, srcName, serverId, ip)
	if err != nil {
		return nil, util.NewHttpError(http.StatusInternalServerError, err.Error())
	}
	if profile == nil {
		return nil, nil
	}
	return p.postProxy.HasJoined(ctx, dst, *profile)
}

func (p *proxyServiceImpl) Profile(ctx context.Context, uuid string, unsigned *bool) (*dto.Profile, error) {
	dst, srcUuid, err := p.preProxy.Profile(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if err := p.upstream.Pool().Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.upstream.Pool().Release()
	profile, err := p.upstream.Profile(ctx, dst, srcUuid, unsigned)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, nil
	}
	return p.postProxy.Profile(ctx, dst, *profile)
}

func (p *proxyServiceImpl) Profiles(ctx context.Context, names []string) ([]dto.Profile, error) {
	buckets, err := p.preProxy.Profiles(ctx, names)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	replies := make(map[string][]dto.Profile)

	for dst, bucket := range buckets {
		wg.Add(1)
		go func(dst string, bucket []string) {
			defer wg.Done()
			if err := p.upstream.Pool().Acquire(ctx); err != nil {
				return
			}
			defer p.upstream.Pool().Release()
			profiles, err := p.upstream.Profiles(ctx, dst, bucket)
			if err != nil {
				log.Printf("lookup profiles at <%s> failed: %v", dst, err)
				return
			}
			mu.Lock()
			replies[dst] = profiles
			mu.Unlock()
		}(dst, bucket)
	}
	wg.Wait()

	ret, err := p.postProxy.Profiles(ctx, replies)
	if err != nil {
		return nil, err
	}
	if ret == nil {
		ret = []dto.Profile{}
	}
	return ret, nil
}

// Certificates mints a throwaway chat-signing key pair for the session. The
// proxy signs the public key itself so that servers trusting the proxy's
// signature key accept the certificate chain.
func (p *proxyServiceImpl) Certificates(ctx context.Context, authorization string) (*dto.CertificatesReply, error) {
	if !p.cfg.EnableProfileKey {
		return nil, util.NewNotFoundError("No route for this path.")
	}
	if len(authorization) < 7 {
		return nil, util.YggdrasilError{Status: http.StatusNoContent}
	}
	// strip the "Bearer " scheme prefix
	if _, err := p.tokens.Verify(authorization[7:]); err != nil {
		return nil, util.YggdrasilError{Status: http.StatusNoContent}
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, util.NewHttpError(http.StatusInternalServerError, err.Error())
	}
	publicDer, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, util.NewHttpError(http.StatusInternalServerError, err.Error())
	}
	privateDer, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, util.NewHttpError(http.StatusInternalServerError, err.Error())
	}
	publicPem := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: publicDer}))
	privatePem := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privateDer}))

	now := time.Now()
	expiresAt := now.Add(certificateLifetime)
	signature, err := p.signatures.Sign(strconv.FormatInt(expiresAt.UnixMilli(), 10) + publicPem)
	if err != nil {
		return nil, util.NewHttpError(http.StatusInternalServerError, err.Error())
	}

	return &dto.CertificatesReply{
		ExpiresAt: expiresAt.Format(time.RFC3339),
		KeyPair: dto.KeyPair{
			PrivateKey: privatePem,
			PublicKey:  publicPem,
		},
		PublicKeySignature:   signature,
		PublicKeySignatureV2: signature,
		RefreshedAfter:       now.Add(certificateRefresh).Format(time.RFC3339),
	}, nil
}
