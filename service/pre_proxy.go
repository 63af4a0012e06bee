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
	"net/http"
	"sync"

	"yggdrasil-proxy/dto"
	"yggdrasil-proxy/util"
)

// PreProxyService rewrites an incoming client request into the request a
// backend expects: it validates the session claims, maps proxy identities
// back to source identities and selects the destination backend.
// Authenticate has no pre-proxy; it fans out unchanged.
type PreProxyService interface {
	Refresh(ctx context.Context, request *dto.RefreshRequest) (string, *dto.AccessClaims, *dto.RefreshRequest, error)
	Join(ctx context.Context, request *dto.JoinServerRequest) (string, *dto.JoinServerRequest, error)
	// HasJoined resolves the proxy-visible username to (backend, src name)
	HasJoined(ctx context.Context, username string) (string, string, error)
	// Profile resolves a proxy uuid to (backend, src uuid); unknown uuids
	// fall through to the main backend untouched
	Profile(ctx context.Context, uuid string) (string, string, error)
	// Profiles buckets the requested names by destination backend
	Profiles(ctx context.Context, names []string) (map[string][]string, error)
	// Validate produces one upstream request per stored backend token
	Validate(request *dto.ValidateRequest) (map[string]dto.ValidateRequest, error)
}

type preProxyImpl struct {
	cfg    *ProxyConfig
	store  ProfileStore
	tokens TokenService
}

func NewPreProxyService(cfg *ProxyConfig, store ProfileStore, tokens TokenService) PreProxyService {
	return &preProxyImpl{
		cfg:    cfg,
		store:  store,
		tokens: tokens,
	}
}

func (p *preProxyImpl) Refresh(ctx context.Context, request *dto.RefreshRequest) (string, *dto.AccessClaims, *dto.RefreshRequest, error) {
	claims, err := p.tokens.Verify(request.AccessToken)
	if err != nil {
		return "", nil, nil, err
	}

	var properties []dto.Property // client-supplied raw properties
	var selectedUuid string

	if request.SelectedProfile == nil {
		// nothing to bind, the token must already carry a selection
		if claims.SelectedUuid == nil {
			return "", nil, nil, util.NewForbiddenOperationError(util.MessageInvalidToken)
		}
		selectedUuid = *claims.SelectedUuid
	} else {
		// binding a profile now, the token must not carry one yet
		if claims.SelectedUuid != nil {
			return "", nil, nil, util.NewIllegalArgumentError(util.MessageTokenAlreadyAssigned)
		}
		properties = request.SelectedProfile.Properties
		selectedUuid = request.SelectedProfile.Id
	}

	dst, ok := claims.Uuids[selectedUuid]
	if !ok {
		return "", nil, nil, util.NewIllegalArgumentError("Invalid uuid.")
	}

	var profile *dto.Profile
	if p.cfg.NeedTranslate(dst) {
		row, err := p.store.FindByUuid(ctx, selectedUuid)
		if err != nil {
			return "", nil, nil, util.NewHttpError(http.StatusInternalServerError, err.Error())
		}
		if row == nil {
			return "", nil, nil, util.NewHttpError(http.StatusInternalServerError, util.MessageProfileNotFound)
		}
		profile = &dto.Profile{
			Id:         row.SrcUuid,
			Name:       row.SrcName,
			Properties: properties,
		}
	} else {
		profile = request.SelectedProfile
	}

	// the backend rejects a selectedProfile when its token already has one
	if claims.Selected[dst] {
		profile = nil
	}

	out := dto.RefreshRequest{
		AccessToken:     claims.Tokens[dst],
		ClientToken:     request.ClientToken,
		RequestUser:     request.RequestUser,
		SelectedProfile: profile,
	}
	return dst, claims, &out, nil
}

func (p *preProxyImpl) Join(ctx context.Context, request *dto.JoinServerRequest) (string, *dto.JoinServerRequest, error) {
	claims, err := p.tokens.Verify(request.AccessToken)
	if err != nil {
		return "", nil, err
	}
	if claims.SelectedUuid == nil || *claims.SelectedUuid != request.SelectedProfile {
		return "", nil, util.NewForbiddenOperationError(util.MessageInvalidToken)
	}

	dst, ok := claims.Uuids[request.SelectedProfile]
	if !ok {
		return "", nil, util.NewForbiddenOperationError(util.MessageInvalidToken)
	}

	uuid := request.SelectedProfile
	if p.cfg.NeedTranslate(dst) {
		row, err := p.store.FindByUuid(ctx, request.SelectedProfile)
		if err != nil {
			return "", nil, util.NewHttpError(http.StatusInternalServerError, err.Error())
		}
		if row == nil {
			return "", nil, util.NewIllegalArgumentError(util.MessageProfileNotFound)
		}
		uuid = row.SrcUuid
	}

	out := dto.JoinServerRequest{
		AccessToken:     claims.Tokens[dst],
		SelectedProfile: uuid,
		ServerId:        request.ServerId,
	}
	return dst, &out, nil
}

func (p *preProxyImpl) HasJoined(ctx context.Context, username string) (string, string, error) {
	// in master/slave mode the main backend wins for names it knows, even
	// when an identically named profile exists on another backend
	if p.cfg.EnableMasterSlaveMode {
		row, err := p.store.FindBySrcName(ctx, username)
		if err != nil {
			return "", "", util.NewHttpError(http.StatusInternalServerError, err.Error())
		}
		if row != nil {
			return p.cfg.Main, row.SrcName, nil
		}
	}
	row, err := p.store.FindByName(ctx, username)
	if err != nil {
		return "", "", util.NewHttpError(http.StatusInternalServerError, err.Error())
	}
	if row == nil {
		return "", "", util.YggdrasilError{Status: http.StatusNoContent}
	}
	return row.BackendId, row.SrcName, nil
}

func (p *preProxyImpl) Profile(ctx context.Context, uuid string) (string, string, error) {
	row, err := p.store.FindByUuid(ctx, uuid)
	if err != nil {
		return "", "", util.NewHttpError(http.StatusInternalServerError, err.Error())
	}
	if row == nil {
		// the main backend may know uuids the proxy has never recorded
		return p.cfg.Main, uuid, nil
	}
	return row.BackendId, row.SrcUuid, nil
}

func (p *preProxyImpl) Profiles(ctx context.Context, names []string) (map[string][]string, error) {
	results := make([]struct {
		name    string
		backend string
		srcName string
		found   bool
	}, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i].name = name
			row, err := p.store.FindByName(ctx, name)
			if err != nil || row == nil {
				return
			}
			results[i].backend = row.BackendId
			results[i].srcName = row.SrcName
			results[i].found = true
		}(i, name)
	}
	wg.Wait()

	ret := make(map[string][]string)
	for _, res := range results {
		if res.found {
			ret[res.backend] = append(ret[res.backend], res.srcName)
		} else if p.cfg.EnableMasterSlaveMode {
			// give the main backend a chance to resolve unknown names;
			// without master/slave mode they are dropped silently
			ret[p.cfg.Main] = append(ret[p.cfg.Main], res.name)
		}
	}
	return ret, nil
}

func (p *preProxyImpl) Validate(request *dto.ValidateRequest) (map[string]dto.ValidateRequest, error) {
	claims, err := p.tokens.Verify(request.AccessToken)
	if err != nil {
		return nil, err
	}
	ret := make(map[string]dto.ValidateRequest, len(claims.Tokens))
	for dst, token := range claims.Tokens {
		ret[dst] = dto.ValidateRequest{
			AccessToken: token,
			ClientToken: nil,
		}
	}
	return ret, nil
}
