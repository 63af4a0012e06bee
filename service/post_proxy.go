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
	"sort"
	"sync"
	"time"

	"yggdrasil-proxy/dto"
	"yggdrasil-proxy/util"
)

const sessionLifetime = 7 * 24 * time.Hour

// PostProxyService merges backend replies into the reply the proxy returns,
// updating the session claims and minting a fresh token along the way.
type PostProxyService interface {
	Authenticate(ctx context.Context, replies map[string]*dto.AuthenticateReply) (*dto.AuthenticateReply, error)
	Refresh(ctx context.Context, backend string, claims *dto.AccessClaims, reply *dto.RefreshReply) (*dto.RefreshReply, error)
	HasJoined(ctx context.Context, backend string, profile dto.Profile) (*dto.Profile, error)
	Profile(ctx context.Context, backend string, profile dto.Profile) (*dto.Profile, error)
	Profiles(ctx context.Context, replies map[string][]dto.Profile) ([]dto.Profile, error)
}

type postProxyImpl struct {
	cfg        *ProxyConfig
	store      ProfileStore
	tokens     TokenService
	translator TranslateService
}

func NewPostProxyService(cfg *ProxyConfig, store ProfileStore, tokens TokenService, translator TranslateService) PostProxyService {
	return &postProxyImpl{
		cfg:        cfg,
		store:      store,
		tokens:     tokens,
		translator: translator,
	}
}

func (p *postProxyImpl) Authenticate(ctx context.Context, replies map[string]*dto.AuthenticateReply) (*dto.AuthenticateReply, error) {
	if len(replies) == 0 {
		return nil, util.NewForbiddenOperationError(util.MessageInvalidCredentials)
	}

	// iterate deterministically so the clientToken choice is reproducible:
	// the main backend's reply wins, otherwise the first in sorted order
	ids := make([]string, 0, len(replies))
	for id := range replies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var profiles []dto.Profile
	var user *dto.User
	var clientToken *string
	selected := make(map[string]bool, len(replies))
	tokens := make(map[string]string, len(replies))
	uuids := make(map[string]string)

	for _, id := range ids {
		reply := replies[id]
		for _, profile := range reply.AvailableProfiles {
			translated, err := p.translator.Translate(ctx, id, profile)
			if err != nil {
				return nil, err
			}
			uuids[translated.Id] = id
			profiles = append(profiles, translated)
		}
		if user == nil {
			user = reply.User
		}
		// record which backend tokens are already bound to a profile, so
		// later refreshes know not to send a selectedProfile there
		selected[id] = reply.SelectedProfile != nil
		tokens[id] = reply.AccessToken
		if clientToken == nil || id == p.cfg.Main {
			clientToken = reply.ClientToken
		}
	}

	claims := dto.AccessClaims{
		Exp:          time.Now().Add(sessionLifetime).UnixMilli(),
		Tokens:       tokens,
		Uuids:        uuids,
		Selected:     selected,
		SelectedUuid: nil,
	}

	// never expose a selectedProfile here: the aggregated profile set spans
	// backends and the client must pick one explicitly on refresh
	return &dto.AuthenticateReply{
		AccessToken:       p.tokens.Mint(&claims),
		ClientToken:       clientToken,
		AvailableProfiles: profiles,
		SelectedProfile:   nil,
		User:              user,
	}, nil
}

func (p *postProxyImpl) Refresh(ctx context.Context, backend string, claims *dto.AccessClaims, reply *dto.RefreshReply) (*dto.RefreshReply, error) {
	var selectedProfile *dto.Profile
	if reply.SelectedProfile != nil {
		// capture a possible rename before translating
		row, err := p.store.FindByBackendAndSrcUuid(ctx, backend, reply.SelectedProfile.Id)
		if err != nil {
			return nil, util.NewHttpError(http.StatusInternalServerError, err.Error())
		}
		if row == nil {
			return nil, util.NewHttpError(http.StatusInternalServerError, util.MessageProfileNotFound)
		}
		row.SrcName = reply.SelectedProfile.Name
		row.Name = ProxyName(backend, reply.SelectedProfile.Name)
		if err := p.store.Save(ctx, row); err != nil {
			return nil, util.NewHttpError(http.StatusInternalServerError, err.Error())
		}

		translated, err := p.translator.Translate(ctx, backend, *reply.SelectedProfile)
		if err != nil {
			return nil, err
		}
		selectedProfile = &translated
		claims.SelectedUuid = &translated.Id
		claims.Selected[backend] = true
	} else {
		claims.SelectedUuid = nil
		claims.Selected[backend] = false
	}

	claims.Tokens[backend] = reply.AccessToken
	claims.Exp = time.Now().Add(sessionLifetime).UnixMilli()

	return &dto.RefreshReply{
		AccessToken:     p.tokens.Mint(claims),
		ClientToken:     reply.ClientToken,
		SelectedProfile: selectedProfile,
		User:            reply.User,
	}, nil
}

func (p *postProxyImpl) HasJoined(ctx context.Context, backend string, profile dto.Profile) (*dto.Profile, error) {
	translated, err := p.translator.Translate(ctx, backend, profile)
	if err != nil {
		return nil, err
	}
	return &translated, nil
}

func (p *postProxyImpl) Profile(ctx context.Context, backend string, profile dto.Profile) (*dto.Profile, error) {
	translated, err := p.translator.Translate(ctx, backend, profile)
	if err != nil {
		return nil, err
	}
	return &translated, nil
}

func (p *postProxyImpl) Profiles(ctx context.Context, replies map[string][]dto.Profile) ([]dto.Profile, error) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	var ret []dto.Profile
	for dst, profiles := range replies {
		wg.Add(1)
		go func(dst string, profiles []dto.Profile) {
			defer wg.Done()
			for _, profile := range profiles {
				translated, err := p.translator.Translate(ctx, dst, profile)
				if err != nil {
					continue
				}
				mu.Lock()
				ret = append(ret, translated)
				mu.Unlock()
			}
		}(dst, profiles)
	}
	wg.Wait()
	return ret, nil
}
