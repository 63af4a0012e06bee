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
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"yggdrasil-proxy/dto"
	"yggdrasil-proxy/util"
)

// Fixed Yggdrasil operation paths, appended to each backend's base URL
const (
	PathAuthenticate = "/authserver/authenticate"
	PathRefresh      = "/authserver/refresh"
	PathValidate     = "/authserver/validate"
	PathInvalidate   = "/authserver/invalidate"
	PathSignout      = "/authserver/signout"
	PathJoin         = "/sessionserver/session/minecraft/join"
	PathHasJoined    = "/sessionserver/session/minecraft/hasJoined"
	PathProfile      = "/sessionserver/session/minecraft/profile/"
	PathProfiles     = "/api/profiles/minecraft"
)

// UpstreamPool bounds the number of in-flight upstream requests
type UpstreamPool struct {
	MaxSize   int
	semaphore *semaphore.Weighted
}

func NewUpstreamPool(size int) *UpstreamPool {
	return &UpstreamPool{
		MaxSize:   size,
		semaphore: semaphore.NewWeighted(int64(size)),
	}
}

func (p *UpstreamPool) Acquire(ctx context.Context) error {
	return p.semaphore.Acquire(ctx, 1)
}

func (p *UpstreamPool) Release() {
	p.semaphore.Release(1)
}

// UpstreamService is the HTTP JSON client for the Yggdrasil operations
// against a single backend. Replies carrying the structured Yggdrasil error
// shape are returned as *dto.ErrorReply with a nil error; transport and
// decode failures are returned as errors.
type UpstreamService interface {
	Authenticate(ctx context.Context, backendId string, request *dto.AuthenticateRequest) (*dto.AuthenticateReply, *dto.ErrorReply, error)
	Refresh(ctx context.Context, backendId string, request *dto.RefreshRequest) (*dto.RefreshReply, *dto.ErrorReply, error)
	// Validate reports the raw status code; 204 means the token is valid
	Validate(ctx context.Context, backendId string, request *dto.ValidateRequest) (int, error)
	Invalidate(ctx context.Context, backendId string, request *dto.ValidateRequest) error
	Signout(ctx context.Context, backendId string, request *dto.SignoutRequest) error
	// Join returns a non-nil ErrorReply when the backend rejected the join
	Join(ctx context.Context, backendId string, request *dto.JoinServerRequest) (*dto.ErrorReply, error)
	// HasJoined returns (nil, nil) when the backend found no session
	HasJoined(ctx context.Context, backendId string, username string, serverId string, ip string) (*dto.Profile, error)
	// Profile returns (nil, nil) when the backend answered 204
	Profile(ctx context.Context, backendId string, uuid string, unsigned *bool) (*dto.Profile, error)
	Profiles(ctx context.Context, backendId string, names []string) ([]dto.Profile, error)
	Pool() *UpstreamPool
}

type upstreamServiceImpl struct {
	backends map[string]string
	client   *http.Client
	pool     *UpstreamPool
	timeout  time.Duration
}

func NewUpstreamService(backends map[string]string, poolSize int) UpstreamService {
	return &upstreamServiceImpl{
		backends: backends,
		client:   &http.Client{Timeout: 30 * time.Second},
		pool:     NewUpstreamPool(poolSize),
		timeout:  10 * time.Second,
	}
}

func (u *upstreamServiceImpl) Pool() *UpstreamPool {
	return u.pool
}

func (u *upstreamServiceImpl) endpoint(backendId string, path string) (string, error) {
	baseUrl, ok := u.backends[backendId]
	if !ok {
		return "", util.NewHttpError(http.StatusInternalServerError, "Invalid destination.")
	}
	return strings.TrimRight(baseUrl, "/") + path, nil
}

func (u *upstreamServiceImpl) postJSON(ctx context.Context, backendId string, path string, request interface{}) (*util.HTTPResponse, error) {
	endpoint, err := u.endpoint(backendId, path)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	return util.DoHTTPRequestWithContext(ctx, u.client, http.MethodPost, endpoint, body, u.timeout)
}

// parseErrorReply reports the structured Yggdrasil error carried in body, if
// any. A body that is not JSON, or that lacks the error field, is not one.
func parseErrorReply(body []byte) *dto.ErrorReply {
	reply := dto.ErrorReply{}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil
	}
	if reply.Error == "" {
		return nil
	}
	return &reply
}

func (u *upstreamServiceImpl) Authenticate(ctx context.Context, backendId string, request *dto.AuthenticateRequest) (*dto.AuthenticateReply, *dto.ErrorReply, error) {
	resp, err := u.postJSON(ctx, backendId, PathAuthenticate, request)
	if err != nil {
		return nil, nil, err
	}
	if errReply := parseErrorReply(resp.Body); errReply != nil {
		return nil, errReply, nil
	}
	reply := dto.AuthenticateReply{}
	if err := json.Unmarshal(resp.Body, &reply); err != nil {
		return nil, nil, fmt.Errorf("unexpected authenticate reply from <%s>: %w", backendId, err)
	}
	return &reply, nil, nil
}

func (u *upstreamServiceImpl) Refresh(ctx context.Context, backendId string, request *dto.RefreshRequest) (*dto.RefreshReply, *dto.ErrorReply, error) {
	resp, err := u.postJSON(ctx, backendId, PathRefresh, request)
	if err != nil {
		return nil, nil, err
	}
	if errReply := parseErrorReply(resp.Body); errReply != nil {
		return nil, errReply, nil
	}
	reply := dto.RefreshReply{}
	if err := json.Unmarshal(resp.Body, &reply); err != nil {
		return nil, nil, fmt.Errorf("unexpected refresh reply from <%s>: %w", backendId, err)
	}
	return &reply, nil, nil
}

func (u *upstreamServiceImpl) Validate(ctx context.Context, backendId string, request *dto.ValidateRequest) (int, error) {
	resp, err := u.postJSON(ctx, backendId, PathValidate, request)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

func (u *upstreamServiceImpl) Invalidate(ctx context.Context, backendId string, request *dto.ValidateRequest) error {
	_, err := u.postJSON(ctx, backendId, PathInvalidate, request)
	return err
}

func (u *upstreamServiceImpl) Signout(ctx context.Context, backendId string, request *dto.SignoutRequest) error {
	_, err := u.postJSON(ctx, backendId, PathSignout, request)
	return err
}

func (u *upstreamServiceImpl) Join(ctx context.Context, backendId string, request *dto.JoinServerRequest) (*dto.ErrorReply, error) {
	resp, err := u.postJSON(ctx, backendId, PathJoin, request)
	if err != nil {
		return nil, err
	}
	return parseErrorReply(resp.Body), nil
}

func (u *upstreamServiceImpl) HasJoined(ctx context.Context, backendId string, username string, serverId string, ip string) (*dto.Profile, error) {
	endpoint, err := u.endpoint(backendId, PathHasJoined)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("username", username)
	query.Set("serverId", serverId)
	if ip != "" {
		query.Set("ip", ip)
	}
	resp, err := util.DoHTTPRequestWithContext(ctx, u.client, http.MethodGet, endpoint+"?"+query.Encode(), nil, u.timeout)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	profile := dto.Profile{}
	if err := json.Unmarshal(resp.Body, &profile); err != nil || profile.Id == "" {
		// anything that is not a profile means the join was not recorded
		return nil, nil
	}
	return &profile, nil
}

func (u *upstreamServiceImpl) Profile(ctx context.Context, backendId string, uuid string, unsigned *bool) (*dto.Profile, error) {
	endpoint, err := u.endpoint(backendId, PathProfile)
	if err != nil {
		return nil, err
	}
	endpoint += url.PathEscape(uuid)
	if unsigned != nil {
		endpoint += fmt.Sprintf("?unsigned=%t", *unsigned)
	}
	resp, err := util.DoHTTPRequestWithContext(ctx, u.client, http.MethodGet, endpoint, nil, u.timeout)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	profile := dto.Profile{}
	if err := json.Unmarshal(resp.Body, &profile); err != nil {
		return nil, util.NewHttpError(http.StatusInternalServerError, err.Error())
	}
	return &profile, nil
}

func (u *upstreamServiceImpl) Profiles(ctx context.Context, backendId string, names []string) ([]dto.Profile, error) {
	resp, err := u.postJSON(ctx, backendId, PathProfiles, names)
	if err != nil {
		return nil, err
	}
	var profiles []dto.Profile
	if err := json.Unmarshal(resp.Body, &profiles); err != nil {
		return nil, fmt.Errorf("unexpected profiles reply from <%s>: %w", backendId, err)
	}
	return profiles, nil
}
