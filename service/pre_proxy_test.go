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
	"testing"
	"time"

	"yggdrasil-proxy/dto"
	"yggdrasil-proxy/model"
	"yggdrasil-proxy/util"
)

func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	yggErr, ok := err.(util.YggdrasilError)
	if !ok {
		t.Fatalf("expected a YggdrasilError, got %T: %v", err, err)
	}
	if yggErr.ErrorCode != code {
		t.Errorf("expected error code %s, got %s", code, yggErr.ErrorCode)
	}
}

func preProxyFixture(t *testing.T, cfg *ProxyConfig) (PreProxyService, ProfileStore, TokenService) {
	t.Helper()
	store := testStore(t, cfg.Main)
	tokenService := NewTokenService("unit-test-secret")
	return NewPreProxyService(cfg, store, tokenService), store, tokenService
}

func sessionClaims(selectedUuid *string) *dto.AccessClaims {
	return &dto.AccessClaims{
		Exp: time.Now().Add(time.Hour).UnixMilli(),
		Tokens: map[string]string{
			"ls":      "upstream-token-ls",
			"example": "upstream-token-example",
		},
		Uuids: map[string]string{
			"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa": "ls",
			"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb": "example",
		},
		Selected:     map[string]bool{"ls": false, "example": false},
		SelectedUuid: selectedUuid,
	}
}

func TestRefreshBindWhileAlreadyBound(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"ls": "http://unused"}, Main: "ls"}
	preProxy, _, tokenService := preProxyFixture(t, cfg)

	bound := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	token := tokenService.Mint(sessionClaims(&bound))
	_, _, _, err := preProxy.Refresh(context.Background(), &dto.RefreshRequest{
		AccessToken:     token,
		SelectedProfile: &dto.Profile{Id: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Name: "example_Steve"},
	})
	assertErrorCode(t, err, "IllegalArgumentException")
}

func TestRefreshWithoutAnySelection(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"ls": "http://unused"}, Main: "ls"}
	preProxy, _, tokenService := preProxyFixture(t, cfg)

	token := tokenService.Mint(sessionClaims(nil))
	_, _, _, err := preProxy.Refresh(context.Background(), &dto.RefreshRequest{AccessToken: token})
	assertErrorCode(t, err, "ForbiddenOperationException")
}

func TestRefreshBindResolvesDestination(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"ls": "http://unused", "example": "http://unused"}, Main: "ls"}
	preProxy, store, tokenService := preProxyFixture(t, cfg)

	err := store.Save(context.Background(), &model.Profile{
		BackendId: "example",
		SrcName:   "Steve",
		SrcUuid:   "11111111222233334444555555555555",
		Uuid:      "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		Name:      "example_Steve",
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	token := tokenService.Mint(sessionClaims(nil))
	dst, claims, out, err := preProxy.Refresh(context.Background(), &dto.RefreshRequest{
		AccessToken:     token,
		SelectedProfile: &dto.Profile{Id: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Name: "example_Steve"},
	})
	if err != nil {
		t.Fatalf("refresh pre-proxy failed: %v", err)
	}
	if dst != "example" {
		t.Errorf("expected destination example, got %s", dst)
	}
	if out.AccessToken != "upstream-token-example" {
		t.Errorf("expected the stored upstream token, got %s", out.AccessToken)
	}
	if out.SelectedProfile == nil || out.SelectedProfile.Id != "11111111222233334444555555555555" {
		t.Errorf("expected the source identity in the forwarded profile, got %+v", out.SelectedProfile)
	}
	if out.SelectedProfile.Name != "Steve" {
		t.Errorf("expected the source name, got %s", out.SelectedProfile.Name)
	}
	if claims == nil {
		t.Fatal("expected the verified claims to be returned")
	}
}

func TestRefreshUnknownUuid(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"ls": "http://unused"}, Main: "ls"}
	preProxy, _, tokenService := preProxyFixture(t, cfg)

	token := tokenService.Mint(sessionClaims(nil))
	_, _, _, err := preProxy.Refresh(context.Background(), &dto.RefreshRequest{
		AccessToken:     token,
		SelectedProfile: &dto.Profile{Id: "cccccccccccccccccccccccccccccccc", Name: "nobody"},
	})
	assertErrorCode(t, err, "IllegalArgumentException")
}

func TestJoinSelectionMismatch(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"ls": "http://unused"}, Main: "ls"}
	preProxy, _, tokenService := preProxyFixture(t, cfg)

	bound := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	token := tokenService.Mint(sessionClaims(&bound))
	_, _, err := preProxy.Join(context.Background(), &dto.JoinServerRequest{
		AccessToken:     token,
		SelectedProfile: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		ServerId:        "server-hash",
	})
	assertErrorCode(t, err, "ForbiddenOperationException")
}

func TestJoinMapsToSourceUuid(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"ls": "http://unused"}, Main: "ls"}
	preProxy, store, tokenService := preProxyFixture(t, cfg)

	err := store.Save(context.Background(), &model.Profile{
		BackendId: "ls",
		SrcName:   "Steve",
		SrcUuid:   "11111111222233334444555555555555",
		Uuid:      "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Name:      "ls_Steve",
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	bound := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	token := tokenService.Mint(sessionClaims(&bound))
	dst, out, err := preProxy.Join(context.Background(), &dto.JoinServerRequest{
		AccessToken:     token,
		SelectedProfile: bound,
		ServerId:        "server-hash",
	})
	if err != nil {
		t.Fatalf("join pre-proxy failed: %v", err)
	}
	if dst != "ls" {
		t.Errorf("expected destination ls, got %s", dst)
	}
	if out.SelectedProfile != "11111111222233334444555555555555" {
		t.Errorf("expected the source uuid to be forwarded, got %s", out.SelectedProfile)
	}
	if out.AccessToken != "upstream-token-ls" {
		t.Errorf("expected the stored upstream token, got %s", out.AccessToken)
	}
}

func TestHasJoinedMasterSlavePreference(t *testing.T) {
	cfg := &ProxyConfig{
		Backends:              map[string]string{"main": "http://unused", "other": "http://unused"},
		Main:                  "main",
		EnableMasterSlaveMode: true,
	}
	preProxy, store, _ := preProxyFixture(t, cfg)

	// the same player name exists on both backends
	rows := []model.Profile{
		{BackendId: "main", SrcName: "Steve", SrcUuid: "11111111222233334444555555555555",
			Uuid: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Name: "main_Steve"},
		{BackendId: "other", SrcName: "Steve", SrcUuid: "66666666777788889999000000000000",
			Uuid: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Name: "other_Steve"},
	}
	for i := range rows {
		if err := store.Save(context.Background(), &rows[i]); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	dst, srcName, err := preProxy.HasJoined(context.Background(), "Steve")
	if err != nil {
		t.Fatalf("hasJoined pre-proxy failed: %v", err)
	}
	if dst != "main" || srcName != "Steve" {
		t.Errorf("expected main/Steve, got %s/%s", dst, srcName)
	}

	// the prefixed proxy name still resolves to the slave backend
	dst, srcName, err = preProxy.HasJoined(context.Background(), "other_Steve")
	if err != nil {
		t.Fatalf("hasJoined pre-proxy failed: %v", err)
	}
	if dst != "other" || srcName != "Steve" {
		t.Errorf("expected other/Steve, got %s/%s", dst, srcName)
	}
}

func TestHasJoinedUnknownName(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"ls": "http://unused"}, Main: "ls"}
	preProxy, _, _ := preProxyFixture(t, cfg)

	_, _, err := preProxy.HasJoined(context.Background(), "Nobody")
	if err == nil {
		t.Fatal("expected an error for an unknown name")
	}
	yggErr, ok := err.(util.YggdrasilError)
	if !ok || yggErr.Status != 204 {
		t.Errorf("expected a bare 204, got %v", err)
	}
}

func TestProfileUnknownUuidFallsThroughToMain(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"main": "http://unused"}, Main: "main"}
	preProxy, _, _ := preProxyFixture(t, cfg)

	dst, srcUuid, err := preProxy.Profile(context.Background(), "cccccccccccccccccccccccccccccccc")
	if err != nil {
		t.Fatalf("profile pre-proxy failed: %v", err)
	}
	if dst != "main" || srcUuid != "cccccccccccccccccccccccccccccccc" {
		t.Errorf("expected the raw uuid routed to main, got %s/%s", dst, srcUuid)
	}
}

func TestProfilesBucketsByBackend(t *testing.T) {
	cfg := &ProxyConfig{
		Backends:              map[string]string{"main": "http://unused", "other": "http://unused"},
		Main:                  "main",
		EnableMasterSlaveMode: true,
	}
	preProxy, store, _ := preProxyFixture(t, cfg)

	err := store.Save(context.Background(), &model.Profile{
		BackendId: "other", SrcName: "Steve", SrcUuid: "66666666777788889999000000000000",
		Uuid: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Name: "other_Steve",
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	buckets, err := preProxy.Profiles(context.Background(), []string{"other_Steve", "Alex"})
	if err != nil {
		t.Fatalf("profiles pre-proxy failed: %v", err)
	}
	if len(buckets["other"]) != 1 || buckets["other"][0] != "Steve" {
		t.Errorf("expected other=[Steve], got %v", buckets["other"])
	}
	// unknown names fall through to main only in master/slave mode
	if len(buckets["main"]) != 1 || buckets["main"][0] != "Alex" {
		t.Errorf("expected main=[Alex], got %v", buckets["main"])
	}
}

func TestValidateFansOutPerToken(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"ls": "http://unused", "example": "http://unused"}, Main: "ls"}
	preProxy, _, tokenService := preProxyFixture(t, cfg)

	token := tokenService.Mint(sessionClaims(nil))
	requests, err := preProxy.Validate(&dto.ValidateRequest{AccessToken: token})
	if err != nil {
		t.Fatalf("validate pre-proxy failed: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("expected one request per stored token, got %d", len(requests))
	}
	if requests["ls"].AccessToken != "upstream-token-ls" {
		t.Errorf("unexpected token for ls: %s", requests["ls"].AccessToken)
	}
	if requests["example"].ClientToken != nil {
		t.Error("client token must not be forwarded on validate")
	}
}

func TestValidateGarbageToken(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"ls": "http://unused"}, Main: "ls"}
	preProxy, _, _ := preProxyFixture(t, cfg)

	_, err := preProxy.Validate(&dto.ValidateRequest{AccessToken: "not-a-jwt"})
	assertErrorCode(t, err, "ForbiddenOperationException")
}
