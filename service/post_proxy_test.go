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
)

func postProxyFixture(t *testing.T, cfg *ProxyConfig) (PostProxyService, ProfileStore, TokenService) {
	t.Helper()
	store := testStore(t, cfg.Main)
	tokenService := NewTokenService("unit-test-secret")
	signatureService := NewSignatureService(generateTestKey(t), cfg.Backends)
	translator := NewTranslateService(cfg, store, signatureService)
	return NewPostProxyService(cfg, store, tokenService, translator), store, tokenService
}

func strPtr(s string) *string {
	return &s
}

func TestAuthenticateMergeTwoBackends(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"ls": "http://unused", "zz": "http://unused"}, Main: "ls"}
	postProxy, _, tokenService := postProxyFixture(t, cfg)

	replies := map[string]*dto.AuthenticateReply{
		"zz": {
			AccessToken: "token-zz",
			ClientToken: strPtr("client-zz"),
			AvailableProfiles: []dto.Profile{
				{Id: "11111111222233334444555555555555", Name: "Steve"},
			},
		},
		"ls": {
			AccessToken: "token-ls",
			ClientToken: strPtr("client-ls"),
			AvailableProfiles: []dto.Profile{
				{Id: "66666666777788889999000000000000", Name: "Steve"},
				{Id: "99999999888877776666555555555555", Name: "Alex"},
			},
			SelectedProfile: &dto.Profile{Id: "66666666777788889999000000000000", Name: "Steve"},
			User:            &dto.User{Id: "user-ls"},
		},
	}

	merged, err := postProxy.Authenticate(context.Background(), replies)
	if err != nil {
		t.Fatalf("authenticate merge failed: %v", err)
	}

	if len(merged.AvailableProfiles) != 3 {
		t.Fatalf("expected the union of 3 profiles, got %d", len(merged.AvailableProfiles))
	}
	names := map[string]bool{}
	for _, profile := range merged.AvailableProfiles {
		names[profile.Name] = true
	}
	for _, expected := range []string{"ls_Steve", "ls_Alex", "zz_Steve"} {
		if !names[expected] {
			t.Errorf("expected profile %s in the union, got %v", expected, names)
		}
	}
	if merged.SelectedProfile != nil {
		t.Error("the merged reply must never carry a selectedProfile")
	}
	if merged.ClientToken == nil || *merged.ClientToken != "client-ls" {
		t.Errorf("expected the main backend's client token, got %v", merged.ClientToken)
	}

	claims, err := tokenService.Verify(merged.AccessToken)
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if claims.Tokens["ls"] != "token-ls" || claims.Tokens["zz"] != "token-zz" {
		t.Errorf("unexpected stored tokens: %v", claims.Tokens)
	}
	if !claims.Selected["ls"] || claims.Selected["zz"] {
		t.Errorf("unexpected selected flags: %v", claims.Selected)
	}
	if claims.SelectedUuid != nil {
		t.Error("a fresh session must not have a selected uuid")
	}
	// every mapped uuid must have a token for its backend
	for uuid, backend := range claims.Uuids {
		if _, ok := claims.Tokens[backend]; !ok {
			t.Errorf("uuid %s points at backend %s without a stored token", uuid, backend)
		}
	}
	if len(claims.Uuids) != 3 {
		t.Errorf("expected 3 uuid mappings, got %d", len(claims.Uuids))
	}
	if claims.Exp <= time.Now().UnixMilli() {
		t.Error("expected the session expiry in the future")
	}
}

func TestAuthenticateMergeNoReplies(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"ls": "http://unused"}, Main: "ls"}
	postProxy, _, _ := postProxyFixture(t, cfg)

	_, err := postProxy.Authenticate(context.Background(), map[string]*dto.AuthenticateReply{})
	assertErrorCode(t, err, "ForbiddenOperationException")
}

func TestAuthenticateClientTokenFallback(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"aa": "http://unused", "bb": "http://unused"}, Main: "zz"}
	postProxy, _, _ := postProxyFixture(t, cfg)

	replies := map[string]*dto.AuthenticateReply{
		"bb": {AccessToken: "token-bb", ClientToken: strPtr("client-bb")},
		"aa": {AccessToken: "token-aa", ClientToken: strPtr("client-aa")},
	}
	merged, err := postProxy.Authenticate(context.Background(), replies)
	if err != nil {
		t.Fatalf("authenticate merge failed: %v", err)
	}
	// without a main reply the first backend in sorted order wins
	if merged.ClientToken == nil || *merged.ClientToken != "client-aa" {
		t.Errorf("expected client-aa, got %v", merged.ClientToken)
	}
}

func TestRefreshMergeBindsProfile(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"ls": "http://unused"}, Main: "ls"}
	postProxy, store, tokenService := postProxyFixture(t, cfg)

	cfgTranslator := NewTranslateService(cfg, store, NewSignatureService(generateTestKey(t), cfg.Backends))
	seeded, err := cfgTranslator.Translate(context.Background(), "ls",
		dto.Profile{Id: "11111111222233334444555555555555", Name: "Steve"})
	if err != nil {
		t.Fatalf("seed translate failed: %v", err)
	}

	claims := &dto.AccessClaims{
		Exp:      time.Now().Add(time.Hour).UnixMilli(),
		Tokens:   map[string]string{"ls": "old-token"},
		Uuids:    map[string]string{seeded.Id: "ls"},
		Selected: map[string]bool{"ls": false},
	}
	reply := &dto.RefreshReply{
		AccessToken:     "new-token",
		ClientToken:     strPtr("client-ls"),
		SelectedProfile: &dto.Profile{Id: "11111111222233334444555555555555", Name: "Steve"},
	}

	merged, err := postProxy.Refresh(context.Background(), "ls", claims, reply)
	if err != nil {
		t.Fatalf("refresh merge failed: %v", err)
	}
	if merged.SelectedProfile == nil || merged.SelectedProfile.Id != seeded.Id {
		t.Errorf("expected the proxy identity to be selected, got %+v", merged.SelectedProfile)
	}

	verified, err := tokenService.Verify(merged.AccessToken)
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if verified.SelectedUuid == nil || *verified.SelectedUuid != seeded.Id {
		t.Error("expected the selection recorded in the claims")
	}
	if !verified.Selected["ls"] {
		t.Error("expected the backend marked as selected")
	}
	if verified.Tokens["ls"] != "new-token" {
		t.Errorf("expected the rotated upstream token, got %s", verified.Tokens["ls"])
	}
}

func TestRefreshMergeWithoutProfileClearsSelection(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"ls": "http://unused"}, Main: "ls"}
	postProxy, _, tokenService := postProxyFixture(t, cfg)

	bound := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	claims := &dto.AccessClaims{
		Exp:          time.Now().Add(time.Hour).UnixMilli(),
		Tokens:       map[string]string{"ls": "old-token"},
		Uuids:        map[string]string{bound: "ls"},
		Selected:     map[string]bool{"ls": true},
		SelectedUuid: &bound,
	}
	merged, err := postProxy.Refresh(context.Background(), "ls", claims,
		&dto.RefreshReply{AccessToken: "new-token"})
	if err != nil {
		t.Fatalf("refresh merge failed: %v", err)
	}
	if merged.SelectedProfile != nil {
		t.Error("expected no selected profile in the merged reply")
	}
	verified, err := tokenService.Verify(merged.AccessToken)
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if verified.SelectedUuid != nil || verified.Selected["ls"] {
		t.Error("expected the selection cleared in the claims")
	}
}

func TestProfilesMergeTranslatesAll(t *testing.T) {
	cfg := &ProxyConfig{Backends: map[string]string{"aa": "http://unused", "bb": "http://unused"}, Main: "aa"}
	postProxy, _, _ := postProxyFixture(t, cfg)

	replies := map[string][]dto.Profile{
		"aa": {{Id: "11111111222233334444555555555555", Name: "Steve"}},
		"bb": {{Id: "66666666777788889999000000000000", Name: "Alex"}},
	}
	merged, err := postProxy.Profiles(context.Background(), replies)
	if err != nil {
		t.Fatalf("profiles merge failed: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(merged))
	}
	names := map[string]bool{}
	for _, profile := range merged {
		names[profile.Name] = true
	}
	if !names["aa_Steve"] || !names["bb_Alex"] {
		t.Errorf("expected translated names, got %v", names)
	}
}
