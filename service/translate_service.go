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
	"fmt"
	"log"
	"net/http"

	"yggdrasil-proxy/dto"
	"yggdrasil-proxy/model"
	"yggdrasil-proxy/util"
)

// TranslateService converts a profile owned by a backend into the profile
// the proxy controls:
//
//   - the name becomes "{backend_id}_{src_name}",
//   - the uuid becomes a proxy-allocated version 4 uuid,
//   - signed properties are re-signed with the proxy's private key.
//
// If master/slave mode is enabled and the profile belongs to the main
// backend, the returned identity keeps the backend's own uuid and name,
// although the mapping row is still written and kept consistent.
type TranslateService interface {
	Translate(ctx context.Context, srcBackend string, profile dto.Profile) (dto.Profile, error)
}

type translateServiceImpl struct {
	cfg        *ProxyConfig
	store      ProfileStore
	signatures SignatureService
}

func NewTranslateService(cfg *ProxyConfig, store ProfileStore, signatures SignatureService) TranslateService {
	return &translateServiceImpl{
		cfg:        cfg,
		store:      store,
		signatures: signatures,
	}
}

func ProxyName(backendId string, srcName string) string {
	return fmt.Sprintf("%s_%s", backendId, srcName)
}

func (t *translateServiceImpl) Translate(ctx context.Context, srcBackend string, profile dto.Profile) (dto.Profile, error) {
	needTranslate := t.cfg.NeedTranslate(srcBackend)
	name := ProxyName(srcBackend, profile.Name)

	// backend id and src uuid decide a profile; backend id and src name
	// cannot, because players can rename
	row, err := t.store.FindByBackendAndSrcUuid(ctx, srcBackend, profile.Id)
	if err != nil {
		return dto.Profile{}, util.NewHttpError(http.StatusInternalServerError, err.Error())
	}

	var uuid string
	if row != nil {
		// known profile, refresh the name columns in case of a rename
		row.Name = name
		row.SrcName = profile.Name
		if err := t.store.Save(ctx, row); err != nil {
			return dto.Profile{}, util.NewHttpError(http.StatusInternalServerError, err.Error())
		}
		uuid = row.Uuid
	} else {
		uuid = util.RandomUUID()
		record := model.Profile{
			BackendId: srcBackend,
			SrcName:   profile.Name,
			SrcUuid:   profile.Id,
			Uuid:      uuid,
			Name:      name,
		}
		if err := t.store.Save(ctx, &record); err != nil {
			return dto.Profile{}, util.NewHttpError(http.StatusInternalServerError, err.Error())
		}
	}

	out := dto.Profile{
		Id:         uuid,
		Name:       name,
		Properties: t.reSignature(ctx, srcBackend, profile.Properties),
	}
	if !needTranslate {
		out.Id = profile.Id
		out.Name = profile.Name
	}
	return out, nil
}

// reSignature validates each signed property against the backend's
// advertised key and replaces valid signatures with the proxy's own. An
// invalid signature is kept as-is so the client fails it diagnosably.
func (t *translateServiceImpl) reSignature(ctx context.Context, srcBackend string, properties []dto.Property) []dto.Property {
	if properties == nil {
		return nil
	}
	out := make([]dto.Property, 0, len(properties))
	for _, property := range properties {
		if property.Signature != "" && t.signatures.VerifyUpstream(ctx, srcBackend, property.Signature, property.Value) {
			resigned, err := t.signatures.Sign(property.Value)
			if err != nil {
				log.Printf("resign property '%s' from <%s> failed: %v", property.Name, srcBackend, err)
			} else {
				property.Signature = resigned
			}
		}
		out = append(out, property)
	}
	return out
}
