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
	"errors"

	"gorm.io/gorm"
	"yggdrasil-proxy/model"
)

// ProfileStore persists the mapping between backend identities and the
// identities the proxy exposes. Lookups that find nothing return (nil, nil);
// uniqueness violations surface as storage errors the caller treats as fatal
// for the current request.
type ProfileStore interface {
	FindByBackendAndSrcUuid(ctx context.Context, backendId string, srcUuid string) (*model.Profile, error)
	FindByUuid(ctx context.Context, uuid string) (*model.Profile, error)
	FindByName(ctx context.Context, name string) (*model.Profile, error)
	// FindBySrcName only matches rows belonging to the main backend; it
	// exists for the master/slave hasJoined routing rule.
	FindBySrcName(ctx context.Context, srcName string) (*model.Profile, error)
	Save(ctx context.Context, profile *model.Profile) error
}

type profileStoreImpl struct {
	db     *gorm.DB
	mainId string
}

func NewProfileStore(db *gorm.DB, mainId string) ProfileStore {
	return &profileStoreImpl{
		db:     db,
		mainId: mainId,
	}
}

func (p *profileStoreImpl) findOne(ctx context.Context, query string, args ...interface{}) (*model.Profile, error) {
	profile := model.Profile{}
	err := p.db.WithContext(ctx).Where(query, args...).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (p *profileStoreImpl) FindByBackendAndSrcUuid(ctx context.Context, backendId string, srcUuid string) (*model.Profile, error) {
	return p.findOne(ctx, "backend_id = ? AND src_uuid = ?", backendId, srcUuid)
}

func (p *profileStoreImpl) FindByUuid(ctx context.Context, uuid string) (*model.Profile, error) {
	return p.findOne(ctx, "uuid = ?", uuid)
}

func (p *profileStoreImpl) FindByName(ctx context.Context, name string) (*model.Profile, error) {
	return p.findOne(ctx, "name = ?", name)
}

func (p *profileStoreImpl) FindBySrcName(ctx context.Context, srcName string) (*model.Profile, error) {
	return p.findOne(ctx, "backend_id = ? AND src_name = ?", p.mainId, srcName)
}

func (p *profileStoreImpl) Save(ctx context.Context, profile *model.Profile) error {
	return p.db.WithContext(ctx).Save(profile).Error
}
