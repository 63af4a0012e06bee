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

package model

// Profile maps a backend server profile onto the identity the proxy exposes.
//
// (BackendId, SrcUuid) decides a profile; (BackendId, SrcName) cannot,
// because players can rename, which is why SrcName is merely kept current.
// Uuid and Name are the proxy-visible identity and are globally unique.
// Name is always "{BackendId}_{SrcName}", even for the main backend in
// master/slave mode where the stored row differs from what clients see.
type Profile struct {
	ID        uint   `gorm:"primaryKey"`
	BackendId string `gorm:"size:64;uniqueIndex:idx_backend_src_name;uniqueIndex:idx_backend_src_uuid"`
	SrcName   string `gorm:"size:128;uniqueIndex:idx_backend_src_name"`
	SrcUuid   string `gorm:"size:32;uniqueIndex:idx_backend_src_uuid"`
	Uuid      string `gorm:"size:32;unique"`
	Name      string `gorm:"size:192;unique"`
}

func (Profile) TableName() string {
	return "profiles"
}
