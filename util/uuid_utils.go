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

package util

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// UnsignedString serializes a UUID as 32 hex digits without dashes,
// the form used everywhere on the Yggdrasil wire.
func UnsignedString(id uuid.UUID) string {
	return hex.EncodeToString(id[:])
}

// RandomUUID returns a fresh random version 4 UUID in undashed form.
func RandomUUID() string {
	return UnsignedString(uuid.New())
}
