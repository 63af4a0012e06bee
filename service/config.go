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

// ProxyConfig is the runtime view of the federation configuration, threaded
// through the services instead of living in package globals.
type ProxyConfig struct {
	// Backends maps backend id to its Yggdrasil base URL
	Backends map[string]string
	// Main is the distinguished backend that receives catch-all traffic
	// for names and uuids the proxy has never seen
	Main string
	// EnableMasterSlaveMode makes the main backend appear unmodified to
	// clients: its profile ids and names pass through untranslated
	EnableMasterSlaveMode bool
	// EnableProfileKey gates the player certificates endpoint
	EnableProfileKey bool
}

// NeedTranslate reports whether profiles of the given backend are exposed
// under proxy identities. Only the main backend in master/slave mode is
// exempt.
func (c *ProxyConfig) NeedTranslate(backendId string) bool {
	return !c.EnableMasterSlaveMode || c.Main != backendId
}
