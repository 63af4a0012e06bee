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

package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"yggdrasil-proxy/dto"
)

type HomeRouter interface {
	Home(c *gin.Context)
}

type homeRouterImpl struct {
	serverMeta dto.ServerMeta
}

func NewHomeRouter(meta *dto.ServerMeta) HomeRouter {
	return &homeRouterImpl{
		serverMeta: *meta,
	}
}

// Home serves the metadata document clients use for server discovery. The
// advertised signature key is the proxy's own: profile properties are
// re-signed before they leave the proxy.
func (h *homeRouterImpl) Home(c *gin.Context) {
	c.JSON(http.StatusOK, h.serverMeta)
}
