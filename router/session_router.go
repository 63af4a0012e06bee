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
	"strconv"

	"github.com/gin-gonic/gin"
	"yggdrasil-proxy/dto"
	"yggdrasil-proxy/service"
	"yggdrasil-proxy/util"
)

type SessionRouter interface {
	JoinServer(c *gin.Context)
	HasJoinedServer(c *gin.Context)
	QueryProfile(c *gin.Context)
	QueryProfiles(c *gin.Context)
}

type sessionRouterImpl struct {
	proxyService service.ProxyService
}

func NewSessionRouter(proxyService service.ProxyService) SessionRouter {
	return &sessionRouterImpl{
		proxyService: proxyService,
	}
}

func (s *sessionRouterImpl) JoinServer(c *gin.Context) {
	request := dto.JoinServerRequest{}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, util.NewIllegalArgumentError(err.Error()))
		return
	}
	errReply, err := s.proxyService.Join(c.Request.Context(), &request)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	if errReply != nil {
		c.JSON(http.StatusOK, errReply)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *sessionRouterImpl) HasJoinedServer(c *gin.Context) {
	username := c.Query("username")
	serverId := c.Query("serverId")
	ip := c.Query("ip")
	if username == "" || serverId == "" {
		c.Status(http.StatusNoContent)
		return
	}
	profile, err := s.proxyService.HasJoined(c.Request.Context(), username, serverId, ip)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	if profile == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *sessionRouterImpl) QueryProfile(c *gin.Context) {
	uuid := c.Param("uuid")
	var unsigned *bool
	if raw, ok := c.GetQuery("unsigned"); ok {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			unsigned = &parsed
		}
	}
	profile, err := s.proxyService.Profile(c.Request.Context(), uuid, unsigned)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	if profile == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *sessionRouterImpl) QueryProfiles(c *gin.Context) {
	var names []string
	if err := c.ShouldBindJSON(&names); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, util.NewIllegalArgumentError(err.Error()))
		return
	}
	profiles, err := s.proxyService.Profiles(c.Request.Context(), names)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}
