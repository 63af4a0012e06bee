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
	"yggdrasil-proxy/service"
	"yggdrasil-proxy/util"
)

type AuthRouter interface {
	Authenticate(c *gin.Context)
	Refresh(c *gin.Context)
	Validate(c *gin.Context)
	Invalidate(c *gin.Context)
	Signout(c *gin.Context)
	Certificates(c *gin.Context)
}

type authRouterImpl struct {
	proxyService service.ProxyService
}

func NewAuthRouter(proxyService service.ProxyService) AuthRouter {
	return &authRouterImpl{
		proxyService: proxyService,
	}
}

func (a *authRouterImpl) Authenticate(c *gin.Context) {
	request := dto.AuthenticateRequest{}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, util.NewIllegalArgumentError(err.Error()))
		return
	}
	response, errReply, err := a.proxyService.Authenticate(c.Request.Context(), c.ClientIP(), &request)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	if errReply != nil {
		c.JSON(http.StatusOK, errReply)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (a *authRouterImpl) Refresh(c *gin.Context) {
	request := dto.RefreshRequest{}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, util.NewIllegalArgumentError(err.Error()))
		return
	}
	response, errReply, err := a.proxyService.Refresh(c.Request.Context(), &request)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	if errReply != nil {
		// backend rejections travel back in the body, as the backend sent them
		c.JSON(http.StatusOK, errReply)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (a *authRouterImpl) Validate(c *gin.Context) {
	request := dto.ValidateRequest{}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, util.NewIllegalArgumentError(err.Error()))
		return
	}
	if err := a.proxyService.Validate(c.Request.Context(), &request); err != nil {
		util.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *authRouterImpl) Invalidate(c *gin.Context) {
	request := dto.ValidateRequest{}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, util.NewIllegalArgumentError(err.Error()))
		return
	}
	a.proxyService.Invalidate(&request)
	c.Status(http.StatusNoContent)
}

func (a *authRouterImpl) Signout(c *gin.Context) {
	request := dto.SignoutRequest{}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, util.NewIllegalArgumentError(err.Error()))
		return
	}
	a.proxyService.Signout(&request)
	c.Status(http.StatusNoContent)
}

func (a *authRouterImpl) Certificates(c *gin.Context) {
	response, err := a.proxyService.Certificates(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		util.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}
