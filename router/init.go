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
	"crypto/rsa"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"yggdrasil-proxy/dto"
	"yggdrasil-proxy/service"
)

func InitRouters(router *gin.Engine, db *gorm.DB, cfg *service.ProxyConfig,
	secret string, privateKey *rsa.PrivateKey, meta *dto.ServerMeta, poolSize int) {
	err := router.SetTrustedProxies([]string{"127.0.0.1"})
	if err != nil {
		panic(err)
	}
	router.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "HEAD"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "User-Agent", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	tokenService := service.NewTokenService(secret)
	profileStore := service.NewProfileStore(db, cfg.Main)
	signatureService := service.NewSignatureService(privateKey, cfg.Backends)
	translateService := service.NewTranslateService(cfg, profileStore, signatureService)
	upstreamService := service.NewUpstreamService(cfg.Backends, poolSize)
	preProxyService := service.NewPreProxyService(cfg, profileStore, tokenService)
	postProxyService := service.NewPostProxyService(cfg, profileStore, tokenService, translateService)
	proxyService := service.NewProxyService(cfg, upstreamService, preProxyService, postProxyService, tokenService, signatureService)

	homeRouter := NewHomeRouter(meta)
	authRouter := NewAuthRouter(proxyService)
	sessionRouter := NewSessionRouter(proxyService)

	router.GET("/", homeRouter.Home)
	authserver := router.Group("/authserver")
	{
		authserver.POST("/authenticate", authRouter.Authenticate)
		authserver.POST("/refresh", authRouter.Refresh)
		authserver.POST("/validate", authRouter.Validate)
		authserver.POST("/invalidate", authRouter.Invalidate)
		authserver.POST("/signout", authRouter.Signout)
	}
	sessionserver := router.Group("/sessionserver/session/minecraft")
	{
		sessionserver.POST("/join", sessionRouter.JoinServer)
		sessionserver.GET("/hasJoined", sessionRouter.HasJoinedServer)
		sessionserver.GET("/profile/:uuid", sessionRouter.QueryProfile)
	}
	router.POST("/api/profiles/minecraft", sessionRouter.QueryProfiles)
	// launchers disagree on where the certificates endpoint lives
	router.POST("/minecraftservices/player/certificates", authRouter.Certificates)
	router.POST("/certificates", authRouter.Certificates)
}
