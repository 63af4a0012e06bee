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

package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"yggdrasil-proxy/dto"
	"yggdrasil-proxy/model"
	"yggdrasil-proxy/router"
	"yggdrasil-proxy/service"
)

const (
	implementationName    = "Union Yggdrasil Reverse Proxy"
	implementationVersion = "0.1.0"
	configFilePath        = "config.yaml"
	privateKeyPath        = "private_key.pem"
	upstreamPoolSize      = 64
)

type MetaLinksCfg struct {
	Homepage string `yaml:"homepage"`
	Register string `yaml:"register"`
}

type MetaCfg struct {
	ServerName              string       `yaml:"serverName"`
	Links                   MetaLinksCfg `yaml:"links"`
	NonEmailLogin           bool         `yaml:"feature.non_email_login"`
	LegacySkinApi           bool         `yaml:"feature.legacy_skin_api"`
	NoMojangNamespace       bool         `yaml:"feature.no_mojang_namespace"`
	EnableMojangAntiFeature bool         `yaml:"feature.enable_mojang_anti_features"`
	EnableProfileKey        bool         `yaml:"feature.enable_profile_key"`
	UsernameCheck           bool         `yaml:"feature.username_check"`
	SkinDomains             []string     `yaml:"skinDomains"`
}

type Config struct {
	Meta                  MetaCfg           `yaml:"meta"`
	DataSource            string            `yaml:"dataSource"`
	Secret                string            `yaml:"secret"`
	Address               string            `yaml:"address"`
	Port                  uint16            `yaml:"port"`
	Backends              map[string]string `yaml:"backends"`
	Main                  string            `yaml:"main"`
	EnableMasterSlaveMode bool              `yaml:"enableMasterSlaveMode"`
}

func defaultConfig() *Config {
	return &Config{
		Meta: MetaCfg{
			ServerName: "Union Authenticate Server",
			Links: MetaLinksCfg{
				Homepage: "https://example.com",
				Register: "https://example.com/auth/register",
			},
			NonEmailLogin:    true,
			EnableProfileKey: true,
			SkinDomains:      []string{"littleskin.cn", "skin.prinzeugen.net", "example.com"},
		},
		DataSource: "sqlite://file:proxy.db?cache=shared",
		Secret:     "example-token-secret",
		Address:    "0.0.0.0",
		Port:       8080,
		Backends: map[string]string{
			"ls":      "https://littleskin.cn/api/yggdrasil",
			"example": "https://example.com/api/yggdrasil",
		},
		Main:                  "ls",
		EnableMasterSlaveMode: true,
	}
}

// preCheck creates missing configuration and key material, then exits so the
// operator can review the generated files before the proxy goes live.
func preCheck() {
	needExit := false
	if _, err := os.Stat(configFilePath); os.IsNotExist(err) {
		log.Println("no configuration file found, create it...")
		content, err := yaml.Marshal(defaultConfig())
		if err != nil {
			log.Fatal(err)
		}
		if err := os.WriteFile(configFilePath, content, 0o644); err != nil {
			log.Fatal(err)
		}
		needExit = true
	}
	if _, err := os.Stat(privateKeyPath); os.IsNotExist(err) {
		log.Println("no private key file found, generating a PEM-encoded PKCS#8 private key (4096 bits), please wait...")
		key, err := rsa.GenerateKey(rand.Reader, 4096)
		if err != nil {
			log.Fatal(err)
		}
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			log.Fatal(err)
		}
		content := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
		if err := os.WriteFile(privateKeyPath, content, 0o600); err != nil {
			log.Fatal(err)
		}
		needExit = true
	}
	if needExit {
		log.Println("please fill in your configuration file and then restart the proxy")
		os.Exit(0)
	}
}

func loadConfig() *Config {
	content, err := os.ReadFile(configFilePath)
	if err != nil {
		log.Fatal("cannot read configuration file: ", err)
	}
	config := Config{}
	if err := yaml.Unmarshal(content, &config); err != nil {
		log.Fatal("cannot parse configuration file: ", err)
	}
	return &config
}

func loadPrivateKey() *rsa.PrivateKey {
	content, err := os.ReadFile(privateKeyPath)
	if err != nil {
		log.Fatal("cannot read private key: ", err)
	}
	block, _ := pem.Decode(content)
	if block == nil {
		log.Fatal("private key is not PEM encoded")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		log.Fatal("cannot parse private key: ", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		log.Fatal("private key is not an RSA key")
	}
	return key
}

func publicKeyPem(key *rsa.PrivateKey) string {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		log.Fatal("cannot encode public key: ", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// getDialector picks the gorm driver from the dataSource URL scheme; anything
// that is not mysql or postgres is treated as a sqlite path.
func getDialector(dataSource string) gorm.Dialector {
	switch {
	case strings.HasPrefix(dataSource, "mysql://"):
		parsed, err := url.Parse(dataSource)
		if err != nil {
			log.Fatal("invalid dataSource: ", err)
		}
		dsn := fmt.Sprintf("%s@tcp(%s)%s?charset=utf8mb4&parseTime=True&loc=Local",
			parsed.User.String(), parsed.Host, parsed.Path)
		return mysql.Open(dsn)
	case strings.HasPrefix(dataSource, "postgres://"), strings.HasPrefix(dataSource, "postgresql://"):
		return postgres.Open(dataSource)
	default:
		return sqlite.Open(strings.TrimPrefix(dataSource, "sqlite://"))
	}
}

func openDatabase(dataSource string) *gorm.DB {
	db, err := gorm.Open(getDialector(dataSource), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		log.Fatal("cannot connect database: ", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxIdleTime(8 * time.Second)
	sqlDB.SetConnMaxLifetime(8 * time.Second)
	if err := db.AutoMigrate(&model.Profile{}); err != nil {
		// migration may collide with objects created by a previous run
		log.Println("warning: migrate profiles table: ", err)
	}
	return db
}

func buildServerMeta(cfg *Config, publicKey string) *dto.ServerMeta {
	serverMeta := dto.ServerMeta{}
	serverMeta.Meta.ServerName = cfg.Meta.ServerName
	serverMeta.Meta.ImplementationName = implementationName
	serverMeta.Meta.ImplementationVersion = implementationVersion
	if cfg.Meta.Links.Homepage != "" || cfg.Meta.Links.Register != "" {
		serverMeta.Meta.Links = &dto.MetaLinks{
			Homepage: cfg.Meta.Links.Homepage,
			Register: cfg.Meta.Links.Register,
		}
	}
	serverMeta.Meta.FeatureNonEmailLogin = cfg.Meta.NonEmailLogin
	serverMeta.Meta.FeatureLegacySkinApi = cfg.Meta.LegacySkinApi
	serverMeta.Meta.FeatureNoMojangNamespace = cfg.Meta.NoMojangNamespace
	serverMeta.Meta.FeatureEnableMojangAntiFeatures = cfg.Meta.EnableMojangAntiFeature
	serverMeta.Meta.FeatureEnableProfileKey = cfg.Meta.EnableProfileKey
	serverMeta.Meta.FeatureUsernameCheck = cfg.Meta.UsernameCheck
	serverMeta.SkinDomains = cfg.Meta.SkinDomains
	serverMeta.SignaturePublickey = publicKey
	return &serverMeta
}

func main() {
	preCheck()
	cfg := loadConfig()
	if _, ok := cfg.Backends[cfg.Main]; !ok {
		log.Fatalf("main backend <%s> is not in the backends map", cfg.Main)
	}
	privateKey := loadPrivateKey()
	publicKey := publicKeyPem(privateKey)
	db := openDatabase(cfg.DataSource)

	proxyCfg := service.ProxyConfig{
		Backends:              cfg.Backends,
		Main:                  cfg.Main,
		EnableMasterSlaveMode: cfg.EnableMasterSlaveMode,
		EnableProfileKey:      cfg.Meta.EnableProfileKey,
	}
	serverMeta := buildServerMeta(cfg, publicKey)

	r := gin.Default()
	router.InitRouters(r, db, &proxyCfg, cfg.Secret, privateKey, serverMeta, upstreamPoolSize)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler: r,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("listen: %s\n", err)
		}
	}()
	log.Printf("started, address: %s\n", srv.Addr)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("forced shutdown: ", err)
	}
}
