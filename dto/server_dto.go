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

package dto

// Server metadata document served at GET /

// MetaLinks represents the optional homepage/register links
type MetaLinks struct {
	Homepage string `json:"homepage,omitempty"`
	Register string `json:"register,omitempty"`
}

// MetaInfo represents the server metadata information
type MetaInfo struct {
	ServerName                      string     `json:"serverName,omitempty"`
	ImplementationName              string     `json:"implementationName,omitempty"`
	ImplementationVersion           string     `json:"implementationVersion,omitempty"`
	Links                           *MetaLinks `json:"links,omitempty"`
	FeatureNonEmailLogin            bool       `json:"feature.non_email_login,omitempty"`
	FeatureLegacySkinApi            bool       `json:"feature.legacy_skin_api,omitempty"`
	FeatureNoMojangNamespace        bool       `json:"feature.no_mojang_namespace,omitempty"`
	FeatureEnableMojangAntiFeatures bool       `json:"feature.enable_mojang_anti_features,omitempty"`
	FeatureEnableProfileKey         bool       `json:"feature.enable_profile_key,omitempty"`
	FeatureUsernameCheck            bool       `json:"feature.username_check,omitempty"`
}

// ServerMeta represents the complete server metadata response
type ServerMeta struct {
	Meta               MetaInfo `json:"meta"`
	SkinDomains        []string `json:"skinDomains"`
	SignaturePublickey string   `json:"signaturePublickey"`
}
