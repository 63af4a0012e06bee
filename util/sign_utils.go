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
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
)

// Sign produces a base64 RSA-SHA1 PKCS#1 v1.5 signature over value.
// This is the signature scheme the vanilla client validates profile
// properties with.
func Sign(privateKey *rsa.PrivateKey, value string) (string, error) {
	sum := sha1.Sum([]byte(value))
	sig, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA1, sum[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifySign checks a base64 RSA-SHA1 PKCS#1 v1.5 signature over value.
func VerifySign(publicKey *rsa.PublicKey, value string, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	sum := sha1.Sum([]byte(value))
	return rsa.VerifyPKCS1v15(publicKey, crypto.SHA1, sum[:], sig) == nil
}
