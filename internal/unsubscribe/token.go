// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package unsubscribe

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidToken is returned for tokens that do not decode to prospectId:email.
var ErrInvalidToken = errors.New("invalid unsubscribe token")

// EncodeToken packs a prospect id and address into a URL-safe token.
// The token is not signed: anyone holding the pair can build it.
func EncodeToken(prospectID, email string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(prospectID + ":" + email))
}

// DecodeToken reverses EncodeToken. Padded input is accepted too.
func DecodeToken(token string) (prospectID, email string, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return "", "", ErrInvalidToken
	}
	prospectID, email, ok := strings.Cut(string(raw), ":")
	if !ok || prospectID == "" || !strings.Contains(email, "@") {
		return "", "", ErrInvalidToken
	}
	return prospectID, email, nil
}

// Link builds the public unsubscribe URL under baseURL.
func Link(baseURL, prospectID, email string) string {
	return strings.TrimRight(baseURL, "/") + "/unsubscribe?token=" + EncodeToken(prospectID, email)
}
