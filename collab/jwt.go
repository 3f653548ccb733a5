package collab

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
)

// join tokens carry collaborator identity into the connect handshake:
// `name`, `avatar`, `color`, `role`, `permissions` claims

func NewJoinToken(secret []byte, userInfo *Collaborator, expireAfter time.Duration) (string, error) {
	claims := gojwt.MapClaims{
		"name": userInfo.Name,
		"exp":  time.Now().Add(expireAfter).Unix(),
	}
	if userInfo.Avatar != "" {
		claims["avatar"] = userInfo.Avatar
	}
	if userInfo.Color != "" {
		claims["color"] = userInfo.Color
	}
	if userInfo.Role != "" {
		claims["role"] = userInfo.Role
	}
	if userInfo.Permissions != nil {
		claims["permissions"] = userInfo.Permissions.ToSlice()
	}

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// an empty secret parses without verification, for local development only
func ParseJoinToken(tokenStr string, secret []byte) (*Collaborator, error) {
	claims := gojwt.MapClaims{}
	if 0 < len(secret) {
		_, err := gojwt.ParseWithClaims(
			tokenStr,
			claims,
			func(token *gojwt.Token) (any, error) {
				return secret, nil
			},
			gojwt.WithValidMethods([]string{"HS256"}),
		)
		if err != nil {
			return nil, NewValidationError("invalid join token: %s", err)
		}
	} else {
		parser := gojwt.NewParser()
		if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
			return nil, NewValidationError("invalid join token: %s", err)
		}
	}

	userInfo := &Collaborator{}
	if name, ok := claims["name"].(string); ok {
		userInfo.Name = name
	}
	if avatar, ok := claims["avatar"].(string); ok {
		userInfo.Avatar = avatar
	}
	if color, ok := claims["color"].(string); ok {
		userInfo.Color = color
	}
	if role, ok := claims["role"].(string); ok {
		userInfo.Role = role
	}
	if permissions, ok := claims["permissions"].([]any); ok {
		permissionSet := mapset.NewSet[string]()
		for _, permission := range permissions {
			if s, ok := permission.(string); ok {
				permissionSet.Add(s)
			}
		}
		userInfo.Permissions = permissionSet
	}
	return userInfo, nil
}
