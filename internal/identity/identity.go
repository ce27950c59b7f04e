// Package identity extracts the user identity carried by the bearer
// credential. Tokens are issued and verified by the identity provider and
// the backend; the client only reads their claims.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultUserID = "default_user_id"
	DefaultGroup  = "Admin"
)

var ErrNoToken = errors.New("no bearer token")

// Identity tags outgoing turns and authorizes collaborator requests.
type Identity struct {
	Token  string
	UserID string
	Groups []string
}

// Anonymous is used when no credential is available.
func Anonymous() Identity {
	return Identity{UserID: DefaultUserID}
}

// Group returns the first group membership, or DefaultGroup.
func (i Identity) Group() string {
	if len(i.Groups) > 0 && i.Groups[0] != "" {
		return i.Groups[0]
	}
	return DefaultGroup
}

// FromToken reads the username and groups from an id token.
func FromToken(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Anonymous(), ErrNoToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Anonymous(), fmt.Errorf("parse id token: %w", err)
	}

	id := Identity{Token: token, UserID: DefaultUserID}
	if v, ok := claims["cognito:username"].(string); ok && v != "" {
		id.UserID = v
	} else if sub, err := claims.GetSubject(); err == nil && sub != "" {
		id.UserID = sub
	}
	id.Groups = groups(claims["cognito:groups"])
	return id, nil
}

func groups(raw any) []string {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
