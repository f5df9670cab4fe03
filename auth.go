package llmrouter

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"golang.org/x/net/http/httpguts"
)

// AuthType identifies one of the supported authentication schemes.
type AuthType string

// AuthType constants.
const (
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthHeader AuthType = "header"
)

// Auth describes how requests to a backend are authenticated. Only the
// fields belonging to Type are meaningful.
type Auth struct {
	Type AuthType `json:"type" yaml:"type"`

	// bearer
	Token string `json:"token,omitempty" yaml:"token,omitempty"`

	// basic
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// header
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// Apply writes the credentials into h, replacing any existing value of the
// affected header. A nil Auth leaves h untouched.
func (a *Auth) Apply(h http.Header) {
	if a == nil {
		return
	}
	switch a.Type {
	case AuthBearer:
		h.Set("Authorization", "Bearer "+a.Token)
	case AuthBasic:
		h.Set("Authorization", "Basic "+basicCredentials(a.Username, a.Password))
	case AuthHeader:
		h.Set(a.Name, a.Value)
	}
}

// Validate checks that the descriptor produces a well-formed header.
func (a *Auth) Validate() error {
	if a == nil {
		return nil
	}
	var name, value string
	switch a.Type {
	case AuthBearer:
		if a.Token == "" {
			return fmt.Errorf("bearer auth requires a token")
		}
		name, value = "Authorization", "Bearer "+a.Token
	case AuthBasic:
		if a.Username == "" {
			return fmt.Errorf("basic auth requires a username")
		}
		name, value = "Authorization", "Basic "+basicCredentials(a.Username, a.Password)
	case AuthHeader:
		if a.Name == "" {
			return fmt.Errorf("header auth requires a name")
		}
		name, value = a.Name, a.Value
	default:
		return fmt.Errorf("unknown auth type %q", a.Type)
	}
	if !httpguts.ValidHeaderFieldName(name) {
		return fmt.Errorf("invalid header name %q", name)
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return fmt.Errorf("invalid value for header %q", name)
	}
	return nil
}

func basicCredentials(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
