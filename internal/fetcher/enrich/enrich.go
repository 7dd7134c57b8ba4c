// Package enrich holds the registered source enrichment hooks. A
// region document can name one per source via its function field; the
// hook runs before resolution and typically injects short-lived
// credentials or rewrites the URL.
package enrich

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/feedfetch-data/pkg/feeds/models"
)

// Func mutates a declared source before resolution.
type Func func(models.Source) (models.Source, error)

var funcs = map[string]Func{
	"mvo_keycloak_token": mvoKeycloakToken,
}

// Lookup returns the registered hook for name. Unknown names are
// rejected at config validation time, before any source is processed.
func Lookup(name string) (Func, bool) {
	f, ok := funcs[name]
	return f, ok
}

const mvoTokenURL = "https://user.mobilitaetsverbuende.at/auth/realms/dbp-public/protocol/openid-connect/token"

// mvoKeycloakToken fetches a short-lived bearer token for the Austrian
// Mobilitätsverbünde data portal and injects it as a request header.
// Credentials come from MVO_USERNAME / MVO_PASSWORD.
func mvoKeycloakToken(src models.Source) (models.Source, error) {
	httpSrc, ok := src.(*models.HTTPSource)
	if !ok {
		return nil, fmt.Errorf("mvo_keycloak_token requires an http source")
	}

	username := os.Getenv("MVO_USERNAME")
	password := os.Getenv("MVO_PASSWORD")
	if username == "" || password == "" {
		return nil, fmt.Errorf("MVO_USERNAME and MVO_PASSWORD must be set")
	}

	resp, err := http.PostForm(mvoTokenURL, url.Values{
		"client_id":  {"dbp-public-ui"},
		"username":   {username},
		"password":   {password},
		"grant_type": {"password"},
		"scope":      {"openid"},
	})
	if err != nil {
		return nil, fmt.Errorf("requesting keycloak token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("requesting keycloak token: status %d", resp.StatusCode)
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("parsing keycloak token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("keycloak token response carries no access token")
	}

	if httpSrc.Options.Headers == nil {
		httpSrc.Options.Headers = map[string]string{}
	}
	httpSrc.Options.Headers["Authorization"] = "Bearer " + token.AccessToken
	return httpSrc, nil
}
