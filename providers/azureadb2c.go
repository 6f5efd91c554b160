package providers

import (
	"fmt"

	"golang.org/x/oauth2"
)

// AzureADB2CEndpoint returns the endpoints of an Azure AD B2C user flow.
func AzureADB2CEndpoint(tenant, policy string) oauth2.Endpoint {
	base := fmt.Sprintf("https://%s.b2clogin.com/%s.onmicrosoft.com/%s/oauth2/v2.0", tenant, tenant, policy)
	return oauth2.Endpoint{
		AuthURL:   base + "/authorize",
		TokenURL:  base + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// NewAzureADB2C creates a Provider for an Azure AD B2C tenant and user flow policy.
func NewAzureADB2C(tenant, policy, clientID, clientSecret, redirectURL string, scopes []string, opts ...Opt) *Provider {
	opts = append([]Opt{WithExchangeScope()}, opts...)
	return New(AzureADB2CEndpoint(tenant, policy), clientID, clientSecret, redirectURL, scopes, opts...)
}
