// Package azure builds azcore pipelines that authenticate requests to Azure
// data-plane services, either with a static API key or with Entra ID tokens.
package azure

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

const (
	SearchScope            = "https://search.azure.com/.default"
	CognitiveServicesScope = "https://cognitiveservices.azure.com/.default"
)

// NewDefaultCredential returns the environment/managed-identity/CLI credential chain.
func NewDefaultCredential() (azcore.TokenCredential, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create default azure credential: %w", err)
	}
	return cred, nil
}
