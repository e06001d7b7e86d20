package setup

import (
	"github.com/growattmon/growattmon/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// ConfiguredCredentials registers the account flags and returns the
// credentials, populated once flags are parsed. Validation happens in
// Orchestrator.Setup so flag errors surface with the rest of setup.
func ConfiguredCredentials() *types.Credentials {
	apiVersion := lflag.String("api-version", "classic", "Vendor protocol to use (classic or v1)")
	plantID := lflag.RequiredString("plant-id", "Plant ID to monitor")
	username := lflag.String("username", "", "Account username (classic protocol)")
	password := lflag.String("password", "", "Account password (classic protocol)")
	token := lflag.String("token", "", "API token (v1 protocol)")
	serverURL := lflag.String("server-url", "", "Vendor API base URL, empty for the international endpoint")

	creds := &types.Credentials{}

	lflag.Do(func() {
		creds.APIVersion = types.APIVersion(*apiVersion)
		creds.PlantID = *plantID
		creds.Username = *username
		creds.Password = *password
		creds.Token = *token
		creds.ServerURL = *serverURL
	})

	return creds
}
