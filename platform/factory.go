package platform

import (
	"log"
	"net/http"

	"reachflow/config"
	"reachflow/models"
	"reachflow/utils"
)

// Factory builds adapters for a tenant, honoring per-tenant encrypted API key
// overrides and falling back to the globally configured keys.
type Factory struct {
	client *http.Client
	logger *log.Logger
}

func NewFactory(client *http.Client, logger *log.Logger) *Factory {
	if client == nil {
		client = defaultHTTPClient
	}
	return &Factory{client: client, logger: logger}
}

func (f *Factory) Email(tenant *models.Tenant) Adapter {
	key := config.AppConfig.Smartlead.APIKey
	if tenant != nil && tenant.SmartleadAPIKey != "" {
		decrypted, err := utils.Decrypt(tenant.SmartleadAPIKey)
		if err != nil {
			f.logger.Printf("Failed to decrypt Smartlead key for tenant %d, using global key: %v", tenant.ID, err)
		} else {
			key = decrypted
		}
	}
	return NewSmartlead(config.AppConfig.Smartlead.BaseURL, key, f.client)
}

func (f *Factory) LinkedIn(tenant *models.Tenant) Adapter {
	key := config.AppConfig.HeyReach.APIKey
	if tenant != nil && tenant.HeyReachAPIKey != "" {
		decrypted, err := utils.Decrypt(tenant.HeyReachAPIKey)
		if err != nil {
			f.logger.Printf("Failed to decrypt HeyReach key for tenant %d, using global key: %v", tenant.ID, err)
		} else {
			key = decrypted
		}
	}
	return NewHeyReach(config.AppConfig.HeyReach.BaseURL, key, f.client)
}
