package dto

type MfaSetupResponse struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

type MfaVerifyInput struct {
	Code string `json:"code"`
}
