package api

// Account is the broker's view of one connected provider account.
type Account struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Email     string `json:"email"`
	IsDefault bool   `json:"is_default"`
}

// AccountsResponse is returned by GET /api/v1/accounts.
type AccountsResponse struct {
	Accounts []Account `json:"accounts"`
}

// DeviceCodeResponse is returned by POST /api/auth/device.
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// DeviceTokenResponse is returned by POST /api/auth/device/token.
type DeviceTokenResponse struct {
	Status string `json:"status"`
	APIKey string `json:"api_key,omitempty"`
}
