package config

type CRMConfig interface {
	GetCRMBaseURL() string
	GetCRMAPIVersion() string
	GetAccountsBaseURL() string
	GetClientID() string
	GetClientSecret() string
	GetAccessToken() string
	GetRefreshToken() string
	GetContactID() string
	GetContactName() string
	GetCaseOrigin() string
	GetCaseStatus() string
	GetAttachTranscriptAsNote() bool
}

type CRM struct{}

var _ CRMConfig = CRM{}

func (CRM) GetCRMBaseURL() string {
	return GetEnv("CRM_API_BASE_URL", "https://www.zohoapis.com")
}

func (CRM) GetCRMAPIVersion() string {
	return GetEnv("CRM_API_VERSION", "v8")
}

func (CRM) GetAccountsBaseURL() string {
	return GetEnv("CRM_ACCOUNTS_BASE_URL", "https://accounts.zoho.com")
}

func (CRM) GetClientID() string {
	return GetEnv("CRM_CLIENT_ID", "")
}

func (CRM) GetClientSecret() string {
	return GetEnv("CRM_CLIENT_SECRET", "")
}

func (CRM) GetAccessToken() string {
	return GetEnv("CRM_ACCESS_TOKEN", "")
}

func (CRM) GetRefreshToken() string {
	return GetEnv("CRM_REFRESH_TOKEN", "")
}

func (CRM) GetContactID() string {
	return GetEnv("CRM_CONTACT_ID", "")
}

func (CRM) GetContactName() string {
	return GetEnv("CRM_CONTACT_NAME", "Chat Visitor")
}

func (CRM) GetCaseOrigin() string {
	return GetEnv("CRM_CASE_ORIGIN", "Web")
}

func (CRM) GetCaseStatus() string {
	return GetEnv("CRM_CASE_STATUS", "Closed")
}

func (CRM) GetAttachTranscriptAsNote() bool {
	return GetEnvBool("CRM_ATTACH_TRANSCRIPT_AS_NOTE", false)
}
