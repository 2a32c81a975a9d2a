package model

import "time"

type MfaSetupData struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioningUri"`
	QRCode          string `json:"qrCode,omitempty"`
}

// LoginResult carries one of the three login outcomes. Session is set only
// for StepFullyAuthenticated; PendingToken only for the MFA steps.
type LoginResult struct {
	Step         LoginStep
	Admin        *PublicAdmin
	Session      *IssuedSession
	PendingToken string
	MfaSetup     *MfaSetupData
}

func (r *LoginResult) RequiresPasswordChange() bool {
	return r.Admin != nil && r.Admin.MustChangePassword
}

// PendingLogin is the server side of a pending login token: password
// verified, MFA step outstanding.
type PendingLogin struct {
	AdminID   string      `json:"adminId"`
	Step      PendingStep `json:"step"`
	CreatedAt time.Time   `json:"createdAt"`
}
