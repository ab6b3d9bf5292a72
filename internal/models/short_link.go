package models

// ShortLink is what a slug resolves to.
type ShortLink struct {
	Token string `json:"token"`
	OTP   string `json:"otp"`
}

// LaunchTargets are the three representations of the app deep link.
type LaunchTargets struct {
	Scheme   string
	Intent   string
	Fallback string
}
