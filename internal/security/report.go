package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Report is a read-only summary of an Engine's security posture.
type Report struct {
	SigningAlgorithm      string
	CustomSigner          bool
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	Leeway                time.Duration
	ClaimsScoped          bool
	Argon2                PasswordReport
	Argon2AtDefaultCost   bool
	RehashOnLogin         bool
	RefreshRotation       bool
	RefreshReuseDetection bool
	AuditEnabled          bool
	AuditLossless         bool
	MetricsEnabled        bool
	LintCodes             []string
}

type ReportInput struct {
	SigningAlgorithm string
	CustomSigner     bool
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	Leeway           time.Duration
	Issuer           string
	Audience         string
	Password         PasswordReport
	DefaultPassword  PasswordReport
	UpgradeOnLogin   bool
	AuditEnabled     bool
	AuditDropIfFull  bool
	MetricsEnabled   bool
	LintCodes        []string
}

func BuildReport(input ReportInput) Report {
	alg := input.SigningAlgorithm
	if input.CustomSigner {
		alg = "custom"
	}

	atDefault := input.Password.Memory >= input.DefaultPassword.Memory &&
		input.Password.Time >= input.DefaultPassword.Time &&
		input.Password.KeyLength >= input.DefaultPassword.KeyLength &&
		input.Password.SaltLength >= input.DefaultPassword.SaltLength

	codes := make([]string, len(input.LintCodes))
	copy(codes, input.LintCodes)

	return Report{
		SigningAlgorithm:    alg,
		CustomSigner:        input.CustomSigner,
		AccessTTL:           input.AccessTTL,
		RefreshTTL:          input.RefreshTTL,
		Leeway:              input.Leeway,
		ClaimsScoped:        input.Issuer != "" && input.Audience != "",
		Argon2:              input.Password,
		Argon2AtDefaultCost: atDefault,
		RehashOnLogin:       input.UpgradeOnLogin,
		// Rotation and reuse detection cannot be disabled.
		RefreshRotation:       true,
		RefreshReuseDetection: true,
		AuditEnabled:          input.AuditEnabled,
		AuditLossless:         input.AuditEnabled && !input.AuditDropIfFull,
		MetricsEnabled:        input.MetricsEnabled,
		LintCodes:             codes,
	}
}
