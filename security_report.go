package authcore

import (
	"github.com/tokenwarden/authcore/internal/security"
	"github.com/tokenwarden/authcore/jwt"
	"github.com/tokenwarden/authcore/password"
)

// SecurityReport summarizes the effective security posture of an Engine.
type SecurityReport = security.Report

// PasswordConfigReport is the Argon2id section of a SecurityReport.
type PasswordConfigReport = security.PasswordReport

// SecurityReport returns a read-only snapshot of the Engine's security settings
// together with the codes of any Lint warnings.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil || e.signer == nil {
		return SecurityReport{}
	}

	_, builtin := e.signer.(*jwt.Manager)
	def := password.DefaultConfig()

	return security.BuildReport(security.ReportInput{
		SigningAlgorithm: e.config.JWT.SigningMethod,
		CustomSigner:     !builtin,
		AccessTTL:        e.signer.AccessTTL(),
		RefreshTTL:       e.config.JWT.RefreshTTL,
		Leeway:           e.config.JWT.Leeway,
		Issuer:           e.config.JWT.Issuer,
		Audience:         e.config.JWT.Audience,
		Password: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		DefaultPassword: PasswordConfigReport{
			Memory:      def.Memory,
			Time:        def.Time,
			Parallelism: def.Parallelism,
			SaltLength:  def.SaltLength,
			KeyLength:   def.KeyLength,
		},
		UpgradeOnLogin:  e.config.Password.UpgradeOnLogin,
		AuditEnabled:    e.audit != nil,
		AuditDropIfFull: e.config.Audit.DropIfFull,
		MetricsEnabled:  e.metrics.Enabled(),
		LintCodes:       e.config.Lint().Codes(),
	})
}
