package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin              = "LOGIN"
	AuditActionLogout             = "LOGOUT"
	AuditActionRegister           = "REGISTER"
	AuditActionRoleAssign         = "ROLE_ASSIGN"
	AuditActionUserCreate         = "USER_CREATE"
	AuditActionUserUpdate         = "USER_UPDATE"
	AuditActionUserDelete         = "USER_DELETE"
	AuditActionPasswordChange     = "PASSWORD_CHANGE"
	AuditActionPasswordReset      = "PASSWORD_RESET"
	AuditActionApprovalsProcess   = "APPROVALS_PROCESS"
	AuditActionPaymentApprove     = "PAYMENT_APPROVE"
	AuditActionPaymentReject      = "PAYMENT_REJECT"
	AuditActionSchoolConfigCreate = "SCHOOL_CONFIG_CREATE"
	AuditActionSchoolConfigUpdate = "SCHOOL_CONFIG_UPDATE"
	AuditActionStudentAdmit       = "STUDENT_ADMIT"
	AuditActionCourseChange       = "COURSE_CHANGE"
	AuditActionDocumentChange     = "DOCUMENT_CHANGE"
	AuditActionScoreRecord        = "SCORE_RECORD"
	AuditActionResultsExport      = "RESULTS_EXPORT"
	AuditActionSubscriptionCancel = "SUBSCRIPTION_CANCEL"
	AuditActionYearActivate       = "ACADEMIC_YEAR_ACTIVATE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
