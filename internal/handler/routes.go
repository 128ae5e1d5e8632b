package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/siga-api/internal/middleware"
	"github.com/noah-isme/siga-api/internal/models"
)

// Handlers groups every HTTP handler mounted under the API prefix.
type Handlers struct {
	Auth          *AuthHandler
	Users         *UserHandler
	Courses       *CourseHandler
	Applications  *ApplicationHandler
	Approvals     *ApprovalHandler
	Exports       *ExportHandler
	Students      *StudentHandler
	Documents     *DocumentHandler
	Subscriptions *SubscriptionHandler
	Notifications *NotificationHandler
	School        *SchoolHandler
	Metrics       *MetricsHandler
}

var (
	adminRoles = []models.UserRole{models.RoleSuperAdmin, models.RoleAdmin}
	staffRoles = []models.UserRole{models.RoleSuperAdmin, models.RoleAdmin, models.RoleSecretary, models.RoleAcademicSecretary}
)

// RegisterRoutes mounts the public and authenticated routes on api.
func RegisterRoutes(api *gin.RouterGroup, h Handlers, tokens middleware.TokenValidator, audit middleware.AuditWriter) {
	staff := middleware.RequireRoles(staffRoles...)
	admins := middleware.RequireRoles(adminRoles...)
	superadmin := middleware.RequireRoles(models.RoleSuperAdmin)

	auth := api.Group("/auth")
	auth.POST("/login", h.Auth.Login)
	auth.POST("/refresh", h.Auth.Refresh)
	auth.POST("/register", h.Users.Register)
	auth.POST("/forgot-password", h.Auth.ForgotPassword)
	auth.POST("/reset-password", h.Auth.ResetPassword)

	// Applicant facing endpoints. Secretaries also submit at the desk while
	// signed in, so a token is read when present for request logs.
	public := api.Group("")
	public.Use(middleware.OptionalJWT(tokens))
	public.GET("/courses", h.Courses.List)
	public.GET("/courses/:id", h.Courses.Get)
	public.GET("/courses/:id/seats", h.Courses.AvailableSeats)
	public.GET("/courses/:id/subjects", h.Courses.ListSubjects)
	public.GET("/courses/:id/prerequisites", h.Courses.ListPrerequisites)
	public.POST("/applications", h.Applications.Submit)
	public.GET("/applications/number/:number", h.Applications.Lookup)
	public.GET("/applications/number/:number/confirmation", h.Documents.Confirmation)
	public.GET("/academic-years/active", h.School.ActiveYear)
	public.GET("/exports/:token", h.Exports.Download)
	public.GET("/receipts/:token", h.Subscriptions.DownloadReceipt)

	secured := api.Group("")
	secured.Use(middleware.JWT(tokens))

	secured.POST("/auth/logout", h.Auth.Logout)
	secured.POST("/auth/change-password", h.Auth.ChangePassword)
	secured.GET("/auth/me", h.Auth.Me)

	secured.GET("/notifications", h.Notifications.List)
	secured.GET("/notifications/unread-count", h.Notifications.UnreadCount)
	secured.POST("/notifications/:id/read", h.Notifications.MarkRead)
	secured.POST("/notifications", admins, h.Notifications.Create)

	secured.GET("/users", admins, h.Users.List)
	secured.GET("/users/pending/count", admins, h.Users.PendingCount)
	secured.GET("/users/:id", middleware.RBAC(string(models.RoleSuperAdmin), string(models.RoleAdmin), middleware.RoleSelf), h.Users.Get)
	secured.POST("/users", admins, h.Users.Create)
	secured.PUT("/users/:id", admins, h.Users.Update)
	secured.PUT("/users/:id/role", admins, h.Users.AssignRole)
	secured.DELETE("/users/:id", admins, h.Users.Delete)

	secured.POST("/courses", admins, middleware.Audit(audit, models.AuditActionCourseChange, "course"), h.Courses.Create)
	secured.PUT("/courses/:id", admins, middleware.Audit(audit, models.AuditActionCourseChange, "course"), h.Courses.Update)
	secured.PATCH("/courses/:id/active", admins, middleware.Audit(audit, models.AuditActionCourseChange, "course"), h.Courses.SetActive)
	secured.DELETE("/courses/:id", admins, middleware.Audit(audit, models.AuditActionCourseChange, "course"), h.Courses.Delete)
	secured.POST("/courses/:id/subjects", admins, h.Courses.CreateSubject)
	secured.POST("/courses/:id/prerequisites", admins, h.Courses.AddPrerequisite)
	secured.DELETE("/courses/:id/prerequisites/:ruleId", admins, h.Courses.RemovePrerequisite)

	secured.GET("/courses/:id/approvals/preview", staff, h.Approvals.Preview)
	secured.POST("/courses/:id/approvals", staff, h.Approvals.Process)
	secured.POST("/approvals", staff, h.Approvals.ProcessAll)
	secured.POST("/courses/:id/results/export", staff, middleware.Audit(audit, models.AuditActionResultsExport, "course"), h.Exports.ExportRanking)

	secured.GET("/applications", staff, h.Applications.List)
	secured.GET("/applications/:id", staff, h.Applications.Get)
	secured.PUT("/applications/:id/score", staff, middleware.Audit(audit, models.AuditActionScoreRecord, "application"), h.Applications.RecordScore)
	secured.PUT("/applications/:id/academic-history", staff, h.Applications.RecordAcademicHistory)
	secured.GET("/applications/:id/eligibility", staff, h.Applications.Eligibility)
	secured.POST("/applications/:id/admit", staff, h.Students.Admit)

	secured.GET("/students", staff, h.Students.List)
	secured.GET("/students/:id", staff, h.Students.Get)
	secured.DELETE("/students/:id", admins, h.Students.Deactivate)

	secured.GET("/documents/variables", staff, h.Documents.Variables)
	secured.GET("/documents", staff, h.Documents.List)
	secured.GET("/documents/:id", staff, h.Documents.Get)
	secured.POST("/documents", staff, middleware.Audit(audit, models.AuditActionDocumentChange, "document"), h.Documents.Create)
	secured.PUT("/documents/:id", staff, middleware.Audit(audit, models.AuditActionDocumentChange, "document"), h.Documents.Update)
	secured.DELETE("/documents/:id", staff, middleware.Audit(audit, models.AuditActionDocumentChange, "document"), h.Documents.Delete)
	secured.POST("/documents/:id/render", staff, h.Documents.Render)

	secured.GET("/school-config", h.School.GetConfig)
	secured.POST("/school-config", admins, h.School.CreateConfig)
	secured.PUT("/school-config", admins, h.School.UpdateConfig)
	secured.GET("/academic-years", h.School.ListYears)
	secured.POST("/academic-years", admins, h.School.CreateYear)
	secured.POST("/academic-years/:id/activate", admins, middleware.Audit(audit, models.AuditActionYearActivate, "academic_year"), h.School.ActivateYear)
	secured.DELETE("/academic-years/:id", admins, h.School.DeleteYear)

	secured.GET("/subscription", h.Subscriptions.Current)
	secured.GET("/subscriptions", superadmin, h.Subscriptions.List)
	secured.GET("/subscriptions/:id", admins, h.Subscriptions.Get)
	secured.POST("/subscriptions", superadmin, h.Subscriptions.Create)
	secured.POST("/subscriptions/:id/cancel", superadmin, middleware.Audit(audit, models.AuditActionSubscriptionCancel, "subscription"), h.Subscriptions.Cancel)
	secured.POST("/subscriptions/:id/payments", admins, h.Subscriptions.SubmitPayment)
	secured.GET("/payments", admins, h.Subscriptions.ListPayments)
	secured.GET("/payments/:id", admins, h.Subscriptions.GetPayment)
	secured.GET("/payments/:id/proof", admins, h.Subscriptions.Proof)
	secured.GET("/payments/:id/receipt", admins, h.Subscriptions.ReceiptLink)
	secured.POST("/payments/:id/approve", superadmin, h.Subscriptions.ApprovePayment)
	secured.POST("/payments/:id/reject", superadmin, h.Subscriptions.RejectPayment)

	secured.GET("/system/metrics", superadmin, h.Metrics.Snapshot)
}
