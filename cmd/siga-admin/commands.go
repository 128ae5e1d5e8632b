package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/internal/repository"
	"github.com/noah-isme/siga-api/internal/service"
	"github.com/noah-isme/siga-api/pkg/config"
	"github.com/noah-isme/siga-api/pkg/database"
	"github.com/noah-isme/siga-api/pkg/export"
	"github.com/noah-isme/siga-api/pkg/logger"
	"github.com/noah-isme/siga-api/pkg/storage"
)

// env holds the collaborators shared by every subcommand.
type env struct {
	cfg    *config.Config
	db     *sqlx.DB
	logger *zap.Logger
}

func (e *env) close() {
	if e.db != nil {
		_ = e.db.Close()
	}
	_ = e.logger.Sync()
}

func bootstrap(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &env{cfg: cfg, db: db, logger: logr}, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "siga-admin",
		Short:         "Operational tasks for the SIGA admissions API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newProcessApprovalsCmd(),
		newApprovePaymentCmd(),
		newCreateSuperuserCmd(),
		newCleanupExportsCmd(),
	)
	return root
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newProcessApprovalsCmd() *cobra.Command {
	var courseID string
	var all bool
	cmd := &cobra.Command{
		Use:   "process-approvals",
		Short: "Rank applications and approve the best scored up to each course capacity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (courseID == "") == !all {
				return fmt.Errorf("pass exactly one of --course or --all")
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			e, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			courseRepo := repository.NewCourseRepository(e.db)
			userRepo := repository.NewUserRepository(e.db)
			notifications := service.NewNotificationService(repository.NewNotificationRepository(e.db), userRepo, nil, e.logger)
			approvals := service.NewApprovalService(repository.NewApplicationRepository(e.db), courseRepo, nil, nil, notifications, userRepo, e.logger)

			if all {
				results, err := approvals.ProcessAll(ctx, "")
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), results)
			}
			result, err := approvals.ProcessApprovals(ctx, courseID, "")
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&courseID, "course", "", "course id to process")
	cmd.Flags().BoolVar(&all, "all", false, "process every active course")
	return cmd
}

func newApprovePaymentCmd() *cobra.Command {
	var approver string
	cmd := &cobra.Command{
		Use:   "approve-payment <payment-id>",
		Short: "Approve a pending subscription payment and render its receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			e, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			receipts, err := storage.NewLocalStorage(e.cfg.Storage.ReceiptsDir)
			if err != nil {
				return err
			}
			subRepo := repository.NewSubscriptionRepository(e.db)
			userRepo := repository.NewUserRepository(e.db)
			subscriptions := service.NewSubscriptionService(subRepo, service.SubscriptionDeps{
				Receipts: receipts,
				Audit:    userRepo,
			}, validator.New(), e.logger, service.SubscriptionServiceConfig{SchoolName: e.cfg.Subscription.SchoolName})

			decision, err := subscriptions.ApprovePayment(ctx, args[0], approver)
			if err != nil {
				return err
			}
			receiptSvc := service.NewReceiptService(subRepo, userRepo, export.NewPDFExporter(), receipts, nil, e.logger)
			path, err := receiptSvc.Generate(ctx, decision.Payment.ID)
			if err != nil {
				e.logger.Warn("receipt generation failed", zap.String("payment_id", decision.Payment.ID), zap.Error(err))
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"payment":      decision.Payment,
				"subscription": decision.Subscription,
				"receipt":      path,
			})
		},
	}
	cmd.Flags().StringVar(&approver, "approver", "", "user id recorded as the approver")
	return cmd
}

func newCreateSuperuserCmd() *cobra.Command {
	var req service.CreateUserRequest
	var phone string
	cmd := &cobra.Command{
		Use:   "create-superuser",
		Short: "Create an active SUPERADMIN account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			e, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			req.Role = models.RoleSuperAdmin
			req.Active = true
			if phone != "" {
				req.Phone = &phone
			}
			users := service.NewUserService(repository.NewUserRepository(e.db), nil, validator.New(), e.logger)
			user, err := users.Create(ctx, req, "", models.LoginRequest{UserAgent: "siga-admin"})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Username, "username", "", "login name")
	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVar(&req.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&req.Password, "password", "", "initial password (min 8 characters)")
	cmd.Flags().StringVar(&phone, "phone", "", "optional phone number")
	for _, name := range []string{"username", "email", "name", "password"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newCleanupExportsCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup-exports",
		Short: "Delete ranking exports older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logr, err := logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logr.Sync() //nolint:errcheck

			ttl := cfg.Storage.ExportTTL
			if olderThan > 0 {
				ttl = olderThan
			}
			store, err := storage.NewLocalStorage(cfg.Storage.ExportDir)
			if err != nil {
				return err
			}
			exports := service.NewExportService(nil, nil, store, nil, service.ExportConfig{ResultTTL: ttl}, logr, nil, nil)
			removed, err := exports.Cleanup(ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d export(s)\n", len(removed))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention window, e.g. 24h (defaults to EXPORT_TTL)")
	return cmd
}
