package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"LIBRIS-backend/internal/library/loans"
	"LIBRIS-backend/internal/library/members"
	"LIBRIS-backend/internal/library/reports"
	"LIBRIS-backend/internal/platform/auth"
	"LIBRIS-backend/internal/platform/db"
	"LIBRIS-backend/internal/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "libris",
		Short:         "LIBRIS - library circulation backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", db.DefaultConfigPath, "path to config.yaml")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newAccountCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	return cmd
}

// 設定読み込み + DB接続
func open(opts *rootOptions) (*db.Config, *sqlx.DB, error) {
	cfg, err := db.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.Connect(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("[INFO] connected to DB: driver=%s", cfg.DB.Driver)
	return cfg, conn, nil
}

// ---- serve ----

func newServeCommand(root *rootOptions) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := open(root)
			if err != nil {
				return err
			}
			defer conn.Close()

			log.Printf("[INFO] mode:%s", cfg.Mode)
			if migrate {
				if err := db.Migrate(cmd.Context(), conn); err != nil {
					return err
				}
				log.Println("[INFO] schema migrated")
			}
			return serve(cfg, conn)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")
	return cmd
}

func serve(cfg *db.Config, conn *sqlx.DB) error {
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.NewRouter(cfg, conn),
		ReadHeaderTimeout: 10 * time.Second,
	}

	certFile, keyFile := tlsFiles(cfg)
	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" {
			log.Printf("[INFO] listening on https://%s", cfg.Server.Addr)
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			log.Printf("[WARN] TLS certificate not configured, listening on http://%s", cfg.Server.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Println("[INFO] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// 証明書は config/tls/<mode>/ に置く
func tlsFiles(cfg *db.Config) (string, string) {
	c := cfg.Server.Certificate
	if c.Cert == "" || c.Key == "" {
		return "", ""
	}
	dir := filepath.Join("config", "tls", cfg.Mode)
	return filepath.Join(dir, c.Cert), filepath.Join(dir, c.Key)
}

// ---- migrate ----

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables for the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conn, err := open(root)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := db.Migrate(cmd.Context(), conn); err != nil {
				return err
			}
			log.Println("[INFO] schema migrated")
			return nil
		},
	}
}

// ---- account ----

func newAccountCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage login accounts",
	}

	var in auth.RegisterInput
	var role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a login account (first admin etc.)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := open(root)
			if err != nil {
				return err
			}
			defer conn.Close()

			in.Role = auth.Role(role)
			svc := auth.NewService(conn, []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
			if err := svc.Register(cmd.Context(), in); err != nil {
				return fmt.Errorf("create account %q: %w", in.ID, err)
			}
			log.Printf("[INFO] account %s created (role=%s)", in.ID, in.Role)
			return nil
		},
	}
	create.Flags().StringVar(&in.ID, "id", "", "login id (required)")
	create.Flags().StringVar(&in.Password, "password", "", "password (required)")
	create.Flags().StringVar(&role, "role", string(auth.RoleAdmin), "admin|librarian|faculty|student")
	create.Flags().StringVar(&in.MemberID, "member-id", "", "linked member id (faculty/student accounts)")
	_ = create.MarkFlagRequired("id")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}

// ---- export ----

func newExportCommand(root *rootOptions) *cobra.Command {
	var (
		out        string
		encoding   string
		memberType string
		query      string
		overdue    bool
	)
	cmd := &cobra.Command{
		Use:   "export-active-loans",
		Short: "Write the active loan list as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := open(root)
			if err != nil {
				return err
			}
			defer conn.Close()

			f := loans.ActiveFilter{Search: query, OverdueOnly: overdue}
			if memberType != "" {
				t := members.MemberType(memberType)
				f.MemberType = &t
			}

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}

			loanSvc := loans.NewService(conn, loans.PolicyFromConfig(cfg.Loans))
			return reports.NewService(conn, loanSvc).ExportActiveLoans(cmd.Context(), w, f, reports.Encoding(encoding))
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file (- for stdout)")
	cmd.Flags().StringVar(&encoding, "encoding", string(reports.EncodingUTF8), "utf8|sjis")
	cmd.Flags().StringVar(&memberType, "member-type", "", "filter by member type")
	cmd.Flags().StringVarP(&query, "query", "q", "", "search member name/id, title or accession number")
	cmd.Flags().BoolVar(&overdue, "overdue", false, "only overdue loans")
	return cmd
}
