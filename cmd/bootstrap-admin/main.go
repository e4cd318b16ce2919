// Command bootstrap-admin makes an existing user a super admin. It is the only way to create the first
// moderator, since every role change over HTTP requires an existing super admin.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/privilege"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/services"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store/pgstore"
)

func main() {
	logging.Setup()

	userFlag := flag.String("user", "", "internal user id to promote")
	subjectFlag := flag.String("subject", "", "external subject id to promote (alternative to -user)")
	reason := flag.String("reason", "initial super admin", "reason recorded in the audit log")
	flag.Parse()

	if (*userFlag == "") == (*subjectFlag == "") {
		slog.Error("exactly one of -user or -subject is required")
		os.Exit(2)
	}

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Connect(cfg)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(ctx, db); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
	st := pgstore.New(db)

	var target uuid.UUID
	if *userFlag != "" {
		target, err = uuid.Parse(*userFlag)
		if err != nil {
			slog.Error("invalid -user", "error", err)
			os.Exit(2)
		}
	} else {
		u, err := st.GetUserBySubject(ctx, *subjectFlag)
		if err != nil {
			slog.Error("user lookup failed", "subject", *subjectFlag, "error", err)
			os.Exit(1)
		}
		target = u.ID
	}

	mod := services.NewModerationService(st, privilege.NewGate(st), services.NewEntitlementService(st, nil), services.RedeemConfig{})
	if err := mod.BootstrapSuperAdmin(ctx, target, *reason); err != nil {
		slog.Error("bootstrap failed", "user_id", target.String(), "error", err)
		os.Exit(1)
	}
	slog.Info("super admin granted", "user_id", target.String())
}
