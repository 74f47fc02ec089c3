package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"smallbiznis-licensing/pkg/clock"
	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/db"
	"smallbiznis-licensing/pkg/errutil"
	"smallbiznis-licensing/pkg/gen"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/services/audit"
	"smallbiznis-licensing/services/bootstrap"
	"smallbiznis-licensing/services/license"
)

// seedFile is the yaml document read by -f:
//
//	licenses:
//	  - licenseId: lic_demo
//	    customerId: cust_1
//	    licenseeCode: FO
//	    tier: professional
//	    features: "Calibration,MaxSeats:5"
//	    expiresAt: 2027-01-01T00:00:00Z
type seedFile struct {
	Licenses []struct {
		ID           string `mapstructure:"licenseId"`
		CustomerID   string `mapstructure:"customerId"`
		CustomerName string `mapstructure:"customerName"`
		LicenseeCode string `mapstructure:"licenseeCode"`
		Tier         string `mapstructure:"tier"`
		Features     string `mapstructure:"features"`
		ExpiresAt    string `mapstructure:"expiresAt"`
	} `mapstructure:"licenses"`
}

func main() {
	path := flag.String("f", "seed.yaml", "seed file")
	flag.Parse()

	v := viper.New()
	v.SetConfigFile(*path)
	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("read seed file: %v", err)
	}

	var seed seedFile
	if err := v.Unmarshal(&seed); err != nil {
		log.Fatalf("parse seed file: %v", err)
	}

	opts := []fx.Option{
		config.Module,
		logger.Module,
		clock.Module,
		gen.Module,
		db.Module,
		audit.Module,
		bootstrap.Module,
		license.Module,
		fx.Invoke(func(lc fx.Lifecycle, svc *license.Service) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return run(ctx, svc, seed)
				},
			})
		}),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	_ = app.Stop(ctx)
}

func run(ctx context.Context, svc *license.Service, seed seedFile) error {
	for _, l := range seed.Licenses {
		req := license.CreateRequest{
			ID:           l.ID,
			CustomerID:   l.CustomerID,
			CustomerName: l.CustomerName,
			LicenseeCode: l.LicenseeCode,
			Tier:         l.Tier,
			Features:     l.Features,
		}
		if l.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, l.ExpiresAt)
			if err != nil {
				return err
			}
			req.ExpiresAt = &t
		}

		created, err := svc.Create(ctx, req)
		switch {
		case errutil.StatusOf(err) == errutil.StatusConflict:
			zap.L().Info("license already seeded", zap.String("license_id", l.ID))
		case err != nil:
			return err
		default:
			zap.L().Info("license seeded", zap.String("license_id", created.ID), zap.Int("max_seats", created.MaxSeats()))
		}
	}
	return nil
}
