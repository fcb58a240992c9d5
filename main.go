package main

import (
	"context"
	"encoding/csv"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pickup-notify/config"
	"pickup-notify/db"
	"pickup-notify/models"
	"pickup-notify/services"

	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("config")
	}

	if err := db.Init(cfg.DB); err != nil {
		logger.Fatal().Err(err).Msg("db")
	}
	defer db.Close()

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := applyMigrations(context.Background(), true); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
		return
	}

	// Optional auto-migration for fresh databases. Set AUTO_MIGRATE=1 to enable.
	if v := strings.TrimSpace(os.Getenv("AUTO_MIGRATE")); v == "1" || strings.EqualFold(v, "true") {
		if err := applyMigrations(context.Background(), false); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
	}

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.Schedule.Timezone).Msg("timezone")
	}

	creds := services.CredentialSet{
		Default: services.Credentials{Username: cfg.Mail.Username, Password: cfg.Mail.Password},
		Invoice: services.Credentials{Username: cfg.Mail.InvoiceUsername, Password: cfg.Mail.InvoicePassword},
	}
	renderer := &services.Renderer{InlineImagePath: cfg.Mail.InlineImagePath}
	transport := &services.SMTPTransport{Host: cfg.Mail.Host, Port: cfg.Mail.Port}

	var alerts services.Alerter
	if cfg.Alert.Token != "" {
		a, err := services.NewTelegramAlerter(cfg.Alert.Token, cfg.Alert.ChatID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("alerts")
		}
		alerts = a
	}

	clamp := services.ClampSendNow
	if cfg.Schedule.ClampPolicy == "defer" {
		clamp = services.ClampDefer
	}
	parseMode := services.ParseLenient
	if cfg.Schedule.StrictParse {
		parseMode = services.ParseStrict
	}

	deps := services.CoordinatorDeps{
		Store:     services.PGStore{},
		Renderer:  renderer,
		Transport: transport,
		Creds:     creds,
		Audit:     services.PGAudit{},
		Alerts:    alerts,
	}
	coord := services.NewCoordinator(deps, services.CoordinatorConfig{
		ClampPolicy: clamp,
		SweepEvery:  time.Duration(cfg.Schedule.SweepMinutes) * time.Minute,
		DedupWindow: time.Duration(cfg.Schedule.DedupSeconds) * time.Second,
	}, logger)

	importer := services.NewImporter(services.ImporterDeps{
		Store:       services.PGStore{},
		Coordinator: coord,
		Renderer:    renderer,
		Transport:   transport,
		Creds:       creds,
		Audit:       services.PGAudit{},
		Alerts:      alerts,
	}, services.ImporterConfig{
		ParseMode:       parseMode,
		DefaultLeadTime: time.Duration(cfg.Schedule.LeadTimeHours) * time.Hour,
		Location:        loc,
	}, logger)

	coord.Start()
	defer coord.Stop()

	ctx := context.Background()
	if err := coord.RestorePending(ctx); err != nil {
		logger.Error().Err(err).Msg("restore pending")
	}

	if len(os.Args) > 3 && os.Args[1] == "import" {
		variant, path := os.Args[2], os.Args[3]
		if !models.KnownVariant(variant) {
			logger.Fatal().Str("variant", variant).Msg("unknown variant")
		}
		rows, err := readCSVRows(path)
		if err != nil {
			logger.Fatal().Err(err).Str("file", path).Msg("read csv")
		}
		report := importer.Import(ctx, rows, variant, "", "")
		logger.Info().Int("created", report.Created).Int("failed", len(report.Errors)).Msg("import done")
	}

	logger.Info().Msg("serving scheduled triggers; interrupt to stop")
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

// readCSVRows is the host-side row source: the import pipeline itself never
// touches files.
func readCSVRows(path string) ([]services.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	header := records[0]
	rows := make([]services.Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := services.Row{}
		for i, col := range header {
			if i < len(rec) {
				row[strings.TrimSpace(col)] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
