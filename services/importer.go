package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pickup-notify/models"

	"github.com/rs/zerolog"
)

// Row is one already-parsed source row: column name -> raw string value.
// File parsing happens outside this package.
type Row = map[string]string

// ImporterConfig tunes the pipeline.
type ImporterConfig struct {
	ParseMode ParseMode
	// LeadTimes per variant; variants without an entry use DefaultLeadTime.
	LeadTimes       map[string]time.Duration
	DefaultLeadTime time.Duration
	Location        *time.Location
}

// ImporterDeps are the injected collaborators. Alerts may be nil.
type ImporterDeps struct {
	Store       OrderStore
	Coordinator *Coordinator
	Renderer    *Renderer
	Transport   Transport
	Creds       CredentialSet
	Audit       DispatchAudit
	Alerts      Alerter
}

// Importer maps variant-specific rows to orders, resolves send times and
// hands new orders to the coordinator.
type Importer struct {
	store     OrderStore
	coord     *Coordinator
	renderer  *Renderer
	transport Transport
	creds     CredentialSet
	audit     DispatchAudit
	alerts    Alerter
	cfg       ImporterConfig
	log       zerolog.Logger
	now       func() time.Time
}

func NewImporter(deps ImporterDeps, cfg ImporterConfig, log zerolog.Logger) *Importer {
	if cfg.DefaultLeadTime <= 0 {
		cfg.DefaultLeadTime = 4 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Importer{
		store:     deps.Store,
		coord:     deps.Coordinator,
		renderer:  deps.Renderer,
		transport: deps.Transport,
		creds:     deps.Creds,
		audit:     deps.Audit,
		alerts:    deps.Alerts,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// RowError reports one failed row; the batch keeps going.
type RowError struct {
	Index  int
	Reason string
}

// ImportReport is the per-batch outcome.
type ImportReport struct {
	Variant string
	Created int
	Errors  []RowError
}

// columnMapping names the variant-specific source columns for the canonical
// field set.
type columnMapping struct {
	recipient   string
	reference   string
	pickup      string
	description string
	displayName string
	amount      string // invoice only
	documentURL string // invoice only
	sku         string // bulk_item: prepended to the description
}

var columnMappings = map[string]columnMapping{
	models.VariantStandardMeal: {
		recipient:   "Email",
		reference:   "Order Number",
		pickup:      "Pick Up",
		description: "Item Name",
		displayName: "Full Name",
	},
	models.VariantBulkItem: {
		recipient:   "Billing: E-mail Address",
		reference:   "Purchase ID",
		pickup:      "PU Time",
		description: "Order Items: Category",
		displayName: "Billing: Full Name",
		sku:         "Order Items: SKU",
	},
	models.VariantInvoice: {
		recipient:   "Email",
		reference:   "invoice_num",
		pickup:      "Student_Name", // member the invoice is about
		description: "Invoice desp",
		displayName: "Parent Name",
		amount:      "total",
		documentURL: "Invoice URL",
	},
}

// Import processes one batch. Row-level failures are collected in the report,
// never raised: the batch always completes.
func (im *Importer) Import(ctx context.Context, rows []Row, variant, subjectOverride, bodyOverride string) *ImportReport {
	report := &ImportReport{Variant: variant}

	mapping, ok := columnMappings[variant]
	if !ok {
		report.Errors = append(report.Errors, RowError{Index: -1, Reason: fmt.Sprintf("unknown variant %q", variant)})
		return report
	}

	for i, row := range rows {
		if err := im.importRow(ctx, row, variant, mapping, subjectOverride, bodyOverride); err != nil {
			im.log.Warn().Err(err).Int("row", i).Str("variant", variant).Msg("row skipped")
			report.Errors = append(report.Errors, RowError{Index: i, Reason: err.Error()})
			continue
		}
		report.Created++
	}

	im.log.Info().Str("variant", variant).Int("created", report.Created).
		Int("failed", len(report.Errors)).Msg("import finished")
	if im.alerts != nil {
		im.alerts.BatchSummary(report)
	}
	return report
}

func (im *Importer) importRow(ctx context.Context, row Row, variant string, m columnMapping, subjectOverride, bodyOverride string) error {
	in := models.CreateOrderInput{
		Variant:         variant,
		Recipient:       strings.TrimSpace(row[m.recipient]),
		ReferenceNumber: strings.TrimSpace(row[m.reference]),
		RawPickupText:   strings.TrimSpace(row[m.pickup]),
		Description:     strings.TrimSpace(row[m.description]),
		DisplayName:     strings.TrimSpace(row[m.displayName]),
		SubjectOverride: subjectOverride,
		BodyOverride:    bodyOverride,
	}
	if in.Recipient == "" {
		return fmt.Errorf("missing required column %q", m.recipient)
	}
	if in.RawPickupText == "" {
		return fmt.Errorf("missing required column %q", m.pickup)
	}
	if in.Description == "" {
		return fmt.Errorf("missing required column %q", m.description)
	}

	if variant == models.VariantBulkItem {
		if sku := strings.TrimSpace(row[m.sku]); sku != "" {
			in.Description = sku + " " + in.Description
		}
	}

	if variant == models.VariantInvoice {
		in.Amount = strings.TrimSpace(row[m.amount])
		in.DocumentURL = strings.TrimSpace(row[m.documentURL])
		if in.Amount == "" {
			return fmt.Errorf("missing required column %q", m.amount)
		}
		if in.DocumentURL == "" {
			return fmt.Errorf("missing required column %q", m.documentURL)
		}
		return im.importInvoice(ctx, in)
	}

	now := im.now()
	sendAt, err := ResolveSendTime(in.RawPickupText, in.Description, im.leadTime(variant), now, im.cfg.Location, im.cfg.ParseMode)
	if err != nil {
		return err
	}
	if im.cfg.ParseMode == ParseLenient {
		im.logSentinelFallbacks(in.RawPickupText, in.Description)
	}

	in.SendAt = sendAt
	in.Status = models.StatusPending
	id, err := im.store.Insert(ctx, in)
	if err != nil {
		return err
	}

	o := &models.Order{
		ID:              id,
		Variant:         in.Variant,
		Recipient:       in.Recipient,
		DisplayName:     in.DisplayName,
		ReferenceNumber: in.ReferenceNumber,
		Description:     in.Description,
		RawPickupText:   in.RawPickupText,
		SendAt:          in.SendAt,
		Status:          in.Status,
		SubjectOverride: in.SubjectOverride,
		BodyOverride:    in.BodyOverride,
	}
	return im.coord.Schedule(ctx, o)
}

// importInvoice creates the order already sent and dispatches right away:
// invoices skip time resolution entirely and never get a trigger.
func (im *Importer) importInvoice(ctx context.Context, in models.CreateOrderInput) error {
	in.SendAt = im.now()
	in.Status = models.StatusSent
	id, err := im.store.Insert(ctx, in)
	if err != nil {
		return err
	}

	o := &models.Order{
		ID:              id,
		Variant:         in.Variant,
		Recipient:       in.Recipient,
		DisplayName:     in.DisplayName,
		ReferenceNumber: in.ReferenceNumber,
		Description:     in.Description,
		RawPickupText:   in.RawPickupText,
		SendAt:          in.SendAt,
		Status:          in.Status,
		SubjectOverride: in.SubjectOverride,
		BodyOverride:    in.BodyOverride,
		Amount:          in.Amount,
		DocumentURL:     in.DocumentURL,
	}
	msg, err := im.renderer.Render(o)
	if err != nil {
		return err
	}
	if err := im.transport.Send(msg, im.creds.For(o.Variant)); err != nil {
		if im.audit != nil {
			_ = im.audit.RecordDispatch(ctx, id, DispatchOutcomeFailed, err.Error())
		}
		return err
	}
	if im.audit != nil {
		_ = im.audit.RecordDispatch(ctx, id, DispatchOutcomeSent, msg.Subject)
	}
	im.log.Info().Int64("order", id).Str("to", o.Recipient).Msg("invoice sent")
	return nil
}

func (im *Importer) leadTime(variant string) time.Duration {
	if d, ok := im.cfg.LeadTimes[variant]; ok && d > 0 {
		return d
	}
	return im.cfg.DefaultLeadTime
}

func (im *Importer) logSentinelFallbacks(pickup, desc string) {
	if _, err := ParsePickupClock(pickup); err != nil {
		im.log.Warn().Str("pickup", pickup).Msg("pickup time unparseable, using start of day")
	}
	if _, err := ParseEventDate(desc, im.now(), im.cfg.Location); err != nil {
		im.log.Warn().Str("description", desc).Msg("no date in description, using today")
	}
}
