package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"pickup-notify/models"

	"github.com/rs/zerolog"
)

type fakeAlerter struct {
	mu        sync.Mutex
	summaries []*ImportReport
	failures  []int64
}

func (f *fakeAlerter) BatchSummary(r *ImportReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, r)
}

func (f *fakeAlerter) DispatchFailed(id int64, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, id)
}

func newTestImporter(t *testing.T, store OrderStore, tr Transport, mode ParseMode) (*Importer, *Coordinator, *fakeAlerter) {
	t.Helper()
	coord := newTestCoordinator(store, tr, CoordinatorConfig{ClampPolicy: ClampSendNow})
	alerts := &fakeAlerter{}
	im := NewImporter(ImporterDeps{
		Store:       store,
		Coordinator: coord,
		Renderer:    &Renderer{},
		Transport:   tr,
		Creds: CredentialSet{
			Default: Credentials{Username: "meals@example.com"},
			Invoice: Credentials{Username: "billing@example.com"},
		},
		Alerts: alerts,
	}, ImporterConfig{
		ParseMode:       mode,
		DefaultLeadTime: 4 * time.Hour,
		Location:        mustLoc(t),
	}, zerolog.Nop())
	return im, coord, alerts
}

func standardRow() Row {
	return Row{
		"Email":        "sam@example.com",
		"Order Number": "5001",
		"Pick Up":      "4:30 PM",
		"Item Name":    "12/31/2099 Family Meal",
		"Full Name":    "Sam Wu",
	}
}

func TestImportSchedulesFutureOrder(t *testing.T) {
	store := newMemStore()
	tr := &fakeTransport{}
	im, coord, _ := newTestImporter(t, store, tr, ParseLenient)
	defer coord.Stop()

	report := im.Import(context.Background(), []Row{standardRow()}, models.VariantStandardMeal, "", "")
	if report.Created != 1 || len(report.Errors) != 0 {
		t.Fatalf("report = %+v, want 1 created", report)
	}

	list, _ := store.List(context.Background())
	if len(list) != 1 {
		t.Fatalf("stored %d orders, want 1", len(list))
	}
	o := list[0]
	if o.Status != models.StatusPending {
		t.Errorf("status = %q, want pending", o.Status)
	}
	if o.TriggerRef == "" {
		t.Error("imported future order should have a trigger reference")
	}

	loc := mustLoc(t)
	want := time.Date(2099, 12, 31, 12, 30, 0, 0, loc) // 4:30 PM minus 4h lead
	if !o.SendAt.Equal(want) {
		t.Errorf("send_at = %v, want %v", o.SendAt, want)
	}
	if tr.count() != 0 {
		t.Errorf("dispatch count = %d at import, want 0", tr.count())
	}
}

func TestImportDispatchesOverdueOrderImmediately(t *testing.T) {
	store := newMemStore()
	tr := &fakeTransport{}
	im, coord, _ := newTestImporter(t, store, tr, ParseLenient)
	defer coord.Stop()

	row := standardRow()
	row["Item Name"] = "1/2/2020 Family Meal"

	report := im.Import(context.Background(), []Row{row}, models.VariantStandardMeal, "", "")
	if report.Created != 1 {
		t.Fatalf("report = %+v, want 1 created", report)
	}
	list, _ := store.List(context.Background())
	if list[0].Status != models.StatusSent {
		t.Errorf("overdue order status = %q, want sent", list[0].Status)
	}
	if tr.count() != 1 {
		t.Errorf("dispatch count = %d, want 1", tr.count())
	}
}

func TestImportBulkItemSynthesizesDescription(t *testing.T) {
	store := newMemStore()
	tr := &fakeTransport{}
	im, coord, _ := newTestImporter(t, store, tr, ParseLenient)
	defer coord.Stop()

	row := Row{
		"Billing: E-mail Address": "pat@example.com",
		"Purchase ID":             "77",
		"PU Time":                 "11AM-1PM",
		"Order Items: Category":   "Wonton",
		"Order Items: SKU":        "6/30/2099",
		"Billing: Full Name":      "Pat Kim",
	}
	report := im.Import(context.Background(), []Row{row}, models.VariantBulkItem, "", "")
	if report.Created != 1 || len(report.Errors) != 0 {
		t.Fatalf("report = %+v, want 1 created", report)
	}

	list, _ := store.List(context.Background())
	if list[0].Description != "6/30/2099 Wonton" {
		t.Errorf("description = %q, want SKU prefix", list[0].Description)
	}
	if list[0].RawPickupText != "11AM-1PM" {
		t.Errorf("raw pickup text = %q", list[0].RawPickupText)
	}
}

func TestImportInvoiceSendsImmediatelyWithoutTrigger(t *testing.T) {
	store := newMemStore()
	tr := &fakeTransport{}
	im, coord, _ := newTestImporter(t, store, tr, ParseLenient)
	defer coord.Stop()

	row := Row{
		"Email":        "parent@example.com",
		"invoice_num":  "INV-88",
		"Student_Name": "Riley Tran",
		"Invoice desp": "Spring Recital Fee",
		"Parent Name":  "Casey Tran",
		"total":        "$120.00",
		"Invoice URL":  "https://invoices.example.com/INV-88",
	}
	report := im.Import(context.Background(), []Row{row}, models.VariantInvoice, "", "")
	if report.Created != 1 || len(report.Errors) != 0 {
		t.Fatalf("report = %+v, want 1 created", report)
	}

	list, _ := store.List(context.Background())
	o := list[0]
	if o.Status != models.StatusSent {
		t.Errorf("invoice status = %q, want sent at creation", o.Status)
	}
	if o.TriggerRef != "" {
		t.Errorf("invoice trigger_ref = %q, want none", o.TriggerRef)
	}
	if o.Amount != "$120.00" || o.DocumentURL == "" {
		t.Errorf("invoice fields not stored: %+v", o)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.sent) != 1 {
		t.Fatalf("dispatch count = %d, want 1", len(tr.sent))
	}
	if tr.creds[0].Username != "billing@example.com" {
		t.Errorf("invoice dispatched with %q, want invoice credentials", tr.creds[0].Username)
	}
	if tr.sent[0].InlineImage != "" {
		t.Errorf("invoice carried attachment %q, want none", tr.sent[0].InlineImage)
	}
}

func TestImportSkipsRowsMissingRequiredFields(t *testing.T) {
	store := newMemStore()
	tr := &fakeTransport{}
	im, coord, _ := newTestImporter(t, store, tr, ParseLenient)
	defer coord.Stop()

	bad := standardRow()
	delete(bad, "Pick Up")

	report := im.Import(context.Background(), []Row{bad, standardRow()}, models.VariantStandardMeal, "", "")
	if report.Created != 1 {
		t.Errorf("created = %d, want 1 (batch completes past bad rows)", report.Created)
	}
	if len(report.Errors) != 1 || report.Errors[0].Index != 0 {
		t.Errorf("errors = %+v, want row 0 reported", report.Errors)
	}
	if !strings.Contains(report.Errors[0].Reason, "Pick Up") {
		t.Errorf("error reason should name the column: %q", report.Errors[0].Reason)
	}
}

func TestImportStrictModeFailsUnparseableRows(t *testing.T) {
	store := newMemStore()
	tr := &fakeTransport{}
	im, coord, _ := newTestImporter(t, store, tr, ParseStrict)
	defer coord.Stop()

	row := standardRow()
	row["Pick Up"] = "TBD"

	report := im.Import(context.Background(), []Row{row}, models.VariantStandardMeal, "", "")
	if report.Created != 0 || len(report.Errors) != 1 {
		t.Fatalf("report = %+v, want the row failed", report)
	}
	list, _ := store.List(context.Background())
	if len(list) != 0 {
		t.Errorf("stored %d orders in strict mode, want 0", len(list))
	}
}

func TestImportLenientModeKeepsUnparseableRows(t *testing.T) {
	store := newMemStore()
	tr := &fakeTransport{}
	im, coord, _ := newTestImporter(t, store, tr, ParseLenient)
	defer coord.Stop()

	row := standardRow()
	row["Pick Up"] = "TBD"
	row["Item Name"] = "12/31/2099 Family Meal"

	report := im.Import(context.Background(), []Row{row}, models.VariantStandardMeal, "", "")
	if report.Created != 1 {
		t.Fatalf("report = %+v, want sentinel fallback to keep the row", report)
	}
	list, _ := store.List(context.Background())
	loc := mustLoc(t)
	want := time.Date(2099, 12, 30, 20, 0, 0, 0, loc) // midnight sentinel minus 4h
	if !list[0].SendAt.Equal(want) {
		t.Errorf("send_at = %v, want %v", list[0].SendAt, want)
	}
}

func TestImportStoresOverrides(t *testing.T) {
	store := newMemStore()
	tr := &fakeTransport{}
	im, coord, _ := newTestImporter(t, store, tr, ParseLenient)
	defer coord.Stop()

	report := im.Import(context.Background(), []Row{standardRow()}, models.VariantStandardMeal,
		"Custom {reference}", "Hi {first_name}")
	if report.Created != 1 {
		t.Fatalf("report = %+v", report)
	}
	list, _ := store.List(context.Background())
	if list[0].SubjectOverride != "Custom {reference}" || list[0].BodyOverride != "Hi {first_name}" {
		t.Errorf("overrides not stored: %+v", list[0])
	}
}

func TestImportUnknownVariant(t *testing.T) {
	store := newMemStore()
	im, coord, _ := newTestImporter(t, store, &fakeTransport{}, ParseLenient)
	defer coord.Stop()

	report := im.Import(context.Background(), []Row{standardRow()}, "mystery", "", "")
	if report.Created != 0 || len(report.Errors) != 1 {
		t.Errorf("report = %+v, want a single batch-level error", report)
	}
}

func TestImportSendsBatchSummaryAlert(t *testing.T) {
	store := newMemStore()
	im, coord, alerts := newTestImporter(t, store, &fakeTransport{}, ParseLenient)
	defer coord.Stop()

	im.Import(context.Background(), []Row{standardRow()}, models.VariantStandardMeal, "", "")

	alerts.mu.Lock()
	defer alerts.mu.Unlock()
	if len(alerts.summaries) != 1 || alerts.summaries[0].Created != 1 {
		t.Errorf("alert summaries = %+v, want one with 1 created", alerts.summaries)
	}
}
