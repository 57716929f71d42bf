package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	apperrors "github.com/casebridge/casebridge/internal/errors"
)

const defaultCorrelationField = "Conversation_ID"

// CaseResult reports the outcome of a create-or-reuse call.
type CaseResult struct {
	CaseID     string
	WasCreated bool
}

// Reconciler maps one conversation to exactly one CRM case. The search
// before create is a best-effort optimization; the CRM's own duplicate
// detection on the correlation field is the authoritative guarantee, so a
// duplicate-on-create error is recovered into a "reused" result rather than
// propagated. Correctness depends on the CRM enforcing uniqueness on the
// correlation field, not on any client-side transaction.
type Reconciler struct {
	gateway          *Gateway
	correlationField string
	contactID        string
	contactName      string
	caseOrigin       string
	caseStatus       string
	attachNote       bool
	log              zerolog.Logger

	contactMu         sync.Mutex
	resolvedContactID string
}

type ReconcilerOption func(*Reconciler)

// WithCorrelationField overrides the CRM field holding the conversation id.
func WithCorrelationField(field string) ReconcilerOption {
	return func(r *Reconciler) {
		r.correlationField = field
	}
}

// WithContact sets the contact cases are linked to: a known record id, or a
// name to resolve (search by last name, create when absent).
func WithContact(contactID, contactName string) ReconcilerOption {
	return func(r *Reconciler) {
		r.contactID = contactID
		r.contactName = contactName
	}
}

func WithCaseDefaults(origin, status string) ReconcilerOption {
	return func(r *Reconciler) {
		r.caseOrigin = origin
		r.caseStatus = status
	}
}

// WithTranscriptNotes attaches the full transcript to each case as a note.
func WithTranscriptNotes(enabled bool) ReconcilerOption {
	return func(r *Reconciler) {
		r.attachNote = enabled
	}
}

func WithReconcilerLogger(log zerolog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.log = log
	}
}

func NewReconciler(gateway *Gateway, options ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		gateway:          gateway,
		correlationField: defaultCorrelationField,
		caseOrigin:       "Web",
		caseStatus:       "Closed",
		log:              zerolog.Nop(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// recordList is the CRM's envelope for both search results and
// creation responses; creation nests the new record id under details.
type recordList struct {
	Data []struct {
		ID      string `json:"id"`
		Details struct {
			ID string `json:"id"`
		} `json:"details"`
	} `json:"data"`
}

// CreateOrReuse returns the case for correlationID, creating it when absent.
// Calling it twice with the same correlation id creates at most one case,
// even when racing with another process.
func (r *Reconciler) CreateOrReuse(ctx context.Context, correlationID, subject, description string, fields map[string]string) (CaseResult, error) {
	existingID, err := r.findCaseByCorrelationID(ctx, correlationID)
	if err != nil {
		// Best-effort check only; creation below is guarded by the CRM's
		// duplicate detection.
		r.log.Warn().Err(err).Str("correlation_id", correlationID).Msg("case search failed, proceeding to create")
	}
	if existingID != "" {
		r.log.Info().Str("case_id", existingID).Str("correlation_id", correlationID).Msg("case already exists")
		return CaseResult{CaseID: existingID, WasCreated: false}, nil
	}

	caseID, reused, err := r.createCase(ctx, correlationID, subject, description, fields)
	if err != nil {
		return CaseResult{}, err
	}

	if r.attachNote && description != "" {
		r.attachTranscriptNote(ctx, caseID, subject, description)
	}
	return CaseResult{CaseID: caseID, WasCreated: !reused}, nil
}

func (r *Reconciler) findCaseByCorrelationID(ctx context.Context, correlationID string) (string, error) {
	criteria := fmt.Sprintf("%s:equals:%s", r.correlationField, correlationID)
	endpoint := "/Cases/search?criteria=" + url.QueryEscape(criteria)

	resp, err := r.gateway.Do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", apperrors.Wrapf(err, "crm.Reconciler.findCaseByCorrelationID")
	}
	if resp.StatusCode == http.StatusNoContent {
		return "", nil
	}

	var records recordList
	if err := json.Unmarshal(resp.Body, &records); err != nil {
		return "", apperrors.Wrapf(err, "crm.Reconciler.findCaseByCorrelationID Unmarshal")
	}
	if len(records.Data) == 0 {
		return "", nil
	}
	return records.Data[0].ID, nil
}

// createCase attempts the create and recovers a CRM-reported duplicate into
// the existing record id. The bool result reports whether an existing case
// was reused.
func (r *Reconciler) createCase(ctx context.Context, correlationID, subject, description string, fields map[string]string) (string, bool, error) {
	record := map[string]any{
		"Subject":          truncate(subject, 255),
		"Description":      description,
		"Case_Origin":      r.caseOrigin,
		"Status":           r.caseStatus,
		r.correlationField: correlationID,
	}
	if contactID, err := r.ensureContact(ctx); err != nil {
		r.log.Warn().Err(err).Msg("contact resolution failed, creating case without contact link")
	} else if contactID != "" {
		record["Contact_Name"] = map[string]string{"id": contactID}
	}
	for k, v := range fields {
		record["CF_"+k] = v
	}

	resp, err := r.gateway.Do(ctx, http.MethodPost, "/Cases", map[string]any{"data": []any{record}})
	if err != nil {
		var statusErr *StatusError
		if apperrors.As(err, &statusErr) {
			if existingID := duplicateRecordID(statusErr.Body); existingID != "" {
				// Raced with another creator between search and create; the
				// CRM identified the surviving record.
				r.log.Info().Str("case_id", existingID).Str("correlation_id", correlationID).Msg("duplicate case detected, reusing existing record")
				return existingID, true, nil
			}
		}
		return "", false, apperrors.Wrapf(err, "crm.Reconciler.createCase")
	}

	caseID, err := createdRecordID(resp.Body)
	if err != nil {
		return "", false, apperrors.Wrapf(err, "crm.Reconciler.createCase")
	}
	r.log.Info().Str("case_id", caseID).Str("correlation_id", correlationID).Msg("case created")
	return caseID, false, nil
}

// ensureContact resolves the contact to link cases to: the configured id,
// else a search by last name, else a newly created contact. The result is
// memoized for the process lifetime.
func (r *Reconciler) ensureContact(ctx context.Context) (string, error) {
	if r.contactID != "" {
		return r.contactID, nil
	}
	if r.contactName == "" {
		return "", apperrors.ErrNoContact
	}

	r.contactMu.Lock()
	defer r.contactMu.Unlock()
	if r.resolvedContactID != "" {
		return r.resolvedContactID, nil
	}

	criteria := fmt.Sprintf("(Last_Name:equals:%s)", r.contactName)
	endpoint := "/Contacts/search?criteria=" + url.QueryEscape(criteria)
	resp, err := r.gateway.Do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", apperrors.Wrapf(err, "crm.Reconciler.ensureContact search")
	}
	if resp.StatusCode != http.StatusNoContent {
		var records recordList
		if err := json.Unmarshal(resp.Body, &records); err == nil && len(records.Data) > 0 && records.Data[0].ID != "" {
			r.resolvedContactID = records.Data[0].ID
			return r.resolvedContactID, nil
		}
	}

	payload := map[string]any{"data": []any{map[string]string{"Last_Name": r.contactName}}}
	createResp, err := r.gateway.Do(ctx, http.MethodPost, "/Contacts", payload)
	if err != nil {
		return "", apperrors.Wrapf(err, "crm.Reconciler.ensureContact create")
	}
	contactID, err := createdRecordID(createResp.Body)
	if err != nil {
		return "", apperrors.Wrapf(err, "crm.Reconciler.ensureContact create")
	}
	r.log.Info().Str("contact_id", contactID).Str("contact_name", r.contactName).Msg("contact created")
	r.resolvedContactID = contactID
	return contactID, nil
}

// attachTranscriptNote is strictly best-effort: a failed note never fails
// the case result.
func (r *Reconciler) attachTranscriptNote(ctx context.Context, caseID, subject, description string) {
	payload := map[string]any{"data": []any{map[string]string{
		"Note_Title":   truncate("Conversation Transcript - "+subject, 255),
		"Note_Content": description,
	}}}
	if _, err := r.gateway.Do(ctx, http.MethodPost, "/Cases/"+caseID+"/Notes", payload); err != nil {
		r.log.Warn().Err(err).Str("case_id", caseID).Msg("failed to attach transcript note")
	}
}

func createdRecordID(body []byte) (string, error) {
	var records recordList
	if err := json.Unmarshal(body, &records); err != nil {
		return "", err
	}
	if len(records.Data) == 0 || records.Data[0].Details.ID == "" {
		return "", fmt.Errorf("creation response carried no record id: %s", truncateBody(body, 256))
	}
	return records.Data[0].Details.ID, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
