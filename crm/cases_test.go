package crm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/casebridge/casebridge/crm"
)

// fakeCRM is a scriptable CRM backend covering case search, case and contact
// creation, and note attachment.
type fakeCRM struct {
	t *testing.T

	searchStatus int
	searchBody   string
	createStatus int
	createBody   string
	noteStatus   int

	caseSearches   atomic.Int64
	caseCreates    atomic.Int64
	contactCreates atomic.Int64
	notes          atomic.Int64

	lastCreatePayload map[string]any
}

func newFakeCRM(t *testing.T) *fakeCRM {
	return &fakeCRM{
		t:            t,
		searchStatus: http.StatusNoContent,
		createStatus: http.StatusCreated,
		createBody:   `{"data":[{"code":"SUCCESS","details":{"id":"case-1"}}]}`,
		noteStatus:   http.StatusCreated,
	}
}

func (f *fakeCRM) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/crm/v8/Cases/search":
			f.caseSearches.Add(1)
			w.WriteHeader(f.searchStatus)
			_, _ = w.Write([]byte(f.searchBody))
		case r.Method == http.MethodPost && r.URL.Path == "/crm/v8/Cases":
			f.caseCreates.Add(1)
			var payload struct {
				Data []map[string]any `json:"data"`
			}
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&payload))
			require.Len(f.t, payload.Data, 1)
			f.lastCreatePayload = payload.Data[0]
			w.WriteHeader(f.createStatus)
			_, _ = w.Write([]byte(f.createBody))
		case r.Method == http.MethodGet && r.URL.Path == "/crm/v8/Contacts/search":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && r.URL.Path == "/crm/v8/Contacts":
			f.contactCreates.Add(1)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"data":[{"code":"SUCCESS","details":{"id":"contact-1"}}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/crm/v8/Cases/case-1/Notes":
			f.notes.Add(1)
			w.WriteHeader(f.noteStatus)
			_, _ = w.Write([]byte(`{"data":[{"code":"SUCCESS"}]}`))
		default:
			f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newReconciler(t *testing.T, f *fakeCRM, options ...crm.ReconcilerOption) *crm.Reconciler {
	t.Helper()
	api := httptest.NewServer(f.handler())
	t.Cleanup(api.Close)
	tokens := newManager("http://unused.invalid", "access-1", api.URL, validUntil())
	return crm.NewReconciler(crm.NewGateway(tokens, apiVersion), options...)
}

func TestCreateOrReuseReturnsExistingCase(t *testing.T) {
	f := newFakeCRM(t)
	f.searchStatus = http.StatusOK
	f.searchBody = `{"data":[{"id":"case-42"}]}`
	reconciler := newReconciler(t, f, crm.WithContact("contact-9", ""))

	result, err := reconciler.CreateOrReuse(context.Background(), "conv-1", "Chat - x", "hello", nil)
	require.NoError(t, err)
	require.Equal(t, crm.CaseResult{CaseID: "case-42", WasCreated: false}, result)
	require.EqualValues(t, 0, f.caseCreates.Load())
}

func TestCreateOrReuseCreatesCaseWithFields(t *testing.T) {
	f := newFakeCRM(t)
	reconciler := newReconciler(t, f,
		crm.WithContact("contact-9", ""),
		crm.WithCaseDefaults("Web", "Closed"),
	)

	result, err := reconciler.CreateOrReuse(context.Background(), "conv-1", "Chat - 2025-01-02",
		"Visitor [10:00]: hi", map[string]string{"Message_Count": "1"})
	require.NoError(t, err)
	require.Equal(t, crm.CaseResult{CaseID: "case-1", WasCreated: true}, result)

	record := f.lastCreatePayload
	require.Equal(t, "Chat - 2025-01-02", record["Subject"])
	require.Equal(t, "conv-1", record["Conversation_ID"])
	require.Equal(t, "Web", record["Case_Origin"])
	require.Equal(t, "Closed", record["Status"])
	require.Equal(t, "1", record["CF_Message_Count"])
	require.Equal(t, map[string]any{"id": "contact-9"}, record["Contact_Name"])
}

func TestCreateOrReuseRecoversDuplicate(t *testing.T) {
	f := newFakeCRM(t)
	f.createStatus = http.StatusBadRequest
	f.createBody = `{"data":[{"code":"DUPLICATE_DATA","details":{"duplicate_record":{"id":"55"}}}]}`
	reconciler := newReconciler(t, f, crm.WithContact("contact-9", ""))

	result, err := reconciler.CreateOrReuse(context.Background(), "conv-1", "Chat - x", "hello", nil)
	require.NoError(t, err)
	require.Equal(t, crm.CaseResult{CaseID: "55", WasCreated: false}, result)
}

func TestCreateOrReusePropagatesCreateFailure(t *testing.T) {
	f := newFakeCRM(t)
	f.createStatus = http.StatusUnprocessableEntity
	f.createBody = `{"data":[{"code":"MANDATORY_NOT_FOUND"}]}`
	reconciler := newReconciler(t, f, crm.WithContact("contact-9", ""))

	_, err := reconciler.CreateOrReuse(context.Background(), "conv-1", "Chat - x", "hello", nil)
	var statusErr *crm.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
}

func TestCreateOrReuseSearchFailureFallsBackToCreate(t *testing.T) {
	f := newFakeCRM(t)
	f.searchStatus = http.StatusInternalServerError
	reconciler := newReconciler(t, f, crm.WithContact("contact-9", ""))

	result, err := reconciler.CreateOrReuse(context.Background(), "conv-1", "Chat - x", "hello", nil)
	require.NoError(t, err)
	require.True(t, result.WasCreated)
	require.EqualValues(t, 1, f.caseCreates.Load())
}

func TestCreateOrReuseNoteFailureDoesNotFailCase(t *testing.T) {
	f := newFakeCRM(t)
	f.noteStatus = http.StatusInternalServerError
	reconciler := newReconciler(t, f,
		crm.WithContact("contact-9", ""),
		crm.WithTranscriptNotes(true),
	)

	result, err := reconciler.CreateOrReuse(context.Background(), "conv-1", "Chat - x", "hello", nil)
	require.NoError(t, err)
	require.Equal(t, "case-1", result.CaseID)
	require.EqualValues(t, 1, f.notes.Load())
}

func TestCreateOrReuseResolvesContactOnce(t *testing.T) {
	f := newFakeCRM(t)
	reconciler := newReconciler(t, f, crm.WithContact("", "Chat Visitor"))

	for _, convID := range []string{"conv-1", "conv-2"} {
		_, err := reconciler.CreateOrReuse(context.Background(), convID, "Chat - x", "hello", nil)
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, f.contactCreates.Load())
	require.Equal(t, map[string]any{"id": "contact-1"}, f.lastCreatePayload["Contact_Name"])
}

func TestCreateOrReuseTruncatesLongSubject(t *testing.T) {
	f := newFakeCRM(t)
	reconciler := newReconciler(t, f, crm.WithContact("contact-9", ""))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	_, err := reconciler.CreateOrReuse(context.Background(), "conv-1", string(long), "hello", nil)
	require.NoError(t, err)
	require.Len(t, f.lastCreatePayload["Subject"], 255)
}
