package archiveclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockTokens — TokenSource для тестов.
type mockTokens struct {
	onBehalfOfFn func(ctx context.Context, assertion, scope string) (string, error)
}

func (m *mockTokens) OnBehalfOf(ctx context.Context, assertion, scope string) (string, error) {
	if m.onBehalfOfFn != nil {
		return m.onBehalfOfFn(ctx, assertion, scope)
	}
	return "obo-" + scope, nil
}

func setupMockArchive(t *testing.T, tokens TokenSource, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	if tokens == nil {
		tokens = &mockTokens{}
	}
	client := New(Options{
		BaseURL: server.URL,
		Scope:   "api://dokarkiv/.default",
		Timeout: 2 * time.Second,
	}, tokens, testLogger())
	return client, &calls
}

func testData() RecordData {
	return RecordData{
		PDF:             []byte("%PDF"),
		Name:            "Kari Nordmann",
		Fnr:             "01015450300",
		PeriodStart:     "19 oktober 2021",
		PeriodID:        uuid.MustParse("7a1f3a0e-3d1b-4f9c-9c1e-5a5b2d1c0f11"),
		CaseID:          1000,
		CaseSystem:      "ARBEIDSOPPFOLGING",
		ResponsibleUnit: "0909",
		CorrelationRef:  uuid.MustParse("0b6f2a52-90a4-4d5e-8a55-1d2f7b8e9c01"),
		ArchivedAt:      time.Date(2024, time.March, 5, 13, 31, 0, 0, time.UTC),
	}
}

func respondCreated(w http.ResponseWriter, finalized bool) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"journalpostId":          "453857319",
		"journalstatus":          "ENDELIG",
		"melding":                nil,
		"journalpostferdigstilt": finalized,
		"dokumenter":             []map[string]string{{"dokumentInfoId": "12345"}},
	})
}

func TestCreateRecord_InternalNote(t *testing.T) {
	var body map[string]any
	client, _ := setupMockArchive(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/journalpostapi/v1/journalpost" || r.URL.Query().Get("forsoekFerdigstill") != "true" {
			t.Errorf("неожиданный URL: %s", r.URL)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer obo-api://dokarkiv/.default" {
			t.Errorf("Authorization = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("декодирование тела: %v", err)
		}
		respondCreated(w, true)
	})

	data := testData()
	res := client.CreateRecord(context.Background(), "incoming", KindInternalNote, data)
	created, ok := res.(RecordCreated)
	if !ok {
		t.Fatalf("ожидался RecordCreated, получено %#v", res)
	}
	if created.RecordID != "453857319" || !created.Finalized {
		t.Errorf("RecordCreated = %+v", created)
	}
	if created.CorrelationRef != data.CorrelationRef || !created.ArchivedAt.Equal(data.ArchivedAt) {
		t.Error("CorrelationRef и ArchivedAt должны совпадать с переданными")
	}

	checks := map[string]any{
		"tittel":                "Aktivitetsplan og dialog",
		"journalposttype":       "NOTAT",
		"tema":                  "OPP",
		"behandlingstema":       "ab0001",
		"journalfoerendeEnhet":  "0909",
		"eksternReferanseId":    data.CorrelationRef.String(),
		"overstyrInnsynsregler": "VISES_MASKINELT_GODKJENT",
		"datoDokument":          "2024-03-05T13:31:00Z",
	}
	for k, v := range checks {
		if body[k] != v {
			t.Errorf("%s = %v, ожидалось %v", k, body[k], v)
		}
	}
	if _, ok := body["avsenderMottaker"]; ok {
		t.Error("внутренняя заметка не должна содержать avsenderMottaker")
	}

	sak := body["sak"].(map[string]any)
	if sak["fagsakId"] != "1000" || sak["fagsaksystem"] != "ARBEIDSOPPFOLGING" || sak["sakstype"] != "FAGSAK" {
		t.Errorf("sak = %v", sak)
	}
	bruker := body["bruker"].(map[string]any)
	if bruker["id"] != "01015450300" || bruker["idType"] != "FNR" {
		t.Errorf("bruker = %v", bruker)
	}

	doc := body["dokumenter"].([]any)[0].(map[string]any)
	if doc["tittel"] != "Aktivitetsplan og dialog 19 oktober 2021 - " {
		t.Errorf("dokumenter[0].tittel = %v", doc["tittel"])
	}
	variant := doc["dokumentvarianter"].([]any)[0].(map[string]any)
	if variant["filtype"] != "PDFA" || variant["variantformat"] != "ARKIV" || variant["fysiskDokument"] != "JVBERg==" {
		t.Errorf("dokumentvarianter[0] = %v", variant)
	}

	extra := body["tilleggsopplysninger"].([]any)[0].(map[string]any)
	if extra["nokkel"] != "orkivar" || extra["verdi"] != data.PeriodID.String() {
		t.Errorf("tilleggsopplysninger[0] = %v", extra)
	}
}

func TestCreateRecord_OutboundLetter(t *testing.T) {
	var body journalpostRequest
	client, _ := setupMockArchive(t, nil, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		respondCreated(w, true)
	})

	data := testData()
	end := "1 januar 2024"
	data.PeriodEnd = &end
	data.Topic = "AKT"

	if _, ok := client.CreateRecord(context.Background(), "incoming", KindOutboundLetter, data).(RecordCreated); !ok {
		t.Fatal("ожидался RecordCreated")
	}
	if body.Journalposttype != "UTGAAENDE" || body.Tema != "AKT" {
		t.Errorf("journalposttype = %q, tema = %q", body.Journalposttype, body.Tema)
	}
	if body.AvsenderMottaker == nil || body.AvsenderMottaker.ID != data.Fnr || body.AvsenderMottaker.Navn != data.Name {
		t.Errorf("avsenderMottaker = %+v", body.AvsenderMottaker)
	}
	if got := body.Dokumenter[0].Tittel; got != "Aktivitetsplan og dialog 19 oktober 2021 - 1 januar 2024" {
		t.Errorf("tittel документа = %q", got)
	}
}

func TestCreateRecord_NotFinalizedIsSuccess(t *testing.T) {
	client, _ := setupMockArchive(t, nil, func(w http.ResponseWriter, _ *http.Request) {
		respondCreated(w, false)
	})

	created, ok := client.CreateRecord(context.Background(), "incoming", KindInternalNote, testData()).(RecordCreated)
	if !ok {
		t.Fatal("незавершённая запись должна считаться созданной")
	}
	if created.Finalized {
		t.Error("Finalized = true, ожидалось false")
	}
}

func TestCreateRecord_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "статус 500",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("intern feil"))
			},
			want: "500",
		},
		{
			name: "статус 400",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
			want: "400",
		},
		{
			name: "некорректный JSON",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("{"))
			},
			want: "декодирование",
		},
		{
			name: "пустой journalpostId",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"journalpostferdigstilt": true}`))
			},
			want: "journalpostId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, calls := setupMockArchive(t, nil, tt.handler)
			res := client.CreateRecord(context.Background(), "incoming", KindInternalNote, testData())
			failed, ok := res.(RecordFailed)
			if !ok {
				t.Fatalf("ожидался RecordFailed, получено %#v", res)
			}
			if !strings.Contains(failed.Reason, tt.want) {
				t.Errorf("Reason = %q, ожидалось содержание %q", failed.Reason, tt.want)
			}
			if n := calls.Load(); n != 1 {
				t.Errorf("запрос к архиву не должен повторяться: вызовов %d", n)
			}
		})
	}
}

func TestCreateRecord_TokenExchangeFailure(t *testing.T) {
	tokens := &mockTokens{
		onBehalfOfFn: func(context.Context, string, string) (string, error) {
			return "", errors.New("invalid_grant")
		},
	}
	client, calls := setupMockArchive(t, tokens, func(w http.ResponseWriter, _ *http.Request) {
		respondCreated(w, true)
	})

	res := client.CreateRecord(context.Background(), "expired", KindInternalNote, testData())
	if _, ok := res.(RecordFailed); !ok {
		t.Fatalf("ожидался RecordFailed, получено %#v", res)
	}
	if calls.Load() != 0 {
		t.Error("без токена запрос к архиву не выполняется")
	}
}
