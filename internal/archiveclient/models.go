// models.go — результаты Archive Client и DTO API journalpost.
package archiveclient

import (
	"time"

	"github.com/google/uuid"
)

// Kind — вид создаваемой записи в архиве.
type Kind string

const (
	// KindInternalNote — внутренняя заметка (journalposttype NOTAT).
	KindInternalNote Kind = "NOTAT"
	// KindOutboundLetter — исходящее письмо субъекту (journalposttype UTGAAENDE).
	KindOutboundLetter Kind = "UTGAAENDE"
)

// RecordData — данные для создания записи.
// CorrelationRef и ArchivedAt фиксируются вызывающей стороной до вызова
// и затем используются в записи журнала.
type RecordData struct {
	PDF             []byte
	Name            string
	Fnr             string
	PeriodStart     string
	PeriodEnd       *string
	PeriodID        uuid.UUID
	CaseID          int64
	CaseSystem      string
	ResponsibleUnit string
	Topic           string
	CorrelationRef  uuid.UUID
	ArchivedAt      time.Time
}

// Result — результат создания записи: RecordCreated или RecordFailed.
type Result interface {
	isResult()
}

// RecordCreated — запись создана в архиве.
type RecordCreated struct {
	// RecordID — journalpostId
	RecordID string
	// Finalized — архив смог автоматически завершить запись
	Finalized bool
	// CorrelationRef — отправленный eksternReferanseId
	CorrelationRef uuid.UUID
	// ArchivedAt — момент архивирования
	ArchivedAt time.Time
}

// RecordFailed — запись не создана (или результат неизвестен).
type RecordFailed struct {
	Reason string
}

func (RecordCreated) isResult() {}
func (RecordFailed) isResult()  {}

// journalpostRequest — тело POST /journalpost.
type journalpostRequest struct {
	Tittel                string               `json:"tittel"`
	Journalposttype       string               `json:"journalposttype"`
	Tema                  string               `json:"tema"`
	Behandlingstema       string               `json:"behandlingstema"`
	JournalfoerendeEnhet  string               `json:"journalfoerendeEnhet"`
	EksternReferanseID    string               `json:"eksternReferanseId"`
	AvsenderMottaker      *avsenderMottaker    `json:"avsenderMottaker,omitempty"`
	Bruker                bruker               `json:"bruker"`
	Sak                   sak                  `json:"sak"`
	OverstyrInnsynsregler string               `json:"overstyrInnsynsregler"`
	DatoDokument          string               `json:"datoDokument"`
	Dokumenter            []dokument           `json:"dokumenter"`
	Tilleggsopplysninger  []tilleggsopplysning `json:"tilleggsopplysninger"`
}

type avsenderMottaker struct {
	ID     string `json:"id"`
	IDType string `json:"idType"`
	Navn   string `json:"navn"`
}

type bruker struct {
	ID     string `json:"id"`
	IDType string `json:"idType"`
}

type sak struct {
	FagsakID     string `json:"fagsakId"`
	Fagsaksystem string `json:"fagsaksystem"`
	Sakstype     string `json:"sakstype"`
}

type dokument struct {
	Tittel            string            `json:"tittel"`
	Brevkode          string            `json:"brevkode"`
	Dokumentvarianter []dokumentvariant `json:"dokumentvarianter"`
}

type dokumentvariant struct {
	Filtype        string `json:"filtype"`
	Variantformat  string `json:"variantformat"`
	FysiskDokument []byte `json:"fysiskDokument"`
}

type tilleggsopplysning struct {
	Nokkel string `json:"nokkel"`
	Verdi  string `json:"verdi"`
}

// journalpostResponse — ответ POST /journalpost.
type journalpostResponse struct {
	JournalpostID          string  `json:"journalpostId"`
	Journalstatus          string  `json:"journalstatus"`
	Melding                *string `json:"melding"`
	JournalpostFerdigstilt bool    `json:"journalpostferdigstilt"`
	Dokumenter             []struct {
		DokumentInfoID string `json:"dokumentInfoId"`
	} `json:"dokumenter"`
}
