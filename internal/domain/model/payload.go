// payload.go — входящие DTO запросов архивирования и превью.
// JSON-ключи совпадают с контрактом frontend (норвежские имена полей).
package model

// ArchivalPayload — тело запросов /arkiver и /send-til-bruker.
type ArchivalPayload struct {
	Metadata     PlanMetadata `json:"metadata"`
	CaseMetadata CaseMetadata `json:"journalføringsMetadata"`
	Content      PlanContent  `json:"aktivitetsplanInnhold"`
}

// SendToUserPayload — тело запроса /send-til-bruker.
type SendToUserPayload struct {
	ArchivalPayload
	// ForcePrint — принудительная отправка бумажным письмом
	ForcePrint bool `json:"tvingManuellKanal"`
}

// PreviewPayload — тело запросов превью.
type PreviewPayload struct {
	Metadata PlanMetadata `json:"metadata"`
	Content  PlanContent  `json:"aktivitetsplanInnhold"`
}

// PlanMetadata — сведения о субъекте и периоде сопровождения.
type PlanMetadata struct {
	// Fnr — национальный идентификатор (11 цифр)
	Fnr string `json:"fnr" validate:"required,len=11,numeric"`
	// Name — отображаемое имя субъекта
	Name string `json:"navn" validate:"required"`
	// PeriodStart — начало периода в свободном формате ("19 oktober 2021")
	PeriodStart string `json:"oppfølgingsperiodeStart" validate:"required"`
	// PeriodEnd — конец периода, пусто для открытого периода
	PeriodEnd *string `json:"oppfølgingsperiodeSlutt"`
	// PeriodID — UUID периода сопровождения
	PeriodID string `json:"oppfølgingsperiodeId" validate:"required,uuid"`
}

// CaseMetadata — сведения о деле для записи в архиве.
type CaseMetadata struct {
	// CaseID — номер дела во внешней системе
	CaseID int64 `json:"sakId" validate:"required,gt=0"`
	// CaseSystem — система ведения дел (например, ARBEIDSOPPFOLGING)
	CaseSystem string `json:"fagsaksystem" validate:"required"`
	// ResponsibleUnit — номер ответственного подразделения
	ResponsibleUnit string `json:"journalførendeEnhet"`
	// Topic — тематический код архива; пусто — "OPP"
	Topic string `json:"tema,omitempty"`
}

// PlanContent — содержимое плана: активности, диалоги, цель.
// Текстовые поля содержимого выводятся в документ как есть, пустые строки допустимы.
type PlanContent struct {
	// Activities — активности, сгруппированные по статусу
	Activities map[string][]Activity `json:"aktiviteter" validate:"required,dive,dive"`
	// DialogThreads — переписка
	DialogThreads []DialogThread `json:"dialogtråder" validate:"dive"`
	// Goal — цель субъекта
	Goal *string `json:"mål"`
}

// Activity — одна активность плана.
type Activity struct {
	Title           string           `json:"tittel"`
	Type            string           `json:"type"`
	Status          string           `json:"status"`
	Details         []Detail         `json:"detaljer" validate:"dive"`
	Messages        []Message        `json:"meldinger" validate:"dive"`
	Labels          []Label          `json:"etiketter" validate:"dive"`
	ExternalActions []ExternalAction `json:"eksterneHandlinger" validate:"dive"`
	History         History          `json:"historikk"`
	AdvanceNotice   *AdvanceNotice   `json:"forhaandsorientering,omitempty"`
	DialogThread    *DialogThread    `json:"dialogtråd,omitempty"`
}

// Detail — строка с деталями активности.
type Detail struct {
	Style string  `json:"stil" validate:"oneof=HEL_LINJE HALV_LINJE PARAGRAF LENKE"`
	Title string  `json:"tittel"`
	Text  *string `json:"tekst"`
}

// Message — сообщение диалога.
type Message struct {
	Sender    string `json:"avsender"`
	Sent      string `json:"sendt"`
	Read      bool   `json:"lest"`
	Important bool   `json:"viktig"`
	Text      string `json:"tekst"`
}

// DialogThread — ветка диалога.
type DialogThread struct {
	Heading    string    `json:"overskrift"`
	Messages   []Message `json:"meldinger" validate:"dive"`
	Properties []string  `json:"egenskaper"`
}

// Label — метка активности.
type Label struct {
	Style string `json:"stil" validate:"oneof=AVTALT POSITIVE NEGATIVE NEUTRAL"`
	Text  string `json:"tekst"`
}

// ExternalAction — ссылка на действие во внешней системе.
type ExternalAction struct {
	Text    string  `json:"tekst"`
	Subtext *string `json:"subtekst"`
	URL     string  `json:"url"`
}

// History — история изменений активности.
type History struct {
	Changes []Change `json:"endringer"`
}

// Change — одно изменение активности.
type Change struct {
	FormattedTime       string `json:"formattertTidspunkt"`
	DescriptionForStaff string `json:"beskrivelseForVeileder"`
	DescriptionForUser  string `json:"beskrivelseForBruker"`
}

// AdvanceNotice — предварительное уведомление, привязанное к активности.
type AdvanceNotice struct {
	Text   string  `json:"tekst"`
	ReadAt *string `json:"tidspunktLest"`
}
