package processor_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jurisline/internal/domain"
	"jurisline/internal/processor"
)

func fixedProcessor() processor.Processor {
	p := processor.New("STJ")
	p.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestClassifyScenarios(t *testing.T) {
	cases := []struct {
		text string
		want domain.Outcome
	}{
		{"Ante o exposto, dou provimento ao recurso especial.", domain.OutcomeFullGrant},
		{"Recurso especial parcialmente provido.", domain.OutcomePartialGrant},
		{"Não conhecer do recurso por ausência de prequestionamento.", domain.OutcomeNotKnown},
		{"Ante o exposto, nego provimento ao agravo interno.", domain.OutcomeDenial},
		{"Recurso especial desprovido.", domain.OutcomeDenial},
		{"Agravo regimental improvido.", domain.OutcomeDenial},
		{"RECURSO ESPECIAL PROVIDO.", domain.OutcomeFullGrant},
		{"A Turma, por unanimidade, deu provimento ao recurso especial.", domain.OutcomeFullGrant},
		{"Os Ministros deram provimento ao agravo interno.", domain.OutcomeFullGrant},
		{"Os Ministros negaram provimento ao agravo interno.", domain.OutcomeDenial},
		{"A Turma, por maioria, deu parcial provimento ao recurso.", domain.OutcomePartialGrant},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, processor.Classify(tc.text))
		})
	}
}

func TestClassifyPartialBeatsFull(t *testing.T) {
	for _, text := range []string{
		"Voto no sentido de dar parcial provimento ao recurso.",
		"Recurso provido em parte para reduzir a multa.",
		"Dou parcial provimento. O recurso foi provido quanto aos juros.",
		"Embargos acolhidos com provimento parcial.",
	} {
		assert.Equal(t, domain.OutcomePartialGrant, processor.Classify(text), text)
	}
}

func TestClassifyNotKnownBeatsGrantAndDenial(t *testing.T) {
	for _, text := range []string{
		"Recurso não conhecido. Ainda que assim não fosse, seria provido.",
		"Não conheço do recurso especial e, se conhecido, seria improvido.",
		"O agravo foi provido na origem, mas não conhecer do recurso se impõe.",
	} {
		assert.Equal(t, domain.OutcomeNotKnown, processor.Classify(text), text)
	}
}

func TestClassifyNoMatch(t *testing.T) {
	for _, text := range []string{
		"",
		"   ",
		"Trata-se de pedido de vista dos autos.",
		"Homologo o acordo celebrado entre as partes.",
		"Providências cabíveis pela secretaria.",
	} {
		assert.NotPanics(t, func() {
			assert.Equal(t, domain.OutcomeIndeterminate, processor.Classify(text), text)
		})
	}
}

func TestRulesAreOrdered(t *testing.T) {
	rank := map[domain.Outcome]int{
		domain.OutcomePartialGrant: 0,
		domain.OutcomeNotKnown:     1,
		domain.OutcomeDenial:       2,
		domain.OutcomeFullGrant:    3,
	}
	last := 0
	for i, r := range processor.Rules {
		got, ok := rank[r.Outcome]
		require.True(t, ok, "rule %d has unexpected outcome %s", i, r.Outcome)
		require.GreaterOrEqual(t, got, last, "rule %d (%s) is out of order", i, r.Pattern)
		last = got
	}
}

func TestNormalizeStripsBoilerplate(t *testing.T) {
	raw := "SUPERIOR TRIBUNAL DE JUSTIÇA\r\n" +
		"SEGUNDA TURMA\n" +
		"REsp 1.234.567/SP\n" +
		"RECORRENTE : FAZENDA NACIONAL\n" +
		"RECORRIDO  : EMPRESA LTDA\n" +
		"Texto   do\tvoto.\n\n  Segue."
	assert.Equal(t, "Texto do voto. Segue.", processor.Normalize(raw))
	assert.Equal(t, "", processor.Normalize(""))
}

func TestExtractSections(t *testing.T) {
	text := "EMENTA: algo. RELATÓRIO: fatos da causa. VOTO: fundamentos. DISPOSITIVO: nego provimento."
	s := processor.ExtractSections(text)
	assert.Equal(t, "fatos da causa.", s.Relatorio)
	assert.Equal(t, "fundamentos.", s.Voto)
	assert.Equal(t, "nego provimento.", s.Dispositivo)
	assert.Equal(t, s.Dispositivo, s.Operative)
}

func TestExtractSectionsAnteOExpostoFallback(t *testing.T) {
	text := "Relatório sucinto. Voto longo. Ante o exposto, dou provimento ao recurso."
	s := processor.ExtractSections(text)
	assert.Empty(t, s.Dispositivo)
	assert.Equal(t, "Ante o exposto, dou provimento ao recurso.", s.Operative)
}

func TestExtractEmenta(t *testing.T) {
	raw := "EMENTA: PROCESSUAL CIVIL. RECURSO ESPECIAL.\nDano moral configurado.\nACÓRDÃO\nVistos e relatados."
	assert.Equal(t, "PROCESSUAL CIVIL. RECURSO ESPECIAL. Dano moral configurado.", processor.ExtractEmenta(raw))
	assert.Empty(t, processor.ExtractEmenta("sem cabeçalho algum"))
}

func TestExtractEmentaCapsLength(t *testing.T) {
	long := "EMENTA: "
	for len([]rune(long)) < 3000 {
		long += "Frase de ementa repetida. "
	}
	got := processor.ExtractEmenta(long)
	assert.LessOrEqual(t, len([]rune(got)), 2003)
	assert.True(t, len([]rune(got)) > 1500)
	assert.Equal(t, byte('.'), got[len(got)-1])
}

func TestExtractRelator(t *testing.T) {
	assert.Equal(t, "HERMAN BENJAMIN", processor.ExtractRelator("RELATOR : MINISTRO HERMAN BENJAMIN\nEMENTA"))
	assert.Equal(t, "NANCY ANDRIGHI", processor.ExtractRelator("RELATORA: MINISTRA NANCY ANDRIGHI (1118)\n"))
	assert.Empty(t, processor.ExtractRelator("RELATOR: X\n"))
	assert.Empty(t, processor.ExtractRelator("nada aqui"))
}

func TestProcessDeterministic(t *testing.T) {
	d := processor.Decision{
		CaseNumber: "REsp 1",
		FullText:   "SUPERIOR TRIBUNAL DE JUSTIÇA\nEMENTA: Tributário.\nVOTO\nAnte o exposto, dou provimento ao recurso especial.",
	}
	p := fixedProcessor()
	a, err := p.Process(d)
	require.NoError(t, err)
	b, err := p.Process(d)
	require.NoError(t, err)
	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.Equal(t, a.Outcome, b.Outcome)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, domain.OutcomeFullGrant, a.Outcome)
	assert.Len(t, a.ContentHash, 64)
	assert.Equal(t, processor.HashContent(a.FullText), a.ContentHash)
}

func TestProcessHashIgnoresSourceID(t *testing.T) {
	p := fixedProcessor()
	a, err := p.Process(processor.Decision{ID: json.RawMessage(`"a-1"`), FullText: "Recurso especial não provido."})
	require.NoError(t, err)
	b, err := p.Process(processor.Decision{ID: json.RawMessage(`99`), FullText: "Recurso especial   não provido."})
	require.NoError(t, err)
	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.Equal(t, "a-1", a.Metadata["original_id"])
	assert.Equal(t, "99", b.Metadata["original_id"])
}

func TestProcessFallsBackToEmenta(t *testing.T) {
	d := processor.Decision{
		Ementa:   "Agravo interno. Recurso parcialmente provido.",
		FullText: "Discussão sobre honorários. Ante o exposto, determino a remessa dos autos.",
	}
	rec, err := fixedProcessor().Process(d)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePartialGrant, rec.Outcome)
	assert.Equal(t, "ementa", rec.Metadata["classified_from"])
}

func TestProcessFallsBackToPrefix(t *testing.T) {
	rec, err := fixedProcessor().Process(processor.Decision{FullText: "Embargos de declaração rejeitados. Recurso improvido."})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDenial, rec.Outcome)
	assert.Equal(t, "prefix", rec.Metadata["classified_from"])
}

func TestProcessAssemblesParts(t *testing.T) {
	d := processor.Decision{
		CaseNumber:      "AREsp 2",
		Ementa:          "Civil. Responsabilidade.",
		Relatorio:       "Relato dos fatos.",
		Voto:            "Fundamentação.",
		Decisao:         "Nego provimento ao agravo.",
		Minister:        "MARIA SILVA",
		Organ:           " TERCEIRA TURMA ",
		Class:           "AREsp",
		Subjects:        json.RawMessage(`["Dano Moral", " ", "Consumidor"]`),
		PublicationDate: json.RawMessage(`"2023-05-10"`),
		JudgmentDate:    json.RawMessage(`1683676800000`),
		URL:             "https://example.test/doc/2",
	}
	rec, err := fixedProcessor().Process(d)
	require.NoError(t, err)
	assert.Contains(t, rec.FullText, "EMENTA: Civil. Responsabilidade.")
	assert.Contains(t, rec.FullText, "DECISÃO: Nego provimento")
	assert.Equal(t, "Civil. Responsabilidade.", rec.Ementa)
	assert.Equal(t, "MARIA SILVA", rec.Relator)
	assert.Equal(t, "TERCEIRA TURMA", rec.Organ)
	assert.Equal(t, domain.DecisionTypeAcordao, rec.DecisionType)
	assert.Equal(t, []string{"Dano Moral", "Consumidor"}, rec.Subjects)
	assert.Equal(t, domain.OutcomeDenial, rec.Outcome)
	assert.Equal(t, "prefix", rec.Metadata["classified_from"])
	require.NotNil(t, rec.PublishedAt)
	require.NotNil(t, rec.JudgedAt)
	assert.True(t, rec.PublishedAt.Equal(*rec.JudgedAt))
	assert.Equal(t, "STJ", rec.Tribunal)
	assert.Equal(t, processor.DefaultSource, rec.Source)
	assert.Equal(t, "2024-03-01T12:00:00Z", rec.Metadata["processed_at"])
	assert.Equal(t, "1.0", rec.Metadata["version"])
}

func TestProcessMonocraticDecision(t *testing.T) {
	rec, err := fixedProcessor().Process(processor.Decision{FullText: "DECISÃO MONOCRÁTICA. Nego provimento ao recurso."})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionTypeMonocratica, rec.DecisionType)
}

func TestProcessUnrecognizedIsIndeterminate(t *testing.T) {
	rec, err := fixedProcessor().Process(processor.Decision{FullText: "Certidão de julgamento sem conteúdo decisório."})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIndeterminate, rec.Outcome)
	assert.Equal(t, "none", rec.Metadata["classified_from"])
}

func TestProcessEmptyDecision(t *testing.T) {
	_, err := fixedProcessor().Process(processor.Decision{CaseNumber: "X"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalid))
}

func TestProcessBatch(t *testing.T) {
	decisions := []processor.Decision{
		{FullText: "EMENTA: Algo.\nRELATOR: MINISTRO JOSE ALVES\nRecurso provido."},
		{CaseNumber: "vazio"},
		{FullText: "Sem marcador."},
	}
	records, stats, errs := fixedProcessor().ProcessBatch(decisions)
	assert.Len(t, records, 2)
	assert.Equal(t, processor.Stats{Processed: 2, WithEmenta: 1, WithRelator: 1, Classified: 1, Errors: 1}, stats)
	require.Len(t, errs, 1)
	assert.Equal(t, 1, errs[0].Index)
	assert.Equal(t, "vazio", errs[0].CaseNumber)
}

func TestDecodeFile(t *testing.T) {
	list, itemErrs, err := processor.DecodeFile([]byte(` [{"processo":"A"},{"processo":"B"}]`))
	require.NoError(t, err)
	assert.Empty(t, itemErrs)
	assert.Len(t, list, 2)

	single, _, err := processor.DecodeFile([]byte(`{"processo":"C","assuntos":"Tributário; ICMS"}`))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, []string{"Tributário", "ICMS"}, processor.ParseSubjects(single[0].Subjects))

	for _, bad := range []string{"", "not json", `"string"`, `[{"processo":}]`} {
		_, _, err := processor.DecodeFile([]byte(bad))
		assert.True(t, errors.Is(err, domain.ErrMalformed), bad)
	}
}

func TestDecodeFileToleratesMixedTypes(t *testing.T) {
	body := `[
		{"processo":"REsp 1","versao":"1","inteiro_teor":"Recurso provido."},
		{"processo":123456,"versao":2,"relator":null,"inteiro_teor":"Nego provimento ao agravo."},
		"not a decision",
		{"processo":"AgInt 3","versao":true,"inteiro_teor":"Agravo não conhecido."}
	]`
	list, itemErrs, err := processor.DecodeFile([]byte(body))
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "123456", list[1].CaseNumber)
	assert.Equal(t, "2", list[1].Version)
	assert.Equal(t, "", list[1].Relator)
	assert.Equal(t, "true", list[2].Version)

	require.Len(t, itemErrs, 1)
	assert.Equal(t, 2, itemErrs[0].Index)
	assert.True(t, errors.Is(itemErrs[0].Err, domain.ErrMalformed))

	records, stats, errs := fixedProcessor().ProcessBatch(list)
	assert.Empty(t, errs)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, domain.OutcomeDenial, records[1].Outcome)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2023, 5, 10, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{`"2023-05-10"`, `"20230510"`, `"10/05/2023"`, `"2023-05-10T00:00:00Z"`, `"2023-05-10T00:00:00"`, `1683676800000`} {
		got := processor.ParseDate(json.RawMessage(raw))
		require.NotNil(t, got, raw)
		assert.True(t, want.Equal(*got), raw)
	}
	assert.Nil(t, processor.ParseDate(nil))
	assert.Nil(t, processor.ParseDate(json.RawMessage(`null`)))
	assert.Nil(t, processor.ParseDate(json.RawMessage(`"ontem"`)))
}
