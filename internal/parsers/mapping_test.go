package parsers

import (
	"os"
	"path/filepath"
	"testing"

	"tiss-reconciliation-service/pkg/errors"
)

func TestDetectMapping(t *testing.T) {
	columns := []string{
		"Lote", "Competência", "Guia", "Cod. Procedimento", "Descrição",
		"Valor Apresentado", "Valor Glosa", "Valor Pago", "Código Glosa",
	}

	mapping, ok := DetectMapping(columns)
	if !ok {
		t.Fatal("detection should succeed when a procedure-code column exists")
	}

	want := map[string]string{
		FieldLot:            "Lote",
		FieldPeriod:         "Competência",
		FieldProviderGuide:  "Guia",
		FieldProcedureCode:  "Cod. Procedimento",
		FieldProcedureDesc:  "Descrição",
		FieldPresentedValue: "Valor Apresentado",
		FieldDeniedValue:    "Valor Glosa",
		FieldPaidValue:      "Valor Pago",
		FieldReasonCode:     "Código Glosa",
	}
	for field, column := range want {
		if mapping[field] != column {
			t.Errorf("mapping[%s] = %q, want %q", field, mapping[field], column)
		}
	}
}

func TestDetectMappingAccentInsensitive(t *testing.T) {
	mapping, ok := DetectMapping([]string{"GUIA", "CÓDIGO PROCEDIMENTO", "VALOR GLOSA"})
	if !ok {
		t.Fatal("detection should ignore case and accents")
	}
	if mapping[FieldProcedureCode] != "CÓDIGO PROCEDIMENTO" {
		t.Errorf("mapping[cod_proc] = %q", mapping[FieldProcedureCode])
	}
}

func TestDetectMappingWithoutProcedureCode(t *testing.T) {
	if _, ok := DetectMapping([]string{"Guia", "Valor Glosa", "Valor Pago"}); ok {
		t.Error("detection must fail without a procedure-code column")
	}
}

func TestMappingStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mappings.json")

	store, err := LoadMappingStore(path)
	if err != nil {
		t.Fatalf("load of missing file should give empty store: %v", err)
	}

	entry := MappingEntry{
		Sheet: "Plan1",
		Columns: FieldMapping{
			FieldProviderGuide: "Guia",
			FieldProcedureCode: "Procedimento",
		},
	}
	store.Put("demo.xlsx", entry)
	if err := store.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reloaded, err := LoadMappingStore(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	got, ok := reloaded.Get("demo.xlsx")
	if !ok {
		t.Fatal("entry missing after reload")
	}
	if got.Sheet != "Plan1" {
		t.Errorf("sheet = %q, want Plan1", got.Sheet)
	}
	if got.Columns[FieldProcedureCode] != "Procedimento" {
		t.Errorf("columns = %v", got.Columns)
	}
}

func TestLoadMappingStoreCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mappings.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	_, err := LoadMappingStore(path)
	if !errors.IsCode(err, errors.CodeInvalidMapping) {
		t.Errorf("expected invalid_mapping code, got %v", err)
	}
}

func TestApplyMappingSkipsEmptyRows(t *testing.T) {
	table := &RawTable{
		Path: "test.csv",
		Rows: [][]string{
			{"Guia", "Procedimento", "Glosa"},
			{"", "", ""},
			{"123", "10101012", "50,00"},
		},
	}
	mapping := FieldMapping{
		FieldProviderGuide: "Guia",
		FieldProcedureCode: "Procedimento",
		FieldDeniedValue:   "Glosa",
	}

	rows := ApplyMapping(table, 0, mapping, false)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].ProviderGuideNumber != "123" {
		t.Errorf("guide = %q", rows[0].ProviderGuideNumber)
	}
	if rows[0].DeniedValue.String() != "50" {
		t.Errorf("denied = %s, want 50", rows[0].DeniedValue)
	}
}

func TestApplyMappingReasonFallbacks(t *testing.T) {
	table := &RawTable{
		Path: "test.csv",
		Rows: [][]string{
			{"Guia", "Proc", "Motivo", "Motivo Desc"},
			{"1", "101", "1001 - Não elegível", ""},
			{"2", "102", "1201", "Autorização negada"},
		},
	}
	mapping := FieldMapping{
		FieldProviderGuide: "Guia",
		FieldProcedureCode: "Proc",
		FieldReasonCode:    "Motivo",
		FieldReasonDesc:    "Motivo Desc",
	}

	rows := ApplyMapping(table, 0, mapping, false)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	if rows[0].DenialReasonCode != "1001" || rows[0].DenialReasonDescription != "Não elegível" {
		t.Errorf("row 0 reason = (%q, %q)", rows[0].DenialReasonCode, rows[0].DenialReasonDescription)
	}

	// Code-only cell: the description comes from the dedicated column.
	if rows[1].DenialReasonCode != "1201" || rows[1].DenialReasonDescription != "Autorização negada" {
		t.Errorf("row 1 reason = (%q, %q)", rows[1].DenialReasonCode, rows[1].DenialReasonDescription)
	}
}
