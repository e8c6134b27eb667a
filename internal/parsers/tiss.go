package parsers

import (
	"encoding/xml"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"tiss-reconciliation-service/internal/models"
	"tiss-reconciliation-service/internal/normalize"
	"tiss-reconciliation-service/pkg/errors"
	"tiss-reconciliation-service/pkg/logger"
)

// ANSNamespace is the TISS schema namespace used by billing documents.
const ANSNamespace = "http://www.ans.gov.br/padroes/tiss/schemas"

// xmlNode is a lenient element-tree node. TISS exports in the wild omit
// optional sub-blocks and occasionally reorder them, so the extractor walks
// a tree with descendant lookups instead of unmarshaling a rigid struct;
// absent elements read as the empty string.
type xmlNode struct {
	name     string
	chardata string
	children []*xmlNode
}

// decodeTree parses an XML document into an element tree, keeping local
// element names only. Elements outside the ANS namespace are retained as
// well; TISS producers are not consistent about prefixing.
func decodeTree(r io.Reader) (*xmlNode, error) {
	decoder := xml.NewDecoder(r)
	root := &xmlNode{}
	stack := []*xmlNode{root}

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			node := &xmlNode{name: t.Name.Local}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, node)
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			current := stack[len(stack)-1]
			current.chardata += string(t)
		}
	}

	if len(root.children) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return root, nil
}

// child returns the first direct child with the given local name.
func (n *xmlNode) child(name string) *xmlNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// childText returns the trimmed text of a direct child, or "".
func (n *xmlNode) childText(name string) string {
	if c := n.child(name); c != nil {
		return strings.TrimSpace(c.chardata)
	}
	return ""
}

// find locates the first node matching the path: the first path element is
// searched at any depth below n, the remaining elements are direct children.
func (n *xmlNode) find(path ...string) *xmlNode {
	if len(path) == 0 {
		return nil
	}
	head := n.findDescendant(path[0])
	for _, node := range head {
		current := node
		ok := true
		for _, name := range path[1:] {
			current = current.child(name)
			if current == nil {
				ok = false
				break
			}
		}
		if ok {
			return current
		}
	}
	return nil
}

// findAll locates every node matching the path, with the same semantics as
// find.
func (n *xmlNode) findAll(path ...string) []*xmlNode {
	if len(path) == 0 {
		return nil
	}
	current := n.findDescendant(path[0])
	for _, name := range path[1:] {
		var next []*xmlNode
		for _, node := range current {
			for _, c := range node.children {
				if c.name == name {
					next = append(next, c)
				}
			}
		}
		current = next
	}
	return current
}

// text returns the trimmed text of the first node matching the path, or "".
func (n *xmlNode) text(path ...string) string {
	if node := n.find(path...); node != nil {
		return strings.TrimSpace(node.chardata)
	}
	return ""
}

// findDescendant collects all nodes with the given name, depth first.
func (n *xmlNode) findDescendant(name string) []*xmlNode {
	var out []*xmlNode
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
		out = append(out, c.findDescendant(name)...)
	}
	return out
}

// decimalText parses the element text at path as a lenient decimal.
func (n *xmlNode) decimalText(path ...string) decimal.Decimal {
	d, _ := normalize.ParseDecimal(n.text(path...))
	return d
}

// BillingExtractor turns TISS billing documents into flat BillingItem rows.
type BillingExtractor struct {
	stripLeadingZeros bool
	logger            logger.Logger
}

// NewBillingExtractor creates an extractor. stripLeadingZeros is the
// policy-wide flag applied when normalizing procedure codes.
func NewBillingExtractor(stripLeadingZeros bool) *BillingExtractor {
	return &BillingExtractor{
		stripLeadingZeros: stripLeadingZeros,
		logger:            logger.GetGlobalLogger().WithComponent("billing_extractor"),
	}
}

// BillingBatch is the outcome of extracting a set of XML files. A file that
// fails to parse contributes a FileError instead of blocking the batch.
type BillingBatch struct {
	Items  []models.BillingItem
	Errors []FileError
}

// ExtractFiles extracts billing items from every file in the batch.
func (be *BillingExtractor) ExtractFiles(paths []string) *BillingBatch {
	batch := &BillingBatch{}
	for _, path := range paths {
		items, err := be.ExtractFile(path)
		if err != nil {
			be.logger.WithError(err).WithField("file", path).Warn("Skipping unparseable billing file")
			batch.Errors = append(batch.Errors, FileError{File: path, Err: err})
			continue
		}
		batch.Items = append(batch.Items, items...)
	}

	be.logger.WithFields(logger.Fields{
		"files":       len(paths),
		"items":       len(batch.Items),
		"failed_files": len(batch.Errors),
	}).Info("Extracted billing batch")
	return batch
}

// ExtractFile extracts billing items from one XML file.
func (be *BillingExtractor) ExtractFile(path string) ([]models.BillingItem, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, errors.FileError(errors.CodeFileUnreadable, path, err)
	}
	defer file.Close()

	return be.Extract(file, path)
}

// Extract extracts billing items from an already-opened document.
func (be *BillingExtractor) Extract(r io.Reader, sourceFile string) ([]models.BillingItem, error) {
	root, err := decodeTree(r)
	if err != nil {
		return nil, errors.ParseError(errors.CodeMalformedXML, sourceFile, err)
	}

	lotNumber := lotNumberOf(root)

	var items []models.BillingItem
	for _, guia := range root.findAll("guiaConsulta") {
		items = append(items, be.consultationItems(guia, sourceFile, lotNumber)...)
	}
	for _, guia := range root.findAll("guiaSP-SADT") {
		items = append(items, be.sadtItems(guia, sourceFile, lotNumber)...)
	}

	be.logger.WithFields(logger.Fields{
		"file":  sourceFile,
		"lot":   lotNumber,
		"items": len(items),
	}).Debug("Extracted billing document")
	return items, nil
}

// lotNumberOf resolves the lot number from the regular billing lot path,
// falling back to the denial-appeal guide path.
func lotNumberOf(root *xmlNode) string {
	if lot := root.text("prestadorParaOperadora", "loteGuias", "numeroLote"); lot != "" {
		return lot
	}
	return root.text("prestadorParaOperadora", "recursoGlosa", "guiaRecursoGlosa", "numeroLote")
}

// consultationItems yields exactly one procedure item per consultation
// guide, taken from its single procedimento element. Quantity is always 1.
func (be *BillingExtractor) consultationItems(guia *xmlNode, sourceFile, lotNumber string) []models.BillingItem {
	providerGuide := guia.childText("numeroGuiaPrestador")
	if providerGuide == "" {
		providerGuide = guia.text("numeroGuiaPrestador")
	}
	payerGuide := guia.childText("numeroGuiaOperadora")
	if payerGuide == "" {
		payerGuide = guia.text("numeroGuiaOperadora")
	}
	if payerGuide == "" {
		payerGuide = providerGuide
	}

	item := models.BillingItem{
		SourceFile:          sourceFile,
		LotNumber:           lotNumber,
		GuideType:           models.GuideConsultation,
		ProviderGuideNumber: providerGuide,
		PayerGuideNumber:    payerGuide,
		PatientName:         guia.text("dadosBeneficiario", "nomeBeneficiario"),
		PhysicianName:       guia.text("dadosProfissionaisResponsaveis", "nomeProfissional"),
		ServiceDate:         guia.text("dataAtendimento"),
		ItemKind:            models.ItemProcedure,
		Quantity:            decimal.NewFromInt(1),
	}

	if proc := guia.find("procedimento"); proc != nil {
		item.TableCode = proc.childText("codigoTabela")
		item.ProcedureCode = proc.childText("codigoProcedimento")
		item.ProcedureDescription = proc.childText("descricaoProcedimento")
		value := proc.decimalText("valorProcedimento")
		item.UnitValue = value
		item.TotalValue = value
	} else {
		item.UnitValue = decimal.Zero
		item.TotalValue = decimal.Zero
	}

	item.NormalizedProcedureCode = normalize.Code(item.ProcedureCode, be.stripLeadingZeros)
	return []models.BillingItem{item}
}

// sadtItems yields one procedure item per executed procedure and one
// other-expense item per expense line of a SADT guide.
func (be *BillingExtractor) sadtItems(guia *xmlNode, sourceFile, lotNumber string) []models.BillingItem {
	header := guia.child("cabecalhoGuia")
	authorization := guia.child("dadosAutorizacao")

	providerGuide := guia.childText("numeroGuiaPrestador")
	if providerGuide == "" && header != nil {
		providerGuide = header.childText("numeroGuiaPrestador")
	}

	// Payer guide number: authorization block first, then the guide header,
	// then the provider number.
	payerGuide := ""
	if authorization != nil {
		payerGuide = authorization.childText("numeroGuiaOperadora")
	}
	if payerGuide == "" && header != nil {
		payerGuide = header.childText("numeroGuiaOperadora")
	}
	if payerGuide == "" {
		payerGuide = providerGuide
	}

	base := models.BillingItem{
		SourceFile:          sourceFile,
		LotNumber:           lotNumber,
		GuideType:           models.GuideSADT,
		ProviderGuideNumber: providerGuide,
		PayerGuideNumber:    payerGuide,
		PatientName:         guia.text("dadosBeneficiario", "nomeBeneficiario"),
		PhysicianName:       guia.text("dadosProfissionaisResponsaveis", "nomeProfissional"),
		ServiceDate:         guia.text("dataAtendimento"),
	}

	var items []models.BillingItem
	for _, executed := range guia.findAll("procedimentosExecutados", "procedimentoExecutado") {
		item := base
		item.ItemKind = models.ItemProcedure

		if proc := executed.child("procedimento"); proc != nil {
			item.TableCode = proc.childText("codigoTabela")
			item.ProcedureCode = proc.childText("codigoProcedimento")
			item.ProcedureDescription = proc.childText("descricaoProcedimento")
		}

		quantity := executed.decimalText("quantidadeExecutada")
		unitValue := executed.decimalText("valorUnitario")
		totalValue := executed.decimalText("valorTotal")
		item.Quantity, item.UnitValue, item.TotalValue = repairValues(quantity, unitValue, totalValue)
		item.NormalizedProcedureCode = normalize.Code(item.ProcedureCode, be.stripLeadingZeros)
		items = append(items, item)
	}

	for _, expense := range guia.findAll("outrasDespesas", "despesa") {
		item := base
		item.ItemKind = models.ItemOtherExpense
		item.ExpenseIdentifier = expense.childText("identificadorDespesa")

		var quantity, unitValue, totalValue decimal.Decimal
		if services := expense.child("servicosExecutados"); services != nil {
			item.TableCode = services.childText("codigoTabela")
			item.ProcedureCode = services.childText("codigoProcedimento")
			item.ProcedureDescription = services.childText("descricaoProcedimento")
			quantity = services.decimalText("quantidadeExecutada")
			unitValue = services.decimalText("valorUnitario")
			totalValue = services.decimalText("valorTotal")
		}
		item.Quantity, item.UnitValue, item.TotalValue = repairValues(quantity, unitValue, totalValue)
		item.NormalizedProcedureCode = normalize.Code(item.ProcedureCode, be.stripLeadingZeros)
		items = append(items, item)
	}

	return items
}

// repairValues applies the parse-time value repair: a zero declared total
// with positive quantity and unit value is recomputed as their product, a
// missing unit value is backfilled from the total, and a non-positive
// quantity defaults to 1.
func repairValues(quantity, unitValue, totalValue decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	if totalValue.IsZero() && unitValue.IsPositive() && quantity.IsPositive() {
		totalValue = unitValue.Mul(quantity)
	}
	if !quantity.IsPositive() {
		quantity = decimal.NewFromInt(1)
	}
	if !unitValue.IsPositive() {
		unitValue = totalValue
	}
	// The quantity default can re-establish the repair precondition; run the
	// rule once more so a zero total never coexists with positive quantity
	// and unit value.
	if totalValue.IsZero() && unitValue.IsPositive() && quantity.IsPositive() {
		totalValue = unitValue.Mul(quantity)
	}
	return quantity, unitValue, totalValue
}
