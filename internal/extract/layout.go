package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/JonMunkholm/orderimport/internal/sheet"
)

// field names a logical column of an order or item row.
type field string

const (
	fOrderID       field = "id"
	fOrderType     field = "tipo"
	fSalesperson   field = "vendedor"
	fCustomer      field = "cliente"
	fPhone         field = "telefone_cliente"
	fOrigin        field = "origem_cliente"
	fClosedAt      field = "datahora_fechamento"
	fReceivedAt    field = "datahora_recebimento"
	fProducts      field = "vlr_produtos"
	fServices      field = "vlr_servicos"
	fFreight       field = "frete"
	fOtherExpenses field = "out_desp"
	fInterest      field = "juros"
	fDiscount      field = "desconto"
	fNetValue      field = "vlr_liquido"
	fOrderCost     field = "custo"
	fOrderMargin   field = "percent_lucro"
	fExternalSales field = "vendedor_externo"
	fPriceTable    field = "tab_preco"
	fReturnOf      field = "pedido_da_devolucao"

	fCode          field = "codigo"
	fName          field = "nome"
	fBrand         field = "marca"
	fPromotion     field = "promocao"
	fQuantity      field = "quantidade"
	fPrice         field = "preco_venda"
	fAdjustment    field = "jurosdesc"
	fReportedTotal field = "total_liquido"
	fItemCost      field = "valor_custo"
	fPurchaseCost  field = "custo_compra"
	fItemMargin    field = "percent_lucro_item"
)

// fieldSpec lists the normalized header labels accepted for a field, in
// priority order, and the column used when the file carries no labels.
type fieldSpec struct {
	field    field
	labels   []string
	position int
}

var orderFields = []fieldSpec{
	{fOrderID, []string{"id", "pedido", "pedido_id", "numero_pedido"}, 0},
	{fOrderType, []string{"tipo", "tipo_pedido"}, 1},
	{fSalesperson, []string{"vendedor"}, 2},
	{fCustomer, []string{"cliente"}, 3},
	{fProducts, []string{"vlr_produtos", "valor_produtos", "valor_bruto"}, 4},
	{fDiscount, []string{"desconto"}, 5},
	{fNetValue, []string{"vlr_liquido", "valor_liquido"}, 6},
	{fPhone, []string{"telefone_cliente", "telefone"}, -1},
	{fOrigin, []string{"origem_cliente", "origem"}, -1},
	{fClosedAt, []string{"datahora_fechamento", "data_fechamento"}, -1},
	{fReceivedAt, []string{"datahora_recebimento", "data_recebimento"}, -1},
	{fServices, []string{"vlr_servicos", "valor_servicos"}, -1},
	{fFreight, []string{"frete"}, -1},
	{fOtherExpenses, []string{"out_desp", "outras_despesas"}, -1},
	{fInterest, []string{"juros"}, -1},
	{fOrderCost, []string{"custo"}, -1},
	{fOrderMargin, []string{"%lucro", "%_lucro", "percent_lucro"}, -1},
	{fExternalSales, []string{"vendedor_externo"}, -1},
	{fPriceTable, []string{"tab_preco", "tabela_preco"}, -1},
	{fReturnOf, []string{"pedido_da_devolucao"}, -1},
}

var itemFields = []fieldSpec{
	{fCode, []string{"codigo", "cod", "codigo_item"}, 1},
	{fName, []string{"nome", "descricao", "produto"}, 2},
	{fQuantity, []string{"quantidade", "qtd", "qtde"}, 3},
	{fPrice, []string{"preco_venda", "preco", "preco_unitario", "valor_unitario"}, 4},
	{fBrand, []string{"marca"}, 5},
	{fItemCost, []string{"valor_custo", "custo"}, 6},
	{fItemMargin, []string{"%_lucro", "%lucro", "percent_lucro"}, 7},
	{fAdjustment, []string{"jurosdesc", "juros_desc", "desconto"}, 8},
	{fPromotion, []string{"promocao"}, -1},
	{fReportedTotal, []string{"total_liquido", "total"}, -1},
	{fPurchaseCost, []string{"custo_compra"}, -1},
}

// layout maps fields to column positions for one kind of row.
type layout struct {
	cols    map[field]int
	labeled bool
}

func positionalLayout(specs []fieldSpec) layout {
	l := layout{cols: make(map[field]int, len(specs))}
	for _, s := range specs {
		l.cols[s.field] = s.position
	}
	return l
}

// bindLayout maps fields to the columns of a header row. When a label is
// repeated, its first occurrence wins.
func bindLayout(specs []fieldSpec, header sheet.Row) layout {
	labels := make([]string, len(header.Cells))
	for i := range header.Cells {
		labels[i] = normalizeLabel(header.Text(i))
	}

	l := layout{cols: make(map[field]int, len(specs)), labeled: true}
	for _, s := range specs {
		l.cols[s.field] = -1
	search:
		for _, want := range s.labels {
			for i, got := range labels {
				if got == want {
					l.cols[s.field] = i
					break search
				}
			}
		}
	}
	return l
}

// col returns the column for f, or -1 when the layout lacks it.
func (l layout) col(f field) int {
	if c, ok := l.cols[f]; ok {
		return c
	}
	return -1
}

func (l layout) cell(row sheet.Row, f field) sheet.Cell {
	return row.Cell(l.col(f))
}

func (l layout) text(row sheet.Row, f field) string {
	return row.Text(l.col(f))
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeLabel folds a header label to its lookup key: accents removed,
// lower case, "." and "/" dropped, whitespace runs joined by "_".
// "Preço Venda" becomes "preco_venda" and "Juros/Desc." becomes "jurosdesc".
func normalizeLabel(s string) string {
	folded, _, err := transform.String(accentStripper, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	folded = strings.NewReplacer(".", "", "/", "").Replace(folded)
	return strings.Join(strings.Fields(folded), "_")
}

// labelSet returns the normalized labels present in a row.
func labelSet(row sheet.Row) map[string]bool {
	set := make(map[string]bool, len(row.Cells))
	for i := range row.Cells {
		if t := row.Text(i); t != "" {
			set[normalizeLabel(t)] = true
		}
	}
	return set
}

// isOrderLabels reports whether row is the main header ("Tipo", "Id", "Vendedor").
func isOrderLabels(row sheet.Row) bool {
	set := labelSet(row)
	return set["tipo"] && set["id"] && set["vendedor"]
}

// isItemLabels reports whether row is an item header (contains "Código").
func isItemLabels(row sheet.Row) bool {
	set := labelSet(row)
	return set["codigo"] && !set["id"]
}
