package sources

import (
	"fmt"

	"benefits_fetcher/internal/fetch"
	"benefits_fetcher/internal/models"
	"benefits_fetcher/internal/normalize"
)

// ICBC returns benefits as a list of lists under response.beneficio_data and
// reports the end of data through status.code.
type ICBC struct {
	base
}

func (i *ICBC) Pagination() fetch.Pagination {
	return fetch.Pagination{Style: fetch.PageNumber, Start: max(i.cfg.StartPage, 1)}
}

func (i *ICBC) BuildRequest(cur fetch.Cursor) (fetch.RequestSpec, error) {
	return i.get(fmt.Sprintf("%s?filter=%%7B%%7D&num_page=%d&row_by_page=%d",
		i.cfg.BaseURL, cur.Value, i.pageSize(100))), nil
}

func (i *ICBC) IsTerminal(p *fetch.RawPage) bool {
	return normalize.String(p.Doc, "status.code") != "200"
}

func (i *ICBC) ExtractItems(p *fetch.RawPage) ([]models.RawItem, error) {
	data, ok := normalize.Lookup(p.Doc, "response.beneficio_data")
	if !ok {
		return nil, nil
	}
	groups, ok := data.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: beneficio_data is %T", normalize.ErrUnexpectedShape, data)
	}

	var out []models.RawItem
	for _, g := range groups {
		out = append(out, normalize.Maps(g)...)
	}
	return out, nil
}

func (i *ICBC) Normalize(item models.RawItem) (models.BenefitRecord, error) {
	key, err := normalize.KeyOrSynthesize(i.cfg.Name, item, "id", "beneficio_id", "id_beneficio")
	if err != nil {
		return models.BenefitRecord{}, err
	}
	return i.build(key, item, normalize.Fields{
		Title:       normalize.String(item, "titulo", "nombre"),
		Merchant:    normalize.String(item, "comercio", "nombre_comercio", "marca"),
		Category:    normalize.String(item, "rubro", "categoria"),
		Discount:    normalize.String(item, "descuento", "porcentaje_descuento"),
		Description: normalize.String(item, "descripcion", "condiciones"),
	})
}
