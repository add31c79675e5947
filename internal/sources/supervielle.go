package sources

import (
	"fmt"
	"net/url"

	"benefits_fetcher/internal/fetch"
	"benefits_fetcher/internal/models"
	"benefits_fetcher/internal/normalize"
)

// identity flags the two customer segments Supervielle publishes separately.
var identityFlags = []string{"false", "true"}

// Supervielle has no paging. Benefits are listed per rubro, and the rubro
// list itself differs per customer segment.
type Supervielle struct {
	base
}

func (s *Supervielle) Pagination() fetch.Pagination {
	return fetch.Pagination{Style: fetch.CategoryEnumeration}
}

func (s *Supervielle) CategoryRequests() ([]fetch.CategoryRequest, error) {
	seeds := make([]fetch.CategoryRequest, 0, len(identityFlags))
	for _, flag := range identityFlags {
		seeds = append(seeds, fetch.CategoryRequest{
			Spec:   s.get(s.cfg.BaseURL + "/rubros/?esIdentite=" + flag),
			Params: map[string]string{"esIdentite": flag},
		})
	}
	return seeds, nil
}

func (s *Supervielle) ExtractCategories(p *fetch.RawPage, seed fetch.CategoryRequest) ([]fetch.Category, error) {
	rubros, ok := p.Doc["rubros"]
	if !ok {
		return nil, fmt.Errorf("%w: rubros missing", normalize.ErrUnexpectedShape)
	}

	var out []fetch.Category
	for _, r := range normalize.Maps(rubros) {
		name := normalize.String(r, "nombre")
		if name == "" {
			continue
		}
		out = append(out, fetch.Category{Name: name, Params: seed.Params})
	}
	return out, nil
}

func (s *Supervielle) BuildRequest(cur fetch.Cursor) (fetch.RequestSpec, error) {
	if cur.Category == nil {
		return fetch.RequestSpec{}, fmt.Errorf("supervielle: cursor %s has no category", cur)
	}
	return s.get(fmt.Sprintf("%s/beneficios?rubro=%s&esIdentite=%s",
		s.cfg.BaseURL, url.QueryEscape(cur.Category.Name), cur.Category.Params["esIdentite"])), nil
}

func (s *Supervielle) IsTerminal(p *fetch.RawPage) bool {
	return normalize.String(p.Doc, "codigo") != "OK" || len(normalize.Items(p.Doc, "beneficios")) == 0
}

func (s *Supervielle) ExtractItems(p *fetch.RawPage) ([]models.RawItem, error) {
	return normalize.Items(p.Doc, "beneficios"), nil
}

func (s *Supervielle) Normalize(item models.RawItem) (models.BenefitRecord, error) {
	key, err := normalize.RequireKey(item, "id", "idBeneficio")
	if err != nil {
		return models.BenefitRecord{}, err
	}
	return s.build(key, item, normalize.Fields{
		Title:       normalize.String(item, "titulo", "nombre"),
		Merchant:    normalize.String(item, "comercio.nombre", "comercio", "marca"),
		Category:    normalize.String(item, "rubro.nombre", "rubro"),
		Discount:    normalize.String(item, "descuento", "porcentaje"),
		Description: normalize.String(item, "descripcion", "legales"),
	})
}
