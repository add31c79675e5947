package sources

import (
	"fmt"
	"net/url"

	"benefits_fetcher/internal/fetch"
	"benefits_fetcher/internal/models"
	"benefits_fetcher/internal/normalize"
)

// Personal pages its club catalogue by offset and serves the full benefit
// from a per-id endpoint.
type Personal struct {
	base
}

func (p *Personal) Pagination() fetch.Pagination {
	return fetch.Pagination{Style: fetch.Offset, Start: p.cfg.StartPage, PageSize: p.pageSize(20)}
}

func (p *Personal) BuildRequest(cur fetch.Cursor) (fetch.RequestSpec, error) {
	return p.get(fmt.Sprintf("%s?limit=%d&source=club&offset=%d", p.cfg.BaseURL, p.pageSize(20), cur.Value)), nil
}

func (p *Personal) IsTerminal(page *fetch.RawPage) bool {
	return len(normalize.Items(page.Doc, "data")) == 0
}

func (p *Personal) ExtractItems(page *fetch.RawPage) ([]models.RawItem, error) {
	return normalize.Items(page.Doc, "data"), nil
}

func (p *Personal) IdentityOf(item models.RawItem) (string, error) {
	return normalize.RequireKey(item, "id")
}

func (p *Personal) DetailRequest(key string) (fetch.RequestSpec, error) {
	return p.get(p.cfg.BaseURL + "/" + url.PathEscape(key)), nil
}

func (p *Personal) ExtractDetail(page *fetch.RawPage) (models.RawItem, error) {
	return page.Doc, nil
}

func (p *Personal) Normalize(item models.RawItem) (models.BenefitRecord, error) {
	key, err := normalize.RequireKey(item, "id", "data.id")
	if err != nil {
		return models.BenefitRecord{}, err
	}
	return p.build(key, item, normalize.Fields{
		Title:       normalize.String(item, "title", "name", "data.title"),
		Merchant:    normalize.String(item, "brand.name", "partner.name", "commerce"),
		Category:    normalize.String(item, "category.name", "category"),
		Discount:    normalize.String(item, "discount", "benefit_value"),
		Description: normalize.String(item, "description", "legals"),
	})
}
