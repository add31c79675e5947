package sources

import (
	"benefits_fetcher/internal/fetch"
	"benefits_fetcher/internal/models"
	"benefits_fetcher/internal/normalize"
)

// LaNacion is the Club La Nación account search.
type LaNacion struct {
	base
}

// Pagination is page numbered: the API's "from" parameter takes the page,
// not a row offset.
func (l *LaNacion) Pagination() fetch.Pagination {
	return fetch.Pagination{Style: fetch.PageNumber, Start: max(l.cfg.StartPage, 1)}
}

func (l *LaNacion) BuildRequest(cur fetch.Cursor) (fetch.RequestSpec, error) {
	return l.post(l.cfg.BaseURL, map[string]any{
		"data":    "",
		"filters": []any{},
		"from":    cur.Value,
		"sort":    "newest",
		"size":    l.pageSize(50),
	})
}

func (l *LaNacion) IsTerminal(p *fetch.RawPage) bool {
	return len(normalize.Items(p.Doc, "data")) == 0
}

func (l *LaNacion) ExtractItems(p *fetch.RawPage) ([]models.RawItem, error) {
	return normalize.Items(p.Doc, "data"), nil
}

func (l *LaNacion) Normalize(item models.RawItem) (models.BenefitRecord, error) {
	key, err := normalize.KeyOrSynthesize(l.cfg.Name, item, "id", "_id", "crmid")
	if err != nil {
		return models.BenefitRecord{}, err
	}
	return l.build(key, item, normalize.Fields{
		Title:       normalize.String(item, "title", "name", "nombre"),
		Merchant:    normalize.String(item, "account.name", "name"),
		Category:    normalize.String(item, "category.name", "category"),
		Discount:    normalize.String(item, "benefit", "discount", "max_discount"),
		Description: normalize.String(item, "description"),
	})
}
