package sources

import (
	"fmt"

	"benefits_fetcher/internal/fetch"
	"benefits_fetcher/internal/models"
	"benefits_fetcher/internal/normalize"
)

const santanderCatalog = "search_service_portal::/aplicaciones/tsr/collections/catalogo"

// Santander publishes an Atom search feed. Entries are converted from XML,
// namespace prefixes stripped, and their repeated field elements folded.
type Santander struct {
	base
}

func (s *Santander) Format() normalize.Format { return normalize.FormatXML }

func (s *Santander) Pagination() fetch.Pagination {
	return fetch.Pagination{Style: fetch.Offset, Start: s.cfg.StartPage, PageSize: s.pageSize(100)}
}

func (s *Santander) BuildRequest(cur fetch.Cursor) (fetch.RequestSpec, error) {
	return s.get(fmt.Sprintf("%s?sortKey=sortdestdefault&sortOrder=asc&index=%s&query=*&start=%d&results=%d",
		s.cfg.BaseURL, santanderCatalog, cur.Value, s.pageSize(100))), nil
}

func (s *Santander) IsTerminal(p *fetch.RawPage) bool {
	_, ok := normalize.Lookup(p.Doc, "feed.entry")
	return !ok
}

func (s *Santander) ExtractItems(p *fetch.RawPage) ([]models.RawItem, error) {
	return normalize.Items(p.Doc, "feed.entry"), nil
}

func (s *Santander) Normalize(item models.RawItem) (models.BenefitRecord, error) {
	key, err := normalize.RequireKey(item, "id")
	if err != nil {
		return models.BenefitRecord{}, err
	}

	fields := normalize.FlattenFields(item["field"])
	category := normalize.Text(normalize.Attributes(item["category"])["label"])
	if category == "" {
		category = normalize.Text(normalize.Attributes(item["category"])["term"])
	}

	return s.build(key, item, normalize.Fields{
		Title:       normalize.String(item, "title"),
		Merchant:    first(fields, "comercio", "marca", "nombre_comercio"),
		Category:    category,
		Discount:    first(fields, "descuento", "porcentaje", "beneficio"),
		Description: normalize.String(item, "summary"),
		Field:       fields,
	})
}

// first returns the first value of the first field id present.
func first(fields map[string][]string, ids ...string) string {
	for _, id := range ids {
		for _, v := range fields[id] {
			if v != "" {
				return v
			}
		}
	}
	return ""
}
