package sources

import (
	"fmt"
	"net/url"

	"benefits_fetcher/internal/fetch"
	"benefits_fetcher/internal/models"
	"benefits_fetcher/internal/normalize"
)

// Ciudad lists benefit ids page by page through a search POST, then fetches
// every benefit on its own.
type Ciudad struct {
	base
}

func (c *Ciudad) Pagination() fetch.Pagination {
	return fetch.Pagination{Style: fetch.PageNumber, Start: max(c.cfg.StartPage, 1)}
}

func (c *Ciudad) BuildRequest(cur fetch.Cursor) (fetch.RequestSpec, error) {
	body := map[string]any{
		"header": map[string]any{},
		"data": map[string]any{
			"comercio":            "",
			"rubros":              []int{0},
			"latitud":             nil,
			"longitud":            nil,
			"numero_pagina":       cur.Value,
			"medios_de_pago":      []int{0},
			"limite_descuento":    0,
			"cuota":               0,
			"dias":                "",
			"distancia":           0,
			"ordenamiento":        "distancia",
			"tipo_cliente":        "persona",
			"categoria_shoppings": false,
		},
	}
	return c.post(c.cfg.BaseURL+"/busqueda", body)
}

func (c *Ciudad) IsTerminal(p *fetch.RawPage) bool {
	return len(normalize.Items(p.Doc, "retorno.beneficios")) == 0
}

func (c *Ciudad) ExtractItems(p *fetch.RawPage) ([]models.RawItem, error) {
	return normalize.Items(p.Doc, "retorno.beneficios"), nil
}

func (c *Ciudad) IdentityOf(item models.RawItem) (string, error) {
	return normalize.RequireKey(item, "id")
}

func (c *Ciudad) DetailRequest(key string) (fetch.RequestSpec, error) {
	body := map[string]any{
		"header": map[string]any{},
		"data":   map[string]any{"latitud": nil, "longitud": nil},
	}
	return c.post(c.cfg.BaseURL+"/"+url.PathEscape(key), body)
}

func (c *Ciudad) ExtractDetail(p *fetch.RawPage) (models.RawItem, error) {
	if msg := normalize.String(p.Doc, "mensaje"); msg != "OK" {
		return nil, fmt.Errorf("%w: mensaje %q", ErrDetailNotOK, msg)
	}
	retorno, ok := p.Doc["retorno"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: retorno missing", normalize.ErrMalformedItem)
	}
	return retorno, nil
}

func (c *Ciudad) Normalize(item models.RawItem) (models.BenefitRecord, error) {
	key, err := normalize.RequireKey(item, "beneficio.id")
	if err != nil {
		return models.BenefitRecord{}, err
	}
	return c.build(key, item, normalize.Fields{
		Title:       normalize.String(item, "beneficio.titulo", "beneficio.nombre"),
		Merchant:    normalize.String(item, "beneficio.comercio.nombre", "comercio.nombre", "beneficio.comercio"),
		Category:    normalize.String(item, "beneficio.rubro.nombre", "rubro.nombre", "beneficio.rubro"),
		Discount:    normalize.String(item, "beneficio.descuento", "beneficio.porcentaje_descuento"),
		Description: normalize.String(item, "beneficio.descripcion", "beneficio.legales"),
	})
}
