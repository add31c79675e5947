// Package sources holds one adapter per partner API. Each adapter knows its
// endpoint, cursor arithmetic, terminal signal and payload shape; nothing
// downstream of New looks at which partner it is dealing with.
package sources

import (
	"errors"
	"fmt"
	"net/http"

	"benefits_fetcher/internal/config"
	"benefits_fetcher/internal/fetch"
	"benefits_fetcher/internal/models"
	"benefits_fetcher/internal/normalize"
)

var ErrDetailNotOK = errors.New("detail response not OK")

// New builds the adapter for cfg.Kind.
func New(cfg config.SourceConfig) (fetch.Adapter, error) {
	b := base{cfg: cfg}

	switch cfg.Kind {
	case "ciudad":
		return &Ciudad{base: b}, nil
	case "lanacion":
		return &LaNacion{base: b}, nil
	case "supervielle":
		return &Supervielle{base: b}, nil
	case "personal":
		return &Personal{base: b}, nil
	case "santander":
		return &Santander{base: b}, nil
	case "icbc":
		return &ICBC{base: b}, nil
	default:
		return nil, fmt.Errorf("%w %q", config.ErrUnknownKind, cfg.Kind)
	}
}

type base struct {
	cfg config.SourceConfig
}

func (b base) Name() string { return b.cfg.Name }

func (b base) Format() normalize.Format { return normalize.FormatJSON }

func (b base) pageSize(def int) int {
	if b.cfg.PageSize > 0 {
		return b.cfg.PageSize
	}
	return def
}

func (b base) get(url string) fetch.RequestSpec {
	return b.decorate(fetch.RequestSpec{Method: http.MethodGet, URL: url})
}

func (b base) post(url string, body any) (fetch.RequestSpec, error) {
	spec, err := fetch.JSONRequest(http.MethodPost, url, body)
	if err != nil {
		return spec, err
	}
	return b.decorate(spec), nil
}

func (b base) decorate(spec fetch.RequestSpec) fetch.RequestSpec {
	if len(b.cfg.Headers) > 0 {
		headers := make(map[string]string, len(spec.Headers)+len(b.cfg.Headers))
		for k, v := range spec.Headers {
			headers[k] = v
		}
		for k, v := range b.cfg.Headers {
			headers[k] = v
		}
		spec.Headers = headers
	}
	spec.InsecureTLS = b.cfg.RelaxedTLS()
	return spec
}

func (b base) build(key string, item map[string]any, f normalize.Fields) (models.BenefitRecord, error) {
	return normalize.Build(b.cfg.Name, key, item, f)
}
