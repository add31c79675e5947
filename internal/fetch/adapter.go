package fetch

import (
	"fmt"
	"sort"
	"strings"

	"benefits_fetcher/internal/models"
	"benefits_fetcher/internal/normalize"
)

type PaginationStyle int

const (
	PageNumber PaginationStyle = iota
	Offset
	CategoryEnumeration
)

func (s PaginationStyle) String() string {
	switch s {
	case Offset:
		return "offset"
	case CategoryEnumeration:
		return "category"
	default:
		return "page"
	}
}

// Pagination holds the cursor arithmetic of a source.
type Pagination struct {
	Style    PaginationStyle
	Start    int
	PageSize int
}

// Cursor returns the cursor for the zero-based step. Offset sources count
// Start in pages, so the value sent is (Start+step)*PageSize.
func (p Pagination) Cursor(step int) Cursor {
	if p.Style == Offset {
		return Cursor{Step: step, Value: (p.Start + step) * p.PageSize}
	}
	return Cursor{Step: step, Value: p.Start + step}
}

type Category struct {
	Name   string
	Params map[string]string
}

// Cursor selects one request: a page/offset value, a category, or an
// identity key during the detail stage.
type Cursor struct {
	Step     int
	Value    int
	Category *Category
	Key      string
}

func (c Cursor) String() string {
	switch {
	case c.Key != "":
		return "id=" + c.Key
	case c.Category != nil:
		parts := []string{"category=" + c.Category.Name}
		for _, k := range sortedKeys(c.Category.Params) {
			parts = append(parts, k+"="+c.Category.Params[k])
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("cursor=%d", c.Value)
	}
}

// RawPage is one decoded response. It lives for a single pagination step.
type RawPage struct {
	Cursor Cursor
	Body   []byte
	Doc    map[string]any
}

// Adapter is the per-partner capability the pipeline is driven through.
type Adapter interface {
	Name() string
	Format() normalize.Format
	Pagination() Pagination
	BuildRequest(c Cursor) (RequestSpec, error)
	IsTerminal(p *RawPage) bool
	ExtractItems(p *RawPage) ([]models.RawItem, error)
	Normalize(item models.RawItem) (models.BenefitRecord, error)
}

type CategoryRequest struct {
	Spec   RequestSpec
	Params map[string]string
}

// CategorySource is implemented by adapters paginating over categories that
// must be discovered first.
type CategorySource interface {
	CategoryRequests() ([]CategoryRequest, error)
	ExtractCategories(p *RawPage, seed CategoryRequest) ([]Category, error)
}

// DetailSource is implemented by two-phase adapters: listing pages yield
// identity keys and each key is fetched on its own.
type DetailSource interface {
	IdentityOf(item models.RawItem) (string, error)
	DetailRequest(key string) (RequestSpec, error)
	ExtractDetail(p *RawPage) (models.RawItem, error)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
