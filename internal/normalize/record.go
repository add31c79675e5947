package normalize

import (
	"fmt"
	"time"

	"benefits_fetcher/internal/keyqueue"
	"benefits_fetcher/internal/models"
)

// Now stamps fetched_at. Tests replace it.
var Now = time.Now

// Fields are the best-effort normalized attributes of a benefit.
type Fields struct {
	Title       string
	Merchant    string
	Category    string
	Discount    string
	Description string
	Field       map[string][]string
}

// RequireKey returns the first non-empty id found at paths.
func RequireKey(item models.RawItem, paths ...string) (string, error) {
	for _, p := range paths {
		if v, ok := Lookup(item, p); ok {
			if key := Text(v); key != "" {
				return key, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no id at %v", ErrMalformedItem, paths)
}

// KeyOrSynthesize falls back to a content hash when the item carries no id.
func KeyOrSynthesize(source string, item models.RawItem, paths ...string) (string, error) {
	if key, err := RequireKey(item, paths...); err == nil {
		return key, nil
	}
	key, err := keyqueue.SynthesizeKey(source, item)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	return key, nil
}

// Build assembles a canonical record. The raw payload is kept as received.
func Build(source, key string, raw models.RawItem, f Fields) (models.BenefitRecord, error) {
	if key == "" {
		return models.BenefitRecord{}, fmt.Errorf("%w: empty identity key", ErrMalformedItem)
	}
	if raw == nil {
		return models.BenefitRecord{}, fmt.Errorf("%w: empty payload", ErrMalformedItem)
	}

	return models.BenefitRecord{
		Source:      source,
		IdentityKey: key,
		FetchedAt:   Now().UTC(),
		Title:       PlainText(f.Title),
		Merchant:    PlainText(f.Merchant),
		Category:    PlainText(f.Category),
		Discount:    PlainText(f.Discount),
		Description: PlainText(f.Description),
		Field:       f.Field,
		Raw:         raw,
	}, nil
}
