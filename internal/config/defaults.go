package config

// DefaultSources describes the partner endpoints the fetcher was built for.
// Entries in config.yaml override any of these fields.
func DefaultSources() map[string]SourceConfig {
	return map[string]SourceConfig{
		"ciudad": {
			Name:       "CIUDAD",
			Kind:       "ciudad",
			Collection: "Ciudad",
			BaseURL:    "https://www.bancociudad.com.ar/beneficios_rest/beneficios",
			StartPage:  1,
		},
		"lanacion": {
			Name:       "LANACION",
			Kind:       "lanacion",
			Collection: "LaNacion",
			BaseURL:    "https://api-club.lanacion.com.ar/api/accounts/search",
			PageSize:   50,
			StartPage:  1,
		},
		"supervielle": {
			Name:       "SUPERVIELLE",
			Kind:       "supervielle",
			Collection: "Superville",
			BaseURL:    "https://www.supervielle.com.ar/api",
			Aliases:    []string{"SUPERVILLE"},
			Headers: map[string]string{
				"Accept":       "application/json",
				"Content-Type": "application/json",
			},
		},
		"personal": {
			Name:       "PERSONAL",
			Kind:       "personal",
			Collection: "Personal",
			BaseURL:    "https://www.personalpay.com.ar/api/benefits",
			PageSize:   20,
		},
		"santander": {
			Name:        "SANTANDER",
			Kind:        "santander",
			Collection:  "Santander",
			BaseURL:     "https://www.santander.com.ar/banco/contenthandler/searchfeed/search",
			PageSize:    100,
			InsecureTLS: ptr(true),
		},
		"icbc": {
			Name:        "ICBC",
			Kind:        "icbc",
			Collection:  "ICBC",
			BaseURL:     "https://api-prod-icbc.pisol.net/beneficios/list",
			PageSize:    100,
			StartPage:   1,
			InsecureTLS: ptr(true),
		},
	}
}
