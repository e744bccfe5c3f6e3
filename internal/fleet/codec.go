package fleet

import (
	"github.com/goccy/go-json"
)

// document is the on-disk shape. Bots are decoded by raw name first so that
// names outside the known set can be separated out instead of failing the load.
type document struct {
	Bots           map[string]BotDefinition `json:"bots"`
	GlobalSettings GlobalSettings           `json:"global_settings"`
}

// Decode parses a fleet config document.
func Decode(data []byte) (*FleetConfig, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	cfg := &FleetConfig{
		Bots:           make(map[BotName]BotDefinition, len(doc.Bots)),
		GlobalSettings: doc.GlobalSettings,
	}
	for raw, def := range doc.Bots {
		name := BotName(raw)
		if !name.IsKnown() {
			if cfg.Unknown == nil {
				cfg.Unknown = make(map[string]BotDefinition)
			}
			cfg.Unknown[raw] = def
			continue
		}
		cfg.Bots[name] = def
	}
	return cfg, nil
}

// Encode renders the full document, unknown entries included.
func Encode(cfg *FleetConfig) ([]byte, error) {
	doc := document{
		Bots:           make(map[string]BotDefinition, len(cfg.Bots)+len(cfg.Unknown)),
		GlobalSettings: cfg.GlobalSettings,
	}
	for raw, def := range cfg.Unknown {
		doc.Bots[raw] = def
	}
	for name, def := range cfg.Bots {
		doc.Bots[string(name)] = def
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
