package fleet

import (
	"context"

	ferrors "fleet-trader/internal/errors"
)

// SetEmergencyStop flips the global kill switch. This is the operator's write
// path into the shared document.
func SetEmergencyStop(ctx context.Context, store Store, tmpl TemplateSource, on bool) (*FleetConfig, error) {
	cfg, _, err := LoadOrInit(ctx, store, tmpl)
	if err != nil {
		return nil, err
	}
	if cfg.GlobalSettings.EmergencyStop == on {
		return cfg, nil
	}
	cfg.GlobalSettings.EmergencyStop = on
	if err := store.Save(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetAllocation changes a bot's equity fraction.
func SetAllocation(ctx context.Context, store Store, tmpl TemplateSource, bot BotName, fraction float64) (*FleetConfig, error) {
	if fraction < 0 || fraction > 1 {
		return nil, ferrors.NewValidationError("allocation", fraction, "must be within [0,1]")
	}
	cfg, _, err := LoadOrInit(ctx, store, tmpl)
	if err != nil {
		return nil, err
	}
	def, ok := cfg.Bots[bot]
	if !ok {
		return nil, ferrors.Wrapf(ferrors.ErrUnknownBot, "%s is not in the fleet config", bot)
	}
	def.Allocation = fraction
	cfg.Bots[bot] = def
	if err := store.Save(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
