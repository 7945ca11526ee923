package app

import (
	"context"
	"errors"
	"fmt"

	"questline/internal/config"
	"questline/internal/domain"
	"questline/internal/engine"
	"questline/internal/repo"
)

// ResolveCampaign picks the active campaign and ensures it exists in the
// database, seeding one from the workspace config if missing. It prefers
// the override, then the config file, then a single-campaign DB.
func ResolveCampaign(ctx context.Context, workspace, campaignOverride, userID string, eng engine.Engine) (string, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	campaignID := campaignOverride
	if campaignID == "" && cfg != nil {
		campaignID = cfg.Campaign.ID
	}
	if campaignID == "" {
		if c, err := eng.Repo.SingleCampaign(ctx); err == nil {
			campaignID = c.ID
		} else {
			return "", nil, fmt.Errorf("campaign not specified; use --campaign or add one to %s", config.Path(workspace))
		}
	}
	if cfg == nil {
		cfg = config.Default(campaignID)
	}
	cfg.Campaign.ID = campaignID

	if _, err := eng.Repo.GetCampaign(ctx, campaignID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		name := cfg.Campaign.Name
		if name == "" {
			name = campaignID
		}
		if userID == "" {
			userID = "local-user"
		}
		if _, err := eng.InitCampaign(ctx, campaignID, name, "", userID); err != nil {
			return "", nil, fmt.Errorf("seed campaign: %w", err)
		}
	}
	return campaignID, cfg, nil
}

// ResolveCharacter maps a character name or id to its record within the
// campaign. Names are matched exactly; ambiguity is impossible because
// the lookup falls back to id only when no name matches.
func ResolveCharacter(ctx context.Context, eng engine.Engine, campaignID, nameOrID string) (domain.Character, error) {
	chars, err := eng.Repo.ListCharacters(ctx, campaignID)
	if err != nil {
		return domain.Character{}, err
	}
	for _, c := range chars {
		if c.Name == nameOrID {
			return c, nil
		}
	}
	for _, c := range chars {
		if c.ID == nameOrID {
			return c, nil
		}
	}
	return domain.Character{}, fmt.Errorf("character %q not found in campaign %s", nameOrID, campaignID)
}
