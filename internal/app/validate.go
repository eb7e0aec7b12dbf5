package app

import (
	"fmt"
	"net/url"

	"github.com/adhocore/gronx"

	"github.com/liangmulu/open-chat/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.Config == nil {
		return fmt.Errorf("no effective config")
	}
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, CHATLOG_DB_PATH env, or server.db_path in config")
	}
	if err := eff.Config.Validate(); err != nil {
		return err
	}
	if r := eff.Config.Retention; r.Enabled && !gronx.IsValid(r.Cron) {
		return fmt.Errorf("invalid retention cron expression: %q", r.Cron)
	}
	for name, ep := range map[string]config.EndpointConfig{
		"ledger":   eff.Config.Collaborators.Ledger,
		"escrow":   eff.Config.Collaborators.Escrow,
		"blobs":    eff.Config.Collaborators.Blobs,
		"exporter": eff.Config.Collaborators.Exporter,
	} {
		if ep.URL == "" {
			continue
		}
		u, err := url.Parse(ep.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("collaborators.%s.url must be an absolute http(s) URL: %q", name, ep.URL)
		}
	}
	return nil
}
