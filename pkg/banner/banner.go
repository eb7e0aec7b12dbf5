package banner

import (
	"fmt"
	"io"
	"os"

	"github.com/liangmulu/open-chat/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗██╗      ██████╗  ██████╗ 
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██║     ██╔═══██╗██╔════╝ 
██║     ███████║███████║   ██║   ██║     ██║   ██║██║  ███╗
██║     ██╔══██║██╔══██║   ██║   ██║     ██║   ██║██║   ██║
╚██████╗██║  ██║██║  ██║   ██║   ███████╗╚██████╔╝╚██████╔╝
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝ ╚═════╝  ╚═════╝ 
`

// PrintWithEff prints the banner to stdout.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	Write(os.Stdout, eff, version)
}

// Write prints the banner and a summary of the effective config to w.
func Write(w io.Writer, eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Listen:   %s\n", addr)
	fmt.Fprintf(w, "DB Path:  %s\n", eff.DBPath)
	if version != "" {
		fmt.Fprintf(w, "Version:  %s\n", version)
	}
	fmt.Fprintf(w, "Config: %s\n", src)

	fmt.Fprintln(w, "\n== Endpoints ==================================================")
	fmt.Fprintln(w, "GET  /healthz")
	fmt.Fprintln(w, "GET  /metrics")
	fmt.Fprintln(w, "GET  /admin/chats")
	fmt.Fprintln(w, "GET  /admin/chats/<key>/metrics")
	fmt.Fprintln(w, "GET  /admin/jobs")
	fmt.Fprintln(w, "POST /admin/retention/run")

	if eff.Config == nil {
		return
	}
	cfg := eff.Config
	fmt.Fprintln(w, "\n== Production? =================================================")
	if cfg.Retention.Enabled {
		state := "enabled"
		if cfg.Retention.Paused {
			state = "paused"
		}
		fmt.Fprintf(w, "- Retention: %s (cron=%s, workers=%d)\n", state, cfg.Retention.Cron, cfg.Retention.Workers)
	} else {
		fmt.Fprintln(w, "- Retention: disabled")
	}
	if cfg.Workflow.StepsPerSecond > 0 {
		fmt.Fprintf(w, "- Workflow: %.1f steps/s, poll %s\n", cfg.Workflow.StepsPerSecond, cfg.Workflow.PollInterval.Duration())
	} else {
		fmt.Fprintf(w, "- Workflow: unthrottled, poll %s\n", cfg.Workflow.PollInterval.Duration())
	}
	for _, ep := range []struct {
		name string
		cfg  config.EndpointConfig
	}{
		{"Ledger", cfg.Collaborators.Ledger},
		{"Escrow", cfg.Collaborators.Escrow},
		{"Blobs", cfg.Collaborators.Blobs},
		{"Exporter", cfg.Collaborators.Exporter},
	} {
		if ep.cfg.URL == "" {
			fmt.Fprintf(w, "- %s: MISSING (jobs that need it will fail)\n", ep.name)
			continue
		}
		fmt.Fprintf(w, "- %s: %s (max response %s)\n", ep.name, ep.cfg.URL, ep.cfg.MaxResponseBytes)
	}
	fmt.Fprintln(w, "\n== Logs: =================================================")
}
