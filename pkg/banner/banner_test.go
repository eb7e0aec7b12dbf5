package banner

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liangmulu/open-chat/pkg/config"
)

func TestWriteSummarisesConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Retention.Enabled = true
	cfg.Collaborators.Ledger.URL = "http://ledger"
	cfg.ApplyDefaults()

	var buf bytes.Buffer
	Write(&buf, config.EffectiveConfigResult{Config: cfg, Addr: ":8080", DBPath: "/data", Source: "env"}, "1.2.0")
	out := buf.String()

	assert.Contains(t, out, "Listen:   :8080")
	assert.Contains(t, out, "DB Path:  /data")
	assert.Contains(t, out, "Version:  1.2.0")
	assert.Contains(t, out, "Config: env")
	assert.Contains(t, out, "- Retention: enabled (cron=*/5 * * * *, workers=4)")
	assert.Contains(t, out, "- Ledger: http://ledger (max response 4.0 MiB)")
	assert.Contains(t, out, "- Escrow: MISSING")
}
