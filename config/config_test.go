package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server:     ServerConfig{Port: 3000},
		Database:   DatabaseConfig{URL: "http://localhost:5984", Database: "pryv"},
		Versioning: VersioningConfig{DeletionMode: "keep-nothing"},
		Messaging:  MessagingConfig{Transport: "redis"},
	}
}

func TestValidateConfig(t *testing.T) {
	require.NoError(t, ValidateConfig(validConfig()))

	bad := validConfig()
	bad.Server.Port = 0
	assert.Error(t, ValidateConfig(bad))

	bad = validConfig()
	bad.Versioning.DeletionMode = "keep-some"
	assert.Error(t, ValidateConfig(bad))

	bad = validConfig()
	bad.Messaging.Transport = "carrier-pigeon"
	assert.Error(t, ValidateConfig(bad))

	bad = validConfig()
	bad.Database.URL = ""
	assert.Error(t, ValidateConfig(bad))

	// The in-memory store needs no database URL.
	bad.Database.InMemory = true
	assert.NoError(t, ValidateConfig(bad))
}

func TestParseTrustedApps(t *testing.T) {
	apps := ParseTrustedApps("pryv-lab@https://*.pryv.me*, *@https://trusted.example, bare-app")
	require.Len(t, apps, 3)
	assert.Equal(t, TrustedApp{AppID: "pryv-lab", Origin: "https://*.pryv.me*"}, apps[0])
	assert.Equal(t, TrustedApp{AppID: "*", Origin: "https://trusted.example"}, apps[1])
	// No origin part defaults to any origin.
	assert.Equal(t, TrustedApp{AppID: "bare-app", Origin: "*"}, apps[2])

	assert.Nil(t, ParseTrustedApps(""))
}

func TestMatchTrustedApp(t *testing.T) {
	apps := ParseTrustedApps("pryv-lab@https://*.pryv.me*, *@https://trusted.example")

	assert.True(t, MatchTrustedApp(apps, "pryv-lab", "https://app.pryv.me"))
	assert.True(t, MatchTrustedApp(apps, "pryv-lab", "https://app.pryv.me/login"))
	assert.True(t, MatchTrustedApp(apps, "anything", "https://trusted.example"))

	assert.False(t, MatchTrustedApp(apps, "other-app", "https://app.pryv.me"))
	assert.False(t, MatchTrustedApp(apps, "pryv-lab", "https://evil.example"))
	assert.False(t, MatchTrustedApp(apps, "anything", "https://trusted.example.evil.com"))
}

func TestWildcardMatch(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "anything", true},
		{"exact", "exact", true},
		{"exact", "exactly", false},
		{"https://*.pryv.me", "https://a.pryv.me", true},
		{"https://*.pryv.me", "https://a.pryv.me.evil", false},
		{"a*b*c", "aXbYc", true},
		{"a*b*c", "aXcYb", false},
		{"*suffix", "has-suffix", true},
		{"prefix*", "prefix-more", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, wildcardMatch(tc.pattern, tc.s), "%s vs %s", tc.pattern, tc.s)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "keep-nothing", cfg.Versioning.DeletionMode)
	assert.Equal(t, 5000, cfg.Webhooks.MinIntervalMs)
	assert.Equal(t, float64(336*3600), cfg.Auth.SessionMaxAge.Seconds())
	assert.True(t, cfg.BackwardCompatibility.TagsActive)
}
