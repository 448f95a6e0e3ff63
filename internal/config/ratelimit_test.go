package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smallbiznis/quota/internal/failure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRateLimitProfilesDefaultsWhenFileMissing(t *testing.T) {
	v := viper.New()
	v.SetConfigName("ratelimit")
	v.SetConfigType("yml")
	v.AddConfigPath(t.TempDir())

	holder, err := newRateLimitProfilesHolder(v, zap.NewNop())
	require.NoError(t, err)

	auth, ok := holder.Profile("AUTH")
	require.True(t, ok)
	assert.Equal(t, int64(5), auth.MaxRequests)
	assert.Equal(t, time.Minute, auth.Window)

	api, _ := holder.Profile(ProfileAPI)
	assert.Equal(t, int64(100), api.MaxRequests)
	payment, _ := holder.Profile(ProfilePayment)
	assert.Equal(t, int64(10), payment.MaxRequests)
}

func TestRateLimitProfilesFileOverridesAndExtends(t *testing.T) {
	dir := t.TempDir()
	body := `
ratelimit:
  profiles:
    api:
      maxRequests: 250
      window: 30s
    export:
      maxRequests: 2
      window: 1h
      failurePolicy: fail_open
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ratelimit.yml"), []byte(body), 0o600))

	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, "ratelimit.yml"))

	holder, err := newRateLimitProfilesHolder(v, zap.NewNop())
	require.NoError(t, err)

	api, ok := holder.Profile(ProfileAPI)
	require.True(t, ok)
	assert.Equal(t, int64(250), api.MaxRequests)
	assert.Equal(t, 30*time.Second, api.Window)

	export, ok := holder.Profile("export")
	require.True(t, ok)
	assert.Equal(t, time.Hour, export.Window)
	assert.Equal(t, "fail_open", export.FailurePolicy)

	_, ok = holder.Profile(ProfileAuth)
	assert.True(t, ok, "built-in profiles stay available")
}

func TestRateLimitProfilesRejectInvalidFile(t *testing.T) {
	dir := t.TempDir()
	body := `
ratelimit:
  profiles:
    auth:
      maxRequests: 0
      window: 60s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ratelimit.yml"), []byte(body), 0o600))

	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, "ratelimit.yml"))

	_, err := newRateLimitProfilesHolder(v, zap.NewNop())
	assert.Error(t, err)
}

func TestRateLimitProfilesFailurePolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  string
		wantErr bool
	}{
		{name: "canonical", policy: "fail_closed"},
		{name: "short alias", policy: "open"},
		{name: "dashed", policy: "fail-open"},
		{name: "unknown", policy: "bogus", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			body := `
ratelimit:
  profiles:
    export:
      maxRequests: 10
      window: 1h
      failurePolicy: ` + tt.policy + `
`
			require.NoError(t, os.WriteFile(filepath.Join(dir, "ratelimit.yml"), []byte(body), 0o600))

			v := viper.New()
			v.SetConfigFile(filepath.Join(dir, "ratelimit.yml"))

			_, err := newRateLimitProfilesHolder(v, zap.NewNop())
			if tt.wantErr {
				assert.ErrorIs(t, err, failure.ErrConfiguration)
				return
			}
			assert.NoError(t, err)
		})
	}
}
