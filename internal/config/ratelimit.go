package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/quota/internal/failure"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	ProfileAuth    = "auth"
	ProfileAPI     = "api"
	ProfilePayment = "payment"
)

// RateLimitProfile is a named request budget applied per caller.
type RateLimitProfile struct {
	MaxRequests   int64         `mapstructure:"maxRequests"`
	Window        time.Duration `mapstructure:"window"`
	FailurePolicy string        `mapstructure:"failurePolicy"`
}

type RateLimitProfiles map[string]RateLimitProfile

func DefaultRateLimitProfiles() RateLimitProfiles {
	return RateLimitProfiles{
		ProfileAuth:    {MaxRequests: 5, Window: time.Minute},
		ProfileAPI:     {MaxRequests: 100, Window: time.Minute},
		ProfilePayment: {MaxRequests: 10, Window: time.Minute},
	}
}

// Names returns the profile names in stable order.
func (p RateLimitProfiles) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type RateLimitProfilesHolder struct {
	current atomic.Value // holds RateLimitProfiles
}

// NewRateLimitProfilesHolder reads ratelimit.yml when present and keeps it
// hot reloaded. Missing files fall back to the built-in profiles.
func NewRateLimitProfilesHolder(log *zap.Logger) (*RateLimitProfilesHolder, error) {
	v := viper.New()

	v.SetConfigName("ratelimit")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/quota/config")
	v.AddConfigPath("/etc/quota")
	v.AddConfigPath(".")
	if path := strings.TrimSpace(os.Getenv("RATE_LIMIT_PROFILES_FILE")); path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("QUOTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return newRateLimitProfilesHolder(v, log)
}

func newRateLimitProfilesHolder(v *viper.Viper, log *zap.Logger) (*RateLimitProfilesHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.ratelimit")

	holder := &RateLimitProfilesHolder{}

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
		found = false
	}

	profiles, err := decodeRateLimitProfiles(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(profiles)

	if !found {
		log.Info("rate limit profiles file not found, using defaults", zap.Strings("profiles", profiles.Names()))
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeRateLimitProfiles(v)
		if err != nil {
			log.Warn("rate limit profiles reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("rate limit profiles reloaded", zap.String("file", e.Name), zap.Strings("profiles", updated.Names()))
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticRateLimitProfilesHolder wraps fixed profiles, mainly for tests.
func NewStaticRateLimitProfilesHolder(profiles RateLimitProfiles) *RateLimitProfilesHolder {
	holder := &RateLimitProfilesHolder{}
	holder.current.Store(profiles)
	return holder
}

func (h *RateLimitProfilesHolder) Get() RateLimitProfiles {
	return h.current.Load().(RateLimitProfiles)
}

// Profile looks up a profile by name, case-insensitively.
func (h *RateLimitProfilesHolder) Profile(name string) (RateLimitProfile, bool) {
	profile, ok := h.Get()[strings.ToLower(strings.TrimSpace(name))]
	return profile, ok
}

func decodeRateLimitProfiles(v *viper.Viper) (RateLimitProfiles, error) {
	profiles := DefaultRateLimitProfiles()

	var fromFile map[string]RateLimitProfile
	if err := v.UnmarshalKey("ratelimit.profiles", &fromFile); err != nil {
		return nil, err
	}
	for name, profile := range fromFile {
		profiles[strings.ToLower(strings.TrimSpace(name))] = profile
	}

	if err := validateRateLimitProfiles(profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

func validateRateLimitProfiles(profiles RateLimitProfiles) error {
	for name, profile := range profiles {
		if name == "" {
			return errors.New("ratelimit.profiles: empty profile name")
		}
		if profile.MaxRequests <= 0 {
			return fmt.Errorf("ratelimit.profiles.%s.maxRequests must be positive", name)
		}
		if profile.Window <= 0 {
			return fmt.Errorf("ratelimit.profiles.%s.window must be positive", name)
		}
		if _, err := failure.ParsePolicy(profile.FailurePolicy, failure.PolicyFailClosed); err != nil {
			return fmt.Errorf("ratelimit.profiles.%s.failurePolicy: %w", name, err)
		}
	}
	return nil
}
