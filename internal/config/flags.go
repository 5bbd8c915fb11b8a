package config

import (
	"strings"
	"sync/atomic"

	"github.com/spf13/viper"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/domain/service"
)

// RuntimeFlags reads guard.enabled and guard.mode on every call. Environment
// variables (ABUSE_GUARD_ENABLED, ABUSE_GUARD_MODE) win over the file, and file
// edits are picked up by Loader.Watch.
type RuntimeFlags struct {
	current *atomic.Pointer[viper.Viper]
}

var _ service.FlagSource = (*RuntimeFlags)(nil)

// Enabled reports whether abuse enforcement runs at all.
func (f *RuntimeFlags) Enabled() bool {
	return f.current.Load().GetBool("guard.enabled")
}

// Mode returns "enforce" only when explicitly configured; anything else is shadow.
func (f *RuntimeFlags) Mode() string {
	if strings.EqualFold(strings.TrimSpace(f.current.Load().GetString("guard.mode")), models.ModeEnforce) {
		return models.ModeEnforce
	}
	return models.ModeShadow
}

// StaticFlags is a fixed FlagSource for tests and tools.
type StaticFlags struct {
	On      bool
	Current string
}

var _ service.FlagSource = StaticFlags{}

func (f StaticFlags) Enabled() bool { return f.On }

func (f StaticFlags) Mode() string {
	if f.Current == models.ModeEnforce {
		return models.ModeEnforce
	}
	return models.ModeShadow
}
