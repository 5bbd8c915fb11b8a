// Package counterstore implements the atomic counter and set-once store the
// decision engine runs on: a Redis implementation for shared deployments and an
// in-process one for single-node setups and tests.
package counterstore

import (
	"fmt"
	"strings"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/pkg/constants"
)

// RateKey returns abuse:rate:{action}:{keyBy}:{identityValue}.
func RateKey(action models.Action, keyBy models.Dimension, value string) string {
	return fmt.Sprintf("%s:%s:%s:%s", constants.KeyPrefixRate, action, keyBy, value)
}

// DedupKey returns abuse:dedup:{action}:{userId}:{contentHash}.
func DedupKey(action models.Action, userID, contentHash string) string {
	return fmt.Sprintf("%s:%s:%s:%s", constants.KeyPrefixDedup, action, userID, contentHash)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// userRatePattern matches every rate counter of userHash across all actions.
// userHash is matched literally.
func userRatePattern(userHash string) string {
	return fmt.Sprintf("%s:*:%s:%s", constants.KeyPrefixRate, models.DimensionUserID, globEscaper.Replace(userHash))
}

// isUserRateKey is the in-process equivalent of userRatePattern.
func isUserRateKey(key, userHash string) bool {
	return strings.HasPrefix(key, constants.KeyPrefixRate+":") &&
		strings.HasSuffix(key, ":"+string(models.DimensionUserID)+":"+userHash)
}
