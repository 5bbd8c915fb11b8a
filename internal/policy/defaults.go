package policy

import "github.com/turtacn/abuseguard/internal/domain/models"

const (
	minute = 60
	hour   = 60 * minute
	day    = 24 * hour
)

func rule(keyBy models.Dimension, windowSec int, soft, hard int64) models.PolicyRule {
	return models.PolicyRule{KeyBy: keyBy, WindowSec: windowSec, SoftLimit: soft, HardLimit: hard}
}

func dedup(windowSec int) *models.DedupConfig {
	return &models.DedupConfig{WindowSec: windowSec}
}

// Defaults returns the built-in policy of every action.
//
// Identity-creating and content-creating actions carry several dimensions and
// tight limits; cheap high-frequency actions get one generous user-keyed rule.
// Dedup windows are only attached where duplicate spam is realistic.
func Defaults() map[models.Action]models.PolicyDefinition {
	return map[models.Action]models.PolicyDefinition{
		models.ActionSignup: {
			Rules: []models.PolicyRule{
				rule(models.DimensionIP, hour, 3, 5),
				rule(models.DimensionEmail, day, 2, 3),
				rule(models.DimensionDevice, day, 3, 5),
			},
		},
		models.ActionLogin: {
			Rules: []models.PolicyRule{
				rule(models.DimensionIP, 15*minute, 10, 20),
				rule(models.DimensionEmail, 15*minute, 5, 10),
			},
		},
		models.ActionPasswordReset: {
			Rules: []models.PolicyRule{
				rule(models.DimensionEmail, hour, 2, 3),
				rule(models.DimensionIP, hour, 5, 10),
			},
		},
		models.ActionPostCreate: {
			Rules: []models.PolicyRule{
				rule(models.DimensionUserID, hour, 5, 10),
				rule(models.DimensionIP, hour, 10, 20),
			},
			Dedup: dedup(hour),
		},
		models.ActionPostEdit: {
			Rules: []models.PolicyRule{
				rule(models.DimensionUserID, hour, 20, 40),
			},
		},
		models.ActionCommentCreate: {
			Rules: []models.PolicyRule{
				rule(models.DimensionUserID, 10*minute, 10, 20),
				rule(models.DimensionIP, 10*minute, 20, 40),
			},
			Dedup: dedup(10 * minute),
		},
		models.ActionVote: {
			Rules: []models.PolicyRule{
				rule(models.DimensionUserID, minute, 30, 60),
			},
		},
		models.ActionMessageSend: {
			Rules: []models.PolicyRule{
				rule(models.DimensionUserID, minute, 10, 20),
				rule(models.DimensionUserID, day, 200, 400),
			},
			Dedup: dedup(5 * minute),
		},
		models.ActionImageUpload: {
			Rules: []models.PolicyRule{
				rule(models.DimensionUserID, hour, 20, 40),
				rule(models.DimensionIP, hour, 40, 80),
			},
		},
		models.ActionFollowToggle: {
			Rules: []models.PolicyRule{
				rule(models.DimensionUserID, hour, 50, 100),
			},
		},
		models.ActionReportCreate: {
			Rules: []models.PolicyRule{
				rule(models.DimensionUserID, day, 10, 20),
			},
			Dedup: dedup(day),
		},
		models.ActionCommunityCreate: {
			Rules: []models.PolicyRule{
				rule(models.DimensionUserID, day, 2, 3),
				rule(models.DimensionIP, day, 3, 5),
			},
		},
		models.ActionProfileUpdate: {
			Rules: []models.PolicyRule{
				rule(models.DimensionUserID, hour, 10, 20),
			},
		},
		models.ActionSocketTyping: {
			Rules: []models.PolicyRule{
				rule(models.DimensionUserID, 10, 20, 40),
			},
		},
		// presence pings are unrestricted; the entry exists so the table stays exhaustive
		models.ActionSocketPresence: {},
	}
}
