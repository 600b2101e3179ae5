package services

import (
	"context"
	"time"

	"git.solsynth.dev/hypernet/meeting/pkg/internal/database"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

func eventRetention() time.Duration {
	hours := viper.GetInt("cleanup.event_retention")
	if hours <= 0 {
		hours = 7 * 24
	}
	return time.Duration(hours) * time.Hour
}

func DoAutoDatabaseCleanup() {
	deadline := time.Now().Add(-60 * time.Minute)
	log.Debug().Time("deadline", deadline).Msg("Now cleaning up entire database...")

	// Deal soft-deletion
	var count int64
	for _, model := range database.AutoMaintainRange {
		if _, ok := model.(*models.Account); ok {
			continue
		}
		tx := database.C.Unscoped().Delete(model, "deleted_at <= ?", deadline)
		if tx.Error != nil {
			log.Error().Err(tx.Error).Msg("An error occurred when running database cleanup...")
		}
		count += tx.RowsAffected
	}

	// Event history
	tx := database.C.Unscoped().Delete(&models.Event{}, "created_at <= ?", time.Now().Add(-eventRetention()))
	if tx.Error != nil {
		log.Error().Err(tx.Error).Msg("An error occurred when cleaning up event history...")
	}
	count += tx.RowsAffected

	log.Debug().Int64("affected", count).Msg("Clean up entire database accomplished.")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if swept, err := Waiting.Sweep(ctx, time.Now().Add(-EntryRequestTTL())); err != nil {
		log.Error().Err(err).Msg("An error occurred when sweeping waiting rooms...")
	} else {
		log.Debug().Int64("swept", swept).Msg("Swept stale entry requests.")
	}
}
