// Package service glues the reader monitor to the check-in client: each
// debounced tap becomes a badge read, a remote check-in call, a history
// entry and a broadcast event.
package service

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/checkinhq/checkind/pkg/badge"
	"github.com/checkinhq/checkind/pkg/checkin"
	"github.com/checkinhq/checkind/pkg/config"
	"github.com/checkinhq/checkind/pkg/database"
	"github.com/checkinhq/checkind/pkg/monitor"
	"github.com/checkinhq/checkind/pkg/pcsc"
)

// Start wires up the reader monitor and spawns it. notify receives each tap
// outcome after it has been recorded, for websocket broadcast; it may be nil.
func Start(
	cfg *config.UserConfig,
	st *State,
	db *database.Database,
	client *checkin.Client,
	notify func(database.HistoryEntry),
) *monitor.Handle {
	onCard := func(card pcsc.Card, reader string, index int) {
		handleTap(cfg, st, db, client, notify, card, reader)
	}

	onReader := func(reader string, attached bool) {
		if attached {
			log.Info().Msgf("reader attached: %s", reader)
			st.AddReader(reader)
		} else {
			log.Info().Msgf("reader removed: %s", reader)
			st.RemoveReader(reader)
		}
	}

	return monitor.New(onCard, onReader).Start()
}

func handleTap(
	cfg *config.UserConfig,
	st *State,
	db *database.Database,
	client *checkin.Client,
	notify func(database.HistoryEntry),
	card pcsc.Card,
	reader string,
) {
	b := badge.New(card)

	if cfg.GetDisableBuzzer() {
		if _, err := b.SetBuzzer(false); err != nil {
			log.Debug().Err(err).Msg("failed to disable buzzer")
		}
	}

	userId, err := b.UserID()
	if err != nil {
		// a bad or blank tag, not a daemon problem
		log.Error().Err(err).Msgf("failed to read badge on %s", reader)
		return
	}

	log.Info().Msgf("badge tapped on %s: %s", reader, userId)

	tag := cfg.GetTag()
	result, err := client.CheckIn(userId, tag)
	success := err == nil && result.Success
	if err != nil {
		log.Error().Err(err).Msgf("check-in failed for %s", userId)
	} else if !result.Success {
		log.Warn().Msgf("check-in rejected for %s (%s)", result.User.Name, tag)
	} else {
		log.Info().Msgf("checked in %s (%s)", result.User.Name, tag)
	}

	entry := database.HistoryEntry{
		Time:    time.Now(),
		Reader:  reader,
		User:    userId,
		Tag:     tag,
		Success: success,
	}

	if err := db.AddHistory(entry); err != nil {
		log.Error().Err(err).Msg("failed to record tap history")
	}

	st.SetLastScan(LastScan{
		Time:    entry.Time,
		Reader:  reader,
		User:    userId,
		Success: success,
	})

	if notify != nil {
		notify(entry)
	}
}
