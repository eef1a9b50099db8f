package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/teamclash/backend/internal/admin"
	"github.com/teamclash/backend/internal/auth"
	"github.com/teamclash/backend/internal/config"
	"github.com/teamclash/backend/internal/database"
	"github.com/teamclash/backend/internal/logger"
	"github.com/teamclash/backend/internal/models"
	"github.com/teamclash/backend/internal/store"
	"github.com/teamclash/backend/internal/store/postgres"
)

func main() {
	var (
		count     = flag.Int("n", 16, "number of players to create")
		prefix    = flag.String("prefix", "player", "username prefix")
		diamonds  = flag.Int64("diamonds", 100, "starting diamonds")
		baseRank  = flag.Int("rank", 1000, "rank of the first player; each next one is 25 lower")
		hashAdmin = flag.String("hash-admin", "", "print the bcrypt hash of this admin token for ADMIN_TOKEN_HASH and exit")
	)
	flag.Parse()

	if *hashAdmin != "" {
		hash, err := admin.HashToken(*hashAdmin)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("ADMIN_TOKEN_HASH=%s\n", hash)
		return
	}

	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	st := postgres.New(db)
	now := time.Now()

	for i := 0; i < *count; i++ {
		p := models.Player{
			ID:        uuid.NewString(),
			Username:  fmt.Sprintf("%s%02d", *prefix, i+1),
			Nickname:  fmt.Sprintf("%s %d", *prefix, i+1),
			Balance:   *diamonds,
			Rank:      *baseRank - i*25,
			CreatedAt: now,
		}

		err := st.RunInTx(ctx, func(tx store.Tx) error {
			return tx.CreatePlayer(ctx, p)
		})
		if errors.Is(err, store.ErrDuplicate) {
			log.Warn().Str("username", p.Username).Msg("player already exists, skipping")
			continue
		}
		if err != nil {
			log.Fatal().Err(err).Str("username", p.Username).Msg("failed to create player")
		}

		token, err := auth.Issue(cfg.JWTSecret, p.ID, auth.DefaultTTL, now)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to sign token")
		}
		fmt.Printf("%s\t%s\t%s\n", p.Username, p.ID, token)
	}

	log.Info().Int("count", *count).Msg("players seeded")
}
