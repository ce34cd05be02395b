package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"messenger-service/internal/codec"
	"messenger-service/internal/config"
	"messenger-service/internal/db"
	"messenger-service/internal/identity"
	"messenger-service/internal/logger"
	"messenger-service/internal/repositories"
)

var migrateCommand = &cli.Command{
	Name:   "migrate",
	Usage:  "Apply pending database migrations",
	Action: cmdMigrate,
}

var encryptLegacyCommand = &cli.Command{
	Name:  "encrypt-legacy",
	Usage: "Encrypt message bodies stored as plaintext",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "batch", Usage: "Rows per transaction", Value: 500},
	},
	Action: cmdEncryptLegacy,
}

var keygenCommand = &cli.Command{
	Name:   "keygen",
	Usage:  "Print a fresh message encryption key for ENCRYPTION_KEY",
	Action: cmdKeygen,
}

var tokenCommand = &cli.Command{
	Name:  "token",
	Usage: "Issue a bearer token signed with JWT_SECRET",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "user", Usage: "User id to embed", Required: true},
		&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: 24 * time.Hour},
	},
	Action: cmdToken,
}

func cmdMigrate(ctx *cli.Context) error {
	cfg, err := config.NewSection[config.Database]("DB_")
	if err != nil {
		return err
	}
	if cfg.Driver != "postgres" {
		return fmt.Errorf("migrations need the postgres driver, got %q", cfg.Driver)
	}

	database, err := db.Connect(ctx.Context, cfg.DSN)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}

func cmdEncryptLegacy(ctx *cli.Context) error {
	dbCfg, err := config.NewSection[config.Database]("DB_")
	if err != nil {
		return err
	}
	if dbCfg.Driver != "postgres" {
		return fmt.Errorf("encrypt-legacy needs the postgres driver, got %q", dbCfg.Driver)
	}
	encCfg, err := config.NewSection[config.Encryption]("ENCRYPTION_")
	if err != nil {
		return err
	}
	bodyCodec, err := codec.New(encCfg.Key)
	if err != nil {
		return err
	}

	database, err := db.Connect(ctx.Context, dbCfg.DSN)
	if err != nil {
		return err
	}
	defer database.Close()

	log := logger.New("info", "development")
	res, err := repositories.NewMessageRepo(database, bodyCodec, log).EncryptLegacy(ctx.Context, ctx.Int("batch"))
	log.Info().Int("encrypted", res.Encrypted).Int("failed", res.Failed).Msg("legacy messages processed")
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d messages could not be encrypted", res.Failed)
	}
	return nil
}

func cmdKeygen(*cli.Context) error {
	key, err := codec.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

func cmdToken(ctx *cli.Context) error {
	cfg, err := config.NewSection[config.JWT]("JWT_")
	if err != nil {
		return err
	}
	token, err := identity.NewJWT(cfg.Secret).Issue(ctx.Int("user"), ctx.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
