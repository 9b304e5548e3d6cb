package main

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/airenas/async-api/pkg/miniofs"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/vox/internal/pkg/api"
	"github.com/airenas/vox/internal/pkg/handoff"
	"github.com/airenas/vox/internal/pkg/messages"
	"github.com/airenas/vox/internal/pkg/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/gommon/color"
)

// replay re-enqueues preserved handoff snapshots for note generation.
// IDs are passed as a comma separated list via the replay.ids config key.
func main() {
	goapp.StartWithDefault()
	cfg := goapp.Config

	printBanner()

	ids := strings.Split(cfg.GetString("replay.ids"), ",")
	var todo []string
	for _, id := range ids {
		if s := strings.TrimSpace(id); s != "" {
			todo = append(todo, s)
		}
	}
	if len(todo) == 0 {
		goapp.Log.Fatal().Msg("no ids, set replay.ids")
	}

	ctx, cancelFunc := context.WithTimeout(context.Background(), time.Minute)
	defer cancelFunc()

	dbConfig, err := pgxpool.ParseConfig(cfg.GetString("db.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	defer dbPool.Close()

	sender, err := postgres.NewSender(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
	}

	filer, err := miniofs.NewFiler(ctx, miniofs.Options{Bucket: cfg.GetString("filer.bucket"),
		URL: cfg.GetString("filer.url"), User: cfg.GetString("filer.user"), Key: cfg.GetString("filer.key"),
		Secure: cfg.GetBool("filer.https")})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init filer")
	}

	for _, id := range todo {
		if err := replay(ctx, sender, filer, id); err != nil {
			goapp.Log.Fatal().Err(err).Str("ID", id).Msg("can't replay")
		}
		goapp.Log.Info().Str("ID", id).Msg("replayed")
	}
	goapp.Log.Info().Int("count", len(todo)).Msg("done")
}

type fileLoader interface {
	LoadFile(ctx context.Context, name string) (io.ReadSeekCloser, error)
}

func replay(ctx context.Context, sender *postgres.Sender, filer fileLoader, id string) error {
	name := handoff.SnapshotFile(id)
	goapp.Log.Info().Str("file", name).Msg("loading")
	file, err := filer.LoadFile(ctx, name)
	if err != nil {
		return err
	}
	defer file.Close()
	var sn api.Snapshot
	if err := json.NewDecoder(file).Decode(&sn); err != nil {
		return err
	}
	return sender.SendMessage(ctx, messages.NewNoteGenMessage(&sn), messages.NoteGen)
}

var (
	version = "DEV"
)

func printBanner() {
	banner := `
   _    ______  _  __
  | |  / / __ \| |/ /
  | | / / / / /|   /
  | |/ / /_/ //   |
  |___/\____//_/|_|

                     __
   ________  ____   / /___ ___  __
  / ___/ _ \/ __ \ / / __ ` + "`" + `/ / / /
 / /  /  __/ /_/ / / /_/ / /_/ /
/_/   \___/ .___/_/\__,_/\__, /
         /_/            /____/   v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/airenas/vox"))
}
