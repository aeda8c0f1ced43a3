package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jhagmar/twenty48/internal/config"
	"github.com/jhagmar/twenty48/internal/engine"
	"github.com/jhagmar/twenty48/internal/remote"
	"github.com/jhagmar/twenty48/internal/store"
	"github.com/jhagmar/twenty48/internal/syncer"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	configPath := flag.String("config", "twenty48.yaml", "path to config file")
	startupGame := flag.String("game", "", "shared game id to open on startup")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Client.StorePath), 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directory")
	}

	clock := clockwork.NewRealClock()
	st, err := store.Open(cfg.Client.StorePath, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local store")
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	client := remote.NewClient(cfg.Client.APIBaseURL)
	sy := syncer.New(st, client, syncer.Options{
		Clock:        clock,
		Debounce:     cfg.Client.Debounce(),
		PollInterval: cfg.Client.PollInterval(),
		Logger:       log.Logger,
	})

	sy.OnPlayerChange(func(e syncer.PlayerEvent) {
		fmt.Printf("\n(your name is now %q on another device)\n> ", e.Name)
	})
	sy.OnGameChange(func(e syncer.GameEvent) {
		fmt.Println("\n(the current game was updated on another device)")
		printBoard(e.Game)
		fmt.Print("> ")
	})

	if *startupGame != "" {
		if err := sy.StoreStartupGameID(ctx, *startupGame); err != nil {
			log.Fatal().Err(err).Msg("failed to record startup game")
		}
	}
	if err := sy.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize session")
	}
	go sy.Run(ctx)

	fmt.Println("twenty48 — type 'help' for commands")
	printBoard(sy.CurrentGame())

	repl(ctx, sy)
}

func repl(ctx context.Context, sy *syncer.Syncer) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "help":
			printHelp()
		case "l", "left":
			move(ctx, sy, engine.Left)
		case "r", "right":
			move(ctx, sy, engine.Right)
		case "u", "up":
			move(ctx, sy, engine.Up)
		case "d", "down":
			move(ctx, sy, engine.Down)
		case "board":
			printBoard(sy.CurrentGame())
		case "new":
			game, err := sy.NewGame(ctx)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			printBoard(game)
		case "games":
			listGames(ctx, sy)
		case "load":
			if len(args) != 1 {
				fmt.Println("usage: load <game id>")
				continue
			}
			game, err := sy.LoadGame(ctx, args[0])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			printBoard(game)
		case "name":
			if len(args) == 0 {
				name, err := sy.PlayerName(ctx)
				if err != nil {
					fmt.Println("error:", err)
					continue
				}
				fmt.Printf("you are %q\n", name)
				continue
			}
			if err := sy.SetPlayerName(ctx, strings.Join(args, " ")); err != nil {
				fmt.Println("error:", err)
			}
		case "top":
			sy.SetMode(syncer.ModeLeaderboard)
			printLeaderboard(sy)
		case "share":
			sy.SetMode(syncer.ModeShare)
			if game := sy.CurrentGame(); game != nil {
				fmt.Println("share this game id:", game.ID())
			}
		case "sync":
			sy.Trigger()
			fmt.Println("sync scheduled")
		case "quit", "exit", "q":
			return
		default:
			fmt.Println("unknown command; type 'help'")
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func move(ctx context.Context, sy *syncer.Syncer, d engine.Direction) {
	game, moved, err := sy.MakeMove(ctx, d)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if !moved {
		fmt.Println("nothing moves that way")
		return
	}
	printBoard(game)
}

func listGames(ctx context.Context, sy *syncer.Syncer) {
	sy.SetMode(syncer.ModeSwitch)
	records, err := sy.AllGames(ctx)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	activeID := ""
	if game := sy.CurrentGame(); game != nil {
		activeID = game.ID()
	}
	for _, rec := range records {
		marker := " "
		if rec.ID == activeID {
			marker = "*"
		}
		fmt.Printf("%s %s  score %d  %d moves\n", marker, rec.ID, rec.Score, len(rec.Moves))
	}
}

func printLeaderboard(sy *syncer.Syncer) {
	entries := sy.Leaderboard()
	if len(entries) == 0 {
		fmt.Println("no leaderboard yet (waiting for sync)")
		return
	}
	for i, e := range entries {
		name := e.DisplayName
		if e.RequestingPlayer {
			name += " (you)"
		}
		fmt.Printf("%2d. %-24s %d\n", i+1, name, e.Score)
	}
}

func printBoard(game *engine.Game) {
	if game == nil {
		return
	}
	size := game.Size()
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			if t := game.Tile(row, col); t != nil {
				fmt.Printf("%6d", t.Value)
			} else {
				fmt.Printf("%6s", ".")
			}
		}
		fmt.Println()
	}
	fmt.Printf("score %d", game.Score())
	if game.Over() {
		fmt.Print("  GAME OVER")
	}
	fmt.Println()
}

func printHelp() {
	fmt.Print(`moves:   l(eft) r(ight) u(p) d(own)
board    show the current board
new      start a new game
games    list stored games
load ID  switch to a stored game
name [N] show or set your display name
top      show the leaderboard for this game
share    print the current game's share id
sync     schedule a sync pass now
quit     exit
`)
}
