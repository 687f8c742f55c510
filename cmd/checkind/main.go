package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/checkinhq/checkind/pkg/api"
	"github.com/checkinhq/checkind/pkg/checkin"
	"github.com/checkinhq/checkind/pkg/config"
	"github.com/checkinhq/checkind/pkg/database"
	"github.com/checkinhq/checkind/pkg/service"
	"github.com/checkinhq/checkind/pkg/utils"
)

func main() {
	versionOpt := flag.Bool("version", false, "print version and exit")
	loginOpt := flag.Bool("login", false, "log in with the configured username and save an auth token")
	passwordOpt := flag.String("password", "", "password for -login")
	tagsOpt := flag.Bool("tags", false, "list currently active check-in tags and exit")
	flag.Parse()

	if *versionOpt {
		fmt.Println("checkind v" + config.Version)
		os.Exit(0)
	}

	cfg, err := config.NewUserConfig(&config.UserConfig{
		Checkind: config.CheckindConfig{
			ConsoleLogging: true,
		},
		Api: config.ApiConfig{
			BaseUrl: config.DefaultBaseUrl,
			Tag:     "badge pickup",
		},
		Server: config.ServerConfig{
			Port: config.DefaultServerPort,
		},
	})
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}

	err = utils.InitLogging(cfg)
	if err != nil {
		fmt.Println("Error initializing logging:", err)
		os.Exit(1)
	}

	if cfg.GetDebug() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if *loginOpt {
		err := login(cfg, *passwordOpt)
		if err != nil {
			fmt.Println("Login failed:", err)
			os.Exit(1)
		}
		fmt.Println("Auth token saved")
		os.Exit(0)
	}

	if cfg.GetAuthToken() == "" {
		fmt.Println("No auth token configured, run with -login first")
		os.Exit(1)
	}

	client, err := checkin.FromToken(cfg.GetBaseUrl(), cfg.GetAuthToken())
	if err != nil {
		fmt.Println("Error creating check-in client:", err)
		os.Exit(1)
	}

	if *tagsOpt {
		tags, err := client.TagNames(true)
		if err != nil {
			fmt.Println("Error listing tags:", err)
			os.Exit(1)
		}
		for _, tag := range tags {
			fmt.Println(tag)
		}
		os.Exit(0)
	}

	fmt.Println("checkind v" + config.Version)

	db, err := database.Open(cfg)
	if err != nil {
		log.Error().Err(err).Msg("error opening database")
		fmt.Println("Error opening database:", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	closeWatcher, err := cfg.Watch()
	if err != nil {
		log.Warn().Err(err).Msg("config reload disabled")
	} else {
		defer func() {
			_ = closeWatcher()
		}()
	}

	st := service.NewState()
	srv := api.NewServer(cfg, st, db)
	handle := service.Start(cfg, st, db, client, srv.Broadcast)

	ip, err := utils.GetLocalIp()
	if err != nil {
		fmt.Println("Device address: Unknown")
	} else {
		fmt.Println("Device address:", ip.String())
	}

	var g errgroup.Group
	g.Go(srv.Start)
	g.Go(func() error {
		// the monitor loop never returns under normal operation
		handle.Wait()
		return errors.New("reader monitor exited")
	})

	err = g.Wait()
	log.Error().Err(err).Msg("service stopped")
	fmt.Println("Service stopped:", err)
	os.Exit(1)
}

func login(cfg *config.UserConfig, password string) error {
	username := cfg.GetUsername()
	if username == "" {
		return errors.New("no username set in config")
	}
	if password == "" {
		return errors.New("password required, use -password")
	}

	client, err := checkin.Login(cfg.GetBaseUrl(), username, password)
	if err != nil {
		return err
	}

	cfg.SetAuthToken(client.AuthToken())
	return cfg.SaveConfig()
}
